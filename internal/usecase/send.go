package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"messenger/internal/domain"
)

const (
	tableConversations = "conversations_by_user"
	tableMetadata      = "conversation_metadata"
)

// MessageStore is the part of the store the writer needs.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg domain.Message) error
	PutUserConversation(ctx context.Context, row domain.ConversationSummary) error
	AdvanceConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error
}

type SendInput struct {
	SenderID   int64
	ReceiverID int64
	Content    string
	// Now is the message timestamp. Zero uses the service clock.
	Now time.Time
}

// Writer appends messages and fans the denormalized summaries out.
type Writer struct {
	store    MessageStore
	resolver *Resolver
	ids      IDGenerator
	settings
}

func NewWriter(store MessageStore, resolver *Resolver, ids IDGenerator, opts ...Option) (*Writer, error) {
	if store == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	if resolver == nil {
		return nil, errors.New("usecase: resolver must not be nil")
	}
	if ids == nil {
		return nil, errors.New("usecase: id generator must not be nil")
	}
	return &Writer{store: store, resolver: resolver, ids: ids, settings: newSettings(opts)}, nil
}

// Send stores a message and updates both participants' conversation lists and
// the conversation metadata. Once the message row is written the send
// succeeds; summary failures are logged and repaired by later sends.
func (w *Writer) Send(ctx context.Context, in SendInput) (domain.Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return domain.Message{}, invalid("empty_content")
	}
	if len(in.Content) > w.maxContentLength {
		return domain.Message{}, invalid("content_too_long")
	}

	now := w.clock()
	if !in.Now.IsZero() {
		now = toStoredPrecision(in.Now)
	}

	res, err := w.resolver.resolve(ctx, in.SenderID, in.ReceiverID, now)
	if err != nil {
		return domain.Message{}, err
	}

	messageID, err := w.ids.New(now)
	if err != nil {
		return domain.Message{}, newError(ErrorInternal, "id_generation_error", err)
	}
	msg := domain.Message{
		ConversationID: res.ConversationID,
		MessageID:      messageID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		CreatedAt:      now,
	}

	if err := w.insert(ctx, msg); err != nil {
		return domain.Message{}, storeUnavailable("message_write_error", err)
	}
	w.metrics.messageSent()

	// The message is durable; the fan-out must not be cut short by the caller
	// going away.
	w.fanOut(context.WithoutCancel(ctx), msg, res.Created)

	w.log.Info("message_sent",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.MessageID),
		zap.Int64("sender_id", msg.SenderID),
		zap.Int64("receiver_id", msg.ReceiverID),
		zap.Bool("conversation_created", res.Created))
	return msg, nil
}

func (w *Writer) fanOut(ctx context.Context, msg domain.Message, created bool) {
	var g errgroup.Group
	g.Go(func() error {
		w.write(ctx, tableConversations, msg, func(ctx context.Context) error {
			return w.store.PutUserConversation(ctx, domain.ConversationSummary{
				UserID:             msg.SenderID,
				ConversationID:     msg.ConversationID,
				OtherUserID:        msg.ReceiverID,
				LastMessageAt:      msg.CreatedAt,
				LastMessageContent: msg.Content,
			})
		})
		return nil
	})
	g.Go(func() error {
		w.write(ctx, tableConversations, msg, func(ctx context.Context) error {
			return w.store.PutUserConversation(ctx, domain.ConversationSummary{
				UserID:             msg.ReceiverID,
				ConversationID:     msg.ConversationID,
				OtherUserID:        msg.SenderID,
				LastMessageAt:      msg.CreatedAt,
				LastMessageContent: msg.Content,
			})
		})
		return nil
	})
	g.Go(func() error {
		meta := domain.ConversationMetadata{
			ConversationID:     msg.ConversationID,
			User1ID:            msg.SenderID,
			User2ID:            msg.ReceiverID,
			LastMessageAt:      msg.CreatedAt,
			LastMessageContent: msg.Content,
		}
		// Only the creating send knows the original participant order. A later
		// send that recreates a lost row uses the normalized pair instead.
		if created {
			meta.CreatedAt = msg.CreatedAt
		} else {
			pair := domain.NewPair(msg.SenderID, msg.ReceiverID)
			meta.User1ID, meta.User2ID = pair.User1, pair.User2
		}
		w.write(ctx, tableMetadata, msg, func(ctx context.Context) error {
			return w.store.AdvanceConversationMetadata(ctx, meta)
		})
		return nil
	})
	_ = g.Wait()
}

// write runs one summary write under the store timeout and records a failure
// without returning it.
func (w *Writer) write(ctx context.Context, table string, msg domain.Message, fn func(context.Context) error) {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()
	if err := fn(ctx); err != nil {
		w.metrics.summaryWriteFailed(table)
		w.log.Warn("summary_write_failed",
			zap.String("table", table),
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.MessageID),
			zap.Error(err))
	}
}

func (w *Writer) insert(ctx context.Context, msg domain.Message) error {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()
	return w.store.InsertMessage(ctx, msg)
}
