package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"messenger/internal/domain"
	"messenger/internal/repository"
)

// LookupStore is the part of the store the resolver needs.
type LookupStore interface {
	GetConversationID(ctx context.Context, pair domain.Pair) (string, error)
	ClaimConversation(ctx context.Context, pair domain.Pair, candidate string) (string, bool, error)
	CreateConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error
}

// Resolution is the outcome of resolving a user pair.
type Resolution struct {
	ConversationID string
	// Created is true when this call created the conversation.
	Created bool
	// RaceLost is true when a concurrent call created it first and this
	// call's candidate id was discarded.
	RaceLost bool
}

// Resolver finds or creates the single conversation between two users.
type Resolver struct {
	store LookupStore
	ids   IDGenerator
	settings
}

func NewResolver(store LookupStore, ids IDGenerator, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("usecase: lookup store must not be nil")
	}
	if ids == nil {
		return nil, errors.New("usecase: id generator must not be nil")
	}
	return &Resolver{store: store, ids: ids, settings: newSettings(opts)}, nil
}

// Resolve returns the conversation between senderID and receiverID, creating
// it if needed. Argument order does not affect the id returned.
func (r *Resolver) Resolve(ctx context.Context, senderID, receiverID int64) (Resolution, error) {
	return r.resolve(ctx, senderID, receiverID, r.clock())
}

func (r *Resolver) resolve(ctx context.Context, senderID, receiverID int64, now time.Time) (Resolution, error) {
	if senderID <= 0 || receiverID <= 0 {
		return Resolution{}, invalid("invalid_user_id")
	}
	if senderID == receiverID {
		return Resolution{}, invalid("self_conversation")
	}
	pair := domain.NewPair(senderID, receiverID)

	id, err := r.lookup(ctx, pair)
	if err == nil {
		return Resolution{ConversationID: id}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return Resolution{}, storeUnavailable("lookup_read_error", err)
	}

	candidate, err := r.ids.New(now)
	if err != nil {
		return Resolution{}, newError(ErrorInternal, "id_generation_error", err)
	}
	winner, claimed, err := r.claim(ctx, pair, candidate)
	if err != nil {
		return Resolution{}, storeUnavailable("lookup_claim_error", err)
	}

	if !claimed {
		r.metrics.raceLost()
		r.log.Info("conversation_race_lost",
			zap.String("conversation_id", winner),
			zap.String("discarded_id", candidate),
			zap.Int64("user1_id", pair.User1),
			zap.Int64("user2_id", pair.User2))
		return Resolution{ConversationID: winner, RaceLost: true}, nil
	}

	r.metrics.conversationCreated()
	r.log.Info("conversation_created",
		zap.String("conversation_id", winner),
		zap.Int64("sender_id", senderID),
		zap.Int64("receiver_id", receiverID))

	// The lookup row is the source of truth. A missing metadata row is
	// recreated by the next metadata advance.
	if err := r.createMetadata(ctx, domain.ConversationMetadata{
		ConversationID: winner,
		User1ID:        senderID,
		User2ID:        receiverID,
		CreatedAt:      now,
		LastMessageAt:  now,
	}); err != nil {
		r.metrics.summaryWriteFailed(tableMetadata)
		r.log.Warn("summary_write_failed",
			zap.String("table", tableMetadata),
			zap.String("conversation_id", winner),
			zap.Error(err))
	}
	return Resolution{ConversationID: winner, Created: true}, nil
}

func (r *Resolver) lookup(ctx context.Context, pair domain.Pair) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.store.GetConversationID(ctx, pair)
}

func (r *Resolver) claim(ctx context.Context, pair domain.Pair, candidate string) (string, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.store.ClaimConversation(ctx, pair, candidate)
}

func (r *Resolver) createMetadata(ctx context.Context, meta domain.ConversationMetadata) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.store.CreateConversationMetadata(ctx, meta)
}
