package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"messenger/internal/domain"
)

// MessageReadStore is the part of the store the message reader needs.
type MessageReadStore interface {
	ScanMessages(ctx context.Context, conversationID string, before time.Time, fn func(domain.Message) bool) error
}

// MessageReader serves a conversation's timeline, newest first.
type MessageReader struct {
	store MessageReadStore
	settings
}

func NewMessageReader(store MessageReadStore, opts ...Option) (*MessageReader, error) {
	if store == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	return &MessageReader{store: store, settings: newSettings(opts)}, nil
}

// GetMessages returns one page of the timeline. Unknown conversations yield an
// empty page.
func (r *MessageReader) GetMessages(ctx context.Context, conversationID string, page, limit int) (domain.Page[domain.Message], error) {
	return r.read(ctx, conversationID, time.Time{}, page, limit)
}

// GetMessagesBefore returns one page of the messages created strictly before
// before. Callers pass the created_at of the oldest message they already hold.
func (r *MessageReader) GetMessagesBefore(ctx context.Context, conversationID string, before time.Time, page, limit int) (domain.Page[domain.Message], error) {
	if before.IsZero() {
		return domain.Page[domain.Message]{}, invalid("invalid_before")
	}
	return r.read(ctx, conversationID, ceilMillis(before), page, limit)
}

func (r *MessageReader) read(ctx context.Context, conversationID string, before time.Time, page, limit int) (domain.Page[domain.Message], error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.Page[domain.Message]{}, invalid("invalid_conversation_id")
	}
	if err := r.validatePage(page, limit); err != nil {
		return domain.Page[domain.Message]{}, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	skip := (page - 1) * limit
	items := make([]domain.Message, 0, limit)
	hasMore := false
	err := r.store.ScanMessages(ctx, conversationID, before, func(m domain.Message) bool {
		if skip > 0 {
			skip--
			return true
		}
		if len(items) == limit {
			hasMore = true
			return false
		}
		items = append(items, m)
		return true
	})
	if err != nil {
		return domain.Page[domain.Message]{}, storeUnavailable("message_read_error", err)
	}
	return domain.Page[domain.Message]{Items: items, Page: page, Limit: limit, HasMore: hasMore}, nil
}

// ceilMillis rounds before up to the stored millisecond precision so that
// "created_at < before" keeps its meaning for sub-millisecond bounds.
func ceilMillis(before time.Time) time.Time {
	t := before.UTC()
	if tr := t.Truncate(time.Millisecond); !tr.Equal(t) {
		return tr.Add(time.Millisecond)
	}
	return t
}
