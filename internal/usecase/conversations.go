package usecase

import (
	"context"
	"errors"
	"strings"

	"messenger/internal/domain"
	"messenger/internal/repository"
)

// ConversationReadStore is the part of the store the conversation reader needs.
type ConversationReadStore interface {
	ScanUserConversations(ctx context.Context, userID int64, fn func(domain.ConversationSummary) bool) error
	GetConversationMetadata(ctx context.Context, conversationID string) (domain.ConversationMetadata, error)
}

// ConversationReader serves conversation listings and conversation detail.
type ConversationReader struct {
	store ConversationReadStore
	settings
}

func NewConversationReader(store ConversationReadStore, opts ...Option) (*ConversationReader, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	return &ConversationReader{store: store, settings: newSettings(opts)}, nil
}

// ListConversations returns userID's conversations, most recent first. Each
// conversation appears once, with its newest summary; older summary rows
// written by earlier sends are skipped.
func (r *ConversationReader) ListConversations(ctx context.Context, userID int64, page, limit int) (domain.Page[domain.ConversationSummary], error) {
	if userID <= 0 {
		return domain.Page[domain.ConversationSummary]{}, invalid("invalid_user_id")
	}
	if err := r.validatePage(page, limit); err != nil {
		return domain.Page[domain.ConversationSummary]{}, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	skip := (page - 1) * limit
	seen := make(map[string]struct{})
	items := make([]domain.ConversationSummary, 0, limit)
	hasMore := false
	err := r.store.ScanUserConversations(ctx, userID, func(row domain.ConversationSummary) bool {
		if _, dup := seen[row.ConversationID]; dup {
			return true
		}
		seen[row.ConversationID] = struct{}{}
		if skip > 0 {
			skip--
			return true
		}
		if len(items) == limit {
			hasMore = true
			return false
		}
		items = append(items, row)
		return true
	})
	if err != nil {
		return domain.Page[domain.ConversationSummary]{}, storeUnavailable("conversation_list_error", err)
	}
	return domain.Page[domain.ConversationSummary]{Items: items, Page: page, Limit: limit, HasMore: hasMore}, nil
}

// GetConversation returns the metadata row of conversationID.
func (r *ConversationReader) GetConversation(ctx context.Context, conversationID string) (domain.ConversationMetadata, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.ConversationMetadata{}, invalid("invalid_conversation_id")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	meta, err := r.store.GetConversationMetadata(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ConversationMetadata{}, newError(ErrorNotFound, "conversation_not_found", err)
	}
	if err != nil {
		return domain.ConversationMetadata{}, storeUnavailable("conversation_read_error", err)
	}
	return meta, nil
}
