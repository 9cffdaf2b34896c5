package repository

import (
	"context"
	"errors"
	"time"

	"messenger/internal/domain"
)

// ErrNotFound is returned by point lookups when the row does not exist.
var ErrNotFound = errors.New("repository: not found")

// TimestampLayout is the fixed-width UTC layout used wherever a timestamp is part
// of a sort key, so lexical order equals chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Store is the partitioned, clustering-ordered store behind the four
// conversation tables.
//
// Scan callbacks receive rows in clustering order (newest first) and return
// false to stop the scan early.
type Store interface {
	// GetConversationID reads user_conversations_lookup for the canonical pair.
	GetConversationID(ctx context.Context, pair domain.Pair) (string, error)
	// ClaimConversation inserts candidate for pair if no row exists. When another
	// writer got there first, claimed is false and winner is the stored id.
	ClaimConversation(ctx context.Context, pair domain.Pair, candidate string) (winner string, claimed bool, err error)

	// CreateConversationMetadata inserts the metadata row if it is absent.
	CreateConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error
	// AdvanceConversationMetadata moves last_message_at/content forward to meta's
	// values unless a newer message is already recorded. A missing row is created.
	AdvanceConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error
	GetConversationMetadata(ctx context.Context, conversationID string) (domain.ConversationMetadata, error)

	InsertMessage(ctx context.Context, msg domain.Message) error
	PutUserConversation(ctx context.Context, row domain.ConversationSummary) error

	// ScanMessages walks messages_by_conversation. A non-zero before restricts
	// the scan to created_at strictly less than before.
	ScanMessages(ctx context.Context, conversationID string, before time.Time, fn func(domain.Message) bool) error
	// ScanUserConversations walks the raw conversations_by_user rows, stale
	// summaries included.
	ScanUserConversations(ctx context.Context, userID int64, fn func(domain.ConversationSummary) bool) error

	Close() error
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}
