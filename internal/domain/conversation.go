package domain

import "time"

// Pair is an unordered pair of users in canonical order (User1 < User2).
type Pair struct {
	User1 int64
	User2 int64
}

// NewPair returns the canonical pair for a and b regardless of argument order.
func NewPair(a, b int64) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{User1: a, User2: b}
}

// ConversationMetadata is the single metadata row of a conversation.
// User1ID and User2ID keep the order of the send that created the conversation.
type ConversationMetadata struct {
	ConversationID     string
	User1ID            int64
	User2ID            int64
	CreatedAt          time.Time
	LastMessageAt      time.Time
	LastMessageContent string
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	UserID             int64
	ConversationID     string
	OtherUserID        int64
	LastMessageAt      time.Time
	LastMessageContent string
}
