package domain

import "time"

// Message is a single immutable row of a conversation timeline.
type Message struct {
	ConversationID string
	MessageID      string
	SenderID       int64
	ReceiverID     int64
	Content        string
	CreatedAt      time.Time
}

// Page is one offset-paginated window of a read path.
type Page[T any] struct {
	Items   []T
	Page    int
	Limit   int
	HasMore bool
}
