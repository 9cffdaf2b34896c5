package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"messenger/internal/domain"
)

// MemoryStore is a dev-only Store used when no database is configured and by
// unit tests. It follows the same key and ordering rules as the real backends.
type MemoryStore struct {
	mu        sync.Mutex
	lookup    map[domain.Pair]string
	metadata  map[string]domain.ConversationMetadata
	messages  map[string][]domain.Message
	summaries map[int64]map[summaryKey]domain.ConversationSummary
}

// summaryKey is the full primary key of a conversations_by_user row.
type summaryKey struct {
	at             int64
	conversationID string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lookup:    make(map[domain.Pair]string),
		metadata:  make(map[string]domain.ConversationMetadata),
		messages:  make(map[string][]domain.Message),
		summaries: make(map[int64]map[summaryKey]domain.ConversationSummary),
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetConversationID(ctx context.Context, pair domain.Pair) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lookup[pair]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) ClaimConversation(ctx context.Context, pair domain.Pair, candidate string) (string, bool, error) {
	if candidate == "" {
		return "", false, errors.New("repository: ClaimConversation: candidate id is required")
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.lookup[pair]; ok {
		return existing, false, nil
	}
	s.lookup[pair] = candidate
	return candidate, true, nil
}

func (s *MemoryStore) CreateConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error {
	if meta.ConversationID == "" {
		return errors.New("repository: CreateConversationMetadata: conversation id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.metadata[meta.ConversationID]; ok {
		return nil
	}
	s.metadata[meta.ConversationID] = normalizeMetadata(meta)
	return nil
}

func (s *MemoryStore) AdvanceConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error {
	if meta.ConversationID == "" {
		return errors.New("repository: AdvanceConversationMetadata: conversation id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	meta = normalizeMetadata(meta)

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.metadata[meta.ConversationID]
	if !ok {
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = meta.LastMessageAt
		}
		s.metadata[meta.ConversationID] = meta
		return nil
	}
	if cur.LastMessageAt.After(meta.LastMessageAt) {
		return nil
	}
	cur.LastMessageAt = meta.LastMessageAt
	cur.LastMessageContent = meta.LastMessageContent
	s.metadata[meta.ConversationID] = cur
	return nil
}

func (s *MemoryStore) GetConversationMetadata(ctx context.Context, conversationID string) (domain.ConversationMetadata, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConversationMetadata{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metadata[conversationID]
	if !ok {
		return domain.ConversationMetadata{}, ErrNotFound
	}
	return meta, nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg domain.Message) error {
	if msg.ConversationID == "" || msg.MessageID == "" {
		return errors.New("repository: InsertMessage: conversation id and message id are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.CreatedAt = truncateMillis(msg.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[msg.ConversationID] {
		if m.MessageID == msg.MessageID && m.CreatedAt.Equal(msg.CreatedAt) {
			return errors.New("repository: InsertMessage: message already exists")
		}
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *MemoryStore) PutUserConversation(ctx context.Context, row domain.ConversationSummary) error {
	if row.ConversationID == "" {
		return errors.New("repository: PutUserConversation: conversation id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	row.LastMessageAt = truncateMillis(row.LastMessageAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.summaries[row.UserID]
	if rows == nil {
		rows = make(map[summaryKey]domain.ConversationSummary)
		s.summaries[row.UserID] = rows
	}
	rows[summaryKey{at: row.LastMessageAt.UnixMilli(), conversationID: row.ConversationID}] = row
	return nil
}

// ScanMessages snapshots the partition under the lock and invokes fn outside it.
func (s *MemoryStore) ScanMessages(ctx context.Context, conversationID string, before time.Time, fn func(domain.Message) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	before = truncateMillis(before)

	s.mu.Lock()
	snap := make([]domain.Message, 0, len(s.messages[conversationID]))
	for _, m := range s.messages[conversationID] {
		if before.IsZero() || m.CreatedAt.Before(before) {
			snap = append(snap, m)
		}
	}
	s.mu.Unlock()

	sort.Slice(snap, func(i, j int) bool {
		if !snap[i].CreatedAt.Equal(snap[j].CreatedAt) {
			return snap[i].CreatedAt.After(snap[j].CreatedAt)
		}
		return snap[i].MessageID > snap[j].MessageID
	})
	for _, m := range snap {
		if !fn(m) {
			return nil
		}
	}
	return nil
}

// ScanUserConversations returns every stored row, stale summaries included.
func (s *MemoryStore) ScanUserConversations(ctx context.Context, userID int64, fn func(domain.ConversationSummary) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snap := make([]domain.ConversationSummary, 0, len(s.summaries[userID]))
	for _, row := range s.summaries[userID] {
		snap = append(snap, row)
	}
	s.mu.Unlock()

	sort.Slice(snap, func(i, j int) bool {
		if !snap[i].LastMessageAt.Equal(snap[j].LastMessageAt) {
			return snap[i].LastMessageAt.After(snap[j].LastMessageAt)
		}
		return snap[i].ConversationID > snap[j].ConversationID
	})
	for _, row := range snap {
		if !fn(row) {
			return nil
		}
	}
	return nil
}

func normalizeMetadata(meta domain.ConversationMetadata) domain.ConversationMetadata {
	meta.CreatedAt = truncateMillis(meta.CreatedAt)
	meta.LastMessageAt = truncateMillis(meta.LastMessageAt)
	return meta
}

// truncateMillis matches the millisecond precision the real backends persist.
func truncateMillis(ts time.Time) time.Time {
	if ts.IsZero() {
		return ts
	}
	return ts.UTC().Truncate(time.Millisecond)
}
