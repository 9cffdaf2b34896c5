package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"messenger/internal/domain"
	"messenger/internal/ids"
	"messenger/internal/repository"
)

var t0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	svc     *Service
	store   repository.Store
	metrics *Metrics
	logs    *observer.ObservedLogs
}

func newTestEnv(t *testing.T, store repository.Store, opts ...Option) *testEnv {
	t.Helper()
	if store == nil {
		store = repository.NewMemoryStore()
	}
	core, logs := observer.New(zapcore.DebugLevel)
	metrics := NewMetrics(nil)
	base := []Option{
		WithLogger(zap.New(core)),
		WithMetrics(metrics),
		WithClock(func() time.Time { return t0 }),
	}
	svc, err := NewService(store, ids.NewGenerator(), append(base, opts...)...)
	require.NoError(t, err)
	return &testEnv{svc: svc, store: store, metrics: metrics, logs: logs}
}

func (e *testEnv) send(t *testing.T, from, to int64, content string, at time.Time) domain.Message {
	t.Helper()
	msg, err := e.svc.Send(context.Background(), SendInput{SenderID: from, ReceiverID: to, Content: content, Now: at})
	require.NoError(t, err)
	return msg
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

// racingLookupStore makes the first n lookups miss and holds them until all n
// have arrived, so every caller goes on to claim.
type racingLookupStore struct {
	*repository.MemoryStore
	n       int32
	calls   atomic.Int32
	arrived sync.WaitGroup
}

func newRacingLookupStore(n int) *racingLookupStore {
	s := &racingLookupStore{MemoryStore: repository.NewMemoryStore(), n: int32(n)}
	s.arrived.Add(n)
	return s
}

func (s *racingLookupStore) GetConversationID(ctx context.Context, pair domain.Pair) (string, error) {
	if s.calls.Add(1) > s.n {
		return s.MemoryStore.GetConversationID(ctx, pair)
	}
	s.arrived.Done()
	s.arrived.Wait()
	return "", repository.ErrNotFound
}

// faultyStore fails the selected operations.
type faultyStore struct {
	*repository.MemoryStore
	failInsert   error
	failSummary  error
	failMetadata error
	failCreate   error
	failLookup   error
	failScan     error
}

func (s *faultyStore) GetConversationID(ctx context.Context, pair domain.Pair) (string, error) {
	if s.failLookup != nil {
		return "", s.failLookup
	}
	return s.MemoryStore.GetConversationID(ctx, pair)
}

func (s *faultyStore) InsertMessage(ctx context.Context, msg domain.Message) error {
	if s.failInsert != nil {
		return s.failInsert
	}
	return s.MemoryStore.InsertMessage(ctx, msg)
}

func (s *faultyStore) PutUserConversation(ctx context.Context, row domain.ConversationSummary) error {
	if s.failSummary != nil {
		return s.failSummary
	}
	return s.MemoryStore.PutUserConversation(ctx, row)
}

func (s *faultyStore) CreateConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error {
	if s.failMetadata != nil {
		return s.failMetadata
	}
	if s.failCreate != nil {
		return s.failCreate
	}
	return s.MemoryStore.CreateConversationMetadata(ctx, meta)
}

func (s *faultyStore) AdvanceConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error {
	if s.failMetadata != nil {
		return s.failMetadata
	}
	return s.MemoryStore.AdvanceConversationMetadata(ctx, meta)
}

func (s *faultyStore) ScanMessages(ctx context.Context, conversationID string, before time.Time, fn func(domain.Message) bool) error {
	if s.failScan != nil {
		return s.failScan
	}
	return s.MemoryStore.ScanMessages(ctx, conversationID, before, fn)
}

func (s *faultyStore) ScanUserConversations(ctx context.Context, userID int64, fn func(domain.ConversationSummary) bool) error {
	if s.failScan != nil {
		return s.failScan
	}
	return s.MemoryStore.ScanUserConversations(ctx, userID, fn)
}

type failingIDs struct{ err error }

func (f failingIDs) New(time.Time) (string, error) { return "", f.err }
