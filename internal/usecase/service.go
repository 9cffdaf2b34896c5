package usecase

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"messenger/internal/repository"
)

const (
	defaultStoreTimeout     = 5 * time.Second
	defaultMaxContentLength = 4000
	defaultMaxPageLimit     = 100
)

// IDGenerator mints sortable identifiers for conversations and messages.
type IDGenerator interface {
	New(now time.Time) (string, error)
}

type settings struct {
	log              *zap.Logger
	metrics          *Metrics
	now              func() time.Time
	storeTimeout     time.Duration
	maxContentLength int
	maxPageLimit     int
}

func defaultSettings() settings {
	return settings{
		log:              zap.NewNop(),
		now:              func() time.Time { return time.Now().UTC() },
		storeTimeout:     defaultStoreTimeout,
		maxContentLength: defaultMaxContentLength,
		maxPageLimit:     defaultMaxPageLimit,
	}
}

func newSettings(opts []Option) settings {
	s := defaultSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// Option configures the services built by this package.
type Option func(*settings)

func WithLogger(log *zap.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithClock overrides the clock used when a send carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStoreTimeout bounds every store call. Zero or negative keeps the default.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func WithMaxContentLength(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxContentLength = n
		}
	}
}

func WithMaxPageLimit(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxPageLimit = n
		}
	}
}

func (s settings) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s settings) clock() time.Time {
	return toStoredPrecision(s.now())
}

// validatePage checks offset pagination arguments.
func (s settings) validatePage(page, limit int) *Error {
	if page < 1 {
		return invalid("invalid_page")
	}
	if limit < 1 || limit > s.maxPageLimit {
		return invalid("invalid_limit")
	}
	// The offset (page-1)*limit must fit in an int.
	if page-1 > math.MaxInt/limit {
		return invalid("invalid_page")
	}
	return nil
}

// toStoredPrecision returns ts in UTC at the millisecond precision every store
// persists.
func toStoredPrecision(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Millisecond)
}

// Service bundles the four components behind one value for the handler.
type Service struct {
	*Resolver
	*Writer
	*ConversationReader
	*MessageReader
}

// NewService wires every component over one store.
func NewService(store repository.Store, ids IDGenerator, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	resolver, err := NewResolver(store, ids, opts...)
	if err != nil {
		return nil, err
	}
	writer, err := NewWriter(store, resolver, ids, opts...)
	if err != nil {
		return nil, err
	}
	convReader, err := NewConversationReader(store, opts...)
	if err != nil {
		return nil, err
	}
	msgReader, err := NewMessageReader(store, opts...)
	if err != nil {
		return nil, err
	}
	return &Service{
		Resolver:           resolver,
		Writer:             writer,
		ConversationReader: convReader,
		MessageReader:      msgReader,
	}, nil
}
