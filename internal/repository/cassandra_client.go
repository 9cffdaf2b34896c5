package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"messenger/internal/domain"
)

// CassandraConfig holds the cluster settings used by NewCassandraSession.
type CassandraConfig struct {
	Hosts    []string
	Port     int
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

// NewCassandraSession connects to the cluster. An empty Keyspace yields a
// session without a default keyspace, which is what Migrate needs on a fresh
// cluster.
func NewCassandraSession(cfg CassandraConfig) (*gocql.Session, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("repository: cassandra hosts must not be empty")
	}
	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.Serial
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("repository: create cassandra session: %w", err)
	}
	return session, nil
}

// CassandraStore implements Store on Cassandra using the four tables created
// by Migrate.
type CassandraStore struct {
	session   *gocql.Session
	batchSize int
	log       *zap.Logger
}

// CassandraOption configures a CassandraStore.
type CassandraOption func(*CassandraStore)

// WithCassandraPageSize sets the page size used by scans.
func WithCassandraPageSize(n int) CassandraOption {
	return func(s *CassandraStore) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithCassandraLogger sets the logger used for non-fatal store events.
func WithCassandraLogger(log *zap.Logger) CassandraOption {
	return func(s *CassandraStore) {
		if log != nil {
			s.log = log
		}
	}
}

// NewCassandraStore wraps an open session. The store owns the session and
// closes it on Close.
func NewCassandraStore(session *gocql.Session, opts ...CassandraOption) (*CassandraStore, error) {
	if session == nil {
		return nil, errors.New("repository: session must not be nil")
	}
	s := &CassandraStore{session: session, batchSize: defaultBatchSize, log: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *CassandraStore) Close() error {
	s.session.Close()
	return nil
}

func (s *CassandraStore) GetConversationID(ctx context.Context, pair domain.Pair) (string, error) {
	var id string
	err := s.session.Query(
		`SELECT conversation_id FROM user_conversations_lookup WHERE user1_id = ? AND user2_id = ?`,
		pair.User1, pair.User2,
	).WithContext(ctx).Scan(&id)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("repository: GetConversationID: %w", err)
	}
	return id, nil
}

func (s *CassandraStore) ClaimConversation(ctx context.Context, pair domain.Pair, candidate string) (string, bool, error) {
	if candidate == "" {
		return "", false, errors.New("repository: ClaimConversation: candidate id is required")
	}
	existing := map[string]interface{}{}
	applied, err := s.session.Query(
		`INSERT INTO user_conversations_lookup (user1_id, user2_id, conversation_id) VALUES (?, ?, ?) IF NOT EXISTS`,
		pair.User1, pair.User2, candidate,
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return "", false, fmt.Errorf("repository: ClaimConversation: %w", err)
	}
	if applied {
		return candidate, true, nil
	}
	if winner, ok := existing["conversation_id"].(string); ok && winner != "" {
		return winner, false, nil
	}

	winner, err := s.GetConversationID(ctx, pair)
	if err != nil {
		return "", false, fmt.Errorf("repository: ClaimConversation reread: %w", err)
	}
	return winner, false, nil
}

func (s *CassandraStore) CreateConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error {
	if meta.ConversationID == "" {
		return errors.New("repository: CreateConversationMetadata: conversation id is required")
	}
	if _, err := s.insertMetadataIfAbsent(ctx, meta); err != nil {
		return fmt.Errorf("repository: CreateConversationMetadata: %w", err)
	}
	return nil
}

func (s *CassandraStore) insertMetadataIfAbsent(ctx context.Context, meta domain.ConversationMetadata) (bool, error) {
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = meta.LastMessageAt
	}
	existing := map[string]interface{}{}
	return s.session.Query(
		`INSERT INTO conversation_metadata (conversation_id, user1_id, user2_id, created_at, last_message_at, last_message_content)
		VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		meta.ConversationID, meta.User1ID, meta.User2ID,
		truncateMillis(createdAt), truncateMillis(meta.LastMessageAt), meta.LastMessageContent,
	).WithContext(ctx).MapScanCAS(existing)
}

// AdvanceConversationMetadata uses a lightweight transaction so concurrent
// sends never move last_message_at backwards.
func (s *CassandraStore) AdvanceConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error {
	if meta.ConversationID == "" {
		return errors.New("repository: AdvanceConversationMetadata: conversation id is required")
	}
	at := truncateMillis(meta.LastMessageAt)

	// One retry covers a concurrent create between the update and the insert.
	for attempt := 0; attempt < 2; attempt++ {
		current := map[string]interface{}{}
		applied, err := s.session.Query(
			`UPDATE conversation_metadata SET last_message_at = ?, last_message_content = ?
			WHERE conversation_id = ? IF last_message_at <= ?`,
			at, meta.LastMessageContent, meta.ConversationID, at,
		).WithContext(ctx).MapScanCAS(current)
		if err != nil {
			return fmt.Errorf("repository: AdvanceConversationMetadata: %w", err)
		}
		if applied {
			return nil
		}
		// A missing row comes back with a null last_message_at.
		if stored, ok := current["last_message_at"].(time.Time); ok && !stored.IsZero() {
			s.log.Debug("conversation_metadata_newer",
				zap.String("conversation_id", meta.ConversationID),
				zap.Time("last_message_at", at))
			return nil
		}

		inserted, err := s.insertMetadataIfAbsent(ctx, meta)
		if err != nil {
			return fmt.Errorf("repository: AdvanceConversationMetadata insert: %w", err)
		}
		if inserted {
			return nil
		}
	}
	return nil
}

func (s *CassandraStore) GetConversationMetadata(ctx context.Context, conversationID string) (domain.ConversationMetadata, error) {
	meta := domain.ConversationMetadata{ConversationID: conversationID}
	err := s.session.Query(
		`SELECT user1_id, user2_id, created_at, last_message_at, last_message_content
		FROM conversation_metadata WHERE conversation_id = ?`,
		conversationID,
	).WithContext(ctx).Scan(&meta.User1ID, &meta.User2ID, &meta.CreatedAt, &meta.LastMessageAt, &meta.LastMessageContent)
	if errors.Is(err, gocql.ErrNotFound) {
		return domain.ConversationMetadata{}, ErrNotFound
	}
	if err != nil {
		return domain.ConversationMetadata{}, fmt.Errorf("repository: GetConversationMetadata: %w", err)
	}
	meta.CreatedAt = meta.CreatedAt.UTC()
	meta.LastMessageAt = meta.LastMessageAt.UTC()
	return meta, nil
}

func (s *CassandraStore) InsertMessage(ctx context.Context, msg domain.Message) error {
	if msg.ConversationID == "" || msg.MessageID == "" {
		return errors.New("repository: InsertMessage: conversation id and message id are required")
	}
	err := s.session.Query(
		`INSERT INTO messages_by_conversation (conversation_id, created_at, message_id, sender_id, receiver_id, content)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, truncateMillis(msg.CreatedAt), msg.MessageID, msg.SenderID, msg.ReceiverID, msg.Content,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("repository: InsertMessage: %w", err)
	}
	return nil
}

func (s *CassandraStore) PutUserConversation(ctx context.Context, row domain.ConversationSummary) error {
	if row.ConversationID == "" {
		return errors.New("repository: PutUserConversation: conversation id is required")
	}
	err := s.session.Query(
		`INSERT INTO conversations_by_user (user_id, last_message_at, conversation_id, other_user_id, last_message_content)
		VALUES (?, ?, ?, ?, ?)`,
		row.UserID, truncateMillis(row.LastMessageAt), row.ConversationID, row.OtherUserID, row.LastMessageContent,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("repository: PutUserConversation: %w", err)
	}
	return nil
}

func (s *CassandraStore) ScanMessages(ctx context.Context, conversationID string, before time.Time, fn func(domain.Message) bool) error {
	stmt := `SELECT conversation_id, created_at, message_id, sender_id, receiver_id, content
		FROM messages_by_conversation WHERE conversation_id = ?`
	args := []interface{}{conversationID}
	if !before.IsZero() {
		stmt += ` AND created_at < ?`
		args = append(args, truncateMillis(before))
	}

	iter := s.session.Query(stmt, args...).WithContext(ctx).PageSize(s.batchSize).Iter()
	var m domain.Message
	for iter.Scan(&m.ConversationID, &m.CreatedAt, &m.MessageID, &m.SenderID, &m.ReceiverID, &m.Content) {
		m.CreatedAt = m.CreatedAt.UTC()
		if !fn(m) {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("repository: ScanMessages: %w", err)
	}
	return nil
}

func (s *CassandraStore) ScanUserConversations(ctx context.Context, userID int64, fn func(domain.ConversationSummary) bool) error {
	iter := s.session.Query(
		`SELECT user_id, last_message_at, conversation_id, other_user_id, last_message_content
		FROM conversations_by_user WHERE user_id = ?`,
		userID,
	).WithContext(ctx).PageSize(s.batchSize).Iter()

	var row domain.ConversationSummary
	for iter.Scan(&row.UserID, &row.LastMessageAt, &row.ConversationID, &row.OtherUserID, &row.LastMessageContent) {
		row.LastMessageAt = row.LastMessageAt.UTC()
		if !fn(row) {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("repository: ScanUserConversations: %w", err)
	}
	return nil
}

// Migrate creates the keyspace and the four tables. It is idempotent.
func Migrate(session *gocql.Session, keyspace string, replicationFactor int) error {
	if !validIdent(keyspace) {
		return fmt.Errorf("repository: invalid keyspace name %q", keyspace)
	}
	if session == nil {
		return errors.New("repository: session must not be nil")
	}
	if replicationFactor < 1 {
		replicationFactor = 1
	}

	stmts := []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
			WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': %d}`, keyspace, replicationFactor),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.messages_by_conversation (
			conversation_id text,
			created_at      timestamp,
			message_id      text,
			sender_id       bigint,
			receiver_id     bigint,
			content         text,
			PRIMARY KEY ((conversation_id), created_at, message_id)
		) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conversations_by_user (
			user_id              bigint,
			last_message_at      timestamp,
			conversation_id      text,
			other_user_id        bigint,
			last_message_content text,
			PRIMARY KEY ((user_id), last_message_at, conversation_id)
		) WITH CLUSTERING ORDER BY (last_message_at DESC, conversation_id DESC)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conversation_metadata (
			conversation_id      text PRIMARY KEY,
			user1_id             bigint,
			user2_id             bigint,
			created_at           timestamp,
			last_message_at      timestamp,
			last_message_content text
		)`, keyspace),

		// Composite partition key: one row per canonical pair.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.user_conversations_lookup (
			user1_id        bigint,
			user2_id        bigint,
			conversation_id text,
			PRIMARY KEY ((user1_id, user2_id))
		)`, keyspace),
	}

	for _, stmt := range stmts {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("repository: cassandra migrate failed: %w (stmt=%s)", err, oneLine(stmt))
		}
	}
	return nil
}

// validIdent accepts unquoted CQL identifiers only.
func validIdent(s string) bool {
	if s == "" || len(s) > 48 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
