package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"messenger/internal/domain"
)

const (
	pkPrefixConv = "CONV#"
	pkPrefixUser = "USER#"
	pkPrefixPair = "PAIR#"

	defaultBatchSize = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Tables names the four DynamoDB tables backing the store.
type Tables struct {
	Messages      string
	Conversations string
	Metadata      string
	Lookup        string
}

func (t Tables) validate() error {
	for name, v := range map[string]string{
		"messages":      t.Messages,
		"conversations": t.Conversations,
		"metadata":      t.Metadata,
		"lookup":        t.Lookup,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("repository: %s table name must not be empty", name)
		}
	}
	return nil
}

// Client implements Store on DynamoDB.
type Client struct {
	api       dynamodbAPI
	tables    Tables
	batchSize int32
	log       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBatchSize sets the Query page size used by scans. Values above
// math.MaxInt32 are clamped.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = int32(min(n, math.MaxInt32))
		}
	}
}

// WithLogger sets the logger used for non-fatal store events.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tables Tables, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if err := tables.validate(); err != nil {
		return nil, err
	}
	c := &Client{api: api, tables: tables, batchSize: defaultBatchSize, log: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (c *Client) Close() error { return nil }

type messageItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	ConversationID string `dynamodbav:"conversation_id"`
	MessageID      string `dynamodbav:"message_id"`
	SenderID       int64  `dynamodbav:"sender_id"`
	ReceiverID     int64  `dynamodbav:"receiver_id"`
	Content        string `dynamodbav:"content"`
	CreatedAt      string `dynamodbav:"created_at"`
}

type userConversationItem struct {
	PK                 string `dynamodbav:"PK"`
	SK                 string `dynamodbav:"SK"`
	UserID             int64  `dynamodbav:"user_id"`
	ConversationID     string `dynamodbav:"conversation_id"`
	OtherUserID        int64  `dynamodbav:"other_user_id"`
	LastMessageAt      string `dynamodbav:"last_message_at"`
	LastMessageContent string `dynamodbav:"last_message_content"`
}

type metadataItem struct {
	PK                 string `dynamodbav:"PK"`
	ConversationID     string `dynamodbav:"conversation_id"`
	User1ID            int64  `dynamodbav:"user1_id"`
	User2ID            int64  `dynamodbav:"user2_id"`
	CreatedAt          string `dynamodbav:"created_at"`
	LastMessageAt      string `dynamodbav:"last_message_at"`
	LastMessageContent string `dynamodbav:"last_message_content"`
}

type lookupItem struct {
	PK             string `dynamodbav:"PK"`
	User1ID        int64  `dynamodbav:"user1_id"`
	User2ID        int64  `dynamodbav:"user2_id"`
	ConversationID string `dynamodbav:"conversation_id"`
}

// convPK returns the partition key for a conversation.
func convPK(conversationID string) string {
	return pkPrefixConv + conversationID
}

// userPK returns the partition key for a user's conversation list.
func userPK(userID int64) string {
	return pkPrefixUser + strconv.FormatInt(userID, 10)
}

// pairPK returns the partition key for a canonical user pair.
func pairPK(pair domain.Pair) string {
	return pkPrefixPair + strconv.FormatInt(pair.User1, 10) + "#" + strconv.FormatInt(pair.User2, 10)
}

// msgSK orders messages by (created_at, message_id).
func msgSK(createdAt time.Time, messageID string) string {
	return formatTimestamp(createdAt) + "#" + messageID
}

// convSK orders a user's summaries by (last_message_at, conversation_id).
func convSK(lastMessageAt time.Time, conversationID string) string {
	return formatTimestamp(lastMessageAt) + "#" + conversationID
}

func strValue(s string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: s}
}

func numValue(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func isConditionFailed(err error) (*types.ConditionalCheckFailedException, bool) {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf, true
	}
	return nil, false
}

// GetConversationID reads the lookup row for a canonical pair.
func (c *Client) GetConversationID(ctx context.Context, pair domain.Pair) (string, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tables.Lookup),
		Key:            map[string]types.AttributeValue{"PK": strValue(pairPK(pair))},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("repository: GetConversationID get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", ErrNotFound
	}
	return decodeLookup(out.Item, "GetConversationID")
}

// ClaimConversation conditionally inserts the lookup row for pair.
func (c *Client) ClaimConversation(ctx context.Context, pair domain.Pair, candidate string) (string, bool, error) {
	if candidate == "" {
		return "", false, errors.New("repository: ClaimConversation: candidate id is required")
	}
	item, err := attributevalue.MarshalMap(lookupItem{
		PK:             pairPK(pair),
		User1ID:        pair.User1,
		User2ID:        pair.User2,
		ConversationID: candidate,
	})
	if err != nil {
		return "", false, fmt.Errorf("repository: ClaimConversation marshal: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           aws.String(c.tables.Lookup),
		Item:                                item,
		ConditionExpression:                 aws.String("attribute_not_exists(PK)"),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return candidate, true, nil
	}
	ccf, ok := isConditionFailed(err)
	if !ok {
		return "", false, fmt.Errorf("repository: ClaimConversation: %w", err)
	}
	if len(ccf.Item) > 0 {
		winner, err := decodeLookup(ccf.Item, "ClaimConversation")
		if err != nil {
			return "", false, err
		}
		return winner, false, nil
	}

	// Older endpoints do not return the existing item; read it back.
	winner, err := c.GetConversationID(ctx, pair)
	if err != nil {
		return "", false, fmt.Errorf("repository: ClaimConversation reread: %w", err)
	}
	return winner, false, nil
}

// CreateConversationMetadata inserts the metadata row unless one exists.
func (c *Client) CreateConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error {
	if meta.ConversationID == "" {
		return errors.New("repository: CreateConversationMetadata: conversation id is required")
	}
	item, err := attributevalue.MarshalMap(metadataItem{
		PK:                 convPK(meta.ConversationID),
		ConversationID:     meta.ConversationID,
		User1ID:            meta.User1ID,
		User2ID:            meta.User2ID,
		CreatedAt:          formatTimestamp(meta.CreatedAt),
		LastMessageAt:      formatTimestamp(meta.LastMessageAt),
		LastMessageContent: meta.LastMessageContent,
	})
	if err != nil {
		return fmt.Errorf("repository: CreateConversationMetadata marshal: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tables.Metadata),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if _, ok := isConditionFailed(err); ok {
			c.log.Debug("conversation_metadata_exists", zap.String("conversation_id", meta.ConversationID))
			return nil
		}
		return fmt.Errorf("repository: CreateConversationMetadata: %w", err)
	}
	return nil
}

// AdvanceConversationMetadata updates the latest-message fields unless the
// stored row already reflects a newer message.
func (c *Client) AdvanceConversationMetadata(ctx context.Context, meta domain.ConversationMetadata) error {
	if meta.ConversationID == "" {
		return errors.New("repository: AdvanceConversationMetadata: conversation id is required")
	}
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = meta.LastMessageAt
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tables.Metadata),
		Key:       map[string]types.AttributeValue{"PK": strValue(convPK(meta.ConversationID))},
		UpdateExpression: aws.String("SET conversation_id = if_not_exists(conversation_id, :cid), " +
			"user1_id = if_not_exists(user1_id, :u1), " +
			"user2_id = if_not_exists(user2_id, :u2), " +
			"created_at = if_not_exists(created_at, :created), " +
			"last_message_at = :at, last_message_content = :content"),
		ConditionExpression: aws.String("attribute_not_exists(last_message_at) OR last_message_at <= :at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid":     strValue(meta.ConversationID),
			":u1":      numValue(meta.User1ID),
			":u2":      numValue(meta.User2ID),
			":created": strValue(formatTimestamp(createdAt)),
			":at":      strValue(formatTimestamp(meta.LastMessageAt)),
			":content": strValue(meta.LastMessageContent),
		},
	})
	if err != nil {
		if _, ok := isConditionFailed(err); ok {
			c.log.Debug("conversation_metadata_newer",
				zap.String("conversation_id", meta.ConversationID),
				zap.Time("last_message_at", meta.LastMessageAt))
			return nil
		}
		return fmt.Errorf("repository: AdvanceConversationMetadata: %w", err)
	}
	return nil
}

// GetConversationMetadata reads a conversation's metadata row.
func (c *Client) GetConversationMetadata(ctx context.Context, conversationID string) (domain.ConversationMetadata, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tables.Metadata),
		Key:            map[string]types.AttributeValue{"PK": strValue(convPK(conversationID))},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationMetadata{}, fmt.Errorf("repository: GetConversationMetadata get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationMetadata{}, ErrNotFound
	}

	var it metadataItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return domain.ConversationMetadata{}, fmt.Errorf("repository: GetConversationMetadata unmarshal: %w", err)
	}
	createdAt, err := parseTimestamp(it.CreatedAt, "created_at")
	if err != nil {
		return domain.ConversationMetadata{}, fmt.Errorf("repository: GetConversationMetadata: %w", err)
	}
	lastAt, err := parseTimestamp(it.LastMessageAt, "last_message_at")
	if err != nil {
		return domain.ConversationMetadata{}, fmt.Errorf("repository: GetConversationMetadata: %w", err)
	}
	return domain.ConversationMetadata{
		ConversationID:     it.ConversationID,
		User1ID:            it.User1ID,
		User2ID:            it.User2ID,
		CreatedAt:          createdAt,
		LastMessageAt:      lastAt,
		LastMessageContent: it.LastMessageContent,
	}, nil
}

// InsertMessage writes an immutable message row.
func (c *Client) InsertMessage(ctx context.Context, msg domain.Message) error {
	if msg.ConversationID == "" || msg.MessageID == "" {
		return errors.New("repository: InsertMessage: conversation id and message id are required")
	}
	item, err := attributevalue.MarshalMap(messageItem{
		PK:             convPK(msg.ConversationID),
		SK:             msgSK(msg.CreatedAt, msg.MessageID),
		ConversationID: msg.ConversationID,
		MessageID:      msg.MessageID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		CreatedAt:      formatTimestamp(msg.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("repository: InsertMessage marshal: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tables.Messages),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: InsertMessage: %w", err)
	}
	return nil
}

// PutUserConversation writes a summary row for one participant.
func (c *Client) PutUserConversation(ctx context.Context, row domain.ConversationSummary) error {
	if row.ConversationID == "" {
		return errors.New("repository: PutUserConversation: conversation id is required")
	}
	item, err := attributevalue.MarshalMap(userConversationItem{
		PK:                 userPK(row.UserID),
		SK:                 convSK(row.LastMessageAt, row.ConversationID),
		UserID:             row.UserID,
		ConversationID:     row.ConversationID,
		OtherUserID:        row.OtherUserID,
		LastMessageAt:      formatTimestamp(row.LastMessageAt),
		LastMessageContent: row.LastMessageContent,
	})
	if err != nil {
		return fmt.Errorf("repository: PutUserConversation marshal: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tables.Conversations),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutUserConversation: %w", err)
	}
	return nil
}

// ScanMessages queries a conversation's timeline newest first.
func (c *Client) ScanMessages(ctx context.Context, conversationID string, before time.Time, fn func(domain.Message) bool) error {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tables.Messages),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": strValue(convPK(conversationID)),
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(c.batchSize),
	}
	if !before.IsZero() {
		// Rows at exactly before carry a "#<id>" suffix and sort above the bound.
		in.KeyConditionExpression = aws.String("PK = :pk AND SK < :before")
		in.ExpressionAttributeValues[":before"] = strValue(formatTimestamp(before))
	}

	p := dynamodb.NewQueryPaginator(c.api, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("repository: ScanMessages query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return fmt.Errorf("repository: ScanMessages unmarshal: %w", err)
			}
			if !fn(msg) {
				return nil
			}
		}
	}
	return nil
}

// ScanUserConversations queries a user's summary rows newest first.
func (c *Client) ScanUserConversations(ctx context.Context, userID int64, fn func(domain.ConversationSummary) bool) error {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tables.Conversations),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": strValue(userPK(userID)),
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(c.batchSize),
	}

	p := dynamodb.NewQueryPaginator(c.api, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("repository: ScanUserConversations query: %w", err)
		}
		for _, item := range out.Items {
			row, err := itemToSummary(item)
			if err != nil {
				return fmt.Errorf("repository: ScanUserConversations unmarshal: %w", err)
			}
			if !fn(row) {
				return nil
			}
		}
	}
	return nil
}

func decodeLookup(item map[string]types.AttributeValue, op string) (string, error) {
	var it lookupItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return "", fmt.Errorf("repository: %s unmarshal: %w", op, err)
	}
	if it.ConversationID == "" {
		return "", fmt.Errorf("repository: %s: missing attribute %q", op, "conversation_id")
	}
	return it.ConversationID, nil
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	var it messageItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return domain.Message{}, err
	}
	if it.MessageID == "" {
		return domain.Message{}, fmt.Errorf("repository: missing attribute %q", "message_id")
	}
	createdAt, err := parseTimestamp(it.CreatedAt, "created_at")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ConversationID: it.ConversationID,
		MessageID:      it.MessageID,
		SenderID:       it.SenderID,
		ReceiverID:     it.ReceiverID,
		Content:        it.Content,
		CreatedAt:      createdAt,
	}, nil
}

func itemToSummary(item map[string]types.AttributeValue) (domain.ConversationSummary, error) {
	var it userConversationItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return domain.ConversationSummary{}, err
	}
	if it.ConversationID == "" {
		return domain.ConversationSummary{}, fmt.Errorf("repository: missing attribute %q", "conversation_id")
	}
	lastAt, err := parseTimestamp(it.LastMessageAt, "last_message_at")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	return domain.ConversationSummary{
		UserID:             it.UserID,
		ConversationID:     it.ConversationID,
		OtherUserID:        it.OtherUserID,
		LastMessageAt:      lastAt,
		LastMessageContent: it.LastMessageContent,
	}, nil
}

func parseTimestamp(v, attr string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("repository: missing attribute %q", attr)
	}
	ts, err := time.Parse(TimestampLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", attr, err)
	}
	return ts, nil
}
