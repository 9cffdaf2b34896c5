package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"messenger/internal/domain"
	"messenger/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	timeLayout        = "2006-01-02T15:04:05.000Z07:00"
	defaultPage       = 1
	defaultLimit      = 20
)

// MessagingService is the use-case surface served over HTTP.
type MessagingService interface {
	Send(ctx context.Context, in usecase.SendInput) (domain.Message, error)
	ListConversations(ctx context.Context, userID int64, page, limit int) (domain.Page[domain.ConversationSummary], error)
	GetConversation(ctx context.Context, conversationID string) (domain.ConversationMetadata, error)
	GetMessages(ctx context.Context, conversationID string, page, limit int) (domain.Page[domain.Message], error)
	GetMessagesBefore(ctx context.Context, conversationID string, before time.Time, page, limit int) (domain.Page[domain.Message], error)
}

type Handler struct {
	svc      MessagingService
	validate *validator.Validate
	log      *zap.Logger
}

type sendRequest struct {
	SenderID   int64  `json:"sender_id" validate:"required,gt=0"`
	ReceiverID int64  `json:"receiver_id" validate:"required,gt=0"`
	Content    string `json:"content"`
}

type messageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	ReceiverID     int64  `json:"receiver_id"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

type messageListResponse struct {
	Messages []messageResponse `json:"messages"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
	HasMore  bool              `json:"has_more"`
}

type conversationSummaryResponse struct {
	ConversationID     string `json:"conversation_id"`
	OtherUserID        int64  `json:"other_user_id"`
	LastMessageAt      string `json:"last_message_at"`
	LastMessageContent string `json:"last_message_content"`
}

type conversationListResponse struct {
	Conversations []conversationSummaryResponse `json:"conversations"`
	Page          int                           `json:"page"`
	Limit         int                           `json:"limit"`
	HasMore       bool                          `json:"has_more"`
}

type conversationResponse struct {
	ID                 string `json:"id"`
	User1ID            int64  `json:"user1_id"`
	User2ID            int64  `json:"user2_id"`
	CreatedAt          string `json:"created_at"`
	LastMessageAt      string `json:"last_message_at"`
	LastMessageContent string `json:"last_message_content"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(svc MessagingService, log *zap.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: messaging service must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{svc: svc, validate: v, log: log}, nil
}

// Handle routes an API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	parts := strings.Split(strings.Trim(req.Path, "/"), "/")

	switch {
	case match(parts, "api", "messages"):
		if req.HTTPMethod != http.MethodPost {
			return methodNotAllowed(corrID), nil
		}
		return h.send(ctx, req, corrID), nil

	case match(parts, "api", "conversations", "user", "*"):
		if req.HTTPMethod != http.MethodGet {
			return methodNotAllowed(corrID), nil
		}
		return h.listConversations(ctx, req, parts[3], corrID), nil

	case match(parts, "api", "conversations", "*"):
		if req.HTTPMethod != http.MethodGet {
			return methodNotAllowed(corrID), nil
		}
		return h.getConversation(ctx, parts[2], corrID), nil

	case match(parts, "api", "messages", "conversation", "*"):
		if req.HTTPMethod != http.MethodGet {
			return methodNotAllowed(corrID), nil
		}
		return h.getMessages(ctx, req, parts[3], corrID), nil

	case match(parts, "api", "messages", "conversation", "*", "before"):
		if req.HTTPMethod != http.MethodGet {
			return methodNotAllowed(corrID), nil
		}
		return h.getMessagesBefore(ctx, req, parts[3], corrID), nil
	}
	return errorJSON(http.StatusNotFound, string(usecase.ErrorNotFound), "route_not_found", corrID), nil
}

func (h *Handler) send(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_body", corrID)
		}
		body = string(decoded)
	}

	var in sendRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_body", corrID)
	}
	if err := h.validate.Struct(in); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), validationReason(err), corrID)
	}

	msg, err := h.svc.Send(ctx, usecase.SendInput{
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
	})
	if err != nil {
		return h.mapError(err, corrID)
	}
	return okJSON(http.StatusCreated, toMessageResponse(msg), corrID)
}

func (h *Handler) listConversations(ctx context.Context, req events.APIGatewayProxyRequest, rawUserID, corrID string) events.APIGatewayProxyResponse {
	userID, err := strconv.ParseInt(rawUserID, 10, 64)
	if err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_user_id", corrID)
	}
	page, limit, reason := pagination(req.QueryStringParameters)
	if reason != "" {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), reason, corrID)
	}

	out, err := h.svc.ListConversations(ctx, userID, page, limit)
	if err != nil {
		return h.mapError(err, corrID)
	}
	resp := conversationListResponse{
		Conversations: make([]conversationSummaryResponse, 0, len(out.Items)),
		Page:          out.Page,
		Limit:         out.Limit,
		HasMore:       out.HasMore,
	}
	for _, c := range out.Items {
		resp.Conversations = append(resp.Conversations, conversationSummaryResponse{
			ConversationID:     c.ConversationID,
			OtherUserID:        c.OtherUserID,
			LastMessageAt:      formatTime(c.LastMessageAt),
			LastMessageContent: c.LastMessageContent,
		})
	}
	return okJSON(http.StatusOK, resp, corrID)
}

func (h *Handler) getConversation(ctx context.Context, conversationID, corrID string) events.APIGatewayProxyResponse {
	meta, err := h.svc.GetConversation(ctx, conversationID)
	if err != nil {
		return h.mapError(err, corrID)
	}
	return okJSON(http.StatusOK, conversationResponse{
		ID:                 meta.ConversationID,
		User1ID:            meta.User1ID,
		User2ID:            meta.User2ID,
		CreatedAt:          formatTime(meta.CreatedAt),
		LastMessageAt:      formatTime(meta.LastMessageAt),
		LastMessageContent: meta.LastMessageContent,
	}, corrID)
}

func (h *Handler) getMessages(ctx context.Context, req events.APIGatewayProxyRequest, conversationID, corrID string) events.APIGatewayProxyResponse {
	page, limit, reason := pagination(req.QueryStringParameters)
	if reason != "" {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), reason, corrID)
	}
	out, err := h.svc.GetMessages(ctx, conversationID, page, limit)
	if err != nil {
		return h.mapError(err, corrID)
	}
	return okJSON(http.StatusOK, toMessageList(out), corrID)
}

func (h *Handler) getMessagesBefore(ctx context.Context, req events.APIGatewayProxyRequest, conversationID, corrID string) events.APIGatewayProxyResponse {
	before, ok := parseTime(req.QueryStringParameters["before_timestamp"])
	if !ok {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_before", corrID)
	}
	page, limit, reason := pagination(req.QueryStringParameters)
	if reason != "" {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), reason, corrID)
	}
	out, err := h.svc.GetMessagesBefore(ctx, conversationID, before, page, limit)
	if err != nil {
		return h.mapError(err, corrID)
	}
	return okJSON(http.StatusOK, toMessageList(out), corrID)
}

func (h *Handler) mapError(err error, corrID string) events.APIGatewayProxyResponse {
	var usecaseErr *usecase.Error
	if !errors.As(err, &usecaseErr) {
		h.log.Error("request_failed", zap.String("correlation_id", corrID), zap.Error(err))
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), "", corrID)
	}

	status := http.StatusInternalServerError
	switch usecaseErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorStoreUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request_failed",
			zap.String("correlation_id", corrID),
			zap.String("code", string(usecaseErr.Code)),
			zap.String("reason", usecaseErr.Reason),
			zap.Error(usecaseErr.Err))
	}
	return errorJSON(status, string(usecaseErr.Code), usecaseErr.Reason, corrID)
}

// match compares path segments; "*" matches any non-empty segment.
func match(parts []string, pattern ...string) bool {
	if len(parts) != len(pattern) {
		return false
	}
	for i, p := range pattern {
		if p == "*" {
			if parts[i] == "" {
				return false
			}
			continue
		}
		if parts[i] != p {
			return false
		}
	}
	return true
}

func pagination(q map[string]string) (page, limit int, reason string) {
	page, limit = defaultPage, defaultLimit
	if v, ok := q["page"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, "invalid_page"
		}
		page = n
	}
	if v, ok := q["limit"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, "invalid_limit"
		}
		limit = n
	}
	return page, limit, ""
}

// parseTime accepts RFC 3339 timestamps and zone-less ISO-8601 timestamps,
// which are read as UTC.
func parseTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "invalid_" + verrs[0].Field()
	}
	return "invalid_body"
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		ID:             m.MessageID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		CreatedAt:      formatTime(m.CreatedAt),
	}
}

func toMessageList(p domain.Page[domain.Message]) messageListResponse {
	resp := messageListResponse{
		Messages: make([]messageResponse, 0, len(p.Items)),
		Page:     p.Page,
		Limit:    p.Limit,
		HasMore:  p.HasMore,
	}
	for _, m := range p.Items {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func methodNotAllowed(corrID string) events.APIGatewayProxyResponse {
	return errorJSON(http.StatusMethodNotAllowed, string(usecase.ErrorInvalidInput), "method_not_allowed", corrID)
}

func okJSON(status int, v any, corrID string) events.APIGatewayProxyResponse {
	b, err := json.Marshal(v)
	if err != nil {
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), "", corrID)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers(corrID),
		Body:       string(b),
	}
}

func errorJSON(status int, code, reason, corrID string) events.APIGatewayProxyResponse {
	b, _ := json.Marshal(errorResponse{Error: code, Reason: reason})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers(corrID),
		Body:       string(b),
	}
}

func headers(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: corrID,
	}
}
