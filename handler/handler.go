package handler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"voice-booking/internal/usecase"
)

const (
	RouteStateWebhook      = "/vapi/state-webhook"
	RouteCheckAvailability = "/check-availability"
	RouteBookAppointment   = "/book-appointment"

	headerCorrelationID = "X-Correlation-Id"
	headerSecret        = "X-Vapi-Secret"
)

// Conversation answers the voice platform's webhook events.
type Conversation interface {
	StartCall(ctx context.Context, callID string) (usecase.AssistantConfig, error)
	HandleToolCalls(ctx context.Context, callID string, calls []usecase.ToolCall) []usecase.ToolResult
	EndCall(ctx context.Context, callID string) error
}

// Bookings backs the direct availability and booking endpoints.
type Bookings interface {
	Book(ctx context.Context, in usecase.BookInput) (usecase.BookOutput, error)
	CheckAvailability(ctx context.Context, in usecase.AvailabilityInput) (usecase.AvailabilityOutput, error)
}

type Handler struct {
	conversation Conversation
	bookings     Bookings
	secret       string
	logger       *slog.Logger
}

type Option func(*Handler)

// WithSecret requires every request to carry the shared secret in X-Vapi-Secret.
func WithSecret(secret string) Option {
	return func(h *Handler) {
		h.secret = strings.TrimSpace(secret)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(conversation Conversation, bookings Bookings, opts ...Option) (*Handler, error) {
	if conversation == nil {
		return nil, errors.New("handler: conversation must not be nil")
	}
	if bookings == nil {
		return nil, errors.New("handler: bookings must not be nil")
	}
	h := &Handler{conversation: conversation, bookings: bookings, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type bookRequest struct {
	SlotTime        string `json:"slot_time"`
	CallerTimezone  string `json:"caller_timezone"`
	CallID          string `json:"call_id"`
	LeadName        string `json:"lead_name"`
	LeadEmail       string `json:"lead_email"`
	LeadPhone       string `json:"lead_phone"`
	ConfirmationSMS string `json:"confirmation_sms"`
}

type bookResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"event_id"`
	Message string `json:"message"`
}

type availabilityRequest struct {
	DateStart string `json:"date_start"`
	DateEnd   string `json:"date_end"`
}

type availabilityResponse struct {
	AvailableSlots []usecase.OfferedSlot `json:"available_slots"`
}

// Handle serves API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.logger.With("correlation_id", correlationID, "path", req.Path)

	if req.HTTPMethod != http.MethodPost {
		return h.respond(correlationID, http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"}), nil
	}
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(header(req.Headers, headerSecret)), []byte(h.secret)) != 1 {
		log.Warn("rejected request with bad secret")
		return h.respond(correlationID, http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"}), nil
	}

	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			log.Warn("undecodable base64 body", "err", err)
			return h.invalidBody(correlationID), nil
		}
		body = string(decoded)
	}

	switch strings.TrimSuffix(req.Path, "/") {
	case RouteStateWebhook:
		return h.webhook(ctx, log, correlationID, body), nil
	case RouteCheckAvailability:
		return h.checkAvailability(ctx, log, correlationID, body), nil
	case RouteBookAppointment:
		return h.book(ctx, log, correlationID, body), nil
	default:
		return h.respond(correlationID, http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "unknown_route"}), nil
	}
}

func (h *Handler) checkAvailability(ctx context.Context, log *slog.Logger, correlationID, body string) events.APIGatewayProxyResponse {
	var req availabilityRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return h.invalidBody(correlationID)
	}
	out, err := h.bookings.CheckAvailability(ctx, usecase.AvailabilityInput{From: req.DateStart, To: req.DateEnd})
	if err != nil {
		return h.fail(log, correlationID, err)
	}
	slots := out.Slots
	if slots == nil {
		slots = []usecase.OfferedSlot{}
	}
	return h.respond(correlationID, http.StatusOK, availabilityResponse{AvailableSlots: slots})
}

func (h *Handler) book(ctx context.Context, log *slog.Logger, correlationID, body string) events.APIGatewayProxyResponse {
	var req bookRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return h.invalidBody(correlationID)
	}
	out, err := h.bookings.Book(ctx, usecase.BookInput{
		CallID:          req.CallID,
		SlotTime:        req.SlotTime,
		CallerTimezone:  req.CallerTimezone,
		LeadName:        req.LeadName,
		LeadEmail:       req.LeadEmail,
		LeadPhone:       req.LeadPhone,
		ConfirmationSMS: req.ConfirmationSMS,
	})
	if err != nil {
		return h.fail(log.With("call_id", req.CallID), correlationID, err)
	}
	return h.respond(correlationID, http.StatusOK, bookResponse{Success: true, EventID: out.EventID, Message: out.Message})
}

func (h *Handler) invalidBody(correlationID string) events.APIGatewayProxyResponse {
	return h.respond(correlationID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
}

func (h *Handler) fail(log *slog.Logger, correlationID string, err error) events.APIGatewayProxyResponse {
	ue := usecase.AsError(err)
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	} else {
		log.Info("request rejected", "code", ue.Code, "reason", ue.Reason)
	}
	return h.respond(correlationID, status, errorResponse{Error: string(ue.Code), Reason: ue.Reason})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorInvalidTransition, usecase.ErrorSlotUnavailable:
		return http.StatusConflict
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respond(correlationID string, status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("failed to encode response", "correlation_id", correlationID, "err", err)
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			headerCorrelationID: correlationID,
		},
		Body: string(raw),
	}
}

// header looks name up case-insensitively; API Gateway forwards headers as sent.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
