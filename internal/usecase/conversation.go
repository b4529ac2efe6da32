package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voice-booking/internal/domain"
)

const (
	ToolUpdateSystemPrompt = "update_system_prompt"
	ToolCheckAvailability  = "check_availability"
	ToolBookAppointment    = "book_appointment"
	ToolCancelAppointment  = "cancel_appointment"

	defaultAssistantModel = "gpt-4o"
)

type CallStateMachine interface {
	Init(ctx context.Context, callID string) (domain.CallContext, error)
	Transition(ctx context.Context, callID string, target domain.CallState, patch map[string]any) (domain.CallContext, error)
	Cleanup(ctx context.Context, callID string) error
}

type Bookings interface {
	Book(ctx context.Context, in BookInput) (BookOutput, error)
	CheckAvailability(ctx context.Context, in AvailabilityInput) (AvailabilityOutput, error)
	Cancel(ctx context.Context, eventID string) error
}

type ToolObserver interface {
	ObserveToolCall(tool, result string)
}

// AssistantConfig is what the assistant starts a call with.
type AssistantConfig struct {
	FirstMessage string
	Model        string
	Messages     []domain.ChatMessage
}

type toolResponse struct {
	Status         string        `json:"status"`
	NewState       string        `json:"new_state,omitempty"`
	EventID        string        `json:"event_id,omitempty"`
	Message        string        `json:"message,omitempty"`
	Code           ErrorCode     `json:"code,omitempty"`
	AvailableSlots []OfferedSlot `json:"available_slots,omitempty"`
}

// ConversationService answers the voice platform's webhook events for one
// call: assistant start, tool calls and end of call.
type ConversationService struct {
	calls    CallStateMachine
	bookings Bookings
	model    string
	logger   *slog.Logger
	observer ToolObserver
}

type ConversationOption func(*ConversationService)

func WithAssistantModel(model string) ConversationOption {
	return func(s *ConversationService) {
		if model = strings.TrimSpace(model); model != "" {
			s.model = model
		}
	}
}

func WithConversationLogger(l *slog.Logger) ConversationOption {
	return func(s *ConversationService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithToolObserver(o ToolObserver) ConversationOption {
	return func(s *ConversationService) {
		s.observer = o
	}
}

func NewConversationService(calls CallStateMachine, bookings Bookings, opts ...ConversationOption) (*ConversationService, error) {
	if calls == nil {
		return nil, errors.New("usecase: call state machine must not be nil")
	}
	if bookings == nil {
		return nil, errors.New("usecase: bookings must not be nil")
	}
	s := &ConversationService{
		calls:    calls,
		bookings: bookings,
		model:    defaultAssistantModel,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StartCall registers the call and returns the prompt for its current stage.
// A call that already progressed keeps its stage.
func (s *ConversationService) StartCall(ctx context.Context, callID string) (AssistantConfig, error) {
	call, err := s.calls.Init(ctx, callID)
	if err != nil {
		return AssistantConfig{}, callStateError(err)
	}
	prompt, err := renderPrompt(call.State, call.Context)
	if err != nil {
		return AssistantConfig{}, newError(ErrorInternal, "prompt_render_error", err)
	}
	return AssistantConfig{
		FirstMessage: firstMessage,
		Model:        s.model,
		Messages:     []domain.ChatMessage{{Role: "system", Content: prompt}},
	}, nil
}

// HandleToolCalls answers each call in order. Failures are reported per tool
// and never abort the batch.
func (s *ConversationService) HandleToolCalls(ctx context.Context, callID string, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, tc := range calls {
		results = append(results, s.HandleToolCall(ctx, callID, tc))
	}
	return results
}

func (s *ConversationService) HandleToolCall(ctx context.Context, callID string, tc ToolCall) ToolResult {
	log := s.logger.With("call_id", callID, "tool", tc.Name, "tool_call_id", tc.ID)

	var (
		resp   toolResponse
		prompt string
		err    error
	)
	switch tc.Name {
	case ToolUpdateSystemPrompt:
		resp, prompt, err = s.updateSystemPrompt(ctx, callID, tc.Arguments)
	case ToolCheckAvailability:
		resp, err = s.checkAvailability(ctx, tc.Arguments)
	case ToolBookAppointment:
		resp, err = s.bookAppointment(ctx, callID, tc.Arguments)
	case ToolCancelAppointment:
		resp, err = s.cancelAppointment(ctx, tc.Arguments)
	default:
		err = newError(ErrorInvalidInput, "unknown_tool", fmt.Errorf("unknown tool %q", tc.Name))
	}

	if err != nil {
		ue := AsError(err)
		log.Warn("tool call failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
		s.observe(tc.Name, "error")
		resp = toolResponse{Status: "error", Code: ue.Code, Message: toolErrorMessage(tc, ue)}
		prompt = ""
	} else {
		s.observe(tc.Name, "ok")
	}

	raw, mErr := json.Marshal(resp)
	if mErr != nil {
		raw = []byte(`{"status":"error","code":"INTERNAL_ERROR"}`)
	}
	return ToolResult{ToolCallID: tc.ID, Result: string(raw), SystemPrompt: prompt}
}

// EndCall forgets the call once the platform reports it finished.
func (s *ConversationService) EndCall(ctx context.Context, callID string) error {
	if err := s.calls.Cleanup(ctx, callID); err != nil {
		return callStateError(err)
	}
	return nil
}

func (s *ConversationService) updateSystemPrompt(ctx context.Context, callID string, raw json.RawMessage) (toolResponse, string, error) {
	var args updatePromptArgs
	if err := decodeArguments(raw, &args); err != nil {
		return toolResponse{}, "", newError(ErrorInvalidInput, "unparseable_arguments", err)
	}
	target := domain.CallState(strings.ToUpper(strings.TrimSpace(args.NewState)))

	call, err := s.calls.Transition(ctx, callID, target, args.Context)
	if err != nil {
		return toolResponse{}, "", callStateError(err)
	}
	prompt, err := renderPrompt(call.State, call.Context)
	if err != nil {
		return toolResponse{}, "", newError(ErrorInternal, "prompt_render_error", err)
	}
	return toolResponse{Status: "success", NewState: string(call.State)}, prompt, nil
}

func (s *ConversationService) checkAvailability(ctx context.Context, raw json.RawMessage) (toolResponse, error) {
	var args availabilityArgs
	if err := decodeArguments(raw, &args); err != nil {
		return toolResponse{}, newError(ErrorInvalidInput, "unparseable_arguments", err)
	}
	out, err := s.bookings.CheckAvailability(ctx, AvailabilityInput{From: args.DateStart, To: args.DateEnd})
	if err != nil {
		return toolResponse{}, err
	}
	resp := toolResponse{Status: "success", AvailableSlots: out.Slots}
	if len(out.Slots) == 0 {
		resp.Message = "No open slots in the next two weeks."
	}
	return resp, nil
}

func (s *ConversationService) bookAppointment(ctx context.Context, callID string, raw json.RawMessage) (toolResponse, error) {
	var args bookArgs
	if err := decodeArguments(raw, &args); err != nil {
		return toolResponse{}, newError(ErrorInvalidInput, "unparseable_arguments", err)
	}
	out, err := s.bookings.Book(ctx, BookInput{
		CallID:          callID,
		SlotTime:        args.SlotTime,
		CallerTimezone:  args.CallerTimezone,
		LeadName:        args.LeadName,
		LeadEmail:       args.LeadEmail,
		LeadPhone:       args.LeadPhone,
		ConfirmationSMS: args.ConfirmationSMS,
	})
	if err != nil {
		return toolResponse{}, err
	}
	return toolResponse{Status: "success", EventID: out.EventID, Message: out.Message}, nil
}

func (s *ConversationService) cancelAppointment(ctx context.Context, raw json.RawMessage) (toolResponse, error) {
	var args cancelArgs
	if err := decodeArguments(raw, &args); err != nil {
		return toolResponse{}, newError(ErrorInvalidInput, "unparseable_arguments", err)
	}
	if err := s.bookings.Cancel(ctx, args.EventID); err != nil {
		return toolResponse{}, err
	}
	return toolResponse{Status: "success", EventID: strings.TrimSpace(args.EventID), Message: "Appointment cancelled."}, nil
}

func (s *ConversationService) observe(tool, result string) {
	if s.observer != nil {
		s.observer.ObserveToolCall(tool, result)
	}
}

// toolErrorMessage is the sentence the assistant reads back on failure.
func toolErrorMessage(tc ToolCall, ue *Error) string {
	switch ue.Code {
	case ErrorSlotUnavailable:
		return "Slot unavailable: " + ue.Reason
	case ErrorInvalidTransition:
		var args updatePromptArgs
		_ = decodeArguments(tc.Arguments, &args)
		return "Invalid transition to " + args.NewState
	case ErrorNotFound:
		return "Call not found"
	case ErrorUpstream:
		return "The calendar is unavailable right now"
	case ErrorInvalidInput:
		if ue.Reason == "unknown_tool" {
			return "Unknown tool: " + tc.Name
		}
		if errors.Is(ue.Err, ErrUnparseableArguments) {
			return "Could not read the tool arguments"
		}
		return "Invalid input: " + ue.Reason
	default:
		return "Internal error"
	}
}
