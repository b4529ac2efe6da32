package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"voice-booking/internal/domain"
	"voice-booking/internal/usecase"
)

const (
	messageAssistantRequest = "assistant-request"
	messageToolCalls        = "tool-calls"
	messageEndOfCallReport  = "end-of-call-report"

	modelProvider = "openai"
)

type webhookRequest struct {
	Message webhookMessage `json:"message"`
}

type webhookMessage struct {
	Type string `json:"type"`
	Call struct {
		ID string `json:"id"`
	} `json:"call"`
	ToolCallList []webhookToolCall `json:"toolCallList"`
	ToolCalls    []webhookToolCall `json:"toolCalls"`
}

// webhookToolCall accepts both the OpenAI-style function envelope and the
// older flat name/parameters shape.
type webhookToolCall struct {
	ID       string `json:"id"`
	Function *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

func (tc webhookToolCall) normalize() usecase.ToolCall {
	out := usecase.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Parameters}
	if tc.Function != nil {
		if tc.Function.Name != "" {
			out.Name = tc.Function.Name
		}
		if len(tc.Function.Arguments) > 0 {
			out.Arguments = tc.Function.Arguments
		}
	}
	return out
}

type modelConfig struct {
	Provider string               `json:"provider,omitempty"`
	Model    string               `json:"model,omitempty"`
	Messages []domain.ChatMessage `json:"messages"`
}

type assistantResponse struct {
	Assistant struct {
		FirstMessage string      `json:"firstMessage"`
		Model        modelConfig `json:"model"`
	} `json:"assistant"`
}

type assistantOverride struct {
	Model modelConfig `json:"model"`
}

type toolCallResult struct {
	ToolCallID        string             `json:"toolCallId"`
	Result            string             `json:"result"`
	AssistantOverride *assistantOverride `json:"assistantOverride,omitempty"`
}

type toolCallsResponse struct {
	Results []toolCallResult `json:"results"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (h *Handler) webhook(ctx context.Context, log *slog.Logger, correlationID, body string) events.APIGatewayProxyResponse {
	var req webhookRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return h.invalidBody(correlationID)
	}
	callID := strings.TrimSpace(req.Message.Call.ID)
	if callID == "" {
		return h.respond(correlationID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "missing_call_id"})
	}
	log = log.With("call_id", callID, "message_type", req.Message.Type)

	switch req.Message.Type {
	case messageAssistantRequest:
		cfg, err := h.conversation.StartCall(ctx, callID)
		if err != nil {
			return h.fail(log, correlationID, err)
		}
		var resp assistantResponse
		resp.Assistant.FirstMessage = cfg.FirstMessage
		resp.Assistant.Model = modelConfig{Provider: modelProvider, Model: cfg.Model, Messages: cfg.Messages}
		return h.respond(correlationID, http.StatusOK, resp)

	case messageToolCalls:
		raw := req.Message.ToolCallList
		if len(raw) == 0 {
			raw = req.Message.ToolCalls
		}
		calls := make([]usecase.ToolCall, 0, len(raw))
		for _, tc := range raw {
			calls = append(calls, tc.normalize())
		}
		results := h.conversation.HandleToolCalls(ctx, callID, calls)

		resp := toolCallsResponse{Results: make([]toolCallResult, 0, len(results))}
		for _, r := range results {
			out := toolCallResult{ToolCallID: r.ToolCallID, Result: r.Result}
			if r.SystemPrompt != "" {
				out.AssistantOverride = &assistantOverride{Model: modelConfig{
					Messages: []domain.ChatMessage{{Role: "system", Content: r.SystemPrompt}},
				}}
			}
			resp.Results = append(resp.Results, out)
		}
		log.Info("tool calls handled", "count", len(results))
		return h.respond(correlationID, http.StatusOK, resp)

	case messageEndOfCallReport:
		if err := h.conversation.EndCall(ctx, callID); err != nil {
			return h.fail(log, correlationID, err)
		}
		return h.respond(correlationID, http.StatusOK, statusResponse{Status: "processed"})

	default:
		return h.respond(correlationID, http.StatusOK, statusResponse{Status: "ignored"})
	}
}
