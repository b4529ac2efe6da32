package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ToolCall is one function call requested by the voice assistant. Arguments
// is the raw JSON the platform sent: an object, or a string holding one.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult answers one ToolCall. Result is a JSON document the assistant
// reads back; SystemPrompt, when set, replaces the assistant's system prompt.
type ToolResult struct {
	ToolCallID   string
	Result       string
	SystemPrompt string
}

type updatePromptArgs struct {
	NewState string         `json:"new_state"`
	Context  map[string]any `json:"context"`
}

type availabilityArgs struct {
	DateStart string `json:"date_start"`
	DateEnd   string `json:"date_end"`
}

type bookArgs struct {
	SlotTime        string `json:"slot_time"`
	CallerTimezone  string `json:"caller_timezone"`
	LeadName        string `json:"lead_name"`
	LeadEmail       string `json:"lead_email"`
	LeadPhone       string `json:"lead_phone"`
	ConfirmationSMS string `json:"confirmation_sms"`
}

type cancelArgs struct {
	EventID string `json:"event_id"`
}

// decodeArguments fills out from raw. Missing or null arguments leave out
// untouched; anything that is not a JSON object, directly or inside a JSON
// string, fails with ErrUnparseableArguments.
func decodeArguments(raw json.RawMessage, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("%w: %v", ErrUnparseableArguments, err)
		}
		raw = bytes.TrimSpace([]byte(inner))
		if len(raw) == 0 {
			return nil
		}
	}
	if raw[0] != '{' {
		return fmt.Errorf("%w: expected a JSON object", ErrUnparseableArguments)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseableArguments, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after arguments", ErrUnparseableArguments)
	}
	return nil
}
