package domain

import "time"

// CallState is a call's position in the conversational progression.
type CallState string

const (
	StateQualification CallState = "QUALIFICATION"
	StateBooking       CallState = "BOOKING"
	StateConfirmation  CallState = "CONFIRMATION"
)

// CallStates lists every enumerated state.
var CallStates = []CallState{StateQualification, StateBooking, StateConfirmation}

// Valid reports whether s is one of the enumerated states.
func (s CallState) Valid() bool {
	for _, known := range CallStates {
		if s == known {
			return true
		}
	}
	return false
}

// CallContext is the per-call conversational state.
type CallContext struct {
	CallID       string
	State        CallState
	Context      map[string]any
	CreatedAt    time.Time
	LastActivity time.Time
	// Version increases on every write and guards compare-and-swap updates.
	Version int64
}

// ChatMessage is a system/user/assistant message handed to the voice platform's model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
