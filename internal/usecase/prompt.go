package usecase

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"voice-booking/internal/domain"
)

const (
	firstMessage     = "Hello! I'm excited to help you find your perfect home. To get started, what's your budget range?"
	emptyContextText = "No data collected yet."
	missingValueText = "not provided"
)

var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

var statePrompts = map[domain.CallState]string{
	domain.StateQualification: `You are a real estate lead qualifier. Your goal is to extract:

- Budget range (convert to number)
- Timeline ("3 months", "6 months", etc.)
- Property type preference (house, condo, etc.)
- Location preference

Ask ONE question at a time. When you have budget AND timeline, call update_system_prompt(new_state="BOOKING").

Current context: {{CONTEXT}}`,

	domain.StateBooking: `You are a real estate appointment scheduler. Call check_availability and offer the caller the returned time slots.

- Read each slot exactly as its voice string
- Collect the caller's name, email address and phone number
- Book the chosen slot with book_appointment; if it is no longer available, offer another slot

When the booking succeeds, call update_system_prompt(new_state="CONFIRMATION") with {selected_time: "<voice string>", event_id: "<event id>"}.

Lead context: Budget ${{budget}}, Timeline: {{timeline}}`,

	domain.StateConfirmation: `You are confirming a real estate showing appointment. Read back:

- Date and time
- Property preferences
- Contact information

Be concise and professional. Do not transition to other states.

Appointment: {{selected_time}}
Lead details: {{CONTEXT}}`,
}

// renderPrompt fills a state's template. {{CONTEXT}} becomes the whole context
// as JSON and {{key}} the value stored under key. Placeholders are expanded
// in a single pass, so values are never re-interpreted as templates.
func renderPrompt(state domain.CallState, values map[string]any) (string, error) {
	tmpl, ok := statePrompts[state]
	if !ok {
		return "", fmt.Errorf("usecase: no prompt for state %q", state)
	}

	contextText := emptyContextText
	if len(values) > 0 {
		raw, err := json.Marshal(values)
		if err != nil {
			return "", fmt.Errorf("usecase: encode prompt context: %w", err)
		}
		contextText = string(raw)
	}

	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if key == "CONTEXT" {
			return contextText
		}
		v, ok := values[key]
		if !ok {
			return missingValueText
		}
		return promptValue(v)
	}), nil
}

func promptValue(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case nil:
		return missingValueText
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case bool, int, int64:
		return fmt.Sprint(tv)
	default:
		raw, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprint(tv)
		}
		return string(raw)
	}
}
