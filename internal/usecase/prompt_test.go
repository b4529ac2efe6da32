package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"voice-booking/internal/domain"
)

func TestRenderPrompt_EveryStateHasATemplate(t *testing.T) {
	for _, state := range domain.CallStates {
		prompt, err := renderPrompt(state, nil)
		require.NoError(t, err, state)
		require.NotContains(t, prompt, "{{", state)
	}
}

func TestRenderPrompt_InjectsContext(t *testing.T) {
	prompt, err := renderPrompt(domain.StateConfirmation, map[string]any{
		"selected_time": "Tomorrow, Friday, Jan 16th at 9am",
		"budget":        500000.0,
	})
	require.NoError(t, err)
	require.Contains(t, prompt, "Appointment: Tomorrow, Friday, Jan 16th at 9am")
	require.Contains(t, prompt, `Lead details: {"budget":500000,"selected_time":"Tomorrow, Friday, Jan 16th at 9am"}`)
}

func TestRenderPrompt_MissingKeys(t *testing.T) {
	prompt, err := renderPrompt(domain.StateBooking, map[string]any{"budget": 300000.0})
	require.NoError(t, err)
	require.Contains(t, prompt, "Budget $300000, Timeline: not provided")
}

func TestRenderPrompt_ValuesAreNotReexpanded(t *testing.T) {
	prompt, err := renderPrompt(domain.StateBooking, map[string]any{"budget": "{{timeline}}", "timeline": "soon"})
	require.NoError(t, err)
	require.Contains(t, prompt, "Budget ${{timeline}}, Timeline: soon")
}

func TestRenderPrompt_LargeNumbersStayPlain(t *testing.T) {
	prompt, err := renderPrompt(domain.StateBooking, map[string]any{"budget": 1250000.0})
	require.NoError(t, err)
	require.Contains(t, prompt, "Budget $1250000,")
}

func TestRenderPrompt_StructuredValue(t *testing.T) {
	prompt, err := renderPrompt(domain.StateBooking, map[string]any{"timeline": map[string]any{"months": 3.0}})
	require.NoError(t, err)
	require.Contains(t, prompt, `Timeline: {"months":3}`)
}

func TestRenderPrompt_UnknownState(t *testing.T) {
	_, err := renderPrompt(domain.CallState("PAYMENT"), nil)
	require.Error(t, err)
}
