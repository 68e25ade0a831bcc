package pm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrictEnvelope(t *testing.T) {
	raw := `Some preamble text the model sometimes emits.

[PM_DECISION]
{
  "reasoning": "all ready tasks look safe to launch",
  "actions": [{"type": "execute", "task_ids": ["t1", "t2"]}]
}
[/PM_DECISION]

Trailing text.`

	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "all ready tasks look safe to launch", d.Reasoning)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, ActionExecute, d.Actions[0].Type)
	assert.Equal(t, []string{"t1", "t2"}, d.Actions[0].TaskIDs)
}

func TestParseRoundTrip(t *testing.T) {
	d := Decision{
		Reasoning: "ship it",
		Actions: []Action{
			{Type: ActionComplete, Summary: "all done"},
		},
	}
	rendered, err := Render(d)
	require.NoError(t, err)

	parsed, err := Parse(rendered)
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParseFallsBackToMarkdownFencedJSON(t *testing.T) {
	raw := "Here is my decision:\n```json\n{\"reasoning\": \"fallback path\", \"actions\": [{\"type\": \"skip\", \"task_ids\": [\"t3\"], \"reason\": \"no longer needed\"}]}\n```\n"

	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "fallback path", d.Reasoning)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, ActionSkip, d.Actions[0].Type)
	assert.Equal(t, "no longer needed", d.Actions[0].Reason)
}

func TestParseFallsBackToFirstBalancedObjectWithoutFence(t *testing.T) {
	raw := `I've decided: {"reasoning": "bare object", "actions": [{"type": "ask_user", "question": "which database?"}]} -- done.`

	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "bare object", d.Reasoning)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, ActionAskUser, d.Actions[0].Type)
	assert.Equal(t, "which database?", d.Actions[0].Question)
}

func TestParseRejectsUnknownActionType(t *testing.T) {
	raw := `[PM_DECISION]{"reasoning": "x", "actions": [{"type": "launch_missiles"}]}[/PM_DECISION]`
	_, err := Parse(raw)
	assert.Error(t, err)
}

func TestParseErrorsWhenNothingParseable(t *testing.T) {
	_, err := Parse("The model just rambled without any JSON at all.")
	assert.Error(t, err)
}

func TestFirstBalancedObjectIgnoresBracesInsideStrings(t *testing.T) {
	raw := `{"reasoning": "a task titled \"do { this }\" is ready", "actions": []}`
	block, err := firstBalancedObject(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, block)
}
