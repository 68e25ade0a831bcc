package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pmflow/orchestrator/internal/message"
)

func TestEvaluateEscalateIsAlwaysEscalated(t *testing.T) {
	d := NewDetector(nil)
	f := d.Evaluate(message.Delivered{Type: "escalate", Message: "the API contract is broken"})
	assert.Equal(t, SeverityEscalate, f.Severity)
}

func TestEvaluateConcedeIsNeverAConflict(t *testing.T) {
	d := NewDetector(nil)
	f := d.Evaluate(message.Delivered{Type: "concede", Message: "you're right, I'll switch to postgres"})
	assert.Equal(t, SeverityNone, f.Severity)
}

func TestEvaluateChallengeIsANote(t *testing.T) {
	d := NewDetector(nil)
	f := d.Evaluate(message.Delivered{Type: "challenge", Message: "that migration plan skips rollback"})
	assert.Equal(t, SeverityNote, f.Severity)
}

func TestEvaluateOrdinaryMessageWithOpinionPhraseIsANote(t *testing.T) {
	d := NewDetector(nil)
	f := d.Evaluate(message.Delivered{Type: "suggestion", Message: "in my opinion we should cache this"})
	assert.Equal(t, SeverityNote, f.Severity)
}

func TestEvaluateOrdinaryNeutralMessageIsNotAConflict(t *testing.T) {
	d := NewDetector(nil)
	f := d.Evaluate(message.Delivered{Type: "handoff", Message: "database schema is ready for review"})
	assert.Equal(t, SeverityNone, f.Severity)
}

func TestDeliverInvokesCallbackOnlyAboveNone(t *testing.T) {
	var got []Finding
	d := NewDetector(func(_ context.Context, f Finding) { got = append(got, f) })

	require := assert.New(t)
	require.NoError(d.Deliver(context.Background(), message.Delivered{Type: "concede", Message: "ok"}))
	require.Empty(got)

	require.NoError(d.Deliver(context.Background(), message.Delivered{Type: "escalate", Message: "blocked"}))
	require.Len(got, 1)
}
