package gate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPlanRoundTrip(t *testing.T) {
	d := Open(t.TempDir(), "proj1")
	require.NoError(t, d.Ensure())

	require.NoError(t, d.WritePlan("run1", PlanPayload{Status: "awaiting_plan", Plan: "do the thing", CreatedAt: time.Now()}))

	_, ok, err := d.ReadPlanConfirm("run1")
	require.NoError(t, err)
	require.False(t, ok)

	path := filepath.Join(d.root, "plan-confirm-run1.json")
	require.NoError(t, writeJSON(path, PlanConfirmPayload{Action: PlanConfirm}))

	confirm, ok, err := d.ReadPlanConfirm("run1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PlanConfirm, confirm.Action)
}

func TestQuestionRoundTrip(t *testing.T) {
	d := Open(t.TempDir(), "proj1")
	require.NoError(t, d.Ensure())

	require.NoError(t, d.WriteQuestion("run1", QuestionPayload{Question: "which db?", CreatedAt: time.Now()}))
	_, ok, err := d.ReadQuestionAnswer("run1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, writeJSON(filepath.Join(d.root, "question-run1-answer.json"), QuestionAnswerPayload{Answer: "postgres", AnsweredAt: time.Now()}))
	ans, ok, err := d.ReadQuestionAnswer("run1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "postgres", ans.Answer)

	require.NoError(t, d.ClearQuestion("run1"))
	_, ok, err = d.ReadQuestionAnswer("run1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAbortFlagPresence(t *testing.T) {
	d := Open(t.TempDir(), "proj1")
	require.NoError(t, d.Ensure())
	require.False(t, d.IsAborted())

	require.NoError(t, writeJSON(d.AbortFlagPath(), struct{}{}))
	require.True(t, d.IsAborted())
}

func TestDrainUserMessagesOrdersByTimestamp(t *testing.T) {
	d := Open(t.TempDir(), "proj1")
	require.NoError(t, d.Ensure())

	require.NoError(t, d.WriteUserMessage("run1", 3, UserMessagePayload{Message: "third"}))
	require.NoError(t, d.WriteUserMessage("run1", 1, UserMessagePayload{Message: "first"}))
	require.NoError(t, d.WriteUserMessage("run1", 2, UserMessagePayload{Message: "second"}))

	msgs, err := d.DrainUserMessages("run1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "first", msgs[0].Message)
	require.Equal(t, "second", msgs[1].Message)
	require.Equal(t, "third", msgs[2].Message)

	again, err := d.DrainUserMessages("run1")
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestAppendLogAndModTime(t *testing.T) {
	d := Open(t.TempDir(), "proj1")
	require.NoError(t, d.Ensure())

	require.NoError(t, d.AppendLog("hello"))
	require.NoError(t, d.AppendLog("world"))

	mt, err := d.LogModTime()
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), mt, 5*time.Second)
}

func TestWaitForFileReturnsWhenFileAppears(t *testing.T) {
	d := Open(t.TempDir(), "proj1")
	require.NoError(t, d.Ensure())
	path := filepath.Join(d.root, "signal.json")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = writeJSON(path, struct{}{})
	}()

	require.NoError(t, WaitForFile(ctx, path))
}
