package agentrun

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmflow/orchestrator/internal/agentdef"
	"github.com/pmflow/orchestrator/internal/provider"
)

type fakeAdapter struct {
	id     string
	caps   provider.Capabilities
	models []string
	calls  int
	script []provider.ExecutionResult
}

func (f *fakeAdapter) ID() string                         { return f.id }
func (f *fakeAdapter) Name() string                       { return f.id }
func (f *fakeAdapter) Models() []string                   { return f.models }
func (f *fakeAdapter) Capabilities() provider.Capabilities { return f.caps }
func (f *fakeAdapter) Detect(context.Context) provider.Info {
	return provider.Info{ID: f.id, Name: f.id, Available: true, Models: f.models, Capabilities: f.caps}
}
func (f *fakeAdapter) Execute(context.Context, provider.ExecutionContext) (provider.ExecutionResult, error) {
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	return f.script[i], nil
}

type recordingRecorder struct {
	recs []AttemptRecord
}

func (r *recordingRecorder) RecordAttempt(_ context.Context, rec AttemptRecord) error {
	r.recs = append(r.recs, rec)
	return nil
}

func newRegistryWith(adapters ...*fakeAdapter) *provider.Registry {
	reg := provider.NewRegistry()
	for i, a := range adapters {
		_ = reg.Register(a, provider.ModelCost{AdapterID: a.id, Model: a.models[0], Tier: provider.CapabilityTier(i + 1)})
	}
	return reg
}

func noSleep(time.Duration) {}

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	a := &fakeAdapter{id: "anthropic", models: []string{"claude"}, script: []provider.ExecutionResult{
		{Success: true, Output: "done"},
	}}
	reg := newRegistryWith(a)
	r := New(Options{Registry: reg, Sleep: noSleep})

	out, err := r.Run(context.Background(), Request{
		TaskID:     "t1",
		Assignment: Assignment{AgentType: "coder", ProviderHint: "anthropic", ModelHint: "claude"},
		Prompt:     "hello",
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "done", out.Output)
	assert.Len(t, out.Attempts, 1)
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	a := &fakeAdapter{id: "anthropic", models: []string{"claude"}, script: []provider.ExecutionResult{
		{Success: false, Error: "429 rate limited", ErrorKind: "transient"},
		{Success: true, Output: "ok on retry"},
	}}
	reg := newRegistryWith(a)
	rec := &recordingRecorder{}
	r := New(Options{Registry: reg, Sleep: noSleep, Recorder: rec})

	out, err := r.Run(context.Background(), Request{
		TaskID:     "t1",
		Assignment: Assignment{AgentType: "coder", ProviderHint: "anthropic", ModelHint: "claude"},
		Prompt:     "hello",
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Len(t, out.Attempts, 2)
	assert.Len(t, rec.recs, 2)
}

func TestRunStopsImmediatelyOnPermanentError(t *testing.T) {
	a := &fakeAdapter{id: "anthropic", models: []string{"claude"}, script: []provider.ExecutionResult{
		{Success: false, Error: "401 unauthorized", ErrorKind: "permanent"},
	}}
	reg := newRegistryWith(a)
	r := New(Options{Registry: reg, Sleep: noSleep})

	out, err := r.Run(context.Background(), Request{
		TaskID:     "t1",
		Assignment: Assignment{AgentType: "coder", ProviderHint: "anthropic", ModelHint: "claude"},
		Prompt:     "hello",
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Len(t, out.Attempts, 1)
}

func TestRunSwitchesProviderOnSecondTransientFailure(t *testing.T) {
	primary := &fakeAdapter{id: "primary", models: []string{"m1"}, caps: provider.Capabilities{FileAccess: true, ToolUse: true}, script: []provider.ExecutionResult{
		{Success: false, Error: "timeout", ErrorKind: "transient"},
		{Success: false, Error: "timeout", ErrorKind: "transient"},
	}}
	fallback := &fakeAdapter{id: "fallback", models: []string{"m2"}, caps: provider.Capabilities{FileAccess: true, ToolUse: true}, script: []provider.ExecutionResult{
		{Success: true, Output: "rescued"},
	}}
	reg := newRegistryWith(primary, fallback)
	r := New(Options{Registry: reg, Sleep: noSleep})

	out, err := r.Run(context.Background(), Request{
		TaskID:     "t1",
		Assignment: Assignment{AgentType: "coder", ProviderHint: "primary", ModelHint: "m1"},
		Prompt:     "hello",
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "rescued", out.Output)
	require.Len(t, out.Attempts, 3)
	assert.Equal(t, "primary", out.Attempts[0].Provider)
	assert.Equal(t, "primary", out.Attempts[1].Provider)
	assert.Equal(t, "fallback", out.Attempts[2].Provider)
}

func TestRunRetriesUnclassifiedWithoutSwitchingProvider(t *testing.T) {
	primary := &fakeAdapter{id: "primary", models: []string{"m1"}, caps: provider.Capabilities{FileAccess: true, ToolUse: true}, script: []provider.ExecutionResult{
		{Success: false, Error: "something odd happened", ErrorKind: "unclassified"},
		{Success: false, Error: "something odd happened", ErrorKind: "unclassified"},
		{Success: false, Error: "something odd happened", ErrorKind: "unclassified"},
	}}
	fallback := &fakeAdapter{id: "fallback", models: []string{"m2"}, caps: provider.Capabilities{FileAccess: true, ToolUse: true}, script: []provider.ExecutionResult{
		{Success: true, Output: "should not be reached"},
	}}
	reg := newRegistryWith(primary, fallback)
	r := New(Options{Registry: reg, Sleep: noSleep})

	out, err := r.Run(context.Background(), Request{
		TaskID:     "t1",
		Assignment: Assignment{AgentType: "coder", ProviderHint: "primary", ModelHint: "m1"},
		Prompt:     "hello",
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	require.Len(t, out.Attempts, 3)
	assert.Equal(t, "primary", out.Attempts[0].Provider)
	assert.Equal(t, "primary", out.Attempts[1].Provider)
	assert.Equal(t, "primary", out.Attempts[2].Provider)
	assert.Equal(t, 0, fallback.calls, "unclassified errors must never trigger a cross-provider switch")
}

func TestRunExhaustsAttemptsAndReportsFailure(t *testing.T) {
	a := &fakeAdapter{id: "only", models: []string{"m1"}, script: []provider.ExecutionResult{
		{Success: false, Error: "timeout", ErrorKind: "transient"},
		{Success: false, Error: "timeout", ErrorKind: "transient"},
		{Success: false, Error: "timeout", ErrorKind: "transient"},
	}}
	reg := newRegistryWith(a)
	r := New(Options{Registry: reg, Sleep: noSleep})

	out, err := r.Run(context.Background(), Request{
		TaskID:     "t1",
		Assignment: Assignment{AgentType: "coder", ProviderHint: "only", ModelHint: "m1"},
		Prompt:     "hello",
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Len(t, out.Attempts, 3)
}

func TestCapabilityAwareFallbackRejectsPartialProviderForFullCapabilityAgent(t *testing.T) {
	promptOnly := &fakeAdapter{id: "prompt-only", models: []string{"m1"}, caps: provider.Capabilities{ToolUse: true}, script: []provider.ExecutionResult{
		{Success: true, Output: "shouldn't be chosen"},
	}}
	fullCap := &fakeAdapter{id: "full", models: []string{"m2"}, caps: provider.Capabilities{FileAccess: true, ToolUse: true}, script: []provider.ExecutionResult{
		{Success: true, Output: "chosen correctly"},
	}}
	reg := newRegistryWith(promptOnly, fullCap)
	defs := map[string]agentdef.Definition{
		"coder": {AgentType: "coder", CapabilityTags: []string{"file-access"}},
	}
	r := New(Options{Registry: reg, Sleep: noSleep, Definitions: defs})

	out, err := r.Run(context.Background(), Request{
		TaskID:     "t1",
		Assignment: Assignment{AgentType: "coder"},
		Prompt:     "hello",
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "chosen correctly", out.Output)
}

func TestGuardWorkingDirectoryRejectsInstallRoot(t *testing.T) {
	old := installRoot
	installRoot = "/opt/orchestrator"
	defer func() { installRoot = old }()

	err := guardWorkingDirectory("/opt/orchestrator/work")
	require.Error(t, err)

	err = guardWorkingDirectory("/home/project/work")
	require.NoError(t, err)
}

func TestTruncateRespectsLimits(t *testing.T) {
	long := make([]byte, maxOutputChars+100)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncate(string(long), maxOutputChars), maxOutputChars)
	assert.Equal(t, "short", truncate("short", maxOutputChars))
}
