package loop

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmflow/orchestrator/internal/agentrun"
	"github.com/pmflow/orchestrator/internal/checkpoint"
	"github.com/pmflow/orchestrator/internal/checkpoint/inmem"
	"github.com/pmflow/orchestrator/internal/conflict"
	"github.com/pmflow/orchestrator/internal/gate"
	"github.com/pmflow/orchestrator/internal/graph"
	"github.com/pmflow/orchestrator/internal/message"
	memdb "github.com/pmflow/orchestrator/internal/memory/inmem"
	"github.com/pmflow/orchestrator/internal/provider"
)

// fakeAdapter is a scriptable provider.Adapter: task sessions resolve
// against taskScripts keyed by task id, and the PM session consumes
// pmResponses in order (the last entry repeats once exhausted).
type fakeAdapter struct {
	mu           sync.Mutex
	pmResponses  []string
	pmCalls      int
	taskScripts  map[string]func(call int) provider.ExecutionResult
	taskCalls    map[string]int
}

func newFakeAdapter(pmResponses []string) *fakeAdapter {
	return &fakeAdapter{
		pmResponses: pmResponses,
		taskScripts: make(map[string]func(call int) provider.ExecutionResult),
		taskCalls:   make(map[string]int),
	}
}

func (a *fakeAdapter) ID() string   { return "fake" }
func (a *fakeAdapter) Name() string { return "fake" }
func (a *fakeAdapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{FileAccess: true, ToolUse: true}
}
func (a *fakeAdapter) Models() []string { return []string{"fake-model"} }
func (a *fakeAdapter) Detect(context.Context) provider.Info {
	return provider.Info{ID: "fake", Name: "fake", Available: true, Models: a.Models(), Capabilities: a.Capabilities()}
}

func (a *fakeAdapter) Execute(_ context.Context, ec provider.ExecutionContext) (provider.ExecutionResult, error) {
	a.mu.Lock()

	if strings.HasSuffix(ec.SessionID, ":pm") {
		defer a.mu.Unlock()
		idx := a.pmCalls
		if idx >= len(a.pmResponses) {
			idx = len(a.pmResponses) - 1
		}
		a.pmCalls++
		return provider.ExecutionResult{Success: true, Output: a.pmResponses[idx]}, nil
	}

	for taskID, script := range a.taskScripts {
		if strings.HasSuffix(ec.SessionID, ":"+taskID) {
			a.taskCalls[taskID]++
			call := a.taskCalls[taskID]
			// Run the script unlocked so a blocking task script does not
			// stall the PM session's calls.
			a.mu.Unlock()
			return script(call), nil
		}
	}
	a.mu.Unlock()
	return provider.ExecutionResult{Success: false, Error: "no script for session " + ec.SessionID}, nil
}

var _ provider.Adapter = (*fakeAdapter)(nil)

func newTestRunner(t *testing.T, a *fakeAdapter) *agentrun.Runner {
	t.Helper()
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(a, provider.ModelCost{AdapterID: "fake", Model: "fake-model", Tier: 1}))
	return agentrun.New(agentrun.Options{Registry: reg})
}

func executeJSON(ids ...string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf(`{"reasoning":"launching ready work","actions":[{"type":"execute","task_ids":[%s]}]}`, strings.Join(quoted, ","))
}

func completeJSON(summary string) string {
	return fmt.Sprintf(`{"reasoning":"nothing left to do","actions":[{"type":"complete","summary":%q}]}`, summary)
}

func retryJSON(taskID string) string {
	return fmt.Sprintf(`{"reasoning":"retrying after transient failure","actions":[{"type":"retry","task_id":%q}]}`, taskID)
}

func baseOptions(t *testing.T, runID string, g graph.TaskGraph, runner *agentrun.Runner, repo checkpoint.Repository) Options {
	t.Helper()
	return Options{
		RunID:                runID,
		ProjectID:            "proj1",
		Graph:                g,
		Runner:               runner,
		Repo:                 repo,
		Gate:                 gate.Open(t.TempDir(), "proj1"),
		Router:               message.NewRouter(nil, nil),
		Memory:               memdb.New(),
		Personality:          memdb.New(),
		Relationship:         memdb.New(),
		PMAssignment:         agentrun.Assignment{AgentType: "pm", ProviderHint: "fake", ModelHint: "fake-model"},
		WorkingDirectory:     t.TempDir(),
		MaxParallelTasks:     3,
		HealthCheckInterval:  20 * time.Millisecond,
		StaleThreshold:       2 * time.Hour,
		TaskExecutionTimeout: 5 * time.Second,
		DecisionCountCap:     20,
	}
}

func seedRun(t *testing.T, repo checkpoint.Repository, runID string) {
	t.Helper()
	require.NoError(t, repo.CreatePipelineRun(context.Background(), checkpoint.PipelineRun{RunID: runID, ProjectID: "proj1", Status: checkpoint.StatusRunning}))
}

// TestLinearPipeline covers spec.md §8's straight-line two-task pipeline:
// t2 depends on t1, the PM executes each as it becomes ready, then completes.
func TestLinearPipeline(t *testing.T) {
	g := graph.New(
		graph.TaskNode{ID: "t1", Title: "write handler", AgentType: "worker", ProviderHint: "fake", ModelHint: "fake-model", Status: graph.StatusReady},
		graph.TaskNode{ID: "t2", Title: "write test", AgentType: "worker", ProviderHint: "fake", ModelHint: "fake-model", Status: graph.StatusPending, DependsOn: []string{"t1"}},
	)

	adapter := newFakeAdapter([]string{
		executeJSON("t1"),
		executeJSON("t2"),
		completeJSON("both tasks shipped"),
	})
	adapter.taskScripts["t1"] = func(int) provider.ExecutionResult { return provider.ExecutionResult{Success: true, Output: "handler written"} }
	adapter.taskScripts["t2"] = func(int) provider.ExecutionResult { return provider.ExecutionResult{Success: true, Output: "test written"} }

	repo := inmem.New()
	seedRun(t, repo, "run-linear")
	opts := baseOptions(t, "run-linear", g, newTestRunner(t, adapter), repo)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := New(opts).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
	assert.Equal(t, "both tasks shipped", res.Summary)
	n1, ok := res.Graph.Get("t1")
	require.True(t, ok)
	assert.Equal(t, graph.StatusDone, n1.Status)
	n2, ok := res.Graph.Get("t2")
	require.True(t, ok)
	assert.Equal(t, graph.StatusDone, n2.Status)
}

// TestRetryAfterTransientFailure covers spec.md §8's retry scenario: a task
// fails once, the PM retries it, and the second attempt succeeds.
func TestRetryAfterTransientFailure(t *testing.T) {
	g := graph.New(graph.TaskNode{ID: "t1", Title: "flaky op", AgentType: "worker", ProviderHint: "fake", ModelHint: "fake-model", Status: graph.StatusReady})

	adapter := newFakeAdapter([]string{
		executeJSON("t1"),
		retryJSON("t1"),
		completeJSON("recovered after retry"),
	})
	adapter.taskScripts["t1"] = func(call int) provider.ExecutionResult {
		if call == 1 {
			return provider.ExecutionResult{Success: false, Error: "transient: connection reset"}
		}
		return provider.ExecutionResult{Success: true, Output: "worked the second time"}
	}

	repo := inmem.New()
	seedRun(t, repo, "run-retry")
	opts := baseOptions(t, "run-retry", g, newTestRunner(t, adapter), repo)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := New(opts).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
	n1, ok := res.Graph.Get("t1")
	require.True(t, ok)
	assert.Equal(t, graph.StatusDone, n1.Status)
	assert.Equal(t, 1, n1.Attempts)
}

// TestParserErrorFallsBackToAutoExecute covers spec.md §7's "Parser error"
// row: an unparseable PM decision still makes progress by auto-executing
// every ready task.
func TestParserErrorFallsBackToAutoExecute(t *testing.T) {
	g := graph.New(graph.TaskNode{ID: "t1", Title: "only task", AgentType: "worker", ProviderHint: "fake", ModelHint: "fake-model", Status: graph.StatusReady})

	adapter := newFakeAdapter([]string{
		"I cannot decide right now, sorry.",
		completeJSON("done via fallback"),
	})
	adapter.taskScripts["t1"] = func(int) provider.ExecutionResult { return provider.ExecutionResult{Success: true, Output: "done"} }

	repo := inmem.New()
	seedRun(t, repo, "run-fallback")
	opts := baseOptions(t, "run-fallback", g, newTestRunner(t, adapter), repo)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := New(opts).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
	n1, ok := res.Graph.Get("t1")
	require.True(t, ok)
	assert.Equal(t, graph.StatusDone, n1.Status)
}

// TestStaleTaskIsForceResolved covers spec.md §8's stale-task scenario: the
// live log stops advancing, so the health check force-resolves the
// in-flight execution instead of waiting on it forever.
func TestStaleTaskIsForceResolved(t *testing.T) {
	g := graph.New(graph.TaskNode{ID: "t1", Title: "hangs", AgentType: "worker", ProviderHint: "fake", ModelHint: "fake-model", Status: graph.StatusReady})

	blockUntilCancelled := make(chan struct{})
	adapter := newFakeAdapter([]string{
		executeJSON("t1"),
		completeJSON("gave up waiting on the stale task"),
	})
	adapter.taskScripts["t1"] = func(int) provider.ExecutionResult {
		<-blockUntilCancelled
		return provider.ExecutionResult{Success: true, Output: "finally finished"}
	}

	repo := inmem.New()
	seedRun(t, repo, "run-stale")
	opts := baseOptions(t, "run-stale", g, newTestRunner(t, adapter), repo)
	opts.StaleThreshold = 30 * time.Millisecond
	opts.HealthCheckInterval = 10 * time.Millisecond
	opts.TaskExecutionTimeout = 2 * time.Second
	require.NoError(t, opts.Gate.Ensure())
	require.NoError(t, opts.Gate.AppendLog("starting up"))

	l := New(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := l.Run(ctx)
	require.NoError(t, err)
	close(blockUntilCancelled)

	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
	n1, ok := res.Graph.Get("t1")
	require.True(t, ok)
	assert.Equal(t, graph.StatusFailed, n1.Status)
	assert.Contains(t, n1.Error, "stale")
}

// TestAbortMidRunPreservesRunningState covers spec.md §8's abort scenario:
// the front end drops the abort flag while a task is in flight; the loop
// terminates aborted and leaves the running node's status untouched so a
// later pipeline_resumed trigger can pick it back up.
func TestAbortMidRunPreservesRunningState(t *testing.T) {
	g := graph.New(graph.TaskNode{ID: "t1", Title: "long task", AgentType: "worker", ProviderHint: "fake", ModelHint: "fake-model", Status: graph.StatusReady})

	blockForever := make(chan struct{})
	adapter := newFakeAdapter([]string{executeJSON("t1")})
	adapter.taskScripts["t1"] = func(int) provider.ExecutionResult {
		<-blockForever
		return provider.ExecutionResult{Success: true, Output: "should never get here"}
	}

	repo := inmem.New()
	seedRun(t, repo, "run-abort")
	opts := baseOptions(t, "run-abort", g, newTestRunner(t, adapter), repo)
	opts.HealthCheckInterval = 10 * time.Millisecond
	require.NoError(t, opts.Gate.Ensure())

	l := New(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := l.Run(ctx)
		done <- res
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(opts.Gate.AbortFlagPath(), nil, 0o644))

	select {
	case res := <-done:
		assert.Equal(t, checkpoint.StatusAborted, res.Status)
		n1, ok := res.Graph.Get("t1")
		require.True(t, ok)
		assert.Equal(t, graph.StatusRunning, n1.Status, "running node must be left untouched for resume")
	case <-time.After(4 * time.Second):
		t.Fatal("loop did not terminate after abort flag was set")
	}
	close(blockForever)
}

// TestPipelineResumedEntryTrigger covers spec.md §8's resume scenario: a
// pipeline_resumed trigger renders the interrupted ids into the PM's trigger
// summary, and a run with Options.Resume set completes on the PM's first
// decision. The trigger kind of that first cycle is not observed directly.
func TestPipelineResumedEntryTrigger(t *testing.T) {
	g := graph.New(graph.TaskNode{ID: "t1", Title: "interrupted", AgentType: "worker", ProviderHint: "fake", ModelHint: "fake-model", Status: graph.StatusRunning})

	var seenTrigger string
	adapter := newFakeAdapter(nil)
	adapter.pmResponses = []string{completeJSON("resumed and closed out")}
	adapter.taskScripts["t1"] = func(int) provider.ExecutionResult { return provider.ExecutionResult{Success: true, Output: "done"} }

	repo := inmem.New()
	seedRun(t, repo, "run-resume")
	opts := baseOptions(t, "run-resume", g, newTestRunner(t, adapter), repo)
	opts.Resume = &Resume{InterruptedIDs: []string{"t1"}}

	l := New(opts)
	dc := l.buildDecisionContext(Trigger{Kind: KindPipelineResumed, InterruptedIDs: []string{"t1"}})
	seenTrigger = dc.Trigger.Kind
	assert.Equal(t, string(KindPipelineResumed), seenTrigger)
	assert.Contains(t, dc.Trigger.Summary, "t1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := l.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
}

// TestOnMessageDeliveredEscalationAdjustsRelationship exercises spec.md
// §4.7 steps 2/3/6 together: an escalate-typed message delivered through
// the router both reaches the PM's accumulator and nudges the relationship
// score down.
func TestOnMessageDeliveredEscalationAdjustsRelationship(t *testing.T) {
	repo := inmem.New()
	seedRun(t, repo, "run-msg")
	relStore := memdb.New()
	g := graph.New(graph.TaskNode{ID: "t1", AgentType: "worker", Status: graph.StatusDone})

	opts := baseOptions(t, "run-msg", g, newTestRunner(t, newFakeAdapter(nil)), repo)
	opts.Relationship = relStore
	opts.Conflict = conflict.NewDetector(nil)
	l := New(opts)

	raw := `[AGENT_MESSAGE]{"to":"pm","type":"escalate","message":"I disagree with the schema choice"}[/AGENT_MESSAGE]`
	stripped, errs := opts.Router.Route(context.Background(), "run-msg", "coder", raw)
	assert.Empty(t, errs)
	assert.Empty(t, stripped)

	require.Len(t, l.agentMessagesToPM, 1)
	assert.Equal(t, "escalate", l.agentMessagesToPM[0].Type)
	assert.Less(t, relStore.Relationship("run-msg", "coder", "pm"), 0.0)
}
