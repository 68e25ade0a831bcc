package loop

import (
	"context"
	"time"

	"github.com/pmflow/orchestrator/internal/agentrun"
	"github.com/pmflow/orchestrator/internal/graph"
)

// execResult is what a launched execution sends back exactly once.
type execResult struct {
	outcome agentrun.Outcome
	err     error
}

// execution is one in-flight agentrun.Runner.Run call for a single task,
// launched as an independent goroutine per spec.md §5's scheduling model.
// Graph state is only ever touched from the loop's own goroutine;
// resultCh is buffered so a force-resolved execution's eventual real result
// never blocks its (abandoned) goroutine.
type execution struct {
	taskID    string
	startedAt time.Time
	cancel    context.CancelFunc
	resultCh  chan execResult
}

// launchTask starts task's execution as an independent goroutine, bounded
// by TaskExecutionTimeout (spec.md §5).
func (l *Loop) launchTask(node graph.TaskNode) *execution {
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.TaskExecutionTimeout)
	ex := &execution{
		taskID:    node.ID,
		startedAt: time.Now(),
		cancel:    cancel,
		resultCh:  make(chan execResult, 1),
	}

	req := agentrun.Request{
		TaskID: node.ID,
		Assignment: agentrun.Assignment{
			AgentType:    node.AgentType,
			Role:         node.Role,
			ProviderHint: node.ProviderHint,
			ModelHint:    node.ModelHint,
		},
		Prompt:           taskPrompt(node),
		WorkingDirectory: l.opts.WorkingDirectory,
		ProjectID:        l.opts.ProjectID,
		SessionID:        l.opts.RunID + ":" + node.ID,
		Timeout:          l.opts.TaskExecutionTimeout,
	}

	go func() {
		outcome, err := l.opts.Runner.Run(ctx, req)
		ex.resultCh <- execResult{outcome: outcome, err: err}
	}()
	return ex
}

// taskPrompt renders the minimal prompt an executing agent receives for one
// task: title, description, and acceptance criteria. Richer prompt
// templating (system prompts, skill lists) is layered in by
// internal/agentrun itself.
func taskPrompt(node graph.TaskNode) string {
	p := node.Title + "\n\n" + node.Description
	if len(node.AcceptanceCriteria) > 0 {
		p += "\n\nAcceptance criteria:"
		for _, c := range node.AcceptanceCriteria {
			p += "\n- " + c
		}
	}
	return p
}

// forceResolve cancels ex's context and returns a synthetic failure result,
// used by the health-checked wait for abort and staleness force-resolution
// (spec.md §5). The real goroutine's eventual send to resultCh is left
// unread; the buffered channel absorbs it without blocking.
func forceResolve(ex *execution, reason string) execResult {
	ex.cancel()
	return execResult{outcome: agentrun.Outcome{Success: false, Error: reason}}
}
