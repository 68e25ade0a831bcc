package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/pmflow/orchestrator/internal/checkpoint"
	"github.com/pmflow/orchestrator/internal/graph"
	"github.com/pmflow/orchestrator/internal/pm"
)

// Run drives the pipeline to termination, implementing spec.md §4.1's
// eleven-step control-flow contract and termination conditions. It blocks
// until the run completes, aborts, exceeds its budget, hits its decision
// cap, or the task graph is complete with no ready work remaining.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	l.startedAt = time.Now()

	var pending *Trigger
	if l.opts.Resume != nil {
		pending = &Trigger{Kind: KindPipelineResumed, InterruptedIDs: l.opts.Resume.InterruptedIDs, FailedIDs: l.opts.Resume.FailedIDs}
	} else {
		pending = &Trigger{Kind: KindInitial, ReadyIDs: l.graph.ReadyTasks()}
	}

	for {
		// Step 1: abort check.
		if l.opts.Gate.IsAborted() {
			return l.finishAborted(ctx, "abort flag set"), nil
		}

		// Step 2: drain the user-message gate non-blockingly; accumulated
		// messages arm a user_message trigger if no stronger trigger is
		// already pending.
		if msgs, err := l.opts.Gate.DrainUserMessages(l.opts.RunID); err == nil && len(msgs) > 0 {
			texts := make([]string, len(msgs))
			for i, m := range msgs {
				texts[i] = m.Message
			}
			l.userMessages = append(l.userMessages, texts...)
			pending = preferred(pending, &Trigger{Kind: KindUserMessage, UserMessages: append([]string(nil), l.userMessages...)})
		}

		// Step 2b: arm a budget_warning trigger, once, the first cycle the
		// running cost crosses the caution threshold (spec.md §4.1
		// "running cost crossed a caution threshold" — independent of and
		// strictly earlier than step 10's hard budget ceiling).
		if !l.budgetWarned && l.opts.BudgetLimitUSD > 0 &&
			l.budgetSpent >= l.opts.BudgetLimitUSD*l.opts.BudgetWarningThreshold {
			l.budgetWarned = true
			pending = preferred(pending, &Trigger{
				Kind:      KindBudgetWarning,
				Spent:     l.budgetSpent,
				Remaining: l.opts.BudgetLimitUSD - l.budgetSpent,
			})
		}

		// Steps 3/4: if nothing is pending and executions are in flight,
		// block on the health-checked wait until one resolves.
		if pending == nil && len(l.inFlight) > 0 {
			taskID, res, ok := l.healthCheckedWait(ctx)
			if !ok {
				if l.opts.Gate.IsAborted() {
					return l.finishAborted(ctx, "abort flag set"), nil
				}
				return l.finishAborted(ctx, "context cancelled"), ctx.Err()
			}
			t := l.resolveExecution(ctx, taskID, res)
			pending = &t
		}

		// Step 5: nothing running and nothing pending — decide between
		// all_idle and re-seeding initial from current ready tasks.
		if pending == nil && len(l.inFlight) == 0 {
			if ready := l.graph.ReadyTasks(); len(ready) > 0 {
				pending = &Trigger{Kind: KindInitial, ReadyIDs: ready}
			} else {
				pending = &Trigger{Kind: KindAllIdle}
			}
		}

		// Step 6: re-check abort before committing to a PM call.
		if l.opts.Gate.IsAborted() {
			return l.finishAborted(ctx, "abort flag set"), nil
		}

		// Steps 7/8: build the decision context and invoke the PM.
		dc := l.buildDecisionContext(*pending)
		decision := l.invokePM(ctx, dc)
		l.decisionCount++
		l.persistDecision(ctx, decision)

		// Step 9: apply actions, then take-and-clear the trigger and
		// message accumulators. An ask_user answer queued while applying
		// actions seeds the next cycle's user_message trigger.
		l.userMessages = nil
		complete, summary := l.applyActions(ctx, decision)
		pending = nil
		if len(l.userMessages) > 0 {
			pending = &Trigger{Kind: KindUserMessage, UserMessages: append([]string(nil), l.userMessages...)}
		}
		l.agentMessagesToPM = nil
		l.recentAgentMessages = nil

		// Step 10: budget ceiling.
		if l.opts.BudgetLimitUSD > 0 && l.budgetSpent > l.opts.BudgetLimitUSD {
			return l.finishBudgetExceeded(ctx), nil
		}

		// Step 11: checkpoint cheap fields.
		l.checkpointCheap(ctx)

		switch {
		case complete:
			return l.finishNormal(ctx, checkpoint.StatusCompleted, summary), nil
		case l.decisionCount >= l.opts.DecisionCountCap:
			return l.finishNormal(ctx, checkpoint.StatusAborted, "decision count cap reached"), nil
		case l.graph.IsComplete() && len(l.graph.ReadyTasks()) == 0 && len(l.inFlight) == 0:
			return l.finishNormal(ctx, checkpoint.StatusCompleted, "graph complete"), nil
		}
	}
}

// resolveExecution applies one resolved execution's outcome to the graph,
// persists its row, runs post-task processing, and returns the trigger it
// arms (spec.md §4.1 step 4).
func (l *Loop) resolveExecution(ctx context.Context, taskID string, res execResult) Trigger {
	delete(l.inFlight, taskID)
	l.budgetSpent += res.outcome.TotalCostUSD

	node, ok := l.graph.Get(taskID)
	if !ok {
		return Trigger{Kind: KindAllIdle}
	}

	if res.outcome.Success {
		if g, err := l.graph.UpdateStatus(taskID, graph.StatusDone,
			graph.WithOutput(res.outcome.Output), graph.WithCost(res.outcome.TotalCostUSD)); err == nil {
			l.graph = g
		}
		node, _ = l.graph.Get(taskID)
		l.persistNodes(ctx, []string{taskID})
		l.postTaskProcess(ctx, node, res.outcome.Output)
		return Trigger{Kind: KindTaskCompleted, TaskID: taskID, OutputSummary: truncateSummary(res.outcome.Output)}
	}

	errText := res.outcome.Error
	if errText == "" && res.err != nil {
		errText = res.err.Error()
	}
	if g, err := l.graph.UpdateStatus(taskID, graph.StatusFailed,
		graph.WithError(errText), graph.WithAttempt(), graph.WithCost(res.outcome.TotalCostUSD)); err == nil {
		l.graph = g
	}
	node, _ = l.graph.Get(taskID)
	l.persistNodes(ctx, []string{taskID})
	l.postTaskProcess(ctx, node, errText)
	return Trigger{Kind: KindTaskFailed, TaskID: taskID, TaskError: errText, Attempts: node.Attempts}
}

func truncateSummary(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func (l *Loop) persistDecision(ctx context.Context, d pm.Decision) {
	raw, err := pm.Render(d)
	if err != nil {
		raw = d.Reasoning
	}
	row := checkpoint.PMDecisionRow{RunID: l.opts.RunID, Round: l.decisionCount, Reasoning: d.Reasoning, Raw: raw, At: time.Now()}
	if err := l.opts.Repo.CreatePMDecisionLog(ctx, row); err != nil {
		l.opts.Logger.Warn(ctx, "loop: failed to persist PM decision", "error", err.Error())
	}
}

func (l *Loop) checkpointCheap(ctx context.Context) {
	now := time.Now()
	decisionCount := l.decisionCount
	cost := l.budgetSpent
	fields := checkpoint.Fields{DecisionCount: &decisionCount, RunningCostUSD: &cost, LastHeartbeat: &now}
	if err := l.opts.Repo.UpdatePipelineRun(ctx, l.opts.RunID, fields); err != nil {
		l.opts.Logger.Warn(ctx, "loop: cheap checkpoint failed", "error", err.Error())
	}
}

// finishAborted handles termination by abort flag or context cancellation:
// outstanding executions are cancelled but their graph nodes are left as
// `running`, preserving their last-known state for a later
// pipeline_resumed trigger (spec.md §5 scenario 5), rather than being
// force-transitioned to failed.
func (l *Loop) finishAborted(ctx context.Context, reason string) Result {
	for _, ex := range l.inFlight {
		ex.cancel()
	}
	return l.writeFinal(ctx, checkpoint.StatusAborted, reason)
}

// finishBudgetExceeded handles spec.md §7's fatal "budget exceeded" error.
func (l *Loop) finishBudgetExceeded(ctx context.Context) Result {
	for _, ex := range l.inFlight {
		ex.cancel()
	}
	reason := fmt.Sprintf("budget exceeded: spent $%.4f > limit $%.4f", l.budgetSpent, l.opts.BudgetLimitUSD)
	l.steps = append(l.steps, checkpoint.StepSummary{Title: "budget exceeded", Status: graph.StatusFailed, At: time.Now()})
	return l.writeFinal(ctx, checkpoint.StatusAborted, reason)
}

// finishNormal handles PM-requested completion, the decision-count cap, and
// natural graph completion: outstanding executions, if any, are awaited to
// their real outcome with all-settled semantics (spec.md §4.1
// "Termination").
func (l *Loop) finishNormal(ctx context.Context, status checkpoint.RunStatus, reason string) Result {
	l.awaitAllSettled()
	return l.writeFinal(ctx, status, reason)
}

func (l *Loop) awaitAllSettled() {
	for taskID, ex := range l.inFlight {
		res := <-ex.resultCh
		l.budgetSpent += res.outcome.TotalCostUSD
		status := graph.StatusDone
		if !res.outcome.Success {
			status = graph.StatusFailed
		}
		if g, err := l.graph.UpdateStatus(taskID, status,
			graph.WithOutput(res.outcome.Output), graph.WithError(res.outcome.Error), graph.WithCost(res.outcome.TotalCostUSD)); err == nil {
			l.graph = g
		}
		delete(l.inFlight, taskID)
	}
}

func (l *Loop) writeFinal(ctx context.Context, status checkpoint.RunStatus, reason string) Result {
	snapshot := l.graph.Snapshot()
	steps := append([]checkpoint.StepSummary(nil), l.steps...)
	fields := checkpoint.Fields{Status: &status, Graph: &snapshot, Steps: &steps}
	if reason != "" && status != checkpoint.StatusCompleted {
		fields.FailureReason = &reason
	}
	if err := l.opts.Repo.UpdatePipelineRun(ctx, l.opts.RunID, fields); err != nil {
		l.opts.Logger.Warn(ctx, "loop: final checkpoint failed", "error", err.Error())
	}
	return Result{
		Status:        status,
		Summary:       reason,
		Graph:         l.graph,
		DecisionCount: l.decisionCount,
		TotalCostUSD:  l.budgetSpent,
	}
}
