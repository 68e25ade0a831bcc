package loop

import (
	"context"
	"sort"
	"time"

	"github.com/pmflow/orchestrator/internal/agentrun"
	"github.com/pmflow/orchestrator/internal/graph"
	"github.com/pmflow/orchestrator/internal/message"
	"github.com/pmflow/orchestrator/internal/pm"
)

// buildDecisionContext assembles the ephemeral per-cycle PMDecisionContext
// (spec.md §4.1 step 7).
func (l *Loop) buildDecisionContext(t Trigger) pm.DecisionContext {
	byStatus := l.graph.ByStatus()

	running := make([]string, 0, len(l.inFlight))
	for id := range l.inFlight {
		running = append(running, id)
	}
	sort.Strings(running)

	return pm.DecisionContext{
		Trigger:              pm.TriggerView{Kind: string(t.Kind), Summary: t.Summary()},
		Graph:                l.graph,
		RunningIDs:           running,
		CompletedIDs:         byStatus[graph.StatusDone],
		FailedIDs:            byStatus[graph.StatusFailed],
		ReadyIDs:             l.graph.ReadyTasks(),
		Budget:               l.budgetView(),
		MessagesToPM:         toSummaries(l.agentMessagesToPM),
		RecentMessagesWindow: toSummaries(l.recentAgentMessages),
		UserMessages:         append([]string(nil), l.userMessages...),
		ElapsedSeconds:       time.Since(l.startedAt).Seconds(),
		AvailableAgents:      l.opts.AvailableAgents,
	}
}

func (l *Loop) budgetView() pm.Budget {
	remaining := l.opts.BudgetLimitUSD - l.budgetSpent
	if remaining < 0 {
		remaining = 0
	}
	return pm.Budget{Spent: l.budgetSpent, Limit: l.opts.BudgetLimitUSD, Remaining: remaining}
}

func toSummaries(msgs []message.Delivered) []pm.AgentMessageSummary {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]pm.AgentMessageSummary, len(msgs))
	for i, m := range msgs {
		out[i] = pm.AgentMessageSummary{From: m.From, To: m.To, Type: m.Type, Message: m.Message}
	}
	return out
}

// invokePM composes the decision prompt, runs it through the best-available
// model via the agent runner, and parses the result (spec.md §4.1 step 8).
// A runner failure or an unparseable decision both fall back to
// auto-executing the current ready tasks (§7 "Parser error").
func (l *Loop) invokePM(ctx context.Context, dc pm.DecisionContext) pm.Decision {
	prompt := pm.Compose(dc)
	req := agentrun.Request{
		TaskID:           "pm:" + l.opts.RunID,
		Assignment:       l.opts.PMAssignment,
		Prompt:           prompt,
		SystemPrompt:     l.opts.PMSystemPrompt,
		WorkingDirectory: l.opts.WorkingDirectory,
		ProjectID:        l.opts.ProjectID,
		SessionID:        l.opts.RunID + ":pm",
		Timeout:          l.opts.TaskExecutionTimeout,
	}

	outcome, err := l.opts.Runner.Run(ctx, req)
	if err != nil || !outcome.Success {
		return l.fallbackDecision(dc)
	}

	decision, perr := pm.Parse(outcome.Output)
	if perr != nil {
		l.opts.Logger.Warn(ctx, "loop: PM decision unparseable, falling back to auto-execute", "error", perr.Error())
		return l.fallbackDecision(dc)
	}
	return decision
}

// fallbackDecision auto-executes every currently ready task, per spec.md
// §7's "Parser error" row.
func (l *Loop) fallbackDecision(dc pm.DecisionContext) pm.Decision {
	if len(dc.ReadyIDs) == 0 {
		return pm.Decision{Reasoning: "PM decision unavailable; no ready tasks to auto-execute"}
	}
	return pm.Decision{
		Reasoning: "PM decision unavailable; auto-executing ready tasks",
		Actions:   []pm.Action{{Type: pm.ActionExecute, TaskIDs: append([]string(nil), dc.ReadyIDs...)}},
	}
}
