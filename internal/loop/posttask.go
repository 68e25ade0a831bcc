package loop

import (
	"context"
	"time"

	"github.com/pmflow/orchestrator/internal/checkpoint"
	"github.com/pmflow/orchestrator/internal/conflict"
	"github.com/pmflow/orchestrator/internal/graph"
	"github.com/pmflow/orchestrator/internal/memory"
)

// postTaskProcess runs spec.md §4.7's post-task steps, in order, each
// wrapped so a failure is logged and swallowed (§7 propagation policy:
// "errors inside post-task processing... must never prevent loop
// progress"). Step 2 (message extraction/routing), step 3 (debate
// evaluation), and step 6 (relationship updates) are driven by the
// message.Router subscriber wired in wireRouter, since routing already
// delivers each envelope to every interested consumer; this function
// handles the remaining steps plus returns the stripped output text.
func (l *Loop) postTaskProcess(ctx context.Context, node graph.TaskNode, rawOutput string) string {
	l.recordStepSummary(node)
	stripped := l.routeMessages(ctx, node, rawOutput)
	l.appendEventLog(ctx, node)
	l.ingestMemory(ctx, node, stripped)
	return stripped
}

// recordStepSummary is step 1. The per-task persistence row itself is
// written by the caller before postTaskProcess runs (spec.md §4.1 step 4:
// "update the graph, persist the per-task row, invoke post-task
// processing").
func (l *Loop) recordStepSummary(node graph.TaskNode) {
	l.steps = append(l.steps, checkpoint.StepSummary{
		TaskID:    node.ID,
		AgentType: node.AgentType,
		Role:      node.Role,
		Title:     node.Title,
		Status:    node.Status,
		Output:    node.Output,
		At:        time.Now(),
	})
}

// routeMessages is step 2: extraction/validation/routing runs inside
// message.Router.Route itself; the loop's own onMessageDelivered
// subscriber (wired once in wireRouter) handles accumulation, debate
// evaluation, and relationship nudging for each envelope as it is
// delivered. This method only needs the stripped text back.
func (l *Loop) routeMessages(ctx context.Context, node graph.TaskNode, rawOutput string) string {
	if l.opts.Router == nil {
		return rawOutput
	}
	stripped, errs := l.opts.Router.Route(ctx, l.opts.RunID, node.AgentType, rawOutput)
	for _, err := range errs {
		l.opts.Logger.Warn(ctx, "loop: message routing error", "task_id", node.ID, "error", err.Error())
	}
	return stripped
}

// appendEventLog is step 4.
func (l *Loop) appendEventLog(ctx context.Context, node graph.TaskNode) {
	row := checkpoint.EventLogRow{
		RunID:     l.opts.RunID,
		AgentType: node.AgentType,
		Kind:      string(node.Status),
		Detail:    node.Title,
		At:        time.Now(),
	}
	if err := l.opts.Repo.CreateEventLog(ctx, row); err != nil {
		l.opts.Logger.Warn(ctx, "loop: failed to append event log", "task_id", node.ID, "error", err.Error())
	}
}

// ingestMemory is step 5: fire-and-forget ingestion of the event, plus any
// opinion-like phrases, into the memory store(s).
func (l *Loop) ingestMemory(ctx context.Context, node graph.TaskNode, output string) {
	if l.opts.Memory == nil {
		return
	}
	eventType := memory.EventTaskCompleted
	if node.Status == graph.StatusFailed {
		eventType = memory.EventTaskFailed
	}
	event := memory.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		TaskID:    node.ID,
		AgentType: node.AgentType,
		Data:      output,
	}
	if err := l.opts.Memory.AppendEvent(ctx, l.opts.RunID, event); err != nil {
		l.opts.Logger.Warn(ctx, "loop: memory ingestion failed", "task_id", node.ID, "error", err.Error())
	}
	if l.opts.Personality == nil {
		return
	}
	for _, phrase := range conflict.ExtractOpinionPhrases(output) {
		if err := l.opts.Personality.RecordOpinion(ctx, l.opts.RunID, node.AgentType, phrase); err != nil {
			l.opts.Logger.Warn(ctx, "loop: opinion ingestion failed", "task_id", node.ID, "error", err.Error())
		}
	}
}
