package loop

import (
	"context"
	"time"

	"github.com/pmflow/orchestrator/internal/checkpoint"
	"github.com/pmflow/orchestrator/internal/gate"
	"github.com/pmflow/orchestrator/internal/graph"
	"github.com/pmflow/orchestrator/internal/pm"
)

// applyActions applies every action in d sequentially (spec.md §4.1 step 9).
// A `complete` action sets the returned completeRequested flag; the caller
// is responsible for consuming the pending trigger and clearing the
// inter-agent-message accumulators afterwards.
func (l *Loop) applyActions(ctx context.Context, d pm.Decision) (completeRequested bool, summary string) {
	for _, action := range d.Actions {
		switch action.Type {
		case pm.ActionExecute:
			l.applyExecute(action.TaskIDs)
		case pm.ActionAddTasks:
			l.applyAddTasks(ctx, action.TaskSpecs)
		case pm.ActionRemoveTasks:
			l.applyRemoveTasks(ctx, action.TaskIDs)
		case pm.ActionReassign:
			l.applyReassign(ctx, action.TaskID, action.Agent, action.Role)
		case pm.ActionRetry:
			l.applyRetry(ctx, action.TaskID, action.Changes)
		case pm.ActionAskUser:
			l.applyAskUser(ctx, action.Question, action.Context, action.BlockingTaskIDs)
		case pm.ActionAnswerAgent:
			l.applyAnswerAgent(ctx, action.TaskID, action.Answer)
		case pm.ActionSkip:
			l.applySkip(ctx, action.TaskIDs, action.Reason)
		case pm.ActionComplete:
			completeRequested = true
			summary = action.Summary
		}
	}
	return completeRequested, summary
}

// applyExecute transitions only the prefix of ids that fits within
// MAX_PARALLEL_TASKS minus currently-running executions (spec.md §4.5); the
// remainder stays ready for the next PM cycle.
func (l *Loop) applyExecute(ids []string) {
	budget := l.opts.MaxParallelTasks - len(l.inFlight)
	if budget <= 0 {
		return
	}
	if len(ids) > budget {
		ids = ids[:budget]
	}
	for _, id := range ids {
		node, ok := l.graph.Get(id)
		if !ok {
			continue
		}
		g, err := l.graph.UpdateStatus(id, graph.StatusRunning)
		if err != nil {
			continue
		}
		l.graph = g
		l.inFlight[id] = l.launchTask(node)
	}
}

func (l *Loop) applyAddTasks(ctx context.Context, specs []pm.TaskSpecInput) {
	if len(specs) == 0 {
		return
	}
	gspecs := make([]graph.TaskSpec, len(specs))
	for i, s := range specs {
		gspecs[i] = graph.TaskSpec{
			ID:                 s.ID,
			Title:              s.Title,
			Description:        s.Description,
			AcceptanceCriteria: s.AcceptanceCriteria,
			DependsOn:          s.DependsOn,
			ProviderHint:       s.ProviderHint,
			ModelHint:          s.ModelHint,
			AgentType:          s.AgentType,
			Role:               s.Role,
			Round:              l.decisionCount,
		}
	}
	newGraph, ids := l.graph.AddTasks(gspecs)
	l.graph = newGraph
	for _, id := range ids {
		node, ok := l.graph.Get(id)
		if !ok {
			continue
		}
		if err := l.opts.Repo.CreateTask(ctx, checkpoint.TaskRow{RunID: l.opts.RunID, Node: node}); err != nil {
			l.opts.Logger.Warn(ctx, "loop: failed to persist new task", "task_id", id, "error", err.Error())
		}
	}
}

func (l *Loop) applyRemoveTasks(ctx context.Context, ids []string) {
	l.graph = l.graph.RemoveTasks(ids)
	l.persistNodes(ctx, ids)
}

func (l *Loop) applyReassign(ctx context.Context, taskID, agent, role string) {
	g, err := l.graph.Reassign(taskID, agent, role)
	if err != nil {
		l.opts.Logger.Warn(ctx, "loop: reassign failed", "task_id", taskID, "error", err.Error())
		return
	}
	l.graph = g
	l.persistNodes(ctx, []string{taskID})
}

func (l *Loop) applyRetry(ctx context.Context, taskID string, changes *pm.RetryChanges) {
	var description, agentType, role *string
	if changes != nil {
		description, agentType, role = changes.Description, changes.AgentType, changes.Role
	}
	g, err := l.graph.Retry(taskID, description, agentType, role)
	if err != nil {
		l.opts.Logger.Warn(ctx, "loop: retry failed", "task_id", taskID, "error", err.Error())
		return
	}
	l.graph = g
	l.persistNodes(ctx, []string{taskID})
}

func (l *Loop) applySkip(ctx context.Context, ids []string, reason string) {
	l.graph = l.graph.Skip(ids)
	l.persistNodes(ctx, ids)
	_ = reason // surfaced to the user/PM only via the rendered prompt, not persisted separately
}

// applyAskUser writes the question gate, optionally blocks the listed
// tasks, and — per spec.md §4.1's "wait for reply" — suspends the loop
// until the user answers (spec.md §5 suspension point (b)). The answer is
// queued as the seed for the next user_message trigger; the PM itself
// decides whether to unblock the listed tasks via answer_agent.
func (l *Loop) applyAskUser(ctx context.Context, question, questionContext string, blockingTaskIDs []string) {
	for _, id := range blockingTaskIDs {
		if g, err := l.graph.Block(id, question); err == nil {
			l.graph = g
		}
	}

	if err := l.opts.Gate.WriteQuestion(l.opts.RunID, gate.QuestionPayload{
		Question:  question,
		Context:   questionContext,
		CreatedAt: time.Now(),
	}); err != nil {
		l.opts.Logger.Warn(ctx, "loop: failed to write question gate", "error", err.Error())
		return
	}

	if err := gate.WaitForFile(ctx, l.opts.Gate.QuestionAnswerPath(l.opts.RunID)); err != nil {
		l.opts.Logger.Warn(ctx, "loop: wait for question answer interrupted", "error", err.Error())
		return
	}

	answer, ok, err := l.opts.Gate.ReadQuestionAnswer(l.opts.RunID)
	if err != nil {
		l.opts.Logger.Warn(ctx, "loop: failed to read question answer", "error", err.Error())
		return
	}
	if ok {
		l.userMessages = append(l.userMessages, answer.Answer)
	}
	if err := l.opts.Gate.ClearQuestion(l.opts.RunID); err != nil {
		l.opts.Logger.Warn(ctx, "loop: failed to clear question gate", "error", err.Error())
	}
}

func (l *Loop) applyAnswerAgent(ctx context.Context, taskID, answer string) {
	note := checkpoint.TaskNote{RunID: l.opts.RunID, TaskID: taskID, Note: answer, At: time.Now()}
	if err := l.opts.Repo.CreateTaskNote(ctx, note); err != nil {
		l.opts.Logger.Warn(ctx, "loop: failed to persist task note", "task_id", taskID, "error", err.Error())
	}
	if g, err := l.graph.Unblock(taskID); err == nil {
		l.graph = g
		l.persistNodes(ctx, []string{taskID})
	}
}

func (l *Loop) persistNodes(ctx context.Context, ids []string) {
	for _, id := range ids {
		node, ok := l.graph.Get(id)
		if !ok {
			continue
		}
		if err := l.opts.Repo.UpdateTaskByGraphID(ctx, l.opts.RunID, id, node); err != nil {
			l.opts.Logger.Warn(ctx, "loop: failed to persist task update", "task_id", id, "error", err.Error())
		}
	}
}
