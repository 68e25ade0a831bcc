// Package loop implements the PM decision loop (spec.md §4.1): the
// controller that repeatedly obtains a trigger, asks the PM what to do via
// internal/pm, and applies the resulting decision to the task graph. It is
// grounded in the teacher's runtime.Runtime.runLoop workflow-turn loop
// (agents/runtime/runtime/runtime.go) and in ralphio's Orchestrator.Run:
// poll, decide, act, drain commands/messages every iteration, select on
// cancellation. Unlike a replay-safe workflow function, this loop runs as a
// single goroutine inside the worker process and persists its own
// checkpoints directly through internal/checkpoint.Repository.
package loop

import "fmt"

// Kind names one trigger taxonomy entry (spec.md §4.1).
type Kind string

const (
	KindInitial          Kind = "initial"
	KindTaskCompleted    Kind = "task_completed"
	KindTaskFailed       Kind = "task_failed"
	KindUserMessage      Kind = "user_message"
	KindAgentQuestion    Kind = "agent_question"
	KindAgentMessageToPM Kind = "agent_message_to_pm"
	KindAllIdle          Kind = "all_idle"
	KindBudgetWarning    Kind = "budget_warning"
	KindPipelineResumed  Kind = "pipeline_resumed"
)

// Trigger is the reason a PM decision is being requested right now. Only
// the fields relevant to Kind are populated.
type Trigger struct {
	Kind Kind

	ReadyIDs []string // initial

	TaskID        string // task_completed, task_failed
	OutputSummary string // task_completed
	TaskError     string // task_failed
	Attempts      int    // task_failed

	UserMessages []string // user_message

	Agent    string // agent_question, agent_message_to_pm
	TaskRef  string // agent_question, agent_message_to_pm
	Question string // agent_question

	MessageType    string // agent_message_to_pm
	MessageContent string // agent_message_to_pm

	Spent     float64 // budget_warning
	Remaining float64 // budget_warning

	InterruptedIDs []string // pipeline_resumed
	FailedIDs      []string // pipeline_resumed
}

// Summary renders a human-readable one-line-or-so description of t for the
// PM prompt's "Trigger" section (spec.md §4.6).
func (t Trigger) Summary() string {
	switch t.Kind {
	case KindInitial:
		return fmt.Sprintf("Loop started. Ready tasks: %s", joinOrNone(t.ReadyIDs))
	case KindTaskCompleted:
		return fmt.Sprintf("Task %s completed: %s", t.TaskID, t.OutputSummary)
	case KindTaskFailed:
		return fmt.Sprintf("Task %s failed after %d attempt(s): %s", t.TaskID, t.Attempts, t.TaskError)
	case KindUserMessage:
		return fmt.Sprintf("User message(s): %s", joinOrNone(t.UserMessages))
	case KindAgentQuestion:
		return fmt.Sprintf("Agent %s (task %s) asks: %s", t.Agent, t.TaskRef, t.Question)
	case KindAgentMessageToPM:
		return fmt.Sprintf("Agent %s (task %s) sent a %s message: %s", t.Agent, t.TaskRef, t.MessageType, t.MessageContent)
	case KindAllIdle:
		return "No running or ready tasks; graph is complete or stuck."
	case KindBudgetWarning:
		return fmt.Sprintf("Budget warning: spent $%.4f, remaining $%.4f", t.Spent, t.Remaining)
	case KindPipelineResumed:
		return fmt.Sprintf("Worker restarted. Interrupted tasks: %s. Failed tasks: %s",
			joinOrNone(t.InterruptedIDs), joinOrNone(t.FailedIDs))
	default:
		return string(t.Kind)
	}
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	out := ids[0]
	for _, id := range ids[1:] {
		out += ", " + id
	}
	return out
}

// rank implements spec.md §4.1's trigger priority: completion > gathered
// user message > idle. pipeline_resumed is entry-only and never compared.
func (k Kind) rank() int {
	switch k {
	case KindTaskCompleted, KindTaskFailed:
		return 3
	case KindAgentQuestion, KindAgentMessageToPM, KindBudgetWarning:
		return 2
	case KindUserMessage:
		return 1
	default:
		return 0
	}
}

// preferred returns whichever of a, b has the higher trigger priority. Ties
// keep a (first-observed wins) so completions discovered earlier in a cycle
// are not displaced by a same-rank trigger discovered later.
func preferred(a, b *Trigger) *Trigger {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Kind.rank() > a.Kind.rank() {
		return b
	}
	return a
}
