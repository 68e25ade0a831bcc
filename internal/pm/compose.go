package pm

import (
	"fmt"
	"strings"

	"github.com/pmflow/orchestrator/internal/graph"
)

// Compose renders the PM prompt's labelled sections in the exact order
// required by spec.md §4.6.
func Compose(dc DecisionContext) string {
	var b strings.Builder

	writeSection(&b, "Trigger", dc.Trigger.Summary)
	writeSection(&b, "Task Graph", renderTaskGraph(dc.Graph))
	writeSection(&b, "Currently Running", renderIDList(dc.RunningIDs))
	writeSection(&b, "Completed Tasks", renderCompletedTasks(dc.Graph, dc.CompletedIDs))
	writeSection(&b, "Failed Tasks", renderFailedTasks(dc.Graph, dc.FailedIDs))
	writeSection(&b, "Ready Tasks", renderIDList(dc.ReadyIDs))
	writeSection(&b, "Messages From Your Team", renderMessages(dc.MessagesToPM))
	writeSection(&b, "Inter-Team Communication", renderMessages(dc.RecentMessagesWindow))
	writeSection(&b, "User Messages", renderUserMessages(dc.UserMessages))
	writeSection(&b, "Budget", renderBudget(dc.Budget))
	writeSection(&b, "Available Agents", renderAgents(dc.AvailableAgents))
	writeSection(&b, "Elapsed Time", fmt.Sprintf("%.0fs", dc.ElapsedSeconds))
	writeSection(&b, "Instructions", instructions)

	return b.String()
}

func writeSection(b *strings.Builder, label, body string) {
	b.WriteString("## ")
	b.WriteString(label)
	b.WriteString("\n")
	if strings.TrimSpace(body) == "" {
		b.WriteString("(none)\n\n")
		return
	}
	b.WriteString(body)
	b.WriteString("\n\n")
}

func renderTaskGraph(g graph.TaskGraph) string {
	var lines []string
	for _, id := range g.IDs() {
		n, _ := g.Get(id)
		agent := n.AgentType
		if n.Role != "" {
			agent = agent + ":" + n.Role
		}
		line := fmt.Sprintf("%s [%s] %s: %s", n.ID, n.Status, agent, n.Title)
		if len(n.DependsOn) > 0 {
			line += fmt.Sprintf(" (depends: %s)", strings.Join(n.DependsOn, ", "))
		}
		if n.Error != "" {
			line += " error: " + truncate(n.Error, 200)
		} else if n.Output != "" {
			line += " output: " + truncate(n.Output, 200)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderIDList(ids []string) string {
	return strings.Join(ids, ", ")
}

func renderCompletedTasks(g graph.TaskGraph, ids []string) string {
	var lines []string
	for _, id := range ids {
		n, _ := g.Get(id)
		lines = append(lines, fmt.Sprintf("%s (cost: $%.4f)", id, n.Cost))
	}
	return strings.Join(lines, "\n")
}

func renderFailedTasks(g graph.TaskGraph, ids []string) string {
	var lines []string
	for _, id := range ids {
		n, _ := g.Get(id)
		lines = append(lines, fmt.Sprintf("%s (attempts: %d)", id, n.Attempts))
	}
	return strings.Join(lines, "\n")
}

func renderMessages(msgs []AgentMessageSummary) string {
	var lines []string
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s -> %s [%s]: %s", m.From, m.To, m.Type, m.Message))
	}
	return strings.Join(lines, "\n")
}

func renderUserMessages(msgs []string) string {
	return strings.Join(msgs, "\n")
}

func renderBudget(b Budget) string {
	return fmt.Sprintf("spent: $%.4f, limit: $%.4f, remaining: $%.4f", b.Spent, b.Limit, b.Remaining)
}

func renderAgents(agents []AvailableAgent) string {
	var lines []string
	for _, a := range agents {
		lines = append(lines, fmt.Sprintf("%s (%s) roles: %s", a.Name, a.Type, strings.Join(a.Roles, ", ")))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

const instructions = `Before deciding, consult your tools: search project history and read past ` +
	`step outputs. Consider completed work from prior runs.

Respond with exactly one decision envelope:

[PM_DECISION]
{
  "reasoning": "<free-form text>",
  "actions": [
    {"type": "execute", "task_ids": ["t1", "t2"]},
    {"type": "add_tasks", "task_specs": [{"title": "...", "description": "...", "depends_on": []}]},
    {"type": "remove_tasks", "task_ids": ["t3"], "reason": "..."},
    {"type": "reassign", "task_id": "t1", "agent": "coder", "role": "implementer", "reason": "..."},
    {"type": "retry", "task_id": "t4", "changes": {"description": "..."}},
    {"type": "ask_user", "question": "...", "context": "...", "blocking_task_ids": ["t5"]},
    {"type": "answer_agent", "task_id": "t6", "answer": "..."},
    {"type": "complete", "summary": "..."},
    {"type": "skip", "task_ids": ["t7"], "reason": "..."}
  ]
}
[/PM_DECISION]`
