// Package pm composes the PM's decision prompt and parses its typed,
// multi-action decision envelope (spec.md §4.1/§4.6). Prompt rendering
// follows a plain ordered-section builder; parsing follows a strict-then-
// tolerant two-stage contract, schema-validated with jsonschema/v6 before
// actions are dispatched.
package pm

import "github.com/pmflow/orchestrator/internal/graph"

// AgentMessageSummary is one inter-agent message rendered into the prompt's
// "Messages From Your Team" / "Inter-Team Communication" sections.
type AgentMessageSummary struct {
	From    string
	To      string
	Type    string
	Message string
}

// Budget is the run's cost view.
type Budget struct {
	Spent     float64
	Limit     float64
	Remaining float64
}

// AvailableAgent describes one catalogued agent for the "Available Agents"
// section.
type AvailableAgent struct {
	Name  string
	Type  string
	Roles []string
}

// DecisionContext is the ephemeral per-cycle value built in control-flow
// step 7 (spec.md §4.1) and rendered by Compose.
type DecisionContext struct {
	Trigger              TriggerView
	Graph                graph.TaskGraph
	RunningIDs           []string
	CompletedIDs         []string
	FailedIDs            []string
	ReadyIDs             []string
	Budget               Budget
	MessagesToPM         []AgentMessageSummary
	RecentMessagesWindow []AgentMessageSummary
	UserMessages         []string
	ElapsedSeconds       float64
	AvailableAgents      []AvailableAgent
}

// TriggerView is the human-readable rendering of one trigger instance; kind
// matches one of the spec.md §4.1 trigger taxonomy names.
type TriggerView struct {
	Kind    string
	Summary string
}
