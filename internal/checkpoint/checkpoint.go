// Package checkpoint models the persisted PipelineRun record (spec.md §3)
// and the narrow repository interface the decision loop consumes from the
// relational persistence layer, which §1 declares out of scope and owns
// authoritatively for cross-process reads. The repository's method names
// are contracts, not schemas (spec.md §6); internal/checkpoint/inmem
// provides the in-memory implementation used by tests and cmd/worker's
// standalone demo mode, grounded on runtime/agent/run/inmem.Store's
// copy-on-read/copy-on-write idiom.
package checkpoint

import (
	"context"
	"time"

	"github.com/pmflow/orchestrator/internal/graph"
)

// RunStatus is the PipelineRun's lifecycle status (spec.md §3).
type RunStatus string

const (
	StatusRunning      RunStatus = "running"
	StatusAwaitingPlan RunStatus = "awaiting_plan"
	StatusCompleted    RunStatus = "completed"
	StatusFailed       RunStatus = "failed"
	StatusAborted      RunStatus = "aborted"
)

// Terminal reports whether s is one of the run's terminal statuses.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// StepSummary is one completed post-task step summary (spec.md §4.3/§4.7).
type StepSummary struct {
	TaskID    string
	AgentType string
	Role      string
	Title     string
	Status    graph.Status
	Output    string
	At        time.Time
}

// PipelineRun is the persisted run record (spec.md §3). The front end
// creates it before the worker starts; only the worker mutates it
// afterwards, via checkpoint writes.
type PipelineRun struct {
	RunID          string
	ProjectID      string
	Request        string
	Status         RunStatus
	Graph          graph.Snapshot
	DecisionCount  int
	RunningCostUSD float64
	LastHeartbeat  time.Time
	Steps          []StepSummary
	FailureReason  string
}

// Fields is a partial update applied by UpdatePipelineRun; nil/zero fields
// are left unchanged by implementations (spec.md §4.1 step 11's "cheap
// fields" checkpoint vs. the full-graph/steps write at loop exit).
type Fields struct {
	Status         *RunStatus
	Graph          *graph.Snapshot
	DecisionCount  *int
	RunningCostUSD *float64
	LastHeartbeat  *time.Time
	Steps          *[]StepSummary
	FailureReason  *string
}

// TaskRow is the per-task persistence row mirrored from a TaskNode.
type TaskRow struct {
	RunID string
	Node  graph.TaskNode
}

// TaskNote is a persisted note attached to a task, used for answer_agent
// delivery (spec.md §4.1 "answer_agent").
type TaskNote struct {
	RunID  string
	TaskID string
	Note   string
	At     time.Time
}

// AgentMessageRow is a persisted inter-agent message row (spec.md §4.7 step 2).
type AgentMessageRow struct {
	RunID   string
	From    string
	To      string
	Type    string
	Message string
	At      time.Time
}

// EventLogRow is one append-only event-log entry (spec.md §4.7 step 4).
type EventLogRow struct {
	RunID     string
	AgentType string
	Kind      string
	Detail    string
	At        time.Time
}

// AgentRunRow is one persisted per-attempt execution record (spec.md §4.3
// "per-attempt persistence"), mirrored independently of
// internal/agentrun.AttemptRecord so this package never imports the runner
// (the repository contract stays a leaf dependency).
type AgentRunRow struct {
	RunID        string
	TaskID       string
	AgentType    string
	Role         string
	Provider     string
	Model        string
	Attempt      int
	StartedAt    time.Time
	FinishedAt   time.Time
	Success      bool
	Error        string
	ErrorKind    string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Input        string
	Output       string
}

// PMDecisionRow is one persisted PM decision-and-reasoning record.
type PMDecisionRow struct {
	RunID     string
	Round     int
	Reasoning string
	Raw       string
	At        time.Time
}

// Project is the minimal project record the loop needs (agent-definition
// lookup, skill roots, project-settings overrides all key off ProjectID;
// §1 declares the rest of the project record out of scope).
type Project struct {
	ID   string
	Name string
}

// Repository is the narrow interface consumed from the persistence layer
// (spec.md §6). All writes other than PipelineRun lifecycle transitions are
// best-effort: individual failures are logged and swallowed by the caller
// (spec.md §7 propagation policy), so every method here returns only the
// error a caller needs to decide whether to log-and-continue or abort.
type Repository interface {
	CreatePipelineRun(ctx context.Context, run PipelineRun) error
	UpdatePipelineRun(ctx context.Context, runID string, fields Fields) error
	CreateTask(ctx context.Context, row TaskRow) error
	UpdateTaskByGraphID(ctx context.Context, runID, taskID string, node graph.TaskNode) error
	CreateTaskNote(ctx context.Context, note TaskNote) error
	CreateAgentRun(ctx context.Context, row AgentRunRow) error
	CreateAgentMessage(ctx context.Context, msg AgentMessageRow) error
	GetInboxMessages(ctx context.Context, runID, agent string) ([]AgentMessageRow, error)
	CreateEventLog(ctx context.Context, row EventLogRow) error
	CreatePMDecisionLog(ctx context.Context, row PMDecisionRow) error
	FindProjectByID(ctx context.Context, projectID string) (Project, error)
}
