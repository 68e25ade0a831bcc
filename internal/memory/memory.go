// Package memory implements the fire-and-forget ingestion sinks named in
// spec.md §4.7 steps 5 and 6 ("ingestion of the event into the memory
// store and of opinion-like phrases into a personality memory store" and
// "update of agent-to-agent relationship scores"). §1 scopes the embedding
// store and RAG retrieval themselves out of the core; this package models
// only the narrow write-side contract the decision loop calls into,
// grounded on the teacher's agents/runtime/memory.Store
// (LoadRun/AppendEvents, chronological Event log keyed by agent+run).
package memory

import (
	"context"
	"time"
)

// EventType enumerates the categories of event this project ingests,
// generalized from the teacher's message/tool-call taxonomy to one task
// completion/failure per post-task cycle.
type EventType string

const (
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventAgentMessage  EventType = "agent_message"
	EventOpinion       EventType = "opinion"
)

// Event is one entry appended to a run's memory log.
type Event struct {
	Type      EventType
	Timestamp time.Time
	TaskID    string
	AgentType string
	Data      string
	Labels    map[string]string
}

// Sink persists ingestion events. Every call from internal/loop is wrapped
// so a Sink failure is logged and swallowed (spec.md §7 propagation
// policy) — the interface itself returns an error only so an in-process
// implementation can report problems to its own logs/tests.
type Sink interface {
	AppendEvent(ctx context.Context, runID string, event Event) error
}

// PersonalitySink records opinion-like phrases extracted from agent output
// into a per-agent personality memory store (spec.md §4.7 step 5, second
// half). Kept as a distinct interface from Sink because the teacher's own
// memory.Store only models one event log per agent+run, not a separate
// personality-trait store; callers typically wire one concrete
// implementation to both interfaces.
type PersonalitySink interface {
	RecordOpinion(ctx context.Context, runID, agentType, phrase string) error
}

// RelationshipSink updates agent-to-agent relationship scores (spec.md
// §4.7 step 6). Delta is a small positive/negative nudge; implementations
// decide how scores decay or clamp.
type RelationshipSink interface {
	AdjustRelationship(ctx context.Context, runID, from, to string, delta float64) error
}
