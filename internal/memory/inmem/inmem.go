// Package inmem provides an in-memory implementation of memory.Sink,
// memory.PersonalitySink, and memory.RelationshipSink for tests and for
// cmd/worker's standalone demo mode, grounded on
// agents/runtime/memory/inmem's per-run event log pattern.
package inmem

import (
	"context"
	"sync"

	"github.com/pmflow/orchestrator/internal/memory"
)

// Store implements memory.Sink, memory.PersonalitySink, and
// memory.RelationshipSink with no durability across process restarts.
type Store struct {
	mu            sync.Mutex
	events        map[string][]memory.Event // runID -> events
	opinions      map[string][]string       // runID+agentType -> phrases
	relationships map[string]float64        // runID+from+to -> score
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		events:        make(map[string][]memory.Event),
		opinions:      make(map[string][]string),
		relationships: make(map[string]float64),
	}
}

// AppendEvent implements memory.Sink.
func (s *Store) AppendEvent(_ context.Context, runID string, event memory.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[runID] = append(s.events[runID], event)
	return nil
}

// Events returns a defensive copy of runID's event log, for test assertions.
func (s *Store) Events(runID string) []memory.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Event(nil), s.events[runID]...)
}

// RecordOpinion implements memory.PersonalitySink.
func (s *Store) RecordOpinion(_ context.Context, runID, agentType, phrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runID + "|" + agentType
	s.opinions[key] = append(s.opinions[key], phrase)
	return nil
}

// Opinions returns the recorded phrases for one run+agent.
func (s *Store) Opinions(runID, agentType string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runID + "|" + agentType
	return append([]string(nil), s.opinions[key]...)
}

// AdjustRelationship implements memory.RelationshipSink. Scores accumulate
// additively and are not clamped; callers interpret the running total.
func (s *Store) AdjustRelationship(_ context.Context, runID, from, to string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runID + "|" + from + "|" + to
	s.relationships[key] += delta
	return nil
}

// Relationship returns the current score between from and to for runID.
func (s *Store) Relationship(runID, from, to string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relationships[runID+"|"+from+"|"+to]
}

var (
	_ memory.Sink              = (*Store)(nil)
	_ memory.PersonalitySink   = (*Store)(nil)
	_ memory.RelationshipSink  = (*Store)(nil)
)
