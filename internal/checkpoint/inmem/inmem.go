// Package inmem provides an in-memory checkpoint.Repository implementation
// for tests and for cmd/worker's standalone demo mode, grounded on
// runtime/agent/run/inmem.Store's copy-on-read/copy-on-write idiom: every
// record is defensively copied crossing the package boundary so callers
// never observe (or cause) data races against the stored state.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/pmflow/orchestrator/internal/checkpoint"
	"github.com/pmflow/orchestrator/internal/graph"
)

// Store implements checkpoint.Repository in memory with no durability
// across process restarts.
type Store struct {
	mu       sync.RWMutex
	runs     map[string]checkpoint.PipelineRun
	tasks    map[string]map[string]graph.TaskNode // runID -> taskID -> node
	notes    []checkpoint.TaskNote
	agentRuns []checkpoint.AgentRunRow
	messages []checkpoint.AgentMessageRow
	events   []checkpoint.EventLogRow
	decisions []checkpoint.PMDecisionRow
	projects map[string]checkpoint.Project
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		runs:     make(map[string]checkpoint.PipelineRun),
		tasks:    make(map[string]map[string]graph.TaskNode),
		projects: make(map[string]checkpoint.Project),
	}
}

// Seed registers a project record so FindProjectByID can resolve it; useful
// in tests and cmd/worker's demo mode where no real project store exists.
func (s *Store) Seed(p checkpoint.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

func (s *Store) CreatePipelineRun(_ context.Context, run checkpoint.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = cloneRun(run)
	return nil
}

func (s *Store) UpdatePipelineRun(_ context.Context, runID string, fields checkpoint.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("checkpoint/inmem: unknown run %q", runID)
	}
	if fields.Status != nil {
		run.Status = *fields.Status
	}
	if fields.Graph != nil {
		run.Graph = *fields.Graph
	}
	if fields.DecisionCount != nil {
		run.DecisionCount = *fields.DecisionCount
	}
	if fields.RunningCostUSD != nil {
		run.RunningCostUSD = *fields.RunningCostUSD
	}
	if fields.LastHeartbeat != nil {
		run.LastHeartbeat = *fields.LastHeartbeat
	}
	if fields.Steps != nil {
		run.Steps = append([]checkpoint.StepSummary(nil), (*fields.Steps)...)
	}
	if fields.FailureReason != nil {
		run.FailureReason = *fields.FailureReason
	}
	s.runs[runID] = run
	return nil
}

// GetPipelineRun returns a defensive copy of the run record, for test
// assertions; it stands in for the front end's polling reads in the real
// system, which are out of scope here.
func (s *Store) GetPipelineRun(_ context.Context, runID string) (checkpoint.PipelineRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return checkpoint.PipelineRun{}, false
	}
	return cloneRun(run), true
}

func (s *Store) CreateTask(_ context.Context, row checkpoint.TaskRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tasks[row.RunID]
	if !ok {
		m = make(map[string]graph.TaskNode)
		s.tasks[row.RunID] = m
	}
	m[row.Node.ID] = row.Node
	return nil
}

func (s *Store) UpdateTaskByGraphID(_ context.Context, runID, taskID string, node graph.TaskNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tasks[runID]
	if !ok {
		m = make(map[string]graph.TaskNode)
		s.tasks[runID] = m
	}
	m[taskID] = node
	return nil
}

func (s *Store) CreateTaskNote(_ context.Context, note checkpoint.TaskNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, note)
	return nil
}

func (s *Store) CreateAgentRun(_ context.Context, row checkpoint.AgentRunRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentRuns = append(s.agentRuns, row)
	return nil
}

func (s *Store) CreateAgentMessage(_ context.Context, msg checkpoint.AgentMessageRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *Store) GetInboxMessages(_ context.Context, runID, agent string) ([]checkpoint.AgentMessageRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []checkpoint.AgentMessageRow
	for _, m := range s.messages {
		if m.RunID == runID && m.To == agent {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) CreateEventLog(_ context.Context, row checkpoint.EventLogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, row)
	return nil
}

func (s *Store) CreatePMDecisionLog(_ context.Context, row checkpoint.PMDecisionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, row)
	return nil
}

func (s *Store) FindProjectByID(_ context.Context, projectID string) (checkpoint.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return checkpoint.Project{}, fmt.Errorf("checkpoint/inmem: unknown project %q", projectID)
	}
	return p, nil
}

// AgentRuns returns a defensive copy of every recorded AgentRunRow, for
// test assertions.
func (s *Store) AgentRuns() []checkpoint.AgentRunRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]checkpoint.AgentRunRow(nil), s.agentRuns...)
}

// Events returns a defensive copy of every recorded EventLogRow.
func (s *Store) Events() []checkpoint.EventLogRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]checkpoint.EventLogRow(nil), s.events...)
}

func cloneRun(r checkpoint.PipelineRun) checkpoint.PipelineRun {
	out := r
	out.Graph.Tasks = append([]graph.TaskNode(nil), r.Graph.Tasks...)
	out.Steps = append([]checkpoint.StepSummary(nil), r.Steps...)
	return out
}

var _ checkpoint.Repository = (*Store)(nil)
