package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// TaskSpec describes a task to be inserted by AddTasks. ID may be empty, in
// which case the graph assigns the next auto-generated id.
type TaskSpec struct {
	ID                 string
	Title              string
	Description        string
	AcceptanceCriteria []string
	DependsOn          []string
	ProviderHint       string
	ModelHint          string
	SkillHints         []string
	AgentType          string
	Role               string
	Round              int
}

// ReadyTasks returns the set of node ids that are immediately actionable:
// nodes already in StatusReady, plus StatusPending nodes whose dependencies
// are all terminal (spec.md §4.2 "Ready tasks").
func (g TaskGraph) ReadyTasks() []string {
	var ids []string
	for _, id := range g.IDs() {
		n := g.nodes[id]
		switch n.Status {
		case StatusReady:
			ids = append(ids, id)
		case StatusPending:
			if g.dependenciesTerminal(n.DependsOn) {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// UpdateStatus returns a new graph with node id's status (and any provided
// optional fields) updated. If the new status is terminal, every pending
// node whose dependencies are now all terminal is auto-promoted to ready
// (spec.md §4.2 "Update status"). Attempts, once set, never decrease.
func (g TaskGraph) UpdateStatus(id string, status Status, fields ...NodeField) (TaskGraph, error) {
	n, ok := g.Get(id)
	if !ok {
		return g, fmt.Errorf("graph: unknown task %q", id)
	}
	n.Status = status
	for _, f := range fields {
		f(&n)
	}
	out := g.withNode(n)
	if status.terminal() {
		out = out.autoPromotePending()
	}
	return out, nil
}

// NodeField mutates optional fields on a node passed to UpdateStatus.
type NodeField func(*TaskNode)

// WithOutput sets the node's output text.
func WithOutput(s string) NodeField { return func(n *TaskNode) { n.Output = s } }

// WithError sets the node's error text.
func WithError(s string) NodeField { return func(n *TaskNode) { n.Error = s } }

// WithCost adds to the node's accumulated cost.
func WithCost(delta float64) NodeField { return func(n *TaskNode) { n.Cost += delta } }

// WithAttempt increments the node's attempt counter by one.
func WithAttempt() NodeField {
	return func(n *TaskNode) { n.Attempts++ }
}

// WithBlockingQuestion sets the node's blocking question text.
func WithBlockingQuestion(s string) NodeField { return func(n *TaskNode) { n.BlockingQuestion = s } }

// autoPromotePending scans pending nodes in deterministic (lexicographic)
// order and promotes to ready any whose dependencies are now all terminal.
func (g TaskGraph) autoPromotePending() TaskGraph {
	out := g
	for _, id := range g.IDs() {
		n := out.nodes[id]
		if n.Status != StatusPending {
			continue
		}
		if out.dependenciesTerminal(n.DependsOn) {
			n.Status = StatusReady
			out = out.withNode(n)
		}
	}
	return out
}

// AddTasks inserts the given specs as new nodes. Ids are auto-assigned via
// Next when omitted. Readiness for each new node is evaluated against the
// graph as it stood before this call (spec.md §9's documented, preserved
// behavior: co-batched dependents may remain pending for one extra cycle).
func (g TaskGraph) AddTasks(specs []TaskSpec) (TaskGraph, []string) {
	pre := g
	next := g
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		id := spec.ID
		if id == "" {
			id = next.Next()
		}
		status := StatusPending
		if pre.dependenciesTerminal(spec.DependsOn) {
			status = StatusReady
		}
		node := TaskNode{
			ID:                 id,
			Title:              spec.Title,
			Description:        spec.Description,
			AcceptanceCriteria: spec.AcceptanceCriteria,
			DependsOn:          spec.DependsOn,
			ProviderHint:       spec.ProviderHint,
			ModelHint:          spec.ModelHint,
			SkillHints:         spec.SkillHints,
			AgentType:          spec.AgentType,
			Role:               spec.Role,
			Status:             status,
			AddedAtRound:       spec.Round,
		}
		next = next.withNode(node)
		ids = append(ids, id)
	}
	return next, ids
}

// RemoveTasks marks the given ids StatusCancelled and auto-promotes any
// downstream node whose only non-terminal dependencies were among them
// (spec.md §4.2 "Remove tasks").
func (g TaskGraph) RemoveTasks(ids []string) TaskGraph {
	out := g
	for _, id := range ids {
		n, ok := out.Get(id)
		if !ok {
			continue
		}
		n.Status = StatusCancelled
		out = out.withNode(n)
	}
	return out.autoPromotePending()
}

// Reassign changes a node's agent/role assignment without changing status.
func (g TaskGraph) Reassign(id, agentType, role string) (TaskGraph, error) {
	n, ok := g.Get(id)
	if !ok {
		return g, fmt.Errorf("graph: unknown task %q", id)
	}
	n.AgentType = agentType
	n.Role = role
	return g.withNode(n), nil
}

// Block marks a node StatusBlocked with the given question text.
func (g TaskGraph) Block(id, question string) (TaskGraph, error) {
	n, ok := g.Get(id)
	if !ok {
		return g, fmt.Errorf("graph: unknown task %q", id)
	}
	n.Status = StatusBlocked
	n.BlockingQuestion = question
	return g.withNode(n), nil
}

// Unblock transitions a StatusBlocked node back to ready and clears its
// blocking question.
func (g TaskGraph) Unblock(id string) (TaskGraph, error) {
	n, ok := g.Get(id)
	if !ok {
		return g, fmt.Errorf("graph: unknown task %q", id)
	}
	n.Status = StatusReady
	n.BlockingQuestion = ""
	return g.withNode(n), nil
}

// Retry resets a StatusFailed node to StatusReady, increments its attempt
// counter, clears its error, and optionally overrides description/agent/role
// (spec.md §4.1 "retry" action).
func (g TaskGraph) Retry(id string, description, agentType, role *string) (TaskGraph, error) {
	n, ok := g.Get(id)
	if !ok {
		return g, fmt.Errorf("graph: unknown task %q", id)
	}
	n.Status = StatusReady
	n.Attempts++
	n.Error = ""
	if description != nil {
		n.Description = *description
	}
	if agentType != nil {
		n.AgentType = *agentType
	}
	if role != nil {
		n.Role = *role
	}
	return g.withNode(n), nil
}

// Skip marks the given ids StatusSkipped and auto-promotes downstream nodes.
func (g TaskGraph) Skip(ids []string) TaskGraph {
	out := g
	for _, id := range ids {
		n, ok := out.Get(id)
		if !ok {
			continue
		}
		n.Status = StatusSkipped
		out = out.withNode(n)
	}
	return out.autoPromotePending()
}

// IsComplete reports whether every node is in a terminal/failed state
// (spec.md §4.2 "Is-complete").
func (g TaskGraph) IsComplete() bool {
	for _, n := range g.nodes {
		switch n.Status {
		case StatusDone, StatusSkipped, StatusCancelled, StatusFailed:
		default:
			return false
		}
	}
	return true
}

// IsStuck reports whether the graph has no running or ready work but still
// has pending or blocked nodes (spec.md §4.2 "Is-stuck").
func (g TaskGraph) IsStuck() bool {
	var hasPendingOrBlocked bool
	for _, n := range g.nodes {
		switch n.Status {
		case StatusRunning, StatusReady:
			return false
		case StatusPending, StatusBlocked:
			hasPendingOrBlocked = true
		}
	}
	return hasPendingOrBlocked
}

// Next returns the next auto-generated task id, t<max_numeric_suffix+1>,
// scanning every existing id of the form t<N> (spec.md §4.2 "Next task id").
func (g TaskGraph) Next() string {
	max := 0
	for id := range g.nodes {
		if !strings.HasPrefix(id, "t") {
			continue
		}
		if n, err := strconv.Atoi(id[1:]); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("t%d", max+1)
}

// Validate checks the invariants in spec.md §3/§8: no dangling dependency
// references and an acyclic dependency relation.
func (g TaskGraph) Validate() error {
	for _, n := range g.nodes {
		for _, d := range n.DependsOn {
			if _, ok := g.nodes[d]; !ok {
				return fmt.Errorf("graph: task %q depends on missing task %q", n.ID, d)
			}
		}
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("graph: dependency cycle detected at %q", id)
		case black:
			return nil
		}
		color[id] = gray
		for _, d := range g.nodes[id].DependsOn {
			if err := visit(d); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, id := range g.IDs() {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
