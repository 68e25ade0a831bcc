package graph

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genLinearChain produces a graph with a random-length linear dependency
// chain t1 -> t2 -> ... -> tN, all pending except the root. This is enough
// surface to exercise the readiness/auto-promotion invariants without
// needing a general random-DAG generator.
func genLinearChain() gopter.Gen {
	return gen.IntRange(1, 12).Map(func(n int) TaskGraph {
		nodes := make([]TaskNode, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("t%d", i+1)
			var deps []string
			status := StatusPending
			if i == 0 {
				status = StatusReady
			} else {
				deps = []string{fmt.Sprintf("t%d", i)}
			}
			nodes[i] = TaskNode{ID: id, Status: status, DependsOn: deps}
		}
		return New(nodes...)
	})
}

// TestReadyImpliesDependenciesTerminal verifies spec.md §8: "For every node in
// ready, all dependencies are terminal; for every node in pending, at least
// one dependency is not terminal."
func TestReadyImpliesDependenciesTerminal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ready nodes have all-terminal deps; pending nodes don't", prop.ForAll(
		func(g TaskGraph) bool {
			for _, n := range g.All() {
				switch n.Status {
				case StatusReady:
					if !g.dependenciesTerminal(n.DependsOn) {
						return false
					}
				case StatusPending:
					if g.dependenciesTerminal(n.DependsOn) {
						return false
					}
				}
			}
			return true
		},
		genLinearChain(),
	))

	properties.TestingRun(t)
}

// TestAutoPromotionConvergesToNoDanglingReadiness drives every node of a
// random linear chain to done, one at a time, and checks the invariant holds
// after each transition (spec.md §8 "must hold after every graph transition").
func TestAutoPromotionConvergesToNoDanglingReadiness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("completing the ready frontier repeatedly reaches IsComplete", prop.ForAll(
		func(g TaskGraph) bool {
			for i := 0; i < 50; i++ {
				ready := g.ReadyTasks()
				if len(ready) == 0 {
					break
				}
				var err error
				g, err = g.UpdateStatus(ready[0], StatusDone)
				if err != nil {
					return false
				}
				if err := g.Validate(); err != nil {
					return false
				}
			}
			return g.IsComplete()
		},
		genLinearChain(),
	))

	properties.TestingRun(t)
}

// TestUpdateStatusIdempotenceLaw verifies spec.md §8: "Update-status then
// update-status with the same value is equivalent to update-status once."
func TestUpdateStatusIdempotenceLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated identical status updates converge", prop.ForAll(
		func(g TaskGraph) bool {
			ready := g.ReadyTasks()
			if len(ready) == 0 {
				return true
			}
			id := ready[0]
			once, err := g.UpdateStatus(id, StatusDone, WithOutput("x"))
			if err != nil {
				return false
			}
			twice, err := once.UpdateStatus(id, StatusDone, WithOutput("x"))
			if err != nil {
				return false
			}
			return fmt.Sprint(once.Snapshot()) == fmt.Sprint(twice.Snapshot())
		},
		genLinearChain(),
	))

	properties.TestingRun(t)
}

// TestAttemptsNonDecreasing verifies spec.md §8: "attempts is non-decreasing
// for any given identifier across its lifetime."
func TestAttemptsNonDecreasing(t *testing.T) {
	g := New(TaskNode{ID: "t1", Status: StatusFailed, Attempts: 3})
	prev := 3
	for i := 0; i < 5; i++ {
		var err error
		g, err = g.Retry("t1", nil, nil, nil)
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		n, _ := g.Get("t1")
		if n.Attempts < prev {
			t.Fatalf("attempts decreased: %d -> %d", prev, n.Attempts)
		}
		prev = n.Attempts
		g, err = g.UpdateStatus("t1", StatusFailed)
		if err != nil {
			t.Fatalf("update status: %v", err)
		}
	}
}
