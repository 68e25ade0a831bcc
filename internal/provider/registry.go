package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ModelCost pairs a model id with its pricing and capability tier, so the
// registry can rank it without the adapter needing to expose its full
// pricing table (spec.md §4.4 "Adapter registry").
type ModelCost struct {
	AdapterID string
	Model     string
	Pricing   Pricing
	Tier      CapabilityTier
}

// Registry is the process-wide adapter table: id -> adapter, model -> id.
// Adapters are plain values in the table; there are no back-pointers from
// adapter to registry (spec.md §9 "Cyclic ownership").
type Registry struct {
	mu         sync.RWMutex
	adapters   map[string]Adapter
	modelOwner map[string]string
	costs      []ModelCost

	cacheMu sync.Mutex
	cached  []Info
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:   make(map[string]Adapter),
		modelOwner: make(map[string]string),
	}
}

// Register adds an adapter to the registry, indexing its declared models.
func (r *Registry) Register(a Adapter, costs ...ModelCost) error {
	if a == nil || a.ID() == "" {
		return fmt.Errorf("provider: adapter must have a non-empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
	for _, m := range a.Models() {
		r.modelOwner[m] = a.ID()
	}
	r.costs = append(r.costs, costs...)
	return nil
}

// GetAdapter looks up an adapter by id.
func (r *Registry) GetAdapter(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// AdapterForModel returns the adapter that declared the given model id.
func (r *Registry) AdapterForModel(model string) (Adapter, bool) {
	r.mu.RLock()
	id, ok := r.modelOwner[model]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.GetAdapter(id)
}

// GetAvailableProviders returns the Info for every registered adapter,
// re-running Detect when refresh is true, otherwise serving the last cached
// scan (spec.md §4.4).
func (r *Registry) GetAvailableProviders(ctx context.Context, refresh bool) []Info {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if !refresh && r.cached != nil {
		return append([]Info(nil), r.cached...)
	}
	r.mu.RLock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		a, _ := r.GetAdapter(id)
		out = append(out, a.Detect(ctx))
	}
	r.cached = out
	return append([]Info(nil), out...)
}

// CheapestAvailable picks the adapter/model with minimum
// InputPer1M+OutputPer1M among available, acceptable candidates.
func (r *Registry) CheapestAvailable(ctx context.Context, acceptable func(Info) bool) (ModelCost, bool) {
	avail := r.availableSet(ctx, acceptable)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best ModelCost
	found := false
	for _, c := range r.costs {
		if !avail[c.AdapterID] {
			continue
		}
		total := c.Pricing.InputPer1M + c.Pricing.OutputPer1M
		bestTotal := best.Pricing.InputPer1M + best.Pricing.OutputPer1M
		if !found || total < bestTotal {
			best = c
			found = true
		}
	}
	return best, found
}

// BestAvailable picks the adapter/model with the highest explicit
// CapabilityTier among available, acceptable candidates (spec.md §4.4: CLI
// alias models price at zero, so cost-based ranking is degenerate for "best").
func (r *Registry) BestAvailable(ctx context.Context, acceptable func(Info) bool) (ModelCost, bool) {
	avail := r.availableSet(ctx, acceptable)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best ModelCost
	found := false
	for _, c := range r.costs {
		if !avail[c.AdapterID] {
			continue
		}
		if !found || c.Tier > best.Tier {
			best = c
			found = true
		}
	}
	return best, found
}

func (r *Registry) availableSet(ctx context.Context, acceptable func(Info) bool) map[string]bool {
	out := make(map[string]bool)
	for _, info := range r.GetAvailableProviders(ctx, false) {
		if !info.Available {
			continue
		}
		if acceptable != nil && !acceptable(info) {
			continue
		}
		out[info.ID] = true
	}
	return out
}
