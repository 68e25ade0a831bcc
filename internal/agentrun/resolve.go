package agentrun

import "github.com/pmflow/orchestrator/internal/agentdef"

// Assignment is the information the task graph carries about one execution:
// the agent type/role, and any PM- or task-supplied provider/model hints.
type Assignment struct {
	AgentType     string
	Role          string
	ProviderHint  string
	ModelHint     string
}

// ProjectOverride is the highest-priority resolution source: a
// project-settings pin for a specific agent type and (optionally) role.
type ProjectOverride struct {
	AgentType string
	Role      string // empty matches any role for AgentType
	Provider  string
	Model     string
}

// resolution is the outcome of walking the chain in §4.3: provider/model may
// each be empty if no source in the chain supplied one, in which case the
// runner falls back to registry-wide selection (cheapest/best-available).
type resolution struct {
	Provider string
	Model    string
}

// resolveProviderModel walks spec.md §4.3's resolution chain, highest
// priority first: project override → PM hint on the task → role metadata
// from the on-disk agent definition → agent-level metadata → default (left
// to the caller, an empty resolution).
func resolveProviderModel(overrides []ProjectOverride, assign Assignment, def agentdef.Definition) resolution {
	for _, o := range overrides {
		if o.AgentType != assign.AgentType {
			continue
		}
		if o.Role != "" && o.Role != assign.Role {
			continue
		}
		return resolution{Provider: o.Provider, Model: o.Model}
	}

	if assign.ProviderHint != "" || assign.ModelHint != "" {
		return resolution{Provider: assign.ProviderHint, Model: assign.ModelHint}
	}

	if role, ok := def.Role(assign.Role); ok {
		if role.ProviderOverride != "" || role.ModelOverride != "" {
			return resolution{Provider: role.ProviderOverride, Model: role.ModelOverride}
		}
	}

	if def.DefaultProvider != "" || def.DefaultModel != "" {
		return resolution{Provider: def.DefaultProvider, Model: def.DefaultModel}
	}

	return resolution{}
}
