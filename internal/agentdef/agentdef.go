// Package agentdef models the agent-definition interface consumed (but not
// owned) by the orchestrator: spec.md §6 names it explicitly out of scope
// for its on-disk format while requiring the runner to read capability
// tags, default provider/model hints, and per-role metadata from it.
package agentdef

// RoleDefinition is one named role an agent can be assigned, carrying the
// per-role overrides the resolution chain in internal/agentrun consults.
type RoleDefinition struct {
	Name                string
	SystemPrompt        string
	ProviderOverride    string
	ModelOverride       string
	ReceivesPlanContext bool
	ProducesPassFail    bool
	EvaluatesOutput     bool
}

// Definition describes one agent type: its default provider/model, the
// capability tags it requires, and its roles.
type Definition struct {
	AgentType          string
	DisplayName        string
	Description        string
	CapabilityTags     []string
	DefaultProvider    string
	DefaultModel       string
	DefaultSkillHints  []string
	EventTypeLabel     string
	Roles              map[string]RoleDefinition
}

// RequiresFullCapability reports whether agent declares any tag that
// requires a full fileAccess+toolUse provider (spec.md §4.3's
// "capability-aware fallback" rule part (b)).
func (d Definition) RequiresFullCapability() bool {
	for _, tag := range d.CapabilityTags {
		switch tag {
		case "file-access", "shell-access":
			return true
		}
	}
	return false
}

// Role looks up a role definition by name, returning the zero value and
// false when the agent has no such role.
func (d Definition) Role(name string) (RoleDefinition, bool) {
	if d.Roles == nil {
		return RoleDefinition{}, false
	}
	r, ok := d.Roles[name]
	return r, ok
}
