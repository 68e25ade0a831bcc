package agentdef

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileFormat mirrors Definition but with YAML-friendly field names; kept
// separate from Definition so the exported type has no yaml struct tags.
type fileFormat struct {
	AgentType         string                    `yaml:"agent_type"`
	DisplayName       string                    `yaml:"display_name"`
	Description       string                    `yaml:"description"`
	CapabilityTags    []string                  `yaml:"capability_tags"`
	DefaultProvider   string                    `yaml:"default_provider"`
	DefaultModel      string                    `yaml:"default_model"`
	DefaultSkillHints []string                  `yaml:"default_skill_hints"`
	EventTypeLabel    string                    `yaml:"event_type_label"`
	Roles             map[string]roleFileFormat `yaml:"roles"`
}

type roleFileFormat struct {
	SystemPrompt        string `yaml:"system_prompt"`
	ProviderOverride    string `yaml:"provider_override"`
	ModelOverride       string `yaml:"model_override"`
	ReceivesPlanContext bool   `yaml:"receives_plan_context"`
	ProducesPassFail    bool   `yaml:"produces_pass_fail"`
	EvaluatesOutput     bool   `yaml:"evaluates_output"`
}

// LoadFile parses a single agent-definition YAML file.
func LoadFile(path string) (Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("agentdef: read %s: %w", path, err)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(raw, &ff); err != nil {
		return Definition{}, fmt.Errorf("agentdef: parse %s: %w", path, err)
	}
	return ff.toDefinition(), nil
}

// LoadDir loads every *.yaml/*.yml file in dir as an agent definition,
// keyed by AgentType.
func LoadDir(dir string) (map[string]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("agentdef: read dir %s: %w", dir, err)
	}
	defs := make(map[string]Definition, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		def, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if def.AgentType == "" {
			return nil, fmt.Errorf("agentdef: %s is missing agent_type", e.Name())
		}
		defs[def.AgentType] = def
	}
	return defs, nil
}

func (ff fileFormat) toDefinition() Definition {
	def := Definition{
		AgentType:         ff.AgentType,
		DisplayName:       ff.DisplayName,
		Description:       ff.Description,
		CapabilityTags:    ff.CapabilityTags,
		DefaultProvider:   ff.DefaultProvider,
		DefaultModel:      ff.DefaultModel,
		DefaultSkillHints: ff.DefaultSkillHints,
		EventTypeLabel:    ff.EventTypeLabel,
	}
	if len(ff.Roles) > 0 {
		def.Roles = make(map[string]RoleDefinition, len(ff.Roles))
		for name, r := range ff.Roles {
			def.Roles[name] = RoleDefinition{
				Name:                name,
				SystemPrompt:        r.SystemPrompt,
				ProviderOverride:    r.ProviderOverride,
				ModelOverride:       r.ModelOverride,
				ReceivesPlanContext: r.ReceivesPlanContext,
				ProducesPassFail:    r.ProducesPassFail,
				EvaluatesOutput:     r.EvaluatesOutput,
			}
		}
	}
	return def
}
