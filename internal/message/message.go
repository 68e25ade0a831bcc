// Package message implements the inter-agent message envelope described in
// spec.md §6: extraction, validation, routing, and stripping of
// `[AGENT_MESSAGE]{...}[/AGENT_MESSAGE]` blocks embedded in agent output.
// The publish/subscribe shape of the router is grounded on the teacher's
// hooks.Bus (agents/runtime/hooks/hooks.go): a small in-process event bus
// decoupling producers (agent runs) from consumers (inboxes, persistence),
// generalized here from lifecycle events to addressed agent-to-agent notes.
package message

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Envelope is one parsed inter-agent message.
type Envelope struct {
	To      string `json:"to"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

var envelopePattern = regexp.MustCompile(`(?s)\[AGENT_MESSAGE\](.*?)\[/AGENT_MESSAGE\]`)

// validTypes is spec.md §4.7's closed enum for an envelope's "type" field.
var validTypes = map[string]bool{
	"question":   true,
	"flag":       true,
	"suggestion": true,
	"handoff":    true,
	"response":   true,
	"challenge":  true,
	"counter":    true,
	"concede":    true,
	"escalate":   true,
	"moderate":   true,
}

// Extract finds every AGENT_MESSAGE block in text, parses it as an Envelope,
// and returns the text with all recognized blocks removed (spec.md §6
// permits multiple blocks per output). Blocks that fail to parse as JSON are
// left in place in stripped and omitted from the returned envelopes, so a
// malformed block does not silently vanish from the agent's output.
func Extract(text string) (envelopes []Envelope, stripped string) {
	stripped = envelopePattern.ReplaceAllStringFunc(text, func(block string) string {
		inner := envelopePattern.FindStringSubmatch(block)[1]
		var env Envelope
		if err := json.Unmarshal([]byte(inner), &env); err != nil {
			return block
		}
		envelopes = append(envelopes, env)
		return ""
	})
	return envelopes, strings.TrimSpace(collapseBlankLines(stripped))
}

// Validate reports whether env is well-formed: non-empty To/Type/Message,
// and — when knownAgentTypes is non-empty — To names a known agent type.
func Validate(env Envelope, knownAgentTypes []string) error {
	if strings.TrimSpace(env.To) == "" {
		return fmt.Errorf("message: envelope missing \"to\"")
	}
	if strings.TrimSpace(env.Type) == "" {
		return fmt.Errorf("message: envelope missing \"type\"")
	}
	if !validTypes[env.Type] {
		return fmt.Errorf("message: unrecognized envelope type %q", env.Type)
	}
	if strings.TrimSpace(env.Message) == "" {
		return fmt.Errorf("message: envelope missing \"message\"")
	}
	if len(knownAgentTypes) == 0 {
		return nil
	}
	for _, t := range knownAgentTypes {
		if t == env.To {
			return nil
		}
	}
	return fmt.Errorf("message: unknown recipient agent type %q", env.To)
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
