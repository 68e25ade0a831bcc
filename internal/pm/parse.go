package pm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopePattern matches the strict [PM_DECISION] ... [/PM_DECISION] output
// contract from spec.md §6.
var envelopePattern = regexp.MustCompile(`(?s)\[PM_DECISION\](.*?)\[/PM_DECISION\]`)

// fencePattern strips a Markdown code fence (```json ... ``` or ``` ... ```)
// that sometimes wraps an otherwise-bare decision payload.
var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

var compiledSchema = mustCompileSchema()

// mustCompileSchema compiles the embedded decision schema once at package
// init, grounded on registry/service.go's validatePayloadJSONAgainstSchema
// compile-then-validate pattern (plain json.Unmarshal into `any`, then
// jsonschema.NewCompiler/AddResource/Compile).
func mustCompileSchema() *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("pm: invalid embedded schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	const resourceName = "pm-decision.json"
	if err := c.AddResource(resourceName, doc); err != nil {
		panic(fmt.Sprintf("pm: failed to register schema: %v", err))
	}
	sch, err := c.Compile(resourceName)
	if err != nil {
		panic(fmt.Sprintf("pm: failed to compile schema: %v", err))
	}
	return sch
}

// Parse implements spec.md §4.6/§9's tolerant two-stage parser: the strict
// [PM_DECISION]...[/PM_DECISION] envelope is tried first; when no envelope
// is found (or its body fails to parse), a looser heuristic strips Markdown
// fences and takes the first balanced {...} block; a bare [...] array is not
// extracted. A Decision that
// parses as JSON but fails schema validation is also treated as a parse
// failure, per §7's "Parser error" row, so the loop can fall back to
// auto-executing ready tasks for the cycle.
func Parse(raw string) (Decision, error) {
	if m := envelopePattern.FindStringSubmatch(raw); m != nil {
		if d, err := decodeAndValidate(m[1]); err == nil {
			return d, nil
		}
	}
	return parseLoose(raw)
}

// parseLoose implements the fallback heuristic: strip Markdown fences, then
// take the first balanced {...} block.
func parseLoose(raw string) (Decision, error) {
	body := raw
	if m := fencePattern.FindStringSubmatch(body); m != nil {
		body = m[1]
	}
	block, err := firstBalancedObject(body)
	if err != nil {
		return Decision{}, fmt.Errorf("pm: no decision envelope or JSON object found: %w", err)
	}
	return decodeAndValidate(block)
}

// firstBalancedObject scans s for the first balanced {...} span, respecting
// string literals so braces inside quoted text do not confuse the scan.
func firstBalancedObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no opening brace found")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("no balanced closing brace found")
}

func decodeAndValidate(body string) (Decision, error) {
	var raw any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Decision{}, fmt.Errorf("pm: invalid JSON: %w", err)
	}
	if err := compiledSchema.Validate(raw); err != nil {
		return Decision{}, fmt.Errorf("pm: schema validation failed: %w", err)
	}
	var d Decision
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return Decision{}, fmt.Errorf("pm: decode failed after schema validation: %w", err)
	}
	return d, nil
}

// Render renders d back into the strict [PM_DECISION] envelope, the inverse
// used by the round-trip law in spec.md §8 ("parse(render(d)) = d" for
// canonical decisions).
func Render(d Decision) (string, error) {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.WriteString("[PM_DECISION]\n")
	buf.Write(raw)
	buf.WriteString("\n[/PM_DECISION]")
	return buf.String(), nil
}
