// Package provider defines the uniform execution contract over the
// orchestrator's heterogeneous backend set (subprocess CLIs emitting
// line-delimited JSON, HTTP-based prompt-only APIs), per spec.md §4.4. The
// contract generalizes goa-ai's model.Client (Complete/Stream) into a single
// Execute call carrying a richer ExecutionContext, since provider adapters
// here also need working-directory, tool-use, and streaming-callback
// semantics that a plain chat-completion client does not.
package provider

import (
	"context"
	"time"

	"github.com/pmflow/orchestrator/internal/provider/errkind"
)

// Capabilities declares what an adapter supports (spec.md §3 ProviderInfo).
type Capabilities struct {
	FileAccess bool
	ShellAccess bool
	ToolUse    bool
	SubAgents  bool
}

// Info describes a registered adapter for PM-facing catalogues and for the
// agent runner's resolution/fallback logic.
type Info struct {
	ID                   string
	Name                 string
	Available            bool
	UnavailabilityReason string
	Models               []string
	Capabilities         Capabilities
}

// StreamEvent is a single unit of adapter progress surfaced to the caller's
// append-only log (spec.md §4.4 "emit streaming events").
type StreamEvent struct {
	Kind    string // "system_init" | "text" | "tool_use" | "result" | ...
	Text    string
	At      time.Time
}

// ExecutionContext carries everything an adapter needs to run one prompt
// against one model (spec.md §4.4).
type ExecutionContext struct {
	Prompt           string
	SystemPrompt     string
	Model            string
	WorkingDirectory string
	ProjectID        string
	SessionID        string
	EnableTools      bool
	Timeout          time.Duration
	OnStream         func(StreamEvent)
	MaxOutputTokens  int
}

// TokenUsage reports input/output token counts for cost accounting.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// ExecutionResult is the outcome of one adapter Execute call.
type ExecutionResult struct {
	Success    bool
	Output     string
	Error      string
	ErrorKind  errkind.Kind
	DurationMs int64
	Usage      *TokenUsage
}

// Adapter is the uniform contract every provider backend implements
// (spec.md §4.4's member table).
type Adapter interface {
	ID() string
	Name() string
	Capabilities() Capabilities
	Models() []string
	Detect(ctx context.Context) Info
	Execute(ctx context.Context, ec ExecutionContext) (ExecutionResult, error)
}

// Pricing describes the per-model cost used by cheapest-available selection.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// CapabilityTier is the explicit numeric rank used by best-available
// selection, since CLI-alias models are priced at zero and a cost-based
// ranking would be degenerate for them (spec.md §4.4).
type CapabilityTier int
