// Package agentrun executes one agent-role assignment exactly once as a
// PM-decided atomic unit, performing provider resolution, capability-aware
// fallback, and bounded retries internally (spec.md §4.3). The resolution
// chain is grounded in the teacher's policy.Engine/CapsState allowlist-and-
// budget pattern (agents/runtime/policy/policy.go), generalized from "which
// tools may this turn use" to "which provider/model may this attempt use".
package agentrun

import (
	"context"
	"strings"
	"time"

	"github.com/pmflow/orchestrator/internal/agentdef"
	"github.com/pmflow/orchestrator/internal/provider"
	"github.com/pmflow/orchestrator/internal/provider/errkind"
	"github.com/pmflow/orchestrator/internal/telemetry"
)

const (
	maxAttempts      = 3
	firstBackoff     = 2 * time.Second
	maxInputChars    = 10_000
	maxOutputChars   = 50_000
)

// AttemptRecord is one persisted AgentRun row (spec.md §4.3 "per-attempt
// persistence").
type AttemptRecord struct {
	TaskID       string
	AgentType    string
	Role         string
	Provider     string
	Model        string
	Attempt      int
	StartedAt    time.Time
	FinishedAt   time.Time
	Success      bool
	Error        string
	ErrorKind    errkind.Kind
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Input        string // truncated to maxInputChars
	Output       string // truncated to maxOutputChars
}

// Recorder persists one AttemptRecord per execution attempt. Concrete
// implementations live behind internal/checkpoint.Repository.
type Recorder interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
}

// SkillSource resolves skill markdown content by name for pre-execution
// injection into file-access providers' working directories.
type SkillSource interface {
	SkillContent(name string) (content string, ok bool)
}

// SkillInjector copies skill content into a project working directory
// before a file-access execution (spec.md §4.3 "inject a set of Skill
// markdown files"). Implemented by a filesystem shim in cmd/worker; kept
// as an interface so the runner never touches the filesystem directly.
type SkillInjector interface {
	InjectSkills(workingDir string, skills map[string]string) error
}

// CostEstimator prices one attempt's token usage. Pricing tables are out of
// scope (spec.md §1); callers supply their own.
type CostEstimator func(providerID, model string, usage provider.TokenUsage) float64

// Options configures a Runner.
type Options struct {
	Registry         *provider.Registry
	Definitions      map[string]agentdef.Definition
	ProjectOverrides []ProjectOverride
	Recorder         Recorder
	Skills           SkillSource
	Injector         SkillInjector
	CostEstimator    CostEstimator
	Logger           telemetry.Logger
	Metrics          telemetry.Metrics
	// Sleep is the backoff primitive; overridable in tests.
	Sleep func(time.Duration)
}

// Runner executes single agent-role assignments per spec.md §4.3.
type Runner struct {
	opts Options
}

// New constructs a Runner.
func New(opts Options) *Runner {
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.CostEstimator == nil {
		opts.CostEstimator = func(string, string, provider.TokenUsage) float64 { return 0 }
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NoopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NoopMetrics{}
	}
	return &Runner{opts: opts}
}

// Request is one agent-role assignment to run.
type Request struct {
	TaskID           string
	Assignment       Assignment
	Prompt           string
	SystemPrompt     string
	WorkingDirectory string
	ProjectID        string
	SessionID        string
	Timeout          time.Duration
	MaxOutputTokens  int
	OnStream         func(provider.StreamEvent)
}

// Outcome is the final result of Run after all attempts.
type Outcome struct {
	Success      bool
	Output       string
	Error        string
	ErrorKind    errkind.Kind
	Attempts     []AttemptRecord
	TotalCostUSD float64
}

// Run executes req to completion, performing retries and cross-provider
// fallback per spec.md §4.3's three-attempt contract.
func (r *Runner) Run(ctx context.Context, req Request) (Outcome, error) {
	if err := guardWorkingDirectory(req.WorkingDirectory); err != nil {
		return Outcome{}, err
	}

	def := r.opts.Definitions[req.Assignment.AgentType]
	res := resolveProviderModel(r.opts.ProjectOverrides, req.Assignment, def)

	adapterID, model, err := r.initialCandidate(ctx, res, def)
	if err != nil {
		return Outcome{}, err
	}

	var outcome Outcome
	switched := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		adapter, ok := r.opts.Registry.GetAdapter(adapterID)
		if !ok {
			return Outcome{}, ErrNoProviderAvailable
		}

		rec := AttemptRecord{
			TaskID:    req.TaskID,
			AgentType: req.Assignment.AgentType,
			Role:      req.Assignment.Role,
			Provider:  adapterID,
			Model:     model,
			Attempt:   attempt,
			StartedAt: time.Now(),
			Input:     truncate(req.Prompt, maxInputChars),
		}

		ec := r.buildExecutionContext(req, adapter, model)
		result, execErr := adapter.Execute(ctx, ec)
		rec.FinishedAt = time.Now()
		if execErr != nil {
			result = provider.ExecutionResult{Success: false, Error: execErr.Error(), ErrorKind: errkind.Classify(execErr.Error())}
		}

		rec.Success = result.Success
		rec.Error = result.Error
		rec.ErrorKind = result.ErrorKind
		rec.Output = truncate(result.Output, maxOutputChars)
		if result.Usage != nil {
			rec.InputTokens = result.Usage.InputTokens
			rec.OutputTokens = result.Usage.OutputTokens
			rec.CostUSD = r.opts.CostEstimator(adapterID, model, *result.Usage)
		}
		outcome.TotalCostUSD += rec.CostUSD
		outcome.Attempts = append(outcome.Attempts, rec)

		if r.opts.Recorder != nil {
			if err := r.opts.Recorder.RecordAttempt(ctx, rec); err != nil {
				r.opts.Logger.Warn(ctx, "agentrun: failed to persist attempt", "task_id", req.TaskID, "error", err.Error())
			}
		}

		if result.Success {
			outcome.Success = true
			outcome.Output = result.Output
			r.opts.Metrics.IncCounter("agentrun.attempt.success", 1, "provider", adapterID)
			return outcome, nil
		}

		r.opts.Metrics.IncCounter("agentrun.attempt.failure", 1, "provider", adapterID, "kind", string(result.ErrorKind))

		if result.ErrorKind == errkind.Permanent {
			outcome.Error = result.Error
			outcome.ErrorKind = result.ErrorKind
			return outcome, nil
		}

		if attempt == maxAttempts {
			outcome.Error = result.Error
			outcome.ErrorKind = result.ErrorKind
			return outcome, nil
		}

		if attempt == 1 {
			r.opts.Sleep(firstBackoff)
			continue
		}

		// attempt == 2: only a classified Transient failure triggers a
		// cross-provider switch — Unclassified is retried but never causes
		// a provider switch (spec.md §4.3).
		if !switched && result.ErrorKind == errkind.Transient {
			if nextID, nextModel, ok := r.fallbackCandidate(ctx, adapterID, def); ok {
				adapterID, model = nextID, nextModel
				switched = true
			}
		}
	}

	return outcome, nil
}

func (r *Runner) buildExecutionContext(req Request, adapter provider.Adapter, model string) provider.ExecutionContext {
	prompt := req.Prompt
	if adapter.Capabilities().FileAccess && r.opts.Skills != nil && r.opts.Injector != nil {
		prompt = r.injectSkills(req, prompt)
	}
	return provider.ExecutionContext{
		Prompt:           prompt,
		SystemPrompt:     req.SystemPrompt,
		Model:            model,
		WorkingDirectory: req.WorkingDirectory,
		ProjectID:        req.ProjectID,
		SessionID:        req.SessionID,
		EnableTools:      adapter.Capabilities().ToolUse,
		Timeout:          req.Timeout,
		OnStream:         req.OnStream,
		MaxOutputTokens:  req.MaxOutputTokens,
	}
}

func (r *Runner) injectSkills(req Request, prompt string) string {
	def := r.opts.Definitions[req.Assignment.AgentType]
	names := def.DefaultSkillHints
	if len(names) == 0 {
		return prompt
	}
	content := make(map[string]string, len(names))
	var active []string
	for _, name := range names {
		if c, ok := r.opts.Skills.SkillContent(name); ok {
			content[name] = c
			active = append(active, name)
		}
	}
	if len(content) == 0 {
		return prompt
	}
	if err := r.opts.Injector.InjectSkills(req.WorkingDirectory, content); err != nil {
		r.opts.Logger.Warn(context.Background(), "agentrun: skill injection failed", "error", err.Error())
		return prompt
	}
	return "Active skills: " + strings.Join(active, ", ") + "\n\n" + prompt
}

// initialCandidate picks the attempt-1 adapter/model: the resolution chain's
// answer if it names an available, acceptable provider; otherwise the
// registry's best-available acceptable candidate.
func (r *Runner) initialCandidate(ctx context.Context, res resolution, def agentdef.Definition) (string, string, error) {
	acceptable := r.acceptable(def)

	if res.Provider != "" {
		if info := r.infoFor(ctx, res.Provider); info != nil && info.Available && acceptable(*info) {
			model := res.Model
			if model == "" {
				model = firstOrEmpty(info.Models)
			}
			return res.Provider, model, nil
		}
	}
	if res.Model != "" {
		if adapter, ok := r.opts.Registry.AdapterForModel(res.Model); ok {
			info := adapter.Detect(ctx)
			if info.Available && acceptable(info) {
				return adapter.ID(), res.Model, nil
			}
		}
	}

	if best, ok := r.opts.Registry.BestAvailable(ctx, acceptable); ok {
		return best.AdapterID, best.Model, nil
	}
	return "", "", ErrNoProviderAvailable
}

func (r *Runner) fallbackCandidate(ctx context.Context, exclude string, def agentdef.Definition) (string, string, bool) {
	acceptable := r.acceptable(def)
	for _, info := range r.opts.Registry.GetAvailableProviders(ctx, false) {
		if info.ID == exclude || !info.Available || !acceptable(info) {
			continue
		}
		return info.ID, firstOrEmpty(info.Models), true
	}
	return "", "", false
}

// acceptable implements spec.md §4.3's capability-aware fallback rule: a
// provider is acceptable iff it exposes both fileAccess and toolUse, or the
// agent declares none of the full-capability tags.
func (r *Runner) acceptable(def agentdef.Definition) func(provider.Info) bool {
	requiresFull := def.RequiresFullCapability()
	return func(info provider.Info) bool {
		if info.Capabilities.FileAccess && info.Capabilities.ToolUse {
			return true
		}
		return !requiresFull
	}
}

func (r *Runner) infoFor(ctx context.Context, adapterID string) *provider.Info {
	adapter, ok := r.opts.Registry.GetAdapter(adapterID)
	if !ok {
		return nil
	}
	info := adapter.Detect(ctx)
	return &info
}

func firstOrEmpty(models []string) string {
	if len(models) == 0 {
		return ""
	}
	return models[0]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
