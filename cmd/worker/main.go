// Command worker is the detached process the front end (out of scope,
// spec.md §1) spawns per PipelineRun: it drives internal/loop's decision
// loop to completion against an in-memory checkpoint repository and
// whichever provider adapters its flags/environment make available, the
// way divinesense's cmd/divinesense/main.go wires one cobra root command
// over a viper-bound Config before starting its own long-running process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pmflow/orchestrator/internal/agentdef"
	"github.com/pmflow/orchestrator/internal/agentrun"
	"github.com/pmflow/orchestrator/internal/checkpoint"
	"github.com/pmflow/orchestrator/internal/checkpoint/inmem"
	"github.com/pmflow/orchestrator/internal/conflict"
	"github.com/pmflow/orchestrator/internal/config"
	"github.com/pmflow/orchestrator/internal/gate"
	"github.com/pmflow/orchestrator/internal/graph"
	"github.com/pmflow/orchestrator/internal/loop"
	meminmem "github.com/pmflow/orchestrator/internal/memory/inmem"
	"github.com/pmflow/orchestrator/internal/message"
	"github.com/pmflow/orchestrator/internal/pm"
	"github.com/pmflow/orchestrator/internal/provider"
	"github.com/pmflow/orchestrator/internal/provider/accountpool"
	"github.com/pmflow/orchestrator/internal/provider/anthropic"
	"github.com/pmflow/orchestrator/internal/provider/bedrock"
	"github.com/pmflow/orchestrator/internal/provider/cli"
	"github.com/pmflow/orchestrator/internal/provider/openai"
	"github.com/pmflow/orchestrator/internal/provider/ratelimit"
	"github.com/pmflow/orchestrator/internal/telemetry"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.AutomaticEnv()

	var agentDefsDir, skillsDir, workDir string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Drives one pipeline run's PM decision loop to completion",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			config.LoadDotenv()
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error {
			cfg := config.New(v)
			return runWorker(c.Context(), cfg, agentDefsDir, skillsDir, workDir)
		},
	}
	if err := config.BindFlags(cmd, v); err != nil {
		panic(err)
	}
	cmd.PersistentFlags().StringVar(&agentDefsDir, "agent-defs-dir", "", "directory of agent-definition YAML files (spec.md §6); overrides the built-in demo definitions by agent type")
	cmd.PersistentFlags().StringVar(&skillsDir, "skills-dir", "", "directory of skill markdown files available for pre-execution injection (spec.md §4.3)")
	cmd.PersistentFlags().StringVar(&workDir, "work-dir", "", "project working directory for agent executions (defaults under the gate directory)")
	return cmd
}

// runWorker wires every collaborator spec.md names as out-of-core (persistence,
// provider credentials, gate directory) and runs the loop to termination,
// the way divinesense's Run func builds its store/server pair before blocking
// on ctx.Done().
func runWorker(parent context.Context, cfg config.Config, agentDefsDir, skillsDir, workDir string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger := telemetry.NewSlogLogger(nil)
	metrics := telemetry.NoopMetrics{}

	if cfg.ProjectID == "" {
		cfg.ProjectID = uuid.NewString()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	gateDir := gate.Open(cfg.GateBaseDir, cfg.ProjectID)
	if err := gateDir.Ensure(); err != nil {
		return fmt.Errorf("worker: create gate directory: %w", err)
	}
	if err := gateDir.WritePID(os.Getpid()); err != nil {
		logger.Warn(ctx, "worker: failed to write pid file", "error", err.Error())
	}
	_ = gateDir.AppendLog(fmt.Sprintf("run %s starting for project %s: %s", cfg.RunID, cfg.ProjectID, cfg.Request))

	if workDir == "" {
		workDir = filepath.Join(gateDir.LiveLogPath()+"-workspace", cfg.RunID)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("worker: create working directory: %w", err)
	}

	repo := inmem.New()
	repo.Seed(checkpoint.Project{ID: cfg.ProjectID, Name: cfg.ProjectID})

	registry := buildRegistry(ctx, cfg, gateDir, logger)

	defs, err := loadDefinitions(agentDefsDir)
	if err != nil {
		return fmt.Errorf("worker: load agent definitions: %w", err)
	}

	memStore := meminmem.New()
	router := message.NewRouter(repoMessageSink{repo: repo}, agentTypes(defs))
	detector := conflict.NewDetector(func(ctx context.Context, f conflict.Finding) {
		logger.Warn(ctx, "conflict finding", "severity", int(f.Severity), "from", f.Message.From, "to", f.Message.To)
	})

	runner := agentrun.New(agentrun.Options{
		Registry:      registry,
		Definitions:   defs,
		Recorder:      repoRecorder{repo: repo, runID: cfg.RunID},
		Skills:        fileSkillSource{dir: skillsDir},
		Injector:      fileSkillInjector{},
		CostEstimator: pricingCostEstimator,
		Logger:        logger,
		Metrics:       metrics,
	})

	availableAgents := make([]pm.AvailableAgent, 0, len(defs))
	for _, d := range defs {
		roles := make([]string, 0, len(d.Roles))
		for name := range d.Roles {
			roles = append(roles, name)
		}
		availableAgents = append(availableAgents, pm.AvailableAgent{Name: d.DisplayName, Type: d.AgentType, Roles: roles})
	}

	opts := loop.Options{
		RunID:                  cfg.RunID,
		ProjectID:              cfg.ProjectID,
		Graph:                  graph.New(),
		Runner:                 runner,
		Repo:                   repo,
		Gate:                   gateDir,
		Router:                 router,
		Conflict:               detector,
		Memory:                 memStore,
		Personality:            memStore,
		Relationship:           memStore,
		Definitions:            defs,
		AvailableAgents:        availableAgents,
		PMAssignment:           agentrun.Assignment{AgentType: "pm"},
		PMSystemPrompt:         pmSystemPrompt,
		WorkingDirectory:       workDir,
		BudgetLimitUSD:         cfg.BudgetLimitUSD,
		BudgetWarningThreshold: cfg.BudgetWarningThreshold,
		MaxParallelTasks:       cfg.MaxParallelTasks,
		TaskExecutionTimeout:   cfg.TaskExecutionTimeout,
		HealthCheckInterval:    cfg.TaskHealthCheckInterval,
		StaleThreshold:         cfg.TaskStaleThreshold,
		DecisionCountCap:       cfg.DecisionCountCap,
		HeartbeatInterval:      cfg.HeartbeatInterval,
		Logger:                 logger,
		Metrics:                metrics,
	}

	if err := repo.CreatePipelineRun(ctx, checkpoint.PipelineRun{
		RunID:         cfg.RunID,
		ProjectID:     cfg.ProjectID,
		Request:       cfg.Request,
		Status:        checkpoint.StatusRunning,
		LastHeartbeat: time.Now(),
	}); err != nil {
		return fmt.Errorf("worker: create pipeline run: %w", err)
	}

	stopHeartbeat := startHeartbeat(ctx, repo, cfg.RunID, cfg.HeartbeatInterval, logger)
	defer stopHeartbeat()

	l := loop.New(opts)
	result, err := l.Run(ctx)
	if err != nil {
		logger.Error(ctx, "worker: loop exited with error", "error", err.Error())
	}
	_ = gateDir.AppendLog(fmt.Sprintf("run %s finished: status=%s decisions=%d cost=$%.4f summary=%s",
		cfg.RunID, result.Status, result.DecisionCount, result.TotalCostUSD, result.Summary))
	fmt.Printf("status=%s decisions=%d cost=$%.4f summary=%s\n", result.Status, result.DecisionCount, result.TotalCostUSD, result.Summary)

	if result.Status != checkpoint.StatusCompleted {
		return fmt.Errorf("worker: run ended with status %s: %s", result.Status, result.Summary)
	}
	return nil
}

// startHeartbeat ticks on HeartbeatInterval independently of the loop's own
// per-decision checkpoint, so a PM call that runs long still keeps the
// front end's staleness detector satisfied (spec.md §5 "Heartbeat").
func startHeartbeat(ctx context.Context, repo checkpoint.Repository, runID string, interval time.Duration, logger telemetry.Logger) func() {
	if interval <= 0 {
		interval = config.DefaultHeartbeatInterval
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				now := time.Now()
				if err := repo.UpdatePipelineRun(ctx, runID, checkpoint.Fields{LastHeartbeat: &now}); err != nil {
					logger.Warn(ctx, "worker: heartbeat update failed", "error", err.Error())
				}
			}
		}
	}()
	return func() { close(stop) }
}

// pricingCostEstimator prices attempts from the same per-model table used
// to register ModelCost entries below; spec.md §1 scopes cost pricing
// tables themselves out of the core, so this is deliberately a small,
// adjustable default rather than a real billing integration.
func pricingCostEstimator(providerID, model string, usage provider.TokenUsage) float64 {
	p, ok := pricingTable[providerID]
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)/1_000_000*p.InputPer1M + float64(usage.OutputTokens)/1_000_000*p.OutputPer1M
}

var pricingTable = map[string]provider.Pricing{
	"anthropic": {InputPer1M: 3.0, OutputPer1M: 15.0},
	"openai":    {InputPer1M: 2.5, OutputPer1M: 10.0},
	"bedrock":   {InputPer1M: 3.0, OutputPer1M: 15.0},
	// claude-cli is a zero-cost alias model (spec.md §4.4's "CLI alias
	// models are priced at zero and cost-based ranking would be degenerate").
}

// buildRegistry registers every provider adapter this process has
// credentials for (spec.md §4.4's detect-at-registration idiom); the
// subprocess CLI adapter is always registered since it needs no API key.
func buildRegistry(ctx context.Context, cfg config.Config, gateDir gate.Dir, logger telemetry.Logger) *provider.Registry {
	registry := provider.NewRegistry()

	cliAdapter := cli.New(cli.Options{
		ID:        "claude-cli",
		Name:      "Claude CLI",
		Binary:    cfg.ClaudeCLIBinary,
		Models:    []string{"claude-cli-default"},
		AbortPoll: cfg.AbortPollInterval,
		KillGrace: cfg.KillGrace,
		AbortChecker: func(string) bool {
			return gateDir.IsAborted()
		},
	})
	_ = registry.Register(cliAdapter, provider.ModelCost{AdapterID: "claude-cli", Model: "claude-cli-default", Tier: 3})

	anthropicKey := cfg.AnthropicAPIKey
	if cfg.RedisAddr != "" && anthropicKey != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pool := accountpool.New(rdb, "accountpool:anthropic")
		if acct, err := pool.Next(ctx); err == nil && acct.Token != "" {
			anthropicKey = acct.Token
		} else if err != nil && err != accountpool.ErrNoAccountsAvailable {
			logger.Warn(ctx, "worker: account pool lookup failed, using static key", "error", err.Error())
		}
	}
	if anthropicKey != "" {
		if adapter, err := anthropic.NewFromAPIKey(anthropicKey, anthropic.Options{
			DefaultModel: "claude-opus-4-20250514",
			HighModel:    "claude-opus-4-20250514",
			SmallModel:   "claude-3-5-haiku-20241022",
			MaxTokens:    4096,
		}); err != nil {
			logger.Warn(ctx, "worker: anthropic adapter disabled", "error", err.Error())
		} else {
			limited := ratelimit.New(60_000, 180_000).Wrap(adapter)
			_ = registry.Register(limited, provider.ModelCost{AdapterID: "anthropic", Model: "claude-opus-4-20250514", Pricing: pricingTable["anthropic"], Tier: 2})
		}
	}

	if cfg.OpenAIAPIKey != "" {
		if adapter, err := openai.NewFromAPIKey(cfg.OpenAIAPIKey, "gpt-4o"); err != nil {
			logger.Warn(ctx, "worker: openai adapter disabled", "error", err.Error())
		} else {
			limited := ratelimit.New(60_000, 180_000).Wrap(adapter)
			_ = registry.Register(limited, provider.ModelCost{AdapterID: "openai", Model: "gpt-4o", Pricing: pricingTable["openai"], Tier: 1})
		}
	}

	if cfg.AWSRegion != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Warn(ctx, "worker: bedrock adapter disabled", "error", err.Error())
		} else {
			runtime := bedrockruntime.NewFromConfig(awsCfg)
			if adapter, err := bedrock.New(runtime, bedrock.Options{DefaultModel: "anthropic.claude-3-5-sonnet-20241022-v2:0"}); err != nil {
				logger.Warn(ctx, "worker: bedrock adapter disabled", "error", err.Error())
			} else {
				_ = registry.Register(adapter, provider.ModelCost{AdapterID: "bedrock", Model: "anthropic.claude-3-5-sonnet-20241022-v2:0", Pricing: pricingTable["bedrock"], Tier: 2})
			}
		}
	}

	return registry
}

// loadDefinitions merges the built-in demo agent catalogue with any YAML
// definitions found under dir, which take precedence by agent type.
func loadDefinitions(dir string) (map[string]agentdef.Definition, error) {
	defs := builtinDefinitions()
	if dir == "" {
		return defs, nil
	}
	loaded, err := agentdef.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for agentType, d := range loaded {
		defs[agentType] = d
	}
	return defs, nil
}

// builtinDefinitions gives a fresh checkout a working agent catalogue
// without requiring an --agent-defs-dir (spec.md §6 scopes the on-disk
// format out, not the need for some definition to exist).
func builtinDefinitions() map[string]agentdef.Definition {
	return map[string]agentdef.Definition{
		"pm": {
			AgentType:       "pm",
			DisplayName:     "Project Manager",
			Description:     "Drives the task graph: decomposes requests, assigns work, resolves conflicts.",
			CapabilityTags:  []string{"file-access", "shell-access"},
			DefaultProvider: "claude-cli",
			DefaultModel:    "claude-cli-default",
			EventTypeLabel:  "pm_decision",
		},
		"engineer": {
			AgentType:       "engineer",
			DisplayName:     "Engineer",
			Description:     "Implements tasks requiring file and shell access.",
			CapabilityTags:  []string{"file-access", "shell-access"},
			DefaultProvider: "claude-cli",
			DefaultModel:    "claude-cli-default",
			EventTypeLabel:  "engineer_output",
			Roles: map[string]agentdef.RoleDefinition{
				"implementer": {Name: "implementer", SystemPrompt: "Implement the assigned task end to end."},
			},
		},
		"reviewer": {
			AgentType:       "reviewer",
			DisplayName:     "Reviewer",
			Description:     "Evaluates completed work; prompt-only, no file or shell access required.",
			CapabilityTags:  nil,
			DefaultProvider: "anthropic",
			DefaultModel:    "claude-opus-4-20250514",
			EventTypeLabel:  "review_output",
			Roles: map[string]agentdef.RoleDefinition{
				"critic": {Name: "critic", SystemPrompt: "Review the output for correctness and completeness.", EvaluatesOutput: true},
			},
		},
	}
}

func agentTypes(defs map[string]agentdef.Definition) []string {
	out := make([]string, 0, len(defs))
	for t := range defs {
		out = append(out, t)
	}
	return out
}

const pmSystemPrompt = `You are the Project Manager for a multi-agent software engineering pipeline. ` +
	`You receive a trigger and the current task graph and must respond with exactly one ` +
	`[PM_DECISION] envelope describing your next actions.`

// repoRecorder adapts checkpoint.Repository to agentrun.Recorder. AttemptRecord
// carries no RunID of its own (internal/checkpoint stays a leaf dependency of
// internal/agentrun), so the recorder closes over the run it was built for.
type repoRecorder struct {
	repo  checkpoint.Repository
	runID string
}

func (r repoRecorder) RecordAttempt(ctx context.Context, rec agentrun.AttemptRecord) error {
	return r.repo.CreateAgentRun(ctx, checkpoint.AgentRunRow{
		RunID:        r.runID,
		TaskID:       rec.TaskID,
		AgentType:    rec.AgentType,
		Role:         rec.Role,
		Provider:     rec.Provider,
		Model:        rec.Model,
		Attempt:      rec.Attempt,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		Success:      rec.Success,
		Error:        rec.Error,
		ErrorKind:    string(rec.ErrorKind),
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		CostUSD:      rec.CostUSD,
		Input:        rec.Input,
		Output:       rec.Output,
	})
}

// repoMessageSink adapts checkpoint.Repository to message.Sink.
type repoMessageSink struct {
	repo checkpoint.Repository
}

func (s repoMessageSink) CreateAgentMessage(ctx context.Context, msg message.Delivered) error {
	return s.repo.CreateAgentMessage(ctx, checkpoint.AgentMessageRow{
		RunID:   msg.RunID,
		From:    msg.From,
		To:      msg.To,
		Type:    msg.Type,
		Message: msg.Message,
		At:      time.Now(),
	})
}

// fileSkillSource reads skill markdown files named "<name>.md" from dir.
type fileSkillSource struct {
	dir string
}

func (f fileSkillSource) SkillContent(name string) (string, bool) {
	if f.dir == "" {
		return "", false
	}
	raw, err := os.ReadFile(filepath.Join(f.dir, name+".md"))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// fileSkillInjector copies skill content into
// <workingDir>/.claude/skills/<name>/SKILL.md, clearing existing contents
// first (spec.md §4.3 "Pre-execution").
type fileSkillInjector struct{}

func (fileSkillInjector) InjectSkills(workingDir string, skills map[string]string) error {
	root := filepath.Join(workingDir, ".claude", "skills")
	if err := os.RemoveAll(root); err != nil {
		return err
	}
	for name, content := range skills {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
