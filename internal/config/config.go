// Package config loads the worker's configuration the way
// 88lin-divinesense's cmd/divinesense/main.go does: a .env file (best
// effort, ignored if absent) layered under process flags/env via viper,
// since the teacher itself (goa-ai) has no config-loading layer of its own
// to imitate (spec.md's ambient-stack expansion, SPEC_FULL.md §1).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Defaults mirror spec.md §5's named constants so a fresh checkout runs
// with sane values before any flag/env override is applied.
const (
	DefaultMaxParallelTasks        = 3
	DefaultTaskExecutionTimeout    = 30 * time.Minute
	DefaultTaskHealthCheckInterval = 30 * time.Second
	DefaultTaskStaleThreshold      = 5 * time.Minute
	DefaultAbortPollInterval       = 3 * time.Second
	DefaultKillGrace               = 2 * time.Second
	DefaultBudgetLimitUSD          = 10.0
	DefaultBudgetWarningThreshold  = 0.8
	DefaultHeartbeatInterval       = 15 * time.Second
	DefaultDecisionCountCap        = 200
)

// Config is the resolved worker configuration (spec.md §5 constants plus
// process wiring: gate directory root, app name, project/run identity).
type Config struct {
	AppName      string
	GateBaseDir  string
	ProjectID    string
	RunID        string
	Request      string

	MaxParallelTasks        int
	TaskExecutionTimeout    time.Duration
	TaskHealthCheckInterval time.Duration
	TaskStaleThreshold      time.Duration
	AbortPollInterval       time.Duration
	KillGrace               time.Duration
	BudgetLimitUSD          float64
	BudgetWarningThreshold  float64
	HeartbeatInterval       time.Duration
	DecisionCountCap        int

	AnthropicAPIKey string
	OpenAIAPIKey    string
	AWSRegion       string
	RedisAddr       string

	ClaudeCLIBinary string
}

// BindFlags registers the worker's persistent flags on cmd and binds each
// to the matching viper key, following divinesense's
// PersistentFlags+BindPFlag pairing.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()
	flags.String("app-name", "pmflow-orchestrator", "application name, used as the gate directory's top-level segment")
	flags.String("gate-dir", "", "base directory for cross-process gate files (defaults to os.TempDir()/<app-name>)")
	flags.String("project-id", "", "project identifier for this run")
	flags.String("run-id", "", "opaque external run identifier")
	flags.String("request", "", "user-visible request string for a fresh run")
	flags.Int("max-parallel-tasks", DefaultMaxParallelTasks, "maximum concurrently in-flight agent executions")
	flags.Duration("task-timeout", DefaultTaskExecutionTimeout, "per-task execution deadline")
	flags.Duration("health-check-interval", DefaultTaskHealthCheckInterval, "health-checked wait ticker interval")
	flags.Duration("stale-threshold", DefaultTaskStaleThreshold, "log-inactivity duration before a running task is declared stale")
	flags.Float64("budget-limit-usd", DefaultBudgetLimitUSD, "cumulative cost ceiling before the run is aborted")
	flags.Float64("budget-warning-threshold", DefaultBudgetWarningThreshold, "fraction of budget-limit-usd at which a budget_warning trigger is armed")
	flags.Duration("heartbeat-interval", DefaultHeartbeatInterval, "pipeline-run heartbeat update cadence")
	flags.Int("decision-count-cap", DefaultDecisionCountCap, "hard cap on PM decisions per run, to prevent runaway loops")
	flags.String("claude-cli-binary", "claude", "path to the subprocess CLI provider's binary")
	flags.String("aws-region", "", "AWS region for the Bedrock provider adapter")
	flags.String("redis-addr", "", "redis address backing the OAuth account pool's cross-restart cooldown state")

	for _, name := range []string{
		"app-name", "gate-dir", "project-id", "run-id", "request",
		"max-parallel-tasks", "task-timeout", "health-check-interval", "stale-threshold",
		"budget-limit-usd", "budget-warning-threshold", "heartbeat-interval", "decision-count-cap",
		"claude-cli-binary", "aws-region", "redis-addr",
	} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return fmt.Errorf("config: bind flag %q: %w", name, err)
		}
	}
	for _, env := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY"} {
		if err := v.BindEnv(env); err != nil {
			return fmt.Errorf("config: bind env %q: %w", env, err)
		}
	}
	return nil
}

// LoadDotenv loads a .env file from the current directory, if present,
// exactly like divinesense's PersistentPreRunE ("ignore error if file
// doesn't exist").
func LoadDotenv() {
	_ = godotenv.Load()
}

// New resolves a Config from v, which must already have flags bound via
// BindFlags and AutomaticEnv enabled by the caller.
func New(v *viper.Viper) Config {
	appName := v.GetString("app-name")
	gateDir := v.GetString("gate-dir")
	if gateDir == "" {
		gateDir = defaultGateDir(appName)
	}
	return Config{
		AppName:     appName,
		GateBaseDir: gateDir,
		ProjectID:   v.GetString("project-id"),
		RunID:       v.GetString("run-id"),
		Request:     v.GetString("request"),

		MaxParallelTasks:        v.GetInt("max-parallel-tasks"),
		TaskExecutionTimeout:    v.GetDuration("task-timeout"),
		TaskHealthCheckInterval: v.GetDuration("health-check-interval"),
		TaskStaleThreshold:      v.GetDuration("stale-threshold"),
		AbortPollInterval:       DefaultAbortPollInterval,
		KillGrace:               DefaultKillGrace,
		BudgetLimitUSD:          v.GetFloat64("budget-limit-usd"),
		BudgetWarningThreshold:  v.GetFloat64("budget-warning-threshold"),
		HeartbeatInterval:       v.GetDuration("heartbeat-interval"),
		DecisionCountCap:        v.GetInt("decision-count-cap"),

		AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
		AWSRegion:       v.GetString("aws-region"),
		RedisAddr:       v.GetString("redis-addr"),

		ClaudeCLIBinary: v.GetString("claude-cli-binary"),
	}
}

func defaultGateDir(appName string) string {
	return fmt.Sprintf("%s/%s", os.TempDir(), appName)
}
