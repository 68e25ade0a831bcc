package loop

import (
	"time"

	"github.com/pmflow/orchestrator/internal/agentdef"
	"github.com/pmflow/orchestrator/internal/agentrun"
	"github.com/pmflow/orchestrator/internal/checkpoint"
	"github.com/pmflow/orchestrator/internal/conflict"
	"github.com/pmflow/orchestrator/internal/gate"
	"github.com/pmflow/orchestrator/internal/graph"
	"github.com/pmflow/orchestrator/internal/memory"
	"github.com/pmflow/orchestrator/internal/message"
	"github.com/pmflow/orchestrator/internal/pm"
	"github.com/pmflow/orchestrator/internal/telemetry"
)

// Defaults mirror spec.md §5's named constants.
const (
	DefaultMaxParallelTasks       = 3
	DefaultTaskExecutionTimeout   = 30 * time.Minute
	DefaultHealthCheckInterval    = 30 * time.Second
	DefaultStaleThreshold         = 5 * time.Minute
	DefaultDecisionCountCap       = 200
	DefaultBudgetWarningThreshold = 0.8
)

// Resume carries the interrupted/failed id lists for a pipeline_resumed
// entry trigger (spec.md §4.1's "used only on entry when an override is
// supplied").
type Resume struct {
	InterruptedIDs []string
	FailedIDs      []string
}

// Options configures a Loop. RunID/ProjectID identify the pipeline run
// being driven; Graph is the starting task graph (typically empty or
// restored from a checkpoint).
type Options struct {
	RunID     string
	ProjectID string
	Graph     graph.TaskGraph

	Runner *agentrun.Runner
	Repo   checkpoint.Repository
	Gate   gate.Dir
	Router *message.Router

	Conflict     *conflict.Detector
	Memory       memory.Sink
	Personality  memory.PersonalitySink
	Relationship memory.RelationshipSink

	Definitions     map[string]agentdef.Definition
	AvailableAgents []pm.AvailableAgent

	// PMAssignment names the agent/role the runner should invoke to obtain
	// one PM decision; typically {AgentType: "pm"}.
	PMAssignment   agentrun.Assignment
	PMSystemPrompt string

	// WorkingDirectory is the project directory every execution (PM and
	// task) runs in; spec.md §5 describes a single project directory per
	// run, not one per task.
	WorkingDirectory string

	BudgetLimitUSD float64
	// BudgetWarningThreshold is the fraction of BudgetLimitUSD at which a
	// budget_warning trigger (spec.md §4.1) is armed, once, before the hard
	// ceiling in step 10 fires. Ignored when BudgetLimitUSD is unset.
	BudgetWarningThreshold float64
	MaxParallelTasks       int
	TaskExecutionTimeout   time.Duration
	HealthCheckInterval    time.Duration
	StaleThreshold         time.Duration
	DecisionCountCap       int
	HeartbeatInterval      time.Duration

	Resume *Resume

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

func (o *Options) setDefaults() {
	if o.MaxParallelTasks <= 0 {
		o.MaxParallelTasks = DefaultMaxParallelTasks
	}
	if o.TaskExecutionTimeout <= 0 {
		o.TaskExecutionTimeout = DefaultTaskExecutionTimeout
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = DefaultStaleThreshold
	}
	if o.DecisionCountCap <= 0 {
		o.DecisionCountCap = DefaultDecisionCountCap
	}
	if o.BudgetWarningThreshold <= 0 {
		o.BudgetWarningThreshold = DefaultBudgetWarningThreshold
	}
	if o.Logger == nil {
		o.Logger = telemetry.NoopLogger{}
	}
	if o.Metrics == nil {
		o.Metrics = telemetry.NoopMetrics{}
	}
}

// Result is the loop's final outcome. On PM completion, the decision-count
// cap, or natural graph completion it is returned after an all-settled wait
// on any still-outstanding executions (spec.md §4.1 "Termination"); on abort
// or budget exhaustion those executions are cancelled, not awaited.
type Result struct {
	Status        checkpoint.RunStatus
	Summary       string
	Graph         graph.TaskGraph
	DecisionCount int
	TotalCostUSD  float64
}

// Loop drives one pipeline run to termination (spec.md §4.1).
type Loop struct {
	opts  Options
	graph graph.TaskGraph

	decisionCount int
	budgetSpent   float64
	budgetWarned  bool
	startedAt     time.Time
	lastLogMtime  time.Time

	userMessages        []string
	agentMessagesToPM   []message.Delivered
	recentAgentMessages []message.Delivered
	steps               []checkpoint.StepSummary

	inFlight map[string]*execution
}

// New constructs a Loop ready to Run.
func New(opts Options) *Loop {
	opts.setDefaults()
	l := &Loop{
		opts:     opts,
		graph:    opts.Graph,
		inFlight: make(map[string]*execution),
	}
	l.wireRouter()
	return l
}
