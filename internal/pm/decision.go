package pm

// ActionType enumerates the typed PM actions from spec.md §4.1.
type ActionType string

const (
	ActionExecute     ActionType = "execute"
	ActionAddTasks    ActionType = "add_tasks"
	ActionRemoveTasks ActionType = "remove_tasks"
	ActionReassign    ActionType = "reassign"
	ActionRetry       ActionType = "retry"
	ActionAskUser     ActionType = "ask_user"
	ActionAnswerAgent ActionType = "answer_agent"
	ActionComplete    ActionType = "complete"
	ActionSkip        ActionType = "skip"
)

// TaskSpecInput is one add_tasks entry; ID is optional (auto-assigned).
type TaskSpecInput struct {
	ID                 string   `json:"id,omitempty"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	DependsOn          []string `json:"depends_on,omitempty"`
	ProviderHint       string   `json:"provider_hint,omitempty"`
	ModelHint          string   `json:"model_hint,omitempty"`
	AgentType          string   `json:"agent_type,omitempty"`
	Role               string   `json:"role,omitempty"`
}

// RetryChanges is the optional override payload for a retry action.
type RetryChanges struct {
	Description *string `json:"description,omitempty"`
	AgentType   *string `json:"agent_type,omitempty"`
	Role        *string `json:"role,omitempty"`
}

// Action is one typed PM action. Only the fields relevant to Type are
// populated; callers switch on Type before reading the rest.
type Action struct {
	Type ActionType `json:"type"`

	TaskIDs []string `json:"task_ids,omitempty"` // execute, remove_tasks, skip

	TaskSpecs []TaskSpecInput `json:"task_specs,omitempty"` // add_tasks

	Reason string `json:"reason,omitempty"` // remove_tasks, reassign, skip

	TaskID string `json:"task_id,omitempty"` // reassign, retry, answer_agent
	Agent  string `json:"agent,omitempty"`   // reassign
	Role   string `json:"role,omitempty"`    // reassign

	Changes *RetryChanges `json:"changes,omitempty"` // retry

	Question        string   `json:"question,omitempty"`          // ask_user
	Context         string   `json:"context,omitempty"`           // ask_user
	BlockingTaskIDs []string `json:"blocking_task_ids,omitempty"` // ask_user

	Answer string `json:"answer,omitempty"` // answer_agent

	Summary string `json:"summary,omitempty"` // complete
}

// Decision is the PM's full output for one cycle.
type Decision struct {
	Reasoning string   `json:"reasoning"`
	Actions   []Action `json:"actions"`
}

// schemaJSON is the JSON Schema validated against every parsed Decision
// before its actions are dispatched (spec.md §4.6), grounded on
// registry/service.go's validatePayloadJSONAgainstSchema compile-then-
// validate pattern.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["reasoning", "actions"],
  "properties": {
    "reasoning": {"type": "string"},
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {
            "enum": ["execute", "add_tasks", "remove_tasks", "reassign", "retry",
                     "ask_user", "answer_agent", "complete", "skip"]
          }
        }
      }
    }
  }
}`
