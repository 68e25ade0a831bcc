// Package gate implements the cross-process file-based rendezvous described
// in spec.md §6: a project-scoped directory holding plan-confirmation,
// question/answer, user-message, abort, liveness, and append-only log files,
// each written by exactly one side of the worker/front-end pair by
// convention. Waiting on a file's appearance uses fsnotify with a polling
// fallback, grounded on the debounced-watch idiom in
// jinterlante1206-AleutianLocal's graph.FileWatcher (batch fsnotify events,
// fall back to periodic stat when the watch itself cannot be established).
package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Dir is one project's gate directory: <tmp>/<app>/<projectID>/.
type Dir struct {
	root string
}

// Open returns the Dir for projectID under base (e.g. os.TempDir()/appname).
func Open(base, projectID string) Dir {
	return Dir{root: filepath.Join(base, projectID)}
}

// Ensure creates the gate directory if it does not already exist.
func (d Dir) Ensure() error {
	return os.MkdirAll(d.root, 0o755)
}

func (d Dir) path(name string) string { return filepath.Join(d.root, name) }

// LiveLogPath is the append-only human-readable log, worker → front end.
func (d Dir) LiveLogPath() string { return d.path("live.log") }

// AbortFlagPath is the presence-only abort signal, front end → worker.
func (d Dir) AbortFlagPath() string { return d.path("abort.flag") }

// WorkerPIDPath holds the worker's decimal PID for SIGTERM on abort.
func (d Dir) WorkerPIDPath() string { return d.path("worker.pid") }

func (d Dir) planPath(runID string) string        { return d.path(fmt.Sprintf("plan-%s.json", runID)) }
func (d Dir) planConfirmPath(runID string) string { return d.path(fmt.Sprintf("plan-confirm-%s.json", runID)) }
func (d Dir) questionPath(runID string) string     { return d.path(fmt.Sprintf("question-%s.json", runID)) }
func (d Dir) questionAnswerPath(runID string) string {
	return d.path(fmt.Sprintf("question-%s-answer.json", runID))
}

// QuestionAnswerPath exposes the answer file's path so a caller can block
// on its appearance with WaitForFile (spec.md §5 suspension point (b)).
func (d Dir) QuestionAnswerPath(runID string) string { return d.questionAnswerPath(runID) }

// PlanConfirmPath exposes the plan-confirm file's path so a caller can block
// on its appearance with WaitForFile (spec.md §5 suspension point (c)).
func (d Dir) PlanConfirmPath(runID string) string { return d.planConfirmPath(runID) }

// PlanPayload is the contents of plan-<runId>.json.
type PlanPayload struct {
	Status    string    `json:"status"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"createdAt"`
}

// PlanConfirmAction enumerates the front end's plan decisions.
type PlanConfirmAction string

const (
	PlanConfirm PlanConfirmAction = "confirm"
	PlanReject  PlanConfirmAction = "reject"
	PlanModify  PlanConfirmAction = "modify"
)

// PlanConfirmPayload is the contents of plan-confirm-<runId>.json.
type PlanConfirmPayload struct {
	Action PlanConfirmAction `json:"action"`
	Notes  string            `json:"notes,omitempty"`
}

// QuestionPayload is the contents of question-<runId>.json.
type QuestionPayload struct {
	Question  string    `json:"question"`
	Context   string    `json:"context"`
	CreatedAt time.Time `json:"createdAt"`
}

// QuestionAnswerPayload is the contents of question-<runId>-answer.json.
type QuestionAnswerPayload struct {
	Answer     string    `json:"answer"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// UserMessagePayload is the contents of one user-msg-<runId>-<ts>.json file.
type UserMessagePayload struct {
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// WritePlan writes the plan awaiting approval (worker → front end).
func (d Dir) WritePlan(runID string, p PlanPayload) error {
	return writeJSON(d.planPath(runID), p)
}

// ReadPlanConfirm reads the front end's plan decision, if present.
func (d Dir) ReadPlanConfirm(runID string) (PlanConfirmPayload, bool, error) {
	var p PlanConfirmPayload
	ok, err := readJSON(d.planConfirmPath(runID), &p)
	return p, ok, err
}

// WriteQuestion writes a PM question awaiting a user answer.
func (d Dir) WriteQuestion(runID string, q QuestionPayload) error {
	return writeJSON(d.questionPath(runID), q)
}

// ReadQuestionAnswer reads the user's answer, if present.
func (d Dir) ReadQuestionAnswer(runID string) (QuestionAnswerPayload, bool, error) {
	var a QuestionAnswerPayload
	ok, err := readJSON(d.questionAnswerPath(runID), &a)
	return a, ok, err
}

// ClearQuestion removes both the question and its answer file once consumed.
func (d Dir) ClearQuestion(runID string) error {
	_ = os.Remove(d.questionPath(runID))
	return os.Remove(d.questionAnswerPath(runID))
}

// IsAborted reports whether the abort flag is present.
func (d Dir) IsAborted() bool {
	_, err := os.Stat(d.AbortFlagPath())
	return err == nil
}

// WritePID records the worker's PID for external SIGTERM delivery.
func (d Dir) WritePID(pid int) error {
	return os.WriteFile(d.WorkerPIDPath(), []byte(fmt.Sprintf("%d", pid)), 0o644)
}

// AppendLog appends a line to the append-only live log.
func (d Dir) AppendLog(line string) error {
	f, err := os.OpenFile(d.LiveLogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	if err != nil {
		return err
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		_, err = f.WriteString("\n")
	}
	return err
}

// LogModTime returns live.log's last modification time, used by the health
// check's staleness detector (spec.md §5).
func (d Dir) LogModTime() (time.Time, error) {
	info, err := os.Stat(d.LiveLogPath())
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func writeJSON(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gate: marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("gate: write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) (bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gate: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("gate: parse %s: %w", path, err)
	}
	return true, nil
}
