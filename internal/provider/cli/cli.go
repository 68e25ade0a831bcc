// Package cli implements the subprocess CLI provider adapter: the only
// adapter declaring both FileAccess and ToolUse. It spawns an external CLI
// binary, feeds it a prompt, and parses its line-delimited "stream-json"
// stdout protocol into ExecutionResult/StreamEvent values (spec.md §4.4).
//
// The process lifecycle (slot tracking, cancellation via context, grouped
// kill) is grounded in smtg-ai/claude-squad's AgentPool task executor; the
// event-categorization idiom (system/init, assistant content blocks,
// result/usage) follows goa-ai's own stream-json handling conventions.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pmflow/orchestrator/internal/provider"
	"github.com/pmflow/orchestrator/internal/provider/errkind"
)

var modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)

// AbortChecker reports whether the project's cross-process abort gate is
// currently set. Supplied by internal/gate in production; tests can stub it.
type AbortChecker func(projectID string) bool

// Options configures the Adapter.
type Options struct {
	ID           string
	Name         string
	Binary       string
	Models       []string
	AbortPoll    time.Duration // default 3s
	KillGrace    time.Duration // default 2s
	AbortChecker AbortChecker
	// MCPConfigPath, if set, points the subprocess at a project-scoped MCP
	// server command; otherwise an empty MCP config file is used.
	MCPConfigPath func(projectID string) string
}

// Adapter spawns the configured binary as a subprocess per execution.
type Adapter struct {
	opts Options
}

// New constructs a subprocess CLI Adapter.
func New(opts Options) *Adapter {
	if opts.AbortPoll <= 0 {
		opts.AbortPoll = 3 * time.Second
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = 2 * time.Second
	}
	return &Adapter{opts: opts}
}

func (a *Adapter) ID() string   { return a.opts.ID }
func (a *Adapter) Name() string { return a.opts.Name }
func (a *Adapter) Models() []string {
	return append([]string(nil), a.opts.Models...)
}
func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{FileAccess: true, ShellAccess: true, ToolUse: true, SubAgents: true}
}

// Detect reports availability by checking that the configured binary is
// resolvable on PATH or as an absolute/relative path.
func (a *Adapter) Detect(context.Context) provider.Info {
	info := provider.Info{ID: a.opts.ID, Name: a.opts.Name, Models: a.Models(), Capabilities: a.Capabilities()}
	if _, err := exec.LookPath(a.opts.Binary); err != nil {
		if _, statErr := os.Stat(a.opts.Binary); statErr != nil {
			info.Available = false
			info.UnavailabilityReason = fmt.Sprintf("binary %q not found: %v", a.opts.Binary, err)
			return info
		}
	}
	info.Available = true
	return info
}

// installRoot is compared against a resolved working directory by
// guardWorkingDirectory to enforce the cwd-safety invariant of spec.md §4.3.
var installRoot = func() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(exe))
	if err != nil {
		return filepath.Dir(exe)
	}
	return dir
}()

// GuardWorkingDirectory returns an error if wd equals or is contained within
// the orchestrator's own installation root (spec.md §4.3 "Cwd safety").
func GuardWorkingDirectory(wd string) error {
	if wd == "" || installRoot == "" {
		return nil
	}
	resolved, err := filepath.Abs(wd)
	if err != nil {
		resolved = wd
	}
	rel, err := filepath.Rel(installRoot, resolved)
	if err != nil {
		return nil
	}
	if rel == "." || (!strings.HasPrefix(rel, "..") && rel != "") {
		return fmt.Errorf("cli: working directory %q is the orchestrator install root or a subdirectory of it", wd)
	}
	return nil
}

// Execute spawns the CLI binary for one prompt, streams its stdout protocol,
// and returns the aggregated result.
func (a *Adapter) Execute(ctx context.Context, ec provider.ExecutionContext) (provider.ExecutionResult, error) {
	if !modelNamePattern.MatchString(ec.Model) {
		return provider.ExecutionResult{}, fmt.Errorf("cli: invalid model name %q", ec.Model)
	}
	if err := GuardWorkingDirectory(ec.WorkingDirectory); err != nil {
		return provider.ExecutionResult{}, err
	}

	mcpPath := ""
	if a.opts.MCPConfigPath != nil {
		mcpPath = a.opts.MCPConfigPath(ec.ProjectID)
	}
	args := []string{
		"--model", ec.Model,
		"--output-format", "stream-json",
	}
	if ec.WorkingDirectory != "" {
		args = append(args, "--cwd", ec.WorkingDirectory)
	}
	if mcpPath != "" {
		args = append(args, "--mcp-config", mcpPath)
	}
	if ec.SystemPrompt != "" {
		args = append(args, "--system-prompt", ec.SystemPrompt)
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if ec.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, ec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, a.opts.Binary, args...)
	cmd.Dir = ec.WorkingDirectory
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = strings.NewReader(ec.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return provider.ExecutionResult{}, fmt.Errorf("cli: stdout pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return provider.ExecutionResult{}, fmt.Errorf("cli: start: %w", err)
	}

	done := make(chan struct{})
	var agg aggregator
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			agg.handleLine(scanner.Bytes(), ec.OnStream)
		}
	}()

	killer := a.startAbortWatcher(execCtx, cmd, ec.ProjectID)
	defer killer.stop()

	waitErr := cmd.Wait()
	<-done
	killer.stop()

	duration := time.Since(start).Milliseconds()
	result := agg.result(duration)
	if waitErr != nil && result.Error == "" {
		msg := waitErr.Error()
		if execCtx.Err() == context.DeadlineExceeded {
			msg = "timed out"
		}
		result.Success = false
		result.Error = msg
		result.ErrorKind = errkind.Classify(msg)
	}
	return result, nil
}

// abortWatcher periodically checks the cross-process abort gate and
// SIGTERMs then SIGKILLs the process group if it fires (spec.md §4.4/§5).
type abortWatcher struct {
	stopOnce sync.Once
	stopCh   chan struct{}
}

func (a *Adapter) startAbortWatcher(ctx context.Context, cmd *exec.Cmd, projectID string) *abortWatcher {
	w := &abortWatcher{stopCh: make(chan struct{})}
	if a.opts.AbortChecker == nil {
		return w
	}
	go func() {
		ticker := time.NewTicker(a.opts.AbortPoll)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if a.opts.AbortChecker(projectID) {
					killProcessGroup(cmd, a.opts.KillGrace)
					return
				}
			}
		}
	}()
	return w
}

func (w *abortWatcher) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func killProcessGroup(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	} else {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	}
	go func() {
		time.Sleep(grace)
		if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			_ = cmd.Process.Kill()
		}
	}()
}

// aggregator accumulates stream-json events into a final ExecutionResult.
type aggregator struct {
	mu         sync.Mutex
	output     strings.Builder
	errText    string
	isError    bool
	inputTok   int
	outputTok  int
	haveUsage  bool
}

type streamLine struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Message json.RawMessage `json:"message"`
	IsError bool            `json:"is_error"`
	Error   string          `json:"error"`
	Usage   *usagePayload   `json:"usage"`
}

type usagePayload struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

type assistantMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (a *aggregator) handleLine(line []byte, onStream func(provider.StreamEvent)) {
	var sl streamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return
	}
	switch sl.Type {
	case "system":
		if sl.Subtype == "init" {
			a.emit(onStream, "system_init", "session initialized")
		}
	case "assistant":
		var msg assistantMessage
		if err := json.Unmarshal(sl.Message, &msg); err != nil {
			return
		}
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				a.mu.Lock()
				a.output.WriteString(block.Text)
				a.mu.Unlock()
				a.emit(onStream, "text", block.Text)
			case "tool_use":
				a.emit(onStream, "tool_use", summarizeToolUse(block))
			}
		}
	case "result":
		if sl.Usage != nil {
			a.mu.Lock()
			a.inputTok = sl.Usage.InputTokens + sl.Usage.CacheCreationInputTokens + sl.Usage.CacheReadInputTokens
			a.outputTok = sl.Usage.OutputTokens
			a.haveUsage = true
			a.mu.Unlock()
		}
		if sl.IsError {
			a.mu.Lock()
			a.isError = true
			a.errText = sl.Error
			a.mu.Unlock()
		}
		a.emit(onStream, "result", "")
	default:
		// tool-result and other subtypes are deliberately ignored for log
		// hygiene (spec.md §4.4).
	}
}

func (a *aggregator) emit(onStream func(provider.StreamEvent), kind, text string) {
	if onStream == nil {
		return
	}
	onStream(provider.StreamEvent{Kind: kind, Text: text, At: time.Now()})
}

func (a *aggregator) result(durationMs int64) provider.ExecutionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	res := provider.ExecutionResult{
		Success:    !a.isError,
		Output:     a.output.String(),
		DurationMs: durationMs,
	}
	if a.isError {
		res.Error = a.errText
		res.ErrorKind = errkind.Classify(a.errText)
	}
	if a.haveUsage {
		res.Usage = &provider.TokenUsage{InputTokens: a.inputTok, OutputTokens: a.outputTok}
	}
	return res
}

// summarizeToolUse renders a tool-use content block as a one-line
// human-readable summary for the append-only log (spec.md §4.4: "Read
// <path>", "Bash: <cmd truncated>", "Edit <path>", etc.).
func summarizeToolUse(block contentBlock) string {
	var input map[string]any
	_ = json.Unmarshal(block.Input, &input)
	switch block.Name {
	case "Read":
		return fmt.Sprintf("Read %v", input["file_path"])
	case "Edit":
		return fmt.Sprintf("Edit %v", input["file_path"])
	case "Write":
		return fmt.Sprintf("Write %v", input["file_path"])
	case "Bash":
		cmd, _ := input["command"].(string)
		return fmt.Sprintf("Bash: %s", truncate(cmd, 120))
	default:
		return block.Name
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
