package agentrun

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

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

// guardWorkingDirectory enforces spec.md §4.3's cwd-safety invariant: the
// resolved working directory must not equal or contain the orchestrator's
// own install root. This is the primary enforcement point; provider/cli
// repeats the equal-or-under part of this check as defense in depth for
// callers that invoke an adapter directly.
func guardWorkingDirectory(wd string) error {
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
		return fmt.Errorf("%w: %q is the orchestrator install root or a subdirectory of it", ErrCwdUnsafe, wd)
	}
	if up, err := filepath.Rel(resolved, installRoot); err == nil && !strings.HasPrefix(up, "..") {
		return fmt.Errorf("%w: %q contains the orchestrator install root", ErrCwdUnsafe, wd)
	}
	return nil
}
