package gate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// WriteUserMessage writes one mid-run user message file, front end → worker.
// ts should be a monotonically increasing identifier (e.g. unix nanos) so
// DrainUserMessages can order files without parsing their contents.
func (d Dir) WriteUserMessage(runID string, ts int64, msg UserMessagePayload) error {
	return writeJSON(d.path(fmt.Sprintf("user-msg-%s-%d.json", runID, ts)), msg)
}

// DrainUserMessages reads and deletes every pending user-msg-<runID>-<ts>.json
// file for runID, in ascending timestamp order, per spec.md §6's "consumed
// in timestamp order" rule.
func (d Dir) DrainUserMessages(runID string) ([]UserMessagePayload, error) {
	prefix := fmt.Sprintf("user-msg-%s-", runID)
	entries, err := os.ReadDir(d.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gate: list %s: %w", d.root, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	// Order by the numeric ts suffix so "9" sorts before "10".
	tsOf := func(name string) (int64, error) {
		return strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json"), 10, 64)
	}
	sort.SliceStable(names, func(i, j int) bool {
		ti, erri := tsOf(names[i])
		tj, errj := tsOf(names[j])
		if erri != nil || errj != nil {
			return names[i] < names[j]
		}
		return ti < tj
	})

	var out []UserMessagePayload
	for _, name := range names {
		path := filepath.Join(d.root, name)
		var msg UserMessagePayload
		if ok, err := readJSON(path, &msg); err != nil {
			return out, err
		} else if !ok {
			continue
		}
		out = append(out, msg)
		_ = os.Remove(path)
	}
	return out, nil
}
