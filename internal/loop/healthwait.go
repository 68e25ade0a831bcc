package loop

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// healthCheckedWait implements spec.md §5's next-completion-with-health-check
// primitive: it races every in-flight execution's result channel against a
// recurring TASK_HEALTH_CHECK_INTERVAL_MS ticker. A normal task resolution
// short-circuits the wait; a ticker tick runs one health-check pass
// (abort, staleness, user-message drain). Staleness force-resolves an
// execution and returns that forced result. ok is false both when ctx is
// cancelled and when the abort flag is set, before anything resolves — the
// caller distinguishes the two by re-checking the abort flag itself.
func (l *Loop) healthCheckedWait(ctx context.Context) (taskID string, res execResult, ok bool) {
	ticker := time.NewTicker(l.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		ids := make([]string, 0, len(l.inFlight))
		for id := range l.inFlight {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		cases := make([]reflect.SelectCase, 0, len(ids)+2)
		for _, id := range ids {
			cases = append(cases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(l.inFlight[id].resultCh),
			})
		}
		tickerIdx := len(cases)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ticker.C)})
		ctxIdx := len(cases)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

		chosen, recv, _ := reflect.Select(cases)
		switch chosen {
		case ctxIdx:
			return "", execResult{}, false
		case tickerIdx:
			// An abort is reported to the caller directly (ok=false) rather
			// than force-resolved here: the run is terminating regardless,
			// and in-flight tasks must keep their real graph status
			// (spec.md §5 scenario 5's "preserve for resume"), not be
			// force-transitioned to failed the way a stale task is.
			if l.opts.Gate.IsAborted() {
				return "", execResult{}, false
			}
			if forcedID, forcedRes, forced := l.runHealthCheck(); forced {
				return forcedID, forcedRes, true
			}
			continue
		default:
			return ids[chosen], recv.Interface().(execResult), true
		}
	}
}

// runHealthCheck performs one health-check tick's remaining duties in
// order: log-staleness check and a non-blocking user-message drain. At
// most one execution is force-resolved per tick.
func (l *Loop) runHealthCheck() (string, execResult, bool) {
	if mt, err := l.opts.Gate.LogModTime(); err == nil {
		stale := !l.lastLogMtime.IsZero() && mt.Equal(l.lastLogMtime) && time.Since(mt) > l.opts.StaleThreshold
		l.lastLogMtime = mt
		if stale {
			if id := l.firstInFlightID(); id != "" {
				reason := fmt.Sprintf("Task appears stale — no log activity for %.0fs", l.opts.StaleThreshold.Seconds())
				return id, forceResolve(l.inFlight[id], reason), true
			}
		}
	}

	if msgs, err := l.opts.Gate.DrainUserMessages(l.opts.RunID); err == nil {
		for _, m := range msgs {
			l.userMessages = append(l.userMessages, m.Message)
		}
	}

	return "", execResult{}, false
}

// firstInFlightID returns the lexicographically smallest in-flight task id,
// so force-resolution is deterministic across runs.
func (l *Loop) firstInFlightID() string {
	var min string
	for id := range l.inFlight {
		if min == "" || id < min {
			min = id
		}
	}
	return min
}
