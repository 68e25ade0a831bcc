// Package ratelimit implements an adaptive, AIMD-style tokens-per-minute
// limiter that wraps a provider.Adapter, grounded directly on
// features/model/middleware/ratelimit.go's AdaptiveRateLimiter: same
// halve-on-backoff / additive-probe-on-success strategy, same
// estimateTokens heuristic shape, same golang.org/x/time/rate limiter
// underneath. The cluster-coordinated (Pulse rmap) variant is dropped since
// this project is single-process; see DESIGN.md.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pmflow/orchestrator/internal/provider"
)

// Limiter applies an adaptive tokens-per-minute budget in front of an
// Adapter's Execute calls.
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64

	onBackoff func(newTPM float64)
	onProbe   func(newTPM float64)
}

// New constructs a Limiter with an initial and maximum tokens-per-minute
// budget. maxTPM is clamped up to initialTPM when smaller.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// OnBackoff registers a callback invoked whenever the budget halves.
func (l *Limiter) OnBackoff(fn func(newTPM float64)) { l.onBackoff = fn }

// OnProbe registers a callback invoked whenever the budget grows.
func (l *Limiter) OnProbe(fn func(newTPM float64)) { l.onProbe = fn }

// Wrap returns an Adapter that enforces this limiter's budget before
// delegating Execute to next.
func (l *Limiter) Wrap(next provider.Adapter) provider.Adapter {
	return &limitedAdapter{next: next, limiter: l}
}

type limitedAdapter struct {
	next    provider.Adapter
	limiter *Limiter
}

func (a *limitedAdapter) ID() string                          { return a.next.ID() }
func (a *limitedAdapter) Name() string                        { return a.next.Name() }
func (a *limitedAdapter) Models() []string                    { return a.next.Models() }
func (a *limitedAdapter) Capabilities() provider.Capabilities { return a.next.Capabilities() }
func (a *limitedAdapter) Detect(ctx context.Context) provider.Info {
	return a.next.Detect(ctx)
}

func (a *limitedAdapter) Execute(ctx context.Context, ec provider.ExecutionContext) (provider.ExecutionResult, error) {
	tokens := estimateTokens(ec)
	if err := a.limiter.limiter.WaitN(ctx, tokens); err != nil {
		return provider.ExecutionResult{}, err
	}
	result, err := a.next.Execute(ctx, ec)
	a.limiter.observe(result)
	return result, err
}

func (l *Limiter) observe(result provider.ExecutionResult) {
	if result.Success {
		l.probe()
		return
	}
	if result.ErrorKind.Retryable() && result.ErrorKind != "" {
		l.backoff()
	}
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	cb := l.onBackoff
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

func (l *Limiter) probe() {
	l.mu.Lock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	cb := l.onProbe
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

// estimateTokens is a cheap heuristic: characters in the prompt and system
// prompt, converted at ~1 token per 3 characters, plus a fixed framing
// buffer, with a floor so even tiny requests incur some limiter cost.
func estimateTokens(ec provider.ExecutionContext) int {
	charCount := len(ec.Prompt) + len(ec.SystemPrompt)
	if charCount <= 0 {
		return 500
	}
	return charCount/3 + 200
}
