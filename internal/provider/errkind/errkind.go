// Package errkind classifies provider/execution errors as permanent,
// transient, or unclassified, per spec.md §4.3/§7. Classification drives the
// agent runner's retry and cross-provider fallback decisions.
package errkind

import "regexp"

// Kind categorizes an execution error for retry purposes.
type Kind string

const (
	// Permanent errors short-circuit retries entirely.
	Permanent Kind = "permanent"
	// Transient errors are retried, possibly with a cross-provider switch.
	Transient Kind = "transient"
	// Unclassified errors are treated as transient for retry purposes but
	// never trigger a provider switch (spec.md §4.3).
	Unclassified Kind = "unclassified"
)

// permanentPatterns match authentication failures, invalid-model signals,
// content-policy refusals, and invalid-argument errors.
var permanentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b401\b`),
	regexp.MustCompile(`(?i)\b403\b`),
	regexp.MustCompile(`(?i)permission_denied`),
	regexp.MustCompile(`(?i)unauthorized`),
	regexp.MustCompile(`(?i)forbidden`),
	regexp.MustCompile(`(?i)api key`),
	regexp.MustCompile(`(?i)invalid model`),
	regexp.MustCompile(`(?i)content.?polic`),
	regexp.MustCompile(`(?i)safety`),
	regexp.MustCompile(`(?i)invalid.argument`),
	regexp.MustCompile(`(?i)invalid_argument`),
}

// transientPatterns match rate limiting, connectivity failures, upstream
// unavailability, and process-level signals.
var transientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b429\b`),
	regexp.MustCompile(`(?i)resource_exhausted`),
	regexp.MustCompile(`(?i)quota`),
	regexp.MustCompile(`(?i)overloaded`),
	regexp.MustCompile(`(?i)capacity`),
	regexp.MustCompile(`(?i)econnrefused`),
	regexp.MustCompile(`(?i)etimedout`),
	regexp.MustCompile(`(?i)enotfound`),
	regexp.MustCompile(`(?i)fetch failed`),
	regexp.MustCompile(`(?i)timeout`),
	regexp.MustCompile(`(?i)timed out`),
	regexp.MustCompile(`(?i)\b502\b`),
	regexp.MustCompile(`(?i)\b503\b`),
	regexp.MustCompile(`(?i)sigkill`),
	regexp.MustCompile(`(?i)sigterm`),
}

// Classify matches msg against the permanent and transient regex tables, in
// that order, and returns the first matching Kind. Errors matching neither
// table are Unclassified.
func Classify(msg string) Kind {
	for _, re := range permanentPatterns {
		if re.MatchString(msg) {
			return Permanent
		}
	}
	for _, re := range transientPatterns {
		if re.MatchString(msg) {
			return Transient
		}
	}
	return Unclassified
}

// Retryable reports whether a Kind should be retried by the agent runner.
// Unclassified errors are retried (spec.md §4.3) but never trigger a
// cross-provider switch; callers check Kind == Transient for that decision.
func (k Kind) Retryable() bool {
	return k != Permanent
}
