// Package conflict implements the opinion-conflict ("debate evaluation")
// hook named but left undefined by spec.md §1/§4.7: "trend detection,
// standup generation, and debate execution are described only to the
// extent the core invokes them — their internal logic is peripheral." This
// package gives the decision loop a concrete, testable default instead of a
// no-op stub at its one real control point: deciding whether an inter-agent
// message represents an opinion conflict the PM should be made aware of.
//
// Detector's single-method shape mirrors internal/message.Subscriber so it
// can be wired directly into a Router via Subscribe.
package conflict

import (
	"context"
	"strings"

	"github.com/pmflow/orchestrator/internal/message"
)

// conflictTypes are the message.Envelope.Type values spec.md §7's
// "AGENT_MESSAGE" type enum designates as debate-adjacent: challenge,
// counter, concede, escalate. question/flag/suggestion/handoff/response are
// ordinary coordination, not conflict signals.
var conflictTypes = map[string]bool{
	"challenge": true,
	"counter":   true,
	"concede":   true,
	"escalate":  true,
}

// opinionPhrases is a small keyword/sentiment-style phrase matcher: a
// message is treated as carrying an opinion (rather than a neutral status
// update) when it uses hedged or evaluative language, grounded on the
// §4.7 mention of "opinion-like phrases" feeding the personality memory
// store.
var opinionPhrases = []string{
	"i disagree", "i think", "in my opinion", "i'd argue", "i would argue",
	"that's wrong", "this is wrong", "not convinced", "strongly prefer",
	"better approach", "worse approach", "i recommend against",
}

// Finding is one detected opinion conflict, ready for the PM's
// "Inter-Team Communication" awareness window or an escalation trigger.
type Finding struct {
	Message  message.Delivered
	Severity Severity
}

// Severity ranks how urgently the PM should see a Finding.
type Severity int

const (
	// SeverityNone means the message carries no detected conflict.
	SeverityNone Severity = iota
	// SeverityNote is an opinion worth surfacing but not blocking.
	SeverityNote
	// SeverityEscalate requires PM attention before further dependent work.
	SeverityEscalate
)

// Detector evaluates delivered inter-agent messages for opinion conflicts.
type Detector struct {
	onFinding func(ctx context.Context, f Finding)
}

// NewDetector constructs a Detector. onFinding, when non-nil, is invoked for
// every message scoring above SeverityNone (e.g. to persist it or notify
// the loop's trigger accumulator); it must not block.
func NewDetector(onFinding func(ctx context.Context, f Finding)) *Detector {
	return &Detector{onFinding: onFinding}
}

// Deliver implements message.Subscriber, letting a Detector be wired
// directly into a message.Router via Router.Subscribe.
func (d *Detector) Deliver(ctx context.Context, msg message.Delivered) error {
	if f := d.Evaluate(msg); f.Severity != SeverityNone && d.onFinding != nil {
		d.onFinding(ctx, f)
	}
	return nil
}

// Evaluate scores one delivered message for opinion-conflict content. A
// conflict-typed envelope (challenge/counter/escalate) is always at least a
// note; "escalate" is always escalated. concede is a de-escalation signal
// and never scored as a conflict requiring attention (someone backing down
// needs no PM intervention). Envelopes of ordinary types that merely use
// opinionated language score as a note.
func (d *Detector) Evaluate(msg message.Delivered) Finding {
	lower := strings.ToLower(msg.Message)

	if msg.Type == "escalate" {
		return Finding{Message: msg, Severity: SeverityEscalate}
	}
	if msg.Type == "concede" {
		return Finding{Message: msg, Severity: SeverityNone}
	}
	if conflictTypes[msg.Type] {
		return Finding{Message: msg, Severity: SeverityNote}
	}
	for _, phrase := range opinionPhrases {
		if strings.Contains(lower, phrase) {
			return Finding{Message: msg, Severity: SeverityNote}
		}
	}
	return Finding{Message: msg, Severity: SeverityNone}
}

// ExtractOpinionPhrases returns every phrase from opinionPhrases that
// appears in text, for the personality memory store's ingestion step
// (spec.md §4.7 step 5).
func ExtractOpinionPhrases(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, phrase := range opinionPhrases {
		if strings.Contains(lower, phrase) {
			out = append(out, phrase)
		}
	}
	return out
}

var _ message.Subscriber = (*Detector)(nil)
