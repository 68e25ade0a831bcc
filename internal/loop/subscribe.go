package loop

import (
	"context"

	"github.com/pmflow/orchestrator/internal/conflict"
	"github.com/pmflow/orchestrator/internal/message"
)

// recentMessageWindow bounds how many inter-team messages the PM prompt's
// "Inter-Team Communication" section carries (spec.md §4.6); older entries
// roll off so the prompt does not grow unbounded across a long run.
const recentMessageWindow = 20

// wireRouter subscribes the loop's own accumulator/conflict/relationship
// handling to the message router, so every envelope delivered by
// message.Router.Route (spec.md §4.7 step 2) is also evaluated for debate
// content (step 3) and nudges relationship scores (step 6) exactly once,
// regardless of which task produced it.
func (l *Loop) wireRouter() {
	if l.opts.Router == nil {
		return
	}
	l.opts.Router.Subscribe(message.SubscriberFunc(l.onMessageDelivered))
}

// onMessageDelivered implements spec.md §4.7 steps 2 (accumulation), 3
// (debate evaluation), and 6 (relationship nudge) for one delivered
// inter-agent message.
func (l *Loop) onMessageDelivered(ctx context.Context, msg message.Delivered) error {
	if msg.To == "pm" {
		l.agentMessagesToPM = append(l.agentMessagesToPM, msg)
	} else {
		l.recentAgentMessages = append(l.recentAgentMessages, msg)
		if len(l.recentAgentMessages) > recentMessageWindow {
			l.recentAgentMessages = l.recentAgentMessages[len(l.recentAgentMessages)-recentMessageWindow:]
		}
	}

	if l.opts.Conflict == nil {
		return nil
	}
	if err := l.opts.Conflict.Deliver(ctx, msg); err != nil {
		l.opts.Logger.Warn(ctx, "loop: conflict detector delivery failed", "error", err.Error())
	}
	if l.opts.Relationship == nil {
		return nil
	}
	finding := l.opts.Conflict.Evaluate(msg)
	var delta float64
	switch finding.Severity {
	case conflict.SeverityNone:
		return nil
	case conflict.SeverityNote:
		delta = -0.05
	case conflict.SeverityEscalate:
		delta = -0.2
	}
	if err := l.opts.Relationship.AdjustRelationship(ctx, l.opts.RunID, msg.From, msg.To, delta); err != nil {
		l.opts.Logger.Warn(ctx, "loop: relationship update failed", "error", err.Error())
	}
	return nil
}
