package message

import (
	"context"
	"fmt"
)

// Delivered is one routed message, stamped with its origin and destination.
type Delivered struct {
	RunID   string
	From    string
	To      string
	Type    string
	Message string
}

// Sink persists a delivered message, grounded on internal/checkpoint's
// createAgentMessage/getInboxMessages contract (spec.md §6).
type Sink interface {
	CreateAgentMessage(ctx context.Context, msg Delivered) error
}

// Subscriber receives every delivered message, mirroring hooks.Subscriber's
// single-method shape so callers can compose SubscriberFunc-style adapters.
type Subscriber interface {
	Deliver(ctx context.Context, msg Delivered) error
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(ctx context.Context, msg Delivered) error

func (f SubscriberFunc) Deliver(ctx context.Context, msg Delivered) error { return f(ctx, msg) }

// Router extracts, validates, persists, and fans out inter-agent messages
// found in one agent's raw output.
type Router struct {
	sink            Sink
	subscribers     []Subscriber
	knownAgentTypes []string
}

// NewRouter constructs a Router. knownAgentTypes, when non-empty, restricts
// valid recipients; sink may be nil to skip persistence (e.g. in tests).
func NewRouter(sink Sink, knownAgentTypes []string) *Router {
	return &Router{sink: sink, knownAgentTypes: knownAgentTypes}
}

// Subscribe registers sub to receive every successfully routed message.
func (r *Router) Subscribe(sub Subscriber) {
	r.subscribers = append(r.subscribers, sub)
}

// Route extracts envelopes from rawOutput, validates and delivers each one,
// and returns the stripped human-readable text plus any validation errors
// encountered (one malformed envelope does not block the others).
func (r *Router) Route(ctx context.Context, runID, from, rawOutput string) (stripped string, errs []error) {
	envelopes, stripped := Extract(rawOutput)
	for _, env := range envelopes {
		if err := Validate(env, r.knownAgentTypes); err != nil {
			errs = append(errs, err)
			continue
		}
		msg := Delivered{RunID: runID, From: from, To: env.To, Type: env.Type, Message: env.Message}
		if r.sink != nil {
			if err := r.sink.CreateAgentMessage(ctx, msg); err != nil {
				errs = append(errs, fmt.Errorf("message: persist: %w", err))
			}
		}
		for _, sub := range r.subscribers {
			if err := sub.Deliver(ctx, msg); err != nil {
				errs = append(errs, fmt.Errorf("message: deliver to subscriber: %w", err))
			}
		}
	}
	return stripped, errs
}
