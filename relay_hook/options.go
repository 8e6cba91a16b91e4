package relayhook

import "log/slog"

// Option tunes an Extension at construction.
type Option func(*Extension)

// PayloadFunc replaces the body published for one event type. It receives
// the default payload and returns the value to JSON-encode instead.
type PayloadFunc func(args any) (any, error)

// WithEvents publishes only the named event types, e.g.
// EventExecutionFailed. Without it every lifecycle event is published.
func WithEvents(events ...string) Option {
	return func(h *Extension) {
		if h.enabled == nil {
			h.enabled = map[string]bool{}
		}
		for _, name := range events {
			h.enabled[name] = true
		}
	}
}

// WithPayloadFunc overrides the message body for eventType.
func WithPayloadFunc(eventType string, fn PayloadFunc) Option {
	return func(h *Extension) {
		if h.payloads == nil {
			h.payloads = map[string]PayloadFunc{}
		}
		h.payloads[eventType] = fn
	}
}

// WithTopic sends every event to topic. Subscribers then tell events apart
// by the event_type metadata key. The default is one topic per event
// type, named after it.
func WithTopic(topic string) Option {
	return func(h *Extension) { h.topic = topic }
}

// WithLogger receives publish failures, which are never returned to the
// execution.
func WithLogger(l *slog.Logger) Option {
	return func(h *Extension) { h.logger = l }
}
