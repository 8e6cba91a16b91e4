package audithook

import (
	"log/slog"
	"slices"
)

// Option tunes an Extension at construction.
type Option func(*Extension)

// WithActions limits recording to the named actions, e.g.
// ActionExecutionFailed and ActionCompensating. Security violations are
// recorded regardless.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		if e.enabled == nil {
			e.enabled = map[string]bool{}
		}
		for a := range slices.Values(actions) {
			e.enabled[a] = true
		}
	}
}

// WithLogger receives recorder errors, which never fail the execution.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}
