// Package middleware provides composable middleware around activity
// invocations.
//
// A [Middleware] wraps one outbound call. Middleware are composed with
// [Chain] and attached to a client with [Wrap]. They are applied
// right-to-left: the first middleware in the list is the outermost wrapper.
//
//	client := middleware.Wrap(activity.NewHTTPClient(endpoints),
//	    middleware.Recover(logger),
//	    middleware.Logging(logger),
//	    middleware.Timeout(),
//	)
//
// # Built-in Middleware
//
//   - [Logging]: logs target, attempt, duration and outcome
//   - [Recover]: converts handler panics into errors
//   - [Timeout]: applies the invocation's per-attempt timeout
//   - [Tracing]: wraps the call in an OpenTelemetry span
//   - [Metrics]: records per-target duration and outcome counters
//   - [Scope]: attaches the invocation's tenant scope to the context
package middleware
