// Package activity invokes operations on the collaborating services
// (auth, user, tenant, file, notification).
//
// An [Invocation] names a (service, operation) pair, carries the JSON
// request, the caller's [scope.Scope] and a deterministic idempotency key.
// A [Client] performs exactly one outbound call per Invoke. Failures come
// back as one of three types so callers can apply different policy:
//
//   - [CommunicationError]: the call did not complete (network, timeout)
//   - [RejectedError]: the service answered with a non-success status
//   - [DecodeError]: the response did not match the expected shape
//
// Two transports ship with the package: [HTTPClient], which posts JSON to
// {base}/{operation} with tenant routing headers, and [Local], which routes
// to in-process handlers. Typed contracts are declared with [Register].
package activity
