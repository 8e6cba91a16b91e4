// Package workflow defines saga workflows and the runner that drives them.
//
// A [Definition] is data: an ordered list of [Step] values, each either an
// activity call on a collaborating service or a local decision, each with
// an explicit [FailurePolicy]. Request builders, decisions, conditions and
// output functions are pure functions of the execution's [State] (the
// input plus the results of earlier steps), so replaying persisted
// [StepRecord] values reconstructs the same state after a crash.
//
// The [Runner] owns every mutation of an [Execution]:
//
//	pending → running → completed | failed | timed_out
//	running → compensating → rolled_back | failed
//
// It drives one execution at a time per lease (see package cluster),
// persists a StepRecord when each step starts and when it ends, runs
// activity steps through a retry.Policy, and on failure applies the step's
// policy: Abort fails the execution, Compensate runs the compensations of
// earlier completed steps in strict reverse order, and ContinueWithError
// records the failure and carries on.
//
// # Resume
//
// Drive can be called on any non-terminal execution by any process. Steps
// whose latest record is settled are replayed from the record; a step left
// running by a crashed driver is re-invoked with the same idempotency key,
// so the collaborating service applies its side effect at most once.
package workflow
