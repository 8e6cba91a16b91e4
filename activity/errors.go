package activity

import (
	"fmt"
	"net/http"

	"github.com/xraph/saga"
)

// CommunicationError means the call never produced an application answer:
// connection refused, reset, DNS failure or timeout. Always retryable.
type CommunicationError struct {
	Target string
	Err    error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("saga: communication with %s failed: %v", e.Target, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// Kind implements saga.Kinded.
func (e *CommunicationError) Kind() saga.ErrorKind { return saga.KindCommunication }

// Retryable implements saga.Retryable.
func (e *CommunicationError) Retryable() bool { return true }

// RejectedError is a non-success application response.
type RejectedError struct {
	Target string
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("saga: %s rejected with status %d: %s", e.Target, e.Status, e.Body)
}

// Kind implements saga.Kinded.
func (e *RejectedError) Kind() saga.ErrorKind { return saga.KindRejected }

// Retryable reports true for 5xx, 429 and 408. Other rejections such as
// permission denied or validation failures are terminal.
func (e *RejectedError) Retryable() bool {
	switch {
	case e.Status >= http.StatusInternalServerError:
		return true
	case e.Status == http.StatusTooManyRequests, e.Status == http.StatusRequestTimeout:
		return true
	}
	return false
}

// DecodeError means the response could not be decoded into the expected
// shape. Never retried.
type DecodeError struct {
	Target string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("saga: decode %s response: %v", e.Target, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind implements saga.Kinded.
func (e *DecodeError) Kind() saga.ErrorKind { return saga.KindDecode }

// Retryable implements saga.Retryable.
func (e *DecodeError) Retryable() bool { return false }
