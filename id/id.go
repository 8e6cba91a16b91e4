// Package id mints the identifiers of executions, runs, workers and
// stream events. Identifiers are TypeIDs such as
// "exec_01j9x3m8q2fdkbz7c0e4r5t6vw": a lowercase kind, an underscore, then
// a base32 UUIDv7, so identifiers of one kind sort by creation time.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the kind part of an ID.
type Prefix string

const (
	PrefixExecution Prefix = "exec"
	PrefixRun       Prefix = "run"
	PrefixWorker    Prefix = "wkr"
	PrefixBatch     Prefix = "batch"
	PrefixEvent     Prefix = "evt"
)

// ID is comparable and its zero value is Nil.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	tid   typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New panics on a malformed prefix, which is a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, valid: true}
}

// Parse accepts any well-formed identifier regardless of kind.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if tid.Prefix() == "" {
		return Nil, fmt.Errorf("id: parse %q: missing kind prefix", s)
	}
	return ID{tid: tid, valid: true}, nil
}

// ParseWithPrefix is Parse plus a check on the kind.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is for literals in tests and fixtures.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// Aliases document which prefix a field carries. They share ID's methods.
type (
	ExecutionID = ID
	RunID       = ID
	WorkerID    = ID
)

func NewExecutionID() ID { return New(PrefixExecution) }
func NewRunID() ID { return New(PrefixRun) }
func NewWorkerID() ID { return New(PrefixWorker) }
func NewBatchID() ID { return New(PrefixBatch) }
func NewEventID() ID { return New(PrefixEvent) }

// ParseExecutionID accepts only "exec_" identifiers, so an API path cannot
// address a run or worker by mistake.
func ParseExecutionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixExecution) }
func ParseRunID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRun) }
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// String returns "prefix_suffix", or "" for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.tid.String()
}

// Prefix is empty for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.valid }

func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText maps empty input to Nil so optional JSON fields decode.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value stores Nil as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.String(), nil
}

// Scan reads TEXT columns written by Value.
func (i *ID) Scan(src any) error {
	var text []byte
	switch v := src.(type) {
	case nil:
	case string:
		text = []byte(v)
	case []byte:
		text = v
	default:
		return fmt.Errorf("id: scan %T: want string, []byte or nil", src)
	}
	return i.UnmarshalText(text)
}
