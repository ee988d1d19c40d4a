package model

import (
	"errors"
	"fmt"
)

// Error kinds raised while rebuilding the log. None of them is retried;
// each one is counted and logged by the phase that observes it.
var (
	// ErrMalformedContainer: a shard or batch file, or one line of it, is
	// not parseable. The line or file is skipped.
	ErrMalformedContainer = errors.New("malformed container")

	// ErrUnresolvableTimestamp: neither the record key nor createdAt gives
	// a timestamp. The record is dropped from ordering.
	ErrUnresolvableTimestamp = errors.New("unresolvable timestamp")

	// ErrInvalidIdentifier: an identifier does not have the shape needed
	// to extract an actor. The reference is excluded from dangling
	// detection.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrConsistencyViolation: an identifier is both known and dangling.
	// Advisory only.
	ErrConsistencyViolation = errors.New("consistency violation")
)

// Anomaly is a skipped-and-counted failure: a classified, non-fatal error
// with enough context to find the input that caused it.
type Anomaly struct {
	Kind   error  // one of the Err* kinds above
	Source string // file, file:line, or identifier
	Detail string
	Err    error // underlying cause, may be nil
}

// NewAnomaly builds an anomaly of the given kind.
func NewAnomaly(kind error, source, detail string, cause error) *Anomaly {
	return &Anomaly{Kind: kind, Source: source, Detail: detail, Err: cause}
}

func (a *Anomaly) Error() string {
	msg := a.Kind.Error()
	if a.Source != "" {
		msg += " at " + a.Source
	}
	if a.Detail != "" {
		msg += ": " + a.Detail
	}
	if a.Err != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, a.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (a *Anomaly) Unwrap() []error {
	if a.Err == nil {
		return []error{a.Kind}
	}
	return []error{a.Kind, a.Err}
}

// KindName returns a stable snake_case label for an error kind, used for
// metrics labels and ledger rows.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrMalformedContainer):
		return "malformed_container"
	case errors.Is(err, ErrUnresolvableTimestamp):
		return "unresolvable_timestamp"
	case errors.Is(err, ErrInvalidIdentifier):
		return "invalid_identifier"
	case errors.Is(err, ErrConsistencyViolation):
		return "consistency_violation"
	default:
		return "unknown"
	}
}
