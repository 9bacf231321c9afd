// Package werrors implements the error taxonomy of §7 of the did:webplus
// core spec: a small set of named failure kinds that every component
// surfaces through, so callers can distinguish "cannot decide" (retryable)
// from "decided invalid" (fatal) without string-matching messages.
//
// It follows the teacher's plain fmt.Errorf("...: %w", err) wrapping
// convention rather than reaching for a third-party errors package.
package werrors

import (
	"errors"
	"fmt"
)

// Kind names one of the taxonomy's failure categories.
type Kind string

const (
	Malformed          Kind = "malformed"
	InvalidSelfHash    Kind = "invalid_self_hash"
	InvalidChainLink   Kind = "invalid_chain_link"
	UnauthorizedUpdate Kind = "unauthorized_update"
	AlreadyExists      Kind = "already_exists"
	RecordCorruption   Kind = "record_corruption"
	NotFound           Kind = "not_found"
	FetchFailed        Kind = "fetch_failed"
	StaleLatest        Kind = "stale_latest"
	Unsupported        Kind = "unsupported"
)

// Error wraps an underlying cause with a taxonomy Kind and the operation
// that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// SelfHash optionally carries the self-hash of the offending record,
	// per §7's RecordCorruption contract ("surfaced with the offending
	// self-hash").
	SelfHash string
}

func (e *Error) Error() string {
	if e.SelfHash != "" {
		return fmt.Sprintf("%s: %s (selfHash=%s): %v", e.Op, e.Kind, e.SelfHash, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an *Error for op/kind, optionally wrapping cause.
func E(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// WithSelfHash attaches a self-hash to an *Error for diagnostics.
func WithSelfHash(err *Error, selfHash string) *Error {
	err.SelfHash = selfHash
	return err
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether the failure kind represents a transient
// condition (§7: "Network errors ... are retryable") rather than a
// validated-invalid verdict.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case FetchFailed, NotFound:
		return true
	default:
		return false
	}
}
