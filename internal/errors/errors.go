// Package errors defines the failure taxonomy for the analysis pipeline.
// The governing policy is isolate-and-continue: per-commit and per-file
// failures never abort a multi-thousand-commit walk.
package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes a pipeline error.
type Kind int

const (
	// KindTransient covers unreachable external services (embedding,
	// parser, hosting API). The affected unit of work is skipped.
	KindTransient Kind = iota
	// KindNotFound covers a missing commit, file, or review request
	// referenced by an event. Only that item is aborted.
	KindNotFound
	// KindConsistency covers internally contradictory data, e.g. an
	// import resolving to a self-referential edge. The datum is dropped.
	KindConsistency
	// KindFatal covers an unreachable or unreadable repository. The
	// whole run aborts and the repository is marked errored.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "TRANSIENT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConsistency:
		return "CONSISTENCY"
	case KindFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Error is a categorized pipeline error wrapping an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind so errors.Is(err, &Error{Kind: KindTransient}) works
// across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Transient wraps err as a transient external failure.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Cause: err}
}

// NotFound reports a missing referenced entity.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Consistency reports contradictory data that was dropped.
func Consistency(format string, args ...any) *Error {
	return &Error{Kind: KindConsistency, Message: fmt.Sprintf(format, args...)}
}

// Fatal wraps err as a run-aborting ingestion failure.
func Fatal(msg string, err error) *Error {
	return &Error{Kind: KindFatal, Message: msg, Cause: err}
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// IsTransient reports whether err is a transient external failure.
func IsTransient(err error) bool { return IsKind(err, KindTransient) }

// IsFatal reports whether err should abort the entire run.
func IsFatal(err error) bool { return IsKind(err, KindFatal) }
