// Package errs defines the exhaustive error-kind vocabulary shared by every
// orchestration component. Callers compare kinds with errors.Is against the
// sentinels below rather than switching on error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds this module raises. New
// failure modes should map onto an existing kind rather than growing this
// list silently.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindResourceExhausted Kind = "resource_exhausted"
	KindTimeout           Kind = "timeout"
	KindPermissionDenied  Kind = "permission_denied"
	KindForbidden         Kind = "forbidden"
	KindUnknownTool       Kind = "unknown_tool"
	KindUnknownAction     Kind = "unknown_action"
	KindSchemaMismatch    Kind = "schema_mismatch"
	KindValidationFailed  Kind = "validation_failed"
	KindSubprocessFailed  Kind = "subprocess_failed"
	KindCancelled         Kind = "cancelled"
)

// Sentinel errors, one per Kind, following the tool registry's
// errors.New-plus-fmt.Errorf("%w: ...") wrapping convention.
var (
	ErrNotFound          = errors.New("not found")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrTimeout           = errors.New("timeout")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrForbidden         = errors.New("forbidden")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrUnknownAction     = errors.New("unknown action")
	ErrSchemaMismatch    = errors.New("schema mismatch")
	ErrValidationFailed  = errors.New("validation failed")
	ErrSubprocessFailed  = errors.New("subprocess failed")
	ErrCancelled         = errors.New("cancelled")
)

var sentinels = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindResourceExhausted: ErrResourceExhausted,
	KindTimeout:           ErrTimeout,
	KindPermissionDenied:  ErrPermissionDenied,
	KindForbidden:         ErrForbidden,
	KindUnknownTool:       ErrUnknownTool,
	KindUnknownAction:     ErrUnknownAction,
	KindSchemaMismatch:    ErrSchemaMismatch,
	KindValidationFailed:  ErrValidationFailed,
	KindSubprocessFailed:  ErrSubprocessFailed,
	KindCancelled:         ErrCancelled,
}

// Wrap annotates the sentinel for kind with a message, preserving errors.Is.
func Wrap(kind Kind, format string, args ...any) error {
	sentinel, ok := sentinels[kind]
	if !ok {
		sentinel = errors.New(string(kind))
	}
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	sentinel, ok := sentinels[kind]
	if !ok {
		return false
	}
	return errors.Is(err, sentinel)
}

// KindOf returns the Kind carried by err, or "" if none of the sentinels
// match. Used by the Response Formatter and Orchestrator to decide
// retry/propagation policy without re-deriving it from error text.
func KindOf(err error) Kind {
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

// Recoverable reports whether a step should retry once with a clarified
// prompt before failing outright: SchemaMismatch and ValidationFailed are
// the only retryable kinds.
func Recoverable(kind Kind) bool {
	return kind == KindSchemaMismatch || kind == KindValidationFailed
}
