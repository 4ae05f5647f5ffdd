package store

import (
	"errors"
	"fmt"
)

// Kind classifies storage failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindStoreUnavailable means the engine is not open (or already closed).
	KindStoreUnavailable
	// KindSchemaMigrationFailed means a shadow-copy-rename rebuild was rolled back.
	KindSchemaMigrationFailed
	// KindSeedApplicationFailed means a seed batch was rolled back and not recorded.
	KindSeedApplicationFailed
	// KindRecordNotFound means a point query matched no row.
	KindRecordNotFound
	// KindInvalidArgument means the caller passed an unusable value.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindStoreUnavailable:
		return "store unavailable"
	case KindSchemaMigrationFailed:
		return "schema migration failed"
	case KindSeedApplicationFailed:
		return "seed application failed"
	case KindRecordNotFound:
		return "record not found"
	case KindInvalidArgument:
		return "invalid argument"
	default:
		return "storage error"
	}
}

// Error is a storage failure tagged with its Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so the Err* sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrStoreUnavailable      = &Error{Kind: KindStoreUnavailable}
	ErrSchemaMigrationFailed = &Error{Kind: KindSchemaMigrationFailed}
	ErrSeedApplicationFailed = &Error{Kind: KindSeedApplicationFailed}
	ErrRecordNotFound        = &Error{Kind: KindRecordNotFound}
	ErrInvalidArgument       = &Error{Kind: KindInvalidArgument}
)

// E builds a tagged error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
