// Package syncerr defines the error taxonomy from spec.md §7 and the
// mapping each kind has to a host result code. Every package in this
// module wraps failures with fmt.Errorf("...: %w", err) the way warren's
// pkg/storage and pkg/manager do; syncerr only adds the Kind tag that lets
// an outermost host boundary choose the right result code.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purpose of mapping it to a host result
// code at the outermost boundary (spec.md §7).
type Kind int

const (
	// KindInternal is the catch-all; maps to INTERNAL.
	KindInternal Kind = iota
	// KindStorage wraps a failed host-database call; rendered with the
	// host's own error message at the outermost boundary.
	KindStorage
	// KindArgument means the caller supplied malformed input; maps to
	// CONSTRAINT_DATATYPE.
	KindArgument
	// KindState means an operation was invoked in the wrong state; maps
	// to MISUSE.
	KindState
	// KindProtocol means the server produced a line we cannot reconcile;
	// maps to ABORT and closes the sync iteration.
	KindProtocol
	// KindLocalData means malformed JSON was found in our own storage;
	// maps to CORRUPT.
	KindLocalData
	// KindMissingClientID maps to ABORT.
	KindMissingClientID
	// KindDownMigration means a down-migration did not update the schema
	// version; maps to ABORT.
	KindDownMigration
)

// ResultCode is the host error code family this module reports to (SQLite
// extended result codes, per spec.md §7 and §6).
type ResultCode string

const (
	ResultConstraintDatatype ResultCode = "CONSTRAINT_DATATYPE"
	ResultMisuse             ResultCode = "MISUSE"
	ResultAbort              ResultCode = "ABORT"
	ResultCorrupt            ResultCode = "CORRUPT"
	ResultInternal           ResultCode = "INTERNAL"
)

// Code returns the host result code this kind maps to.
func (k Kind) Code() ResultCode {
	switch k {
	case KindArgument:
		return ResultConstraintDatatype
	case KindState:
		return ResultMisuse
	case KindProtocol, KindMissingClientID, KindDownMigration:
		return ResultAbort
	case KindLocalData:
		return ResultCorrupt
	case KindStorage:
		// Storage errors are rendered with the host's own message rather
		// than remapped, but ABORT is the closest fallback code.
		return ResultAbort
	default:
		return ResultInternal
	}
}

// Error is a syncbase error tagged with a Kind for host-boundary mapping.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Context == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Context, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with kind and an optional context string, preserving err
// for errors.Is/errors.As the way fmt.Errorf("%w", ...) does.
func Wrap(kind Kind, context string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Context: context, Err: err}
}

// Storagef formats a storage-layer failure.
func Storagef(context string, err error) error {
	return Wrap(KindStorage, context, err)
}

// Argumentf formats a caller-input failure.
func Argumentf(format string, args ...any) error {
	return Wrap(KindArgument, "", fmt.Errorf(format, args...))
}

// Statef formats a wrong-state failure.
func Statef(format string, args ...any) error {
	return Wrap(KindState, "", fmt.Errorf(format, args...))
}

// Protocolf formats a sync-protocol failure.
func Protocolf(format string, args ...any) error {
	return Wrap(KindProtocol, "", fmt.Errorf(format, args...))
}

// LocalDataf formats a local-storage corruption failure.
func LocalDataf(context string, err error) error {
	return Wrap(KindLocalData, context, err)
}

// ErrMissingClientID is returned when powersync_client_id() is called
// before a client id has ever been generated.
var ErrMissingClientID = Wrap(KindMissingClientID, "", errors.New("no client_id has been generated"))

// KindOf extracts the Kind from err, defaulting to KindInternal if err was
// not produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
