// Package errors re-exports github.com/cockroachdb/errors so the rest of the
// module has a single import for wrapping, marking and inspecting errors, and
// declares the sentinel errors shared across packages.
//
//	if err := ledger.RecordBooking(id); err != nil {
//	    return errors.Wrap(err, "record booking")
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// Hints and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	FlattenHints  = crdb.FlattenHints
	GetAllDetails = crdb.GetAllDetails
)

// Inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Mark      = crdb.Mark
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinels. Wrap or Mark them to add context while keeping errors.Is working.
var (
	// ErrNotFound indicates the requested element, record or file does not exist.
	ErrNotFound = New("not found")

	// ErrInvalidConfig indicates a configuration value failed validation.
	ErrInvalidConfig = New("invalid configuration")

	// ErrUnavailable indicates a remote collaborator (driver, webhook, database) could not be reached.
	ErrUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = New("operation timed out")

	// ErrCorrupt indicates persisted state could not be decoded.
	ErrCorrupt = New("corrupt state")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidConfig reports whether err is or wraps ErrInvalidConfig.
func IsInvalidConfig(err error) bool {
	return err != nil && Is(err, ErrInvalidConfig)
}

// InvalidConfigf builds a validation error marked with ErrInvalidConfig.
func InvalidConfigf(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrInvalidConfig)
}
