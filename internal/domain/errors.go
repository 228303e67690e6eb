package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is against the value returned by any
// pipeline operation.
var (
	ErrFetch         = errors.New("fetch failed")
	ErrDecode        = errors.New("decode failed")
	ErrProjection    = errors.New("projection failed")
	ErrShapeMismatch = errors.New("raster shape mismatch")
	ErrIO            = errors.New("io failed")
	ErrConfig        = errors.New("invalid configuration")
)

// Error ties a failure to one of the error kinds above and the operation
// that produced it.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func wrap(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FetchError marks err as a network or remote-service failure.
func FetchError(op string, err error) error { return wrap(ErrFetch, op, err) }

// DecodeError marks err as a corrupt or unreadable artifact.
func DecodeError(op string, err error) error { return wrap(ErrDecode, op, err) }

// ProjectionError marks err as a clip or CRS failure.
func ProjectionError(op string, err error) error { return wrap(ErrProjection, op, err) }

// ShapeMismatchError marks an attempt to combine rasters on different grids.
func ShapeMismatchError(op string, err error) error { return wrap(ErrShapeMismatch, op, err) }

// IOError marks a filesystem read or write failure.
func IOError(op string, err error) error { return wrap(ErrIO, op, err) }

// ConfigError marks an invalid externally supplied option.
func ConfigError(op string, err error) error { return wrap(ErrConfig, op, err) }
