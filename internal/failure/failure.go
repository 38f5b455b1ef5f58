// Package failure defines the error kinds a training run can end with.
package failure

import (
	"github.com/pkg/errors"
)

// #region kinds
var (
	// ErrInvalidConfiguration marks bad hyperparameters or split settings.
	// It is always raised before any backend I/O.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrBackendUnavailable marks a tracking endpoint that cannot be reached.
	ErrBackendUnavailable = errors.New("tracking backend unavailable")
)

// #endregion kinds

// #region constructors
// Invalidf returns an ErrInvalidConfiguration carrying a formatted detail.
func Invalidf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfiguration, format, args...)
}

// Unavailable wraps a transport error as ErrBackendUnavailable.
func Unavailable(cause error, endpoint string) error {
	return errors.Wrapf(ErrBackendUnavailable, "%s: %v", endpoint, cause)
}

// #endregion constructors

// #region predicates
// IsInvalid reports whether err is (or wraps) ErrInvalidConfiguration.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

// IsUnavailable reports whether err is (or wraps) ErrBackendUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// #endregion predicates
