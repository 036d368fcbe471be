package csrf

import "errors"

// Verification and construction errors. Verify wraps ErrTokenMissing and
// ErrTokenMismatch with detail; match them with errors.Is.
var (
	ErrTokenMissing         = errors.New("csrf: token missing")
	ErrTokenMismatch        = errors.New("csrf: token mismatch")
	ErrInvalidConfiguration = errors.New("csrf: invalid configuration")
)

// Reason returns the short failure reason used in logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTokenMissing):
		return "missing"
	case errors.Is(err, ErrTokenMismatch):
		return "mismatch"
	case errors.Is(err, ErrInvalidConfiguration):
		return "invalid_configuration"
	default:
		return "error"
	}
}
