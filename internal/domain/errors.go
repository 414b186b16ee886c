package domain

import "errors"

// Error kinds returned by the workflow. Callers match them with errors.Is;
// the concrete error usually wraps one of these with detail.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyLocked     = errors.New("already locked")
	ErrNotLockHolder     = errors.New("not lock holder")
	ErrConflict          = errors.New("conflict")
	ErrInvalidParent     = errors.New("invalid parent comment")
	ErrValidation        = errors.New("validation failed")
	ErrUnavailable       = errors.New("store unavailable")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrForbidden, "forbidden"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrAlreadyLocked, "already_locked"},
	{ErrNotLockHolder, "not_lock_holder"},
	{ErrConflict, "conflict"},
	{ErrInvalidParent, "invalid_parent"},
	{ErrValidation, "validation_error"},
	{ErrUnavailable, "unavailable"},
}

// ErrorCode returns the stable code of the taxonomy error wrapped by err,
// "ok" for nil and "internal" for anything else.
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
