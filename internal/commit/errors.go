package commit

import (
	"errors"
	"fmt"
)

// ApplyErrorCode categorizes apply integrity failures.
type ApplyErrorCode string

const (
	// CodeNotFound indicates the preview does not exist.
	CodeNotFound ApplyErrorCode = "not_found"

	// CodeExpired indicates the preview outlived its TTL.
	CodeExpired ApplyErrorCode = "expired"

	// CodeHashMismatch indicates the committed candidate set differs from
	// the reviewed one.
	CodeHashMismatch ApplyErrorCode = "hash_mismatch"
)

// Status returns the HTTP-style status a caller reports for the code.
func (c ApplyErrorCode) Status() int {
	if c == CodeNotFound {
		return 404
	}
	return 409
}

// ApplyError is an integrity failure detected before any write.
type ApplyError struct {
	Code      ApplyErrorCode
	PreviewID string
	Message   string
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s: %s (preview=%s)", e.Code, e.Message, e.PreviewID)
}

// Status returns the HTTP-style status for the error.
func (e *ApplyError) Status() int { return e.Code.Status() }

// ApplyFailure is the structured body a caller reads for a rejected apply.
type ApplyFailure struct {
	Error     ApplyErrorCode `json:"error"`
	Code      int            `json:"code"`
	PreviewID string         `json:"preview_id"`
	Message   string         `json:"message"`
}

// Failure returns the caller-facing body for e.
func (e *ApplyError) Failure() ApplyFailure {
	return ApplyFailure{Error: e.Code, Code: e.Status(), PreviewID: e.PreviewID, Message: e.Message}
}

// IsApplyError reports whether err wraps an ApplyError with code.
func IsApplyError(err error, code ApplyErrorCode) bool {
	var ae *ApplyError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// ValidationError is an input error naming the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
