package record

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes catsync errors.
type ErrorCode string

const (
	// ErrCodeInvalidCandidate marks malformed or incomplete upstream data.
	// Local to one record: the sync pass continues.
	ErrCodeInvalidCandidate ErrorCode = "INVALID_CANDIDATE"

	// ErrCodeConcurrentModification marks an exhausted conditional-apply retry budget.
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"

	// ErrCodeCheckpointUnresolvable marks a watermark cursor missing from upstream
	// history. It triggers a full resync and is not a fault.
	ErrCodeCheckpointUnresolvable ErrorCode = "CHECKPOINT_UNRESOLVABLE"

	// ErrCodeStoreUnavailable marks a storage failure. Fatal to a sync pass.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// ErrCodeNotFound marks a curation request against an unknown record.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeEditConflict marks a curation write made against a stale edit_version.
	ErrCodeEditConflict ErrorCode = "EDIT_CONFLICT"

	// ErrCodeInvalidTransition marks an illegal lifecycle transition.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Error is the typed error carried across catsync packages.
type Error struct {
	Code     ErrorCode
	Message  string
	RecordID string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RecordID != "" {
		msg = fmt.Sprintf("%s (record=%s)", msg, e.RecordID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the error code, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

func IsInvalidCandidate(err error) bool {
	return CodeOf(err) == ErrCodeInvalidCandidate
}

func IsConcurrentModification(err error) bool {
	return CodeOf(err) == ErrCodeConcurrentModification
}

func IsCheckpointUnresolvable(err error) bool {
	return CodeOf(err) == ErrCodeCheckpointUnresolvable
}

func IsStoreUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeStoreUnavailable
}

func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

func IsEditConflict(err error) bool {
	return CodeOf(err) == ErrCodeEditConflict
}

func IsInvalidTransition(err error) bool {
	return CodeOf(err) == ErrCodeInvalidTransition
}

// NewInvalidCandidate creates an INVALID_CANDIDATE error.
func NewInvalidCandidate(recordID, format string, args ...any) *Error {
	return &Error{
		Code:     ErrCodeInvalidCandidate,
		Message:  fmt.Sprintf(format, args...),
		RecordID: recordID,
	}
}

// NewConcurrentModification creates a CONCURRENT_MODIFICATION error.
func NewConcurrentModification(recordID string, attempts int, err error) *Error {
	return &Error{
		Code:     ErrCodeConcurrentModification,
		Message:  fmt.Sprintf("gave up after %d conflicting attempts", attempts),
		RecordID: recordID,
		Err:      err,
	}
}

// NewCheckpointUnresolvable creates a CHECKPOINT_UNRESOLVABLE error.
func NewCheckpointUnresolvable(cursor string) *Error {
	return &Error{
		Code:    ErrCodeCheckpointUnresolvable,
		Message: fmt.Sprintf("cursor %q not found in upstream history", cursor),
	}
}

// NewStoreUnavailable wraps a storage failure.
func NewStoreUnavailable(recordID string, err error) *Error {
	return &Error{
		Code:     ErrCodeStoreUnavailable,
		Message:  "record store unavailable",
		RecordID: recordID,
		Err:      err,
	}
}

// NewNotFound creates a NOT_FOUND error.
func NewNotFound(recordID string) *Error {
	return &Error{
		Code:     ErrCodeNotFound,
		Message:  "record not found",
		RecordID: recordID,
	}
}

// NewEditConflict creates an EDIT_CONFLICT error.
func NewEditConflict(recordID string, expected, actual int64) *Error {
	return &Error{
		Code:     ErrCodeEditConflict,
		Message:  fmt.Sprintf("edit_version is %d, request expected %d", actual, expected),
		RecordID: recordID,
	}
}

// NewInvalidTransition creates an INVALID_TRANSITION error.
func NewInvalidTransition(recordID string, from, to Status, reason string) *Error {
	return &Error{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("%s -> %s: %s", from, to, reason),
		RecordID: recordID,
	}
}
