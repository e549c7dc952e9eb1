package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a malformed or disallowed request.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the resource state does not allow the operation.
	ErrConflict = errors.New("conflict")
	// ErrUpstream indicates a remote system (ERP or shop) failed.
	ErrUpstream = errors.New("upstream failure")
)
