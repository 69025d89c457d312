package metadata

import (
	"errors"
	"fmt"
	"strings"
)

// StoreError represents a domain error from metadata operations.
//
// These are business logic errors (file not found, name taken, file already
// in trash) as opposed to infrastructure errors (store unreachable, blob
// backend failure), which are wrapped with %w and propagated unchanged.
//
// Callers at the edge translate StoreError codes into transport-level
// statuses (e.g. 404 for ErrNotFound, 409 for any conflict).
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the path, name or content hash the error refers to (if applicable)
	Path string

	// State is the authoritative lifecycle state of the file when the error
	// is a lifecycle conflict. Zero value when not applicable.
	State FileState
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// IsConflict reports whether the error belongs to the conflict family.
func (e *StoreError) IsConflict() bool {
	switch e.Code {
	case ErrConflict, ErrAlreadyTrashedOrPurged, ErrDuplicateContent:
		return true
	}
	return false
}

// ErrorCode represents the category of a StoreError.
type ErrorCode int

const (
	// ErrNotFound indicates the requested folder/file doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrConflict indicates the operation lost against existing state:
	// a name is taken, a precondition on lifecycle state did not hold,
	// or a blob version needed for the transition is unavailable.
	ErrConflict

	// ErrAlreadyTrashedOrPurged indicates trash was requested on a file that
	// is no longer ACTIVE. State carries the current state.
	ErrAlreadyTrashedOrPurged

	// ErrDuplicateContent indicates an upload whose content hash already
	// belongs to another active media file in the same space.
	ErrDuplicateContent

	// ErrInvalidPath indicates a malformed path (dot segments, NUL bytes,
	// a root path where a file path was required)
	ErrInvalidPath

	// ErrInvalidName indicates a malformed single name segment
	ErrInvalidName

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: empty tenant id, negative retention
	ErrInvalidArgument

	// ErrCorruptRecord indicates a stored record could not be decoded
	ErrCorruptRecord
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrConflict:
		return "CONFLICT"
	case ErrAlreadyTrashedOrPurged:
		return "ALREADY_TRASHED_OR_PURGED"
	case ErrDuplicateContent:
		return "DUPLICATE_CONTENT"
	case ErrInvalidPath:
		return "INVALID_PATH"
	case ErrInvalidName:
		return "INVALID_NAME"
	case ErrInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrCorruptRecord:
		return "CORRUPT_RECORD"
	default:
		return "UNKNOWN"
	}
}

// NewNotFoundError returns an ErrNotFound error.
func NewNotFoundError(what, path string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: what + " not found", Path: path}
}

// NewConflictError returns an ErrConflict error carrying the current state.
func NewConflictError(message, path string, state FileState) *StoreError {
	return &StoreError{Code: ErrConflict, Message: message, Path: path, State: state}
}

// NewAlreadyTrashedOrPurgedError reports a trash request on a file that is
// no longer ACTIVE.
func NewAlreadyTrashedOrPurgedError(fileID string, state FileState) *StoreError {
	return &StoreError{
		Code:    ErrAlreadyTrashedOrPurged,
		Message: "file is already " + strings.ToLower(state.String()),
		Path:    fileID,
		State:   state,
	}
}

// NewDuplicateContentError reports a media upload whose hash already belongs
// to fileID.
func NewDuplicateContentError(contentHash, fileID string) *StoreError {
	return &StoreError{
		Code:    ErrDuplicateContent,
		Message: "content already stored as file " + fileID,
		Path:    contentHash,
		State:   StateActive,
	}
}

// NewInvalidPathError returns an ErrInvalidPath error.
func NewInvalidPathError(reason, path string) *StoreError {
	return &StoreError{Code: ErrInvalidPath, Message: "invalid path (" + reason + ")", Path: path}
}

// NewInvalidNameError returns an ErrInvalidName error.
func NewInvalidNameError(reason, name string) *StoreError {
	return &StoreError{Code: ErrInvalidName, Message: "invalid name (" + reason + ")", Path: name}
}

// NewInvalidArgumentError returns an ErrInvalidArgument error.
func NewInvalidArgumentError(format string, args ...any) *StoreError {
	return &StoreError{Code: ErrInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// AsStoreError extracts a *StoreError from err.
func AsStoreError(err error) (*StoreError, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// HasCode reports whether err is a StoreError with the given code.
func HasCode(err error, code ErrorCode) bool {
	se, ok := AsStoreError(err)
	return ok && se.Code == code
}

// IsNotFound reports whether err is an ErrNotFound StoreError.
func IsNotFound(err error) bool {
	return HasCode(err, ErrNotFound)
}

// IsConflict reports whether err is any conflict-family StoreError.
func IsConflict(err error) bool {
	se, ok := AsStoreError(err)
	return ok && se.IsConflict()
}
