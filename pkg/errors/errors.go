// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application.
const (
	CodeUnknown         = "UNKNOWN_ERROR"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeUploadError      = "UPLOAD_ERROR"
	CodeDownloadError    = "DOWNLOAD_ERROR"
	CodeEmptyFile        = "EMPTY_FILE"
	CodeParseError       = "PARSE_ERROR"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeTimeout          = "TIMEOUT_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeConfigError      = "CONFIG_ERROR"
	CodeConfigConflict   = "CONFIG_CONFLICT"
	CodeSchemaError      = "SCHEMA_ERROR"
	CodeSnapshotLost     = "SNAPSHOT_LOST"
	CodeSinkError        = "SINK_ERROR"
	CodeCycleDetected    = "CYCLE_DETECTED"
	CodeConstraintError  = "CONSTRAINT_ERROR"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	ErrDatabaseError  = New(CodeDatabaseError, "database error")
	ErrUploadError    = New(CodeUploadError, "upload error")
	ErrDownloadError  = New(CodeDownloadError, "download error")
	ErrEmptyFile      = New(CodeEmptyFile, "empty file")
	ErrParseError     = New(CodeParseError, "parse error")
	ErrInvalidInput   = New(CodeInvalidInput, "invalid input")
	ErrTimeout        = New(CodeTimeout, "operation timeout")
	ErrNotFound       = New(CodeNotFound, "resource not found")
	ErrConfigError    = New(CodeConfigError, "configuration error")
	// ErrConfigConflict indicates two configuration knobs each select a
	// mutually exclusive behavior (e.g. slice output with include_schema,
	// or a single-transaction restore with parallelism above 1).
	ErrConfigConflict = New(CodeConfigConflict, "conflicting configuration")
	// ErrSchemaError indicates the schema graph could not be built: a
	// duplicate table id, a reference naming an unknown table, or similar.
	ErrSchemaError = New(CodeSchemaError, "schema error")
	// ErrSnapshotLost indicates the exported snapshot id was no longer
	// valid when a worker session tried to import it.
	ErrSnapshotLost = New(CodeSnapshotLost, "snapshot no longer available")
	// ErrSinkError indicates a segment sink failed to open, write, or close.
	ErrSinkError = New(CodeSinkError, "sink error")
	// ErrCycleDetected indicates the restore dependency graph has a cycle
	// that cannot be broken by deferrable constraints alone.
	ErrCycleDetected = New(CodeCycleDetected, "dependency cycle detected")
	// ErrConstraintError indicates a foreign key constraint query or a
	// SET CONSTRAINTS statement failed.
	ErrConstraintError = New(CodeConstraintError, "constraint error")
)

// IsDatabaseError checks if the error is a database error.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabaseError)
}

// IsUploadError checks if the error is an upload error.
func IsUploadError(err error) bool {
	return errors.Is(err, ErrUploadError)
}

// IsDownloadError checks if the error is a download error.
func IsDownloadError(err error) bool {
	return errors.Is(err, ErrDownloadError)
}

// IsEmptyFileError checks if the error is an empty file error.
func IsEmptyFileError(err error) bool {
	return errors.Is(err, ErrEmptyFile)
}

// IsSchemaError checks if the error is a schema graph error.
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrSchemaError)
}

// IsCycleDetected checks if the error is a dependency cycle error.
func IsCycleDetected(err error) bool {
	return errors.Is(err, ErrCycleDetected)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// ErrorInfo provides error information mapping (mirrors the dump/restore
// error categories from the tool this package was ported from).
var ErrorInfo = map[string]string{
	"DatabaseError":   CodeDatabaseError,
	"UploadError":     CodeUploadError,
	"DownloadError":   CodeDownloadError,
	"EmptyFile":       CodeEmptyFile,
	"SchemaError":     CodeSchemaError,
	"SnapshotLost":    CodeSnapshotLost,
	"SinkError":       CodeSinkError,
	"CycleDetected":   CodeCycleDetected,
	"ConstraintError": CodeConstraintError,
}
