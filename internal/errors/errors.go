// Package errors defines the structured error types used across the
// plantbuild pipeline.
//
// Errors carry a type classifying the failure (configuration, include
// resolution, rendering, writing) plus an optional code and the path of
// the diagram source they relate to. Only configuration errors are
// fatal to a run; all other kinds are scoped to a single source or
// render job and are collected into the run report.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInclude  ErrorType = "include"
	ErrorTypeRender   ErrorType = "render"
	ErrorTypeWrite    ErrorType = "write"
	ErrorTypeInternal ErrorType = "internal"
)

// BuildError is a structured error type with context.
type BuildError struct {
	Type    ErrorType
	Code    string
	Message string
	Path    string
	Cause   error
	// Fatal errors abort the whole run; non-fatal errors are scoped
	// to one source or job.
	Fatal bool
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *BuildError) Is(target error) bool {
	var t *BuildError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithPath attaches the source path the error relates to.
func (e *BuildError) WithPath(path string) *BuildError {
	e.Path = path

	return e
}

// Error creation functions

// NewConfigError creates a fatal configuration error.
func NewConfigError(code, message string) *BuildError {
	return &BuildError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
		Fatal:   true,
	}
}

// NewIncludeError creates an include resolution error scoped to one source.
func NewIncludeError(code, message string, cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeInclude,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewRenderError creates a backend render error scoped to one job.
func NewRenderError(code, message string, cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeRender,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewWriteError creates an output write error scoped to one job.
func NewWriteError(code, message string, cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeWrite,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Classification helpers

// TypeOf returns the error type of err, or ErrorTypeInternal when err
// is not a BuildError.
func TypeOf(err error) ErrorType {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Type
	}

	return ErrorTypeInternal
}

// IsFatal checks whether an error should abort the whole run.
func IsFatal(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Fatal
	}

	return false
}

// IsConfigError checks if an error is configuration-related.
func IsConfigError(err error) bool {
	return TypeOf(err) == ErrorTypeConfig
}

// IsIncludeError checks if an error is include-resolution-related.
func IsIncludeError(err error) bool {
	return TypeOf(err) == ErrorTypeInclude
}

// IsRenderError checks if an error is render-related.
func IsRenderError(err error) bool {
	return TypeOf(err) == ErrorTypeRender
}

// IsWriteError checks if an error is write-related.
func IsWriteError(err error) bool {
	return TypeOf(err) == ErrorTypeWrite
}

// Common error codes.
const (
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeRootNotFound     = "ERR_ROOT_NOT_FOUND"
	ErrCodeMultipleRoots    = "ERR_MULTIPLE_ROOTS"
	ErrCodeIncludeNotFound  = "ERR_INCLUDE_NOT_FOUND"
	ErrCodeIncludeCycle     = "ERR_INCLUDE_CYCLE"
	ErrCodeIncludeSyntax    = "ERR_INCLUDE_SYNTAX"
	ErrCodeRendererNotFound = "ERR_RENDERER_NOT_FOUND"
	ErrCodeRenderFailed     = "ERR_RENDER_FAILED"
	ErrCodeRenderTimeout    = "ERR_RENDER_TIMEOUT"
	ErrCodeServerStatus     = "ERR_SERVER_STATUS"
	ErrCodeWriteFailed      = "ERR_WRITE_FAILED"
	ErrCodeInternalError    = "ERR_INTERNAL"
)

// Helper constructors for common failures

// ErrRootNotFound creates a missing diagram root error.
func ErrRootNotFound(root string) *BuildError {
	return NewConfigError(ErrCodeRootNotFound, "diagram root does not exist: "+root)
}

// ErrMultipleRoots creates an error for multiple roots without permission.
func ErrMultipleRoots(count int) *BuildError {
	return NewConfigError(
		ErrCodeMultipleRoots,
		fmt.Sprintf("%d diagram roots configured but allow_multiple_roots is false", count),
	)
}

// ErrIncludeNotFound creates a missing include target error.
func ErrIncludeNotFound(operand string) *BuildError {
	return NewIncludeError(ErrCodeIncludeNotFound, "include could not be resolved: "+operand, nil)
}

// ErrIncludeCycle creates an include cycle error.
func ErrIncludeCycle(path string) *BuildError {
	return NewIncludeError(ErrCodeIncludeCycle, "include cycle detected at: "+path, nil)
}

// ErrRenderFailed creates a backend render failure error.
func ErrRenderFailed(message string, cause error) *BuildError {
	return NewRenderError(ErrCodeRenderFailed, message, cause)
}

// ErrWriteFailed creates an output write failure error.
func ErrWriteFailed(dest string, cause error) *BuildError {
	return NewWriteError(ErrCodeWriteFailed, "writing output: "+dest, cause)
}
