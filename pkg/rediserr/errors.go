// Package rediserr defines the coded errors returned by the embedded-redis
// packages. Every failure carries a code, a message, optional context and an
// actionable suggestion so test logs explain what went wrong.
package rediserr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error represents an error with additional context for troubleshooting.
type Error struct {
	// Code identifies the error type
	Code ErrorCode

	// Message is the primary error message
	Message string

	// Context provides additional details
	Context map[string]interface{}

	// Cause is the underlying error (if any)
	Cause error

	// Suggestion provides actionable guidance for resolving the error
	Suggestion string

	// Output holds process output captured before a startup failure
	Output string
}

// ErrorCode identifies categories of errors
type ErrorCode string

const (
	// Environment errors
	ErrorCodePlatformDetection    ErrorCode = "PLATFORM_DETECTION_FAILED"
	ErrorCodeExecutableResolution ErrorCode = "EXECUTABLE_RESOLUTION_FAILED"

	// Configuration errors
	ErrorCodeConfigConflict ErrorCode = "CONFIG_CONFLICT"
	ErrorCodeBuild          ErrorCode = "BUILD_FAILED"
	ErrorCodePortsExhausted ErrorCode = "PORTS_EXHAUSTED"

	// Lifecycle errors
	ErrorCodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"
	ErrorCodeStartup        ErrorCode = "STARTUP_FAILED"
	ErrorCodeStop           ErrorCode = "STOP_FAILED"
)

// Error implements the error interface
func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Code, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	if e.Output != "" {
		parts = append(parts, fmt.Sprintf("Output:\n%s", e.Output))
	}

	return strings.Join(parts, "; ")
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSuggestion adds an actionable suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// WithOutput attaches captured process output
func (e *Error) WithOutput(output string) *Error {
	e.Output = output
	return e
}

// IsCode reports whether any error in err's chain is an *Error with the
// given code. A build failure wrapping a resolution failure matches both.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// Code returns the code of the outermost *Error in err's chain, or "".
func Code(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Suggestion returns the first non-empty suggestion in err's chain.
func Suggestion(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Suggestion != "" {
			return e.Suggestion
		}
		err = e.Cause
	}
	return ""
}

// Common error constructors with helpful suggestions

// PlatformDetection creates an error for an unrecognized host platform
func PlatformDetection(reason string, cause error) *Error {
	return New(ErrorCodePlatformDetection, reason).
		WithCause(cause).
		WithSuggestion("Override the executable for your OS explicitly, or run on linux/darwin (amd64, arm64)")
}

// ExecutableResolution creates an error for a binary that cannot be located or extracted
func ExecutableResolution(platformKey, executable string, cause error) *Error {
	e := New(ErrorCodeExecutableResolution, "Cannot resolve redis executable").
		WithContext("platform", platformKey).
		WithCause(cause)
	if executable != "" {
		e.WithContext("executable", executable)
	}
	return e.WithSuggestion("Point the resolver at an installed binary (e.g. Override(platform.Unix, \"/usr/bin/redis-server\")) or bundle the artifact")
}

// ConfigConflict creates an error for mixing inline settings with a config file
func ConfigConflict(message string) *Error {
	return New(ErrorCodeConfigConflict, message).
		WithSuggestion("Use either Setting(...) lines or ConfigFile(...), not both")
}

// Build creates an error for a builder that cannot produce an instance
func Build(message string, cause error) *Error {
	return New(ErrorCodeBuild, message).WithCause(cause)
}

// PortsExhausted creates an error for a predefined port list that ran out
func PortsExhausted(count int) *Error {
	return New(ErrorCodePortsExhausted, "Predefined ports exhausted").
		WithContext("ports", count).
		WithSuggestion("Provide more ports or use a sequence/ephemeral provider")
}

// AlreadyRunning creates an error for starting an instance that is already ready
func AlreadyRunning(instanceID string) *Error {
	return New(ErrorCodeAlreadyRunning, "Instance is already running").
		WithContext("instance_id", instanceID).
		WithSuggestion("Call Stop() before starting the instance again")
}

// Startup creates an error for a process that never reported readiness
func Startup(instanceID, role string, output string, cause error) *Error {
	return New(ErrorCodeStartup, fmt.Sprintf("%s failed to become ready", role)).
		WithContext("instance_id", instanceID).
		WithCause(cause).
		WithOutput(output).
		WithSuggestion("Inspect the captured output above; common causes are a port already in use or an invalid setting")
}

// Stop creates an error for a process that could not be reaped
func Stop(instanceID string, cause error) *Error {
	return New(ErrorCodeStop, "Failed to stop instance").
		WithContext("instance_id", instanceID).
		WithCause(cause)
}
