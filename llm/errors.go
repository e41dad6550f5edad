package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeRequestTooLarge ErrorType = "request_too_large"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeProvider        ErrorType = "provider"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsRequestTooLargeError checks if an error is a request too large error.
func IsRequestTooLargeError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRequestTooLarge
	}
	return false
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		ProviderErr: providerErr,
	}
}

// NewRequestTooLargeError creates a new request too large error.
func NewRequestTooLargeError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRequestTooLarge,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewProviderError creates a new provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// NewNetworkError creates a new network error. Network errors are not
// retried by the engine.
func NewNetworkError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeNetwork,
		Message:     message,
		ProviderErr: providerErr,
	}
}

// ValidationError reports a malformed message or conversation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// EmptyCompletionError reports a provider stream that ended without text or
// tool calls.
type EmptyCompletionError struct {
	Framework string
	Model     string
}

func (e *EmptyCompletionError) Error() string {
	return fmt.Sprintf("got empty completion from %s model %s", e.Framework, e.Model)
}

// UnknownModelError reports a model that no available framework serves.
type UnknownModelError struct {
	Model       string
	Framework   string // set when the model is known but its framework is unavailable
	Suggestions []string
}

func (e *UnknownModelError) Error() string {
	msg := fmt.Sprintf("model %s does not belong to any framework", e.Model)
	if e.Framework != "" {
		msg = fmt.Sprintf("model %s belongs to framework %s, which is not available", e.Model, e.Framework)
	}
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

// ToolExecutionError reports a tool that failed while being invoked. It is
// rendered into the tool message instead of aborting the turn.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a saved chat that could not be read or written.
type PersistenceError struct {
	Op     string
	Handle string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Handle, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NoFrameworksAvailableError reports that no framework has credentials and models.
type NoFrameworksAvailableError struct {
	Configured []string
}

func (e *NoFrameworksAvailableError) Error() string {
	if len(e.Configured) == 0 {
		return "no frameworks available: no framework is configured"
	}
	return fmt.Sprintf("no frameworks available: none of %s has credentials and models", strings.Join(e.Configured, ", "))
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsEmptyCompletionError checks if an error is an EmptyCompletionError.
func IsEmptyCompletionError(err error) bool {
	var target *EmptyCompletionError
	return errors.As(err, &target)
}

// IsUnknownModelError checks if an error is an UnknownModelError.
func IsUnknownModelError(err error) bool {
	var target *UnknownModelError
	return errors.As(err, &target)
}

// IsToolExecutionError checks if an error is a ToolExecutionError.
func IsToolExecutionError(err error) bool {
	var target *ToolExecutionError
	return errors.As(err, &target)
}

// IsPersistenceError checks if an error is a PersistenceError.
func IsPersistenceError(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// ErrorKind names the class of an error for user-visible reporting.
func ErrorKind(err error) string {
	var (
		llmErr     *Error
		validation *ValidationError
		empty      *EmptyCompletionError
		unknown    *UnknownModelError
		toolErr    *ToolExecutionError
		persist    *PersistenceError
		noFw       *NoFrameworksAvailableError
	)
	switch {
	case errors.As(err, &empty):
		return "EmptyCompletionError"
	case errors.As(err, &validation):
		return "ValidationError"
	case errors.As(err, &unknown):
		return "UnknownModelError"
	case errors.As(err, &toolErr):
		return "ToolExecutionError"
	case errors.As(err, &persist):
		return "PersistenceError"
	case errors.As(err, &noFw):
		return "NoFrameworksAvailableError"
	case errors.As(err, &llmErr):
		return "ProviderError(" + string(llmErr.Type) + ")"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	default:
		return "Error"
	}
}
