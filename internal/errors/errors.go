// Package errors defines the failure taxonomy of a chat turn and the
// retryable/permanent classification used when talking to the model API.
//
// Tool-level failures (ErrUnknownTool, ToolExecutionError) are recovered by the
// orchestrator and shown to the model as tool results. ErrMalformedToolInput is
// logged and the tool call dropped. ModelCallError and ErrCorruptTranscript are
// surfaced to the caller.
package errors

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrUnknownTool is returned when no registered provider owns a tool name.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMalformedToolInput is returned when streamed tool arguments are not valid JSON.
	ErrMalformedToolInput = errors.New("malformed tool input")
	// ErrCorruptTranscript is returned when a persisted chat cannot be parsed.
	ErrCorruptTranscript = errors.New("corrupt transcript")
	// ErrTooManyToolRounds is returned when a turn keeps calling tools past the configured cap.
	ErrTooManyToolRounds = errors.New("too many tool rounds")
)

// ErrorType categorizes errors for retry decisions
type ErrorType string

const (
	// ErrorTypeRetryable indicates the error might succeed on retry
	ErrorTypeRetryable ErrorType = "retryable"
	// ErrorTypePermanent indicates the error will not succeed on retry
	ErrorTypePermanent ErrorType = "permanent"
	// ErrorTypePanic indicates a panic was recovered
	ErrorTypePanic ErrorType = "panic"
)

// ToolExecutionError is a provider-level failure while running a tool.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// ModelCallError is a transport or API failure talking to the model. It ends
// the current turn.
type ModelCallError struct {
	Err error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call failed: %v", e.Err)
}

func (e *ModelCallError) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the turn could succeed.
func (e *ModelCallError) Retryable() bool {
	return IsRetryable(e.Err)
}

// RetryableError represents errors that may succeed on retry
// Examples: network timeouts, rate limits, temporary unavailability
type RetryableError struct {
	Err  error
	Kind string
}

func (e *RetryableError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("[retryable:%s] %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("[retryable] %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// PermanentError represents errors that will not succeed on retry
// Examples: bad requests, authentication failures, invalid arguments
type PermanentError struct {
	Err  error
	Kind string
}

func (e *PermanentError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("[permanent:%s] %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("[permanent] %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps an error as retryable
func NewRetryableError(err error, kind string) error {
	return &RetryableError{Err: err, Kind: kind}
}

// NewPermanentError wraps an error as permanent
func NewPermanentError(err error, kind string) error {
	return &PermanentError{Err: err, Kind: kind}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	return ClassifyError(err) == ErrorTypeRetryable
}

// IsPermanent checks if an error is permanent
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	return ClassifyError(err) == ErrorTypePermanent
}

// ClassifyError determines the error type based on error message patterns.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}
	if errors.Is(err, ErrUnknownTool) || errors.Is(err, ErrMalformedToolInput) ||
		errors.Is(err, ErrCorruptTranscript) || errors.Is(err, ErrTooManyToolRounds) {
		return ErrorTypePermanent
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorTypeRetryable
	}

	msg := strings.ToLower(err.Error())

	retryablePatterns := []string{
		// Network errors
		"connection refused",
		"connection reset",
		"no such host",
		"timeout",
		"deadline exceeded",
		"temporary failure",
		"network is unreachable",
		"broken pipe",
		"unexpected eof",
		// Rate limiting
		"rate limit",
		"too many requests",
		"429",
		"503",
		"529",
		"overloaded",
		"service unavailable",
		// API errors
		"server_error",
		"api_error",
		"internal server error",
		"500",
		"502",
		"504",
		"gateway timeout",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return ErrorTypeRetryable
		}
	}

	permanentPatterns := []string{
		"invalid argument",
		"bad request",
		"invalid_request_error",
		"not found",
		"404",
		"unauthorized",
		"authentication",
		"forbidden",
		"401",
		"403",
		"panic:",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(msg, pattern) {
			return ErrorTypePermanent
		}
	}

	// Unknown API failures are not worth replaying a whole turn for.
	return ErrorTypePermanent
}

// RecoveryResult holds the result of a recovered panic
type RecoveryResult struct {
	Recovered  bool
	PanicValue interface{}
	ErrorMsg   string
	ErrorType  ErrorType
}

// RecoverPanic converts a recovered panic value into a RecoveryResult.
// Use with defer:
//
//	defer func() {
//	    if r := errors.RecoverPanic(recover()); r.Recovered {
//	        // Handle recovered panic
//	    }
//	}()
func RecoverPanic(r interface{}) RecoveryResult {
	if r == nil {
		return RecoveryResult{Recovered: false}
	}

	result := RecoveryResult{
		Recovered:  true,
		PanicValue: r,
		ErrorType:  ErrorTypePanic,
	}

	switch v := r.(type) {
	case error:
		result.ErrorMsg = fmt.Sprintf("panic: %v", v)
	case string:
		result.ErrorMsg = fmt.Sprintf("panic: %s", v)
	default:
		result.ErrorMsg = fmt.Sprintf("panic: %+v", v)
	}

	return result
}

// CalculateBackoff calculates exponential backoff delay
// baseDelay: initial delay
// retryCount: current retry attempt (0-indexed)
// maxDelay: maximum delay cap
func CalculateBackoff(baseDelay time.Duration, retryCount int, maxDelay time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := baseDelay * (1 << retryCount)

	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}

	return delay
}
