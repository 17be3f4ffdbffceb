package invoice

import (
	"errors"
	"fmt"
)

// ErrorCode classifies processing failures.
type ErrorCode string

const (
	ErrorEngineFailed     ErrorCode = "ENGINE_FAILED"
	ErrorTaskTimeout      ErrorCode = "TASK_TIMEOUT"
	ErrorTaskPanic        ErrorCode = "TASK_PANIC"
	ErrorInsufficientText ErrorCode = "INSUFFICIENT_TEXT"
	ErrorDetectorFailed   ErrorCode = "DETECTOR_FAILED"
	ErrorNormalizeFailed  ErrorCode = "NORMALIZE_FAILED"
	ErrorInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorInvalidConfig    ErrorCode = "INVALID_CONFIG"
)

// ErrInsufficientText is matched by errors.Is for insufficient-evidence failures.
var ErrInsufficientText = errors.New("insufficient text extracted")

// ProcessingError is a typed failure raised inside a pipeline stage.
type ProcessingError struct {
	Code    ErrorCode
	Stage   string
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s (caused by: %v)", e.Code, e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Code, e.Stage, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match on the error code.
func (e *ProcessingError) Is(target error) bool {
	var pe *ProcessingError
	if errors.As(target, &pe) {
		return pe.Code == e.Code
	}
	if target == ErrInsufficientText {
		return e.Code == ErrorInsufficientText
	}
	return false
}

// CodeOf returns the code of the first ProcessingError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

func NewEngineFailedError(engine, variant string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:    ErrorEngineFailed,
		Stage:   "extract",
		Message: fmt.Sprintf("engine %s failed on variant %s", engine, variant),
		Cause:   cause,
	}
}

func NewTaskTimeoutError(engine, variant string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:    ErrorTaskTimeout,
		Stage:   "extract",
		Message: fmt.Sprintf("engine %s timed out on variant %s", engine, variant),
		Cause:   cause,
	}
}

func NewPanicError(stage string, recovered any) *ProcessingError {
	return &ProcessingError{
		Code:    ErrorTaskPanic,
		Stage:   stage,
		Message: fmt.Sprintf("recovered panic: %v", recovered),
	}
}

func NewInsufficientTextError(length, minLength int) *ProcessingError {
	return &ProcessingError{
		Code:    ErrorInsufficientText,
		Stage:   "extract",
		Message: fmt.Sprintf("extracted %d characters, need at least %d", length, minLength),
		Cause:   ErrInsufficientText,
	}
}

func NewDetectorFailedError(cause error) *ProcessingError {
	return &ProcessingError{
		Code:    ErrorDetectorFailed,
		Stage:   "detect",
		Message: "region detector failed",
		Cause:   cause,
	}
}

func NewInvalidInputError(message string) *ProcessingError {
	return &ProcessingError{
		Code:    ErrorInvalidInput,
		Stage:   "input",
		Message: message,
	}
}

func NewInvalidConfigError(message string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:    ErrorInvalidConfig,
		Stage:   "config",
		Message: message,
		Cause:   cause,
	}
}
