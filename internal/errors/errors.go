package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// Error types for different categories of failures
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeStorage         ErrorType = "storage"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeComputation     ErrorType = "computation"
	ErrorTypeConfiguration   ErrorType = "configuration"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeImageDecode     ErrorType = "image_decode"
	ErrorTypeCorpusIntegrity ErrorType = "corpus_integrity"
)

// StructuredError provides rich error context
type StructuredError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Stack     []uintptr
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new structured error
func New(errType ErrorType, operation, message string) *StructuredError {
	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, operation, message string) *StructuredError {
	if err == nil {
		return nil
	}

	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// WithContext adds context information to an error
func (e *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// captureStack captures the current stack trace
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, this function and the constructor
	return pcs[:n]
}

// TypeOf returns the type of the outermost StructuredError in the chain,
// or the empty string when there is none.
func TypeOf(err error) ErrorType {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Type
	}
	return ""
}

func isType(err error, t ErrorType) bool {
	for err != nil {
		var se *StructuredError
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Type == t {
			return true
		}
		err = se.Cause
	}
	return false
}

// IsImageDecode reports whether any error in the chain is an image decode error.
func IsImageDecode(err error) bool { return isType(err, ErrorTypeImageDecode) }

// IsCorpusIntegrity reports whether any error in the chain is a corpus integrity error.
func IsCorpusIntegrity(err error) bool { return isType(err, ErrorTypeCorpusIntegrity) }

// IsComputation reports whether any error in the chain is a computation error.
func IsComputation(err error) bool { return isType(err, ErrorTypeComputation) }

// IsTimeout reports whether any error in the chain is a timeout error.
func IsTimeout(err error) bool { return isType(err, ErrorTypeTimeout) }

// Common error constructors for frequent use cases

// NewValidationError creates a validation error
func NewValidationError(operation, message string) *StructuredError {
	return New(ErrorTypeValidation, operation, message)
}

// NewStorageError creates a storage error
func NewStorageError(operation, message string) *StructuredError {
	return New(ErrorTypeStorage, operation, message)
}

// NewComputationError creates a computation error
func NewComputationError(operation, message string) *StructuredError {
	return New(ErrorTypeComputation, operation, message)
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(operation, message string) *StructuredError {
	return New(ErrorTypeConfiguration, operation, message)
}

// NewImageDecodeError creates an image decode error
func NewImageDecodeError(operation, message string) *StructuredError {
	return New(ErrorTypeImageDecode, operation, message)
}

// NewCorpusIntegrityError creates a corpus integrity error
func NewCorpusIntegrityError(operation, message string) *StructuredError {
	return New(ErrorTypeCorpusIntegrity, operation, message)
}

// WrapStorageError wraps an error as a storage error
func WrapStorageError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeStorage, operation, message)
}

// WrapNetworkError wraps an error as a network error
func WrapNetworkError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeNetwork, operation, message)
}

// WrapComputationError wraps an error as a computation error
func WrapComputationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeComputation, operation, message)
}

// WrapConfigurationError wraps an error as a configuration error
func WrapConfigurationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeConfiguration, operation, message)
}

// WrapTimeoutError wraps an error as a timeout error
func WrapTimeoutError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeTimeout, operation, message)
}

// WrapImageDecodeError wraps an error as an image decode error
func WrapImageDecodeError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeImageDecode, operation, message)
}

// WrapCorpusIntegrityError wraps an error as a corpus integrity error
func WrapCorpusIntegrityError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeCorpusIntegrity, operation, message)
}
