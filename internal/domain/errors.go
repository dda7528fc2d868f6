package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError with the same code and message, so a sentinel
// wrapped around a cause still satisfies errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrap attaches a cause to a sentinel while keeping its identity
func Wrap(sentinel *DomainError, cause error) *DomainError {
	return NewDomainErrorWithCause(sentinel.Code, sentinel.Message, cause)
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Failure classes used by the training pipeline
const (
	ErrCodeRetryable            = "RETRYABLE"
	ErrCodeNonRetryable         = "NON_RETRYABLE"
	ErrCodeResourceExhausted    = "RESOURCE_EXHAUSTED"
	ErrCodeConsistencyViolation = "CONSISTENCY_VIOLATION"
)

// Validation errors
var (
	ErrInvalidTrainingMode  = NewDomainError(ErrCodeValidation, "invalid training mode")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrUnknownModel         = NewDomainError(ErrCodeValidation, "unknown model")
	ErrNoChunks             = NewDomainError(ErrCodeValidation, "no chunks to enqueue")
	ErrInvalidSearch        = NewDomainError(ErrCodeValidation, "invalid search request")
)

// Not found errors
var (
	ErrDatasetNotFound     = NewDomainError(ErrCodeNotFound, "dataset not found")
	ErrDatasetDataNotFound = NewDomainError(ErrCodeNotFound, "dataset data not found")
	ErrTrainingJobNotFound = NewDomainError(ErrCodeNotFound, "training job not found")
	ErrObjectNotFound      = NewDomainError(ErrCodeNotFound, "object not found")
)

// Already exists errors
var (
	ErrDatasetAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "dataset already exists")
)

// Authorization errors
var (
	ErrInvalidAPIKey    = NewDomainError(ErrCodeUnauthorized, "invalid api key")
	ErrDatasetForbidden = NewDomainError(ErrCodeForbidden, "dataset belongs to another team")
)

// Retryable errors: the job is requeued with one less retry
var (
	ErrRateLimited   = NewDomainError(ErrCodeRetryable, "embedding provider rate limited")
	ErrUpstream      = NewDomainError(ErrCodeRetryable, "embedding provider error")
	ErrTransientData = NewDomainError(ErrCodeRetryable, "transient storage error")
)

// Non-retryable errors: the job fails immediately
var (
	ErrInvalidInput      = NewDomainError(ErrCodeNonRetryable, "invalid embedding input")
	ErrDimensionMismatch = NewDomainError(ErrCodeNonRetryable, "vector dimension mismatch")
	ErrMalformedChunk    = NewDomainError(ErrCodeNonRetryable, "malformed chunk")
)

// Resource exhaustion: the dispatcher pauses and the job keeps its retries
var (
	ErrQuotaExhausted = NewDomainError(ErrCodeResourceExhausted, "token quota exhausted")
	ErrPoolExhausted  = NewDomainError(ErrCodeResourceExhausted, "database pool exhausted")
)

// Consistency violations: rejected synchronously with no state change
var (
	ErrTrainingActive = NewDomainError(ErrCodeConsistencyViolation, "training jobs are active for dataset")
	ErrRebuildActive  = NewDomainError(ErrCodeConsistencyViolation, "a rebuild is already running for dataset")
	ErrSameModel      = NewDomainError(ErrCodeConsistencyViolation, "dataset already uses this model")
)

// Operation errors
var (
	ErrLeaseLost          = NewDomainError(ErrCodeInvalidOperation, "training job lease lost")
	ErrStorageUnavailable = NewDomainError(ErrCodeInvalidOperation, "object storage not configured")
	ErrObjectTooLarge     = NewDomainError(ErrCodeValidation, "object exceeds import size limit")
	ErrObjectNotText      = NewDomainError(ErrCodeValidation, "object is not UTF-8 text")
)

// Code returns the DomainError code found in the chain, or "" for foreign errors.
func Code(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func IsRetryable(err error) bool {
	return Code(err) == ErrCodeRetryable
}

func IsNonRetryable(err error) bool {
	switch Code(err) {
	case ErrCodeNonRetryable, ErrCodeValidation:
		return true
	}
	return false
}

func IsResourceExhausted(err error) bool {
	return Code(err) == ErrCodeResourceExhausted
}

func IsConsistencyViolation(err error) bool {
	return Code(err) == ErrCodeConsistencyViolation
}
