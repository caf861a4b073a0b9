package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error types for the notegroup worker
 *
 * INVALID_INPUT and NOT_FOUND are caller mistakes and are never retried.
 * COMPUTATION_FAILURE marks a broken engine invariant and is fatal for the run.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Engine errors
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorNotFound           ErrorCode = "NOT_FOUND"
	ErrorComputationFailure ErrorCode = "COMPUTATION_FAILURE"

	// Worker errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorStorageFailed     ErrorCode = "STORAGE_FAILED"
)

// GroupingError represents a structured grouping error
type GroupingError struct {
	Code      ErrorCode
	Message   string
	ImageID   string
	GroupID   string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *GroupingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GroupingError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewInvalidInputError(field string, reason string) *GroupingError {
	return &GroupingError{
		Code:      ErrorInvalidInput,
		Message:   fmt.Sprintf("invalid %s: %s", field, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

func NewNotFoundError(imageID string, groupID string) *GroupingError {
	return &GroupingError{
		Code:      ErrorNotFound,
		Message:   fmt.Sprintf("group not found: %s", groupID),
		ImageID:   imageID,
		GroupID:   groupID,
		Timestamp: time.Now(),
	}
}

func NewComputationFailureError(message string, details map[string]interface{}) *GroupingError {
	return &GroupingError{
		Code:      ErrorComputationFailure,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
	}
}

func NewProcessingTimeoutError(imageID string, duration time.Duration, cause error) *GroupingError {
	return &GroupingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		ImageID:   imageID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewOCRFailedError(imageID string, cause error) *GroupingError {
	return &GroupingError{
		Code:      ErrorOCRFailed,
		Message:   "OCR failed",
		ImageID:   imageID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewStorageFailedError(imageID string, operation string, cause error) *GroupingError {
	return &GroupingError{
		Code:      ErrorStorageFailed,
		Message:   fmt.Sprintf("Failed to %s", operation),
		ImageID:   imageID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

// CodeOf returns the code of the first GroupingError in err's chain, or "" if none
func CodeOf(err error) ErrorCode {
	var ge *GroupingError
	if stderrors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// IsCode reports whether err's chain carries a GroupingError with the given code
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsPermanent reports whether retrying the failed operation cannot help
func IsPermanent(err error) bool {
	switch CodeOf(err) {
	case ErrorInvalidInput, ErrorNotFound, ErrorComputationFailure:
		return true
	}
	return false
}

// ToMap converts error to map for job status reporting
func (e *GroupingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.ImageID != "" {
		result["image_id"] = e.ImageID
	}
	if e.GroupID != "" {
		result["group_id"] = e.GroupID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
