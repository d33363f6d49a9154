package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Wrap with %w and match with errors.Is.
var (
	// ErrNotFound means a store holds no record with the given id.
	ErrNotFound = errors.New("record not found")

	// ErrOperationNotFound means no persisted operation has the given id.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrDuplicateIntent means an idempotency key is already bound to a
	// live operation.
	ErrDuplicateIntent = errors.New("duplicate intent")
)

// Store names used in errors, logs and metrics.
const (
	StoreLedger  = "ledger"
	StoreCache   = "cache"
	StoreMedia   = "media"
	StoreOpState = "opstate"
)

// ValidationError reports input that was rejected before touching any store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StorageErrorCode categorizes storage failures.
type StorageErrorCode string

const (
	// ErrCodeUnavailable indicates a failed health check.
	ErrCodeUnavailable StorageErrorCode = "UNAVAILABLE"

	// ErrCodeUploadFailed indicates a media upload transport or auth failure.
	ErrCodeUploadFailed StorageErrorCode = "UPLOAD_FAILED"

	// ErrCodeTxFailed indicates the ledger reported the transaction failed.
	ErrCodeTxFailed StorageErrorCode = "TX_FAILED"

	// ErrCodeVerifyTimeout indicates verification attempts ran out while the
	// transaction was still pending. The operation can be retried.
	ErrCodeVerifyTimeout StorageErrorCode = "VERIFY_TIMEOUT"

	// ErrCodeWriteFailed indicates a write was rejected or lost.
	ErrCodeWriteFailed StorageErrorCode = "WRITE_FAILED"

	// ErrCodeReadFailed indicates a read could not be completed.
	ErrCodeReadFailed StorageErrorCode = "READ_FAILED"
)

// StorageError is a failure attributed to one store.
type StorageError struct {
	Store string
	Op    string
	Code  StorageErrorCode
	Err   error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s %s: %v", e.Store, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s %s", e.Store, e.Op, e.Code)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError.
func NewStorageError(store, op string, code StorageErrorCode, err error) *StorageError {
	return &StorageError{Store: store, Op: op, Code: code, Err: err}
}

// NewUploadError creates the media-specific StorageError for upload failures.
func NewUploadError(err error) *StorageError {
	return &StorageError{Store: StoreMedia, Op: "upload", Code: ErrCodeUploadFailed, Err: err}
}

// ConsistencyError reports a divergence between stores for one record.
type ConsistencyError struct {
	RecordID      string
	Discrepancies []Discrepancy
}

func (e *ConsistencyError) Error() string {
	fields := make([]string, 0, len(e.Discrepancies))
	for _, d := range e.Discrepancies {
		if d.Field != "" {
			fields = append(fields, fmt.Sprintf("%s(%s)", d.Kind, d.Field))
		} else {
			fields = append(fields, string(d.Kind))
		}
	}
	return fmt.Sprintf("record %s inconsistent: %s", e.RecordID, strings.Join(fields, ", "))
}

// IsValidation returns true if err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage returns true if err is or wraps a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsConsistency returns true if err is or wraps a ConsistencyError.
func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}

// StorageCode returns the code of a wrapped StorageError, or "".
func StorageCode(err error) StorageErrorCode {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
