package domain

import "fmt"

// DomainError carries a stable code for callers and an optional cause.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is matches another DomainError with the same code and message, so a
// sentinel still matches after it has been re-created with a cause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e.Code == t.Code && e.Message == t.Message
}

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Wrap attaches a cause to a sentinel while keeping it matchable with errors.Is.
func Wrap(sentinel *DomainError, err error) *DomainError {
	return NewDomainErrorWithCause(sentinel.Code, sentinel.Message, err)
}

// Common domain error codes
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeAlreadyExists        = "ALREADY_EXISTS"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeRetrievalUnavailable = "RETRIEVAL_UNAVAILABLE"
	ErrCodeStageTimeout         = "STAGE_TIMEOUT"
	ErrCodeAllProposalsFailed   = "ALL_PROPOSALS_FAILED"
	ErrCodeGovernanceViolation  = "GOVERNANCE_VIOLATION"
)

// Validation errors
var (
	ErrInvalidSourceType     = NewDomainError(ErrCodeValidation, "invalid source type")
	ErrInvalidImpact         = NewDomainError(ErrCodeValidation, "invalid impact level")
	ErrInvalidDecisionStatus = NewDomainError(ErrCodeValidation, "invalid decision status")
	ErrInvalidVerdict        = NewDomainError(ErrCodeValidation, "invalid verdict")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrChunkNotFound    = NewDomainError(ErrCodeNotFound, "chunk not found")
	ErrDecisionNotFound = NewDomainError(ErrCodeNotFound, "decision record not found")
)

// Already exists errors
var (
	ErrChunkAlreadyExists    = NewDomainError(ErrCodeAlreadyExists, "chunk already exists")
	ErrDecisionAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "decision record already exists")
)

// Pipeline errors
var (
	ErrRetrievalUnavailable = NewDomainError(ErrCodeRetrievalUnavailable, "evidence store unavailable")
	ErrStageTimeout         = NewDomainError(ErrCodeStageTimeout, "stage call timed out")
	ErrAllProposalsFailed   = NewDomainError(ErrCodeAllProposalsFailed, "every candidate proposal failed")
	ErrGovernanceViolation  = NewDomainError(ErrCodeGovernanceViolation, "transition violates decision state machine")
)

// Storage errors
var (
	ErrStorageOperationFail = NewDomainError(ErrCodeInternalError, "storage operation failed")
)
