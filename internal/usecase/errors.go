package usecase

import "errors"

// DomainError is a caller mistake (bad input, unknown lead). Retrying will not help.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// TechnicalError wraps an infrastructure failure (store, queue, CRM).
type TechnicalError struct {
	Code    string
	Message string
	Err     error
}

func (e *TechnicalError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *TechnicalError) Unwrap() error {
	return e.Err
}

func IsTechnicalError(err error) bool {
	var te *TechnicalError
	return errors.As(err, &te)
}

const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeLeadNotFound   = "LEAD_NOT_FOUND"
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeDatabase       = "DATABASE_ERROR"
	CodeQueue          = "QUEUE_ERROR"
	CodeCRM            = "CRM_ERROR"
)
