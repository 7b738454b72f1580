package contract

import "errors"

var (
	ErrModelInvoke          = errors.New("model invoke failed")
	ErrSchemaViolation      = errors.New("model response violates schema")
	ErrPromptMissing        = errors.New("required prompt is missing")
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("record not found")
	ErrRemoteService        = errors.New("remote service failed")
	ErrConfirmationRequired = errors.New("explicit confirmation required")
	ErrIdentityMissing      = errors.New("seller identity is missing")
)
