package payment

import "errors"

var (
	ErrValidation       = errors.New("validation_error")
	ErrNotFound         = errors.New("payment_not_found")
	ErrInvalidState     = errors.New("invalid_state")
	ErrInvalidSignature = errors.New("invalid signature")
)
