package delayq

import "errors"

var (
	ErrInvalidConfiguration = errors.New("delayq: invalid configuration")
	ErrDelayExceedsMax      = errors.New("delayq: delay exceeds platform maximum")
	ErrPublishFailed        = errors.New("delayq: failed to publish delayed job")
	ErrDeleteFailed         = errors.New("delayq: failed to delete delayed job")
	ErrInvalidSignature     = errors.New("delayq: invalid callback signature")
	ErrSignatureExpired     = errors.New("delayq: callback signature expired")
)
