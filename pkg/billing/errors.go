package billing

import (
	"errors"
	"strings"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found on billing platform")
	ErrNoActiveSubscription = errors.New("no active subscription for customer")
	ErrNoPeriodEnd          = errors.New("billing platform exposes no current period end")
	ErrProviderError        = errors.New("billing provider error")
	ErrWebhookVerification  = errors.New("webhook signature verification failed")

	ErrMissingAPIKey        = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing provider webhook secret is required")
	ErrInvalidEnvironment   = errors.New("invalid billing provider environment")
)

// paymentMarkers are substrings that indicate a payment problem rather than
// a generic API failure. The provider does not expose a structured error
// class for this, so classification stays heuristic.
var paymentMarkers = []string{
	"payment",
	"card",
	"declined",
	"invoice",
	"insufficient",
	"billing_details",
}

// IsPaymentError reports whether err looks like a payment/card/invoice
// problem. Callers surface those as payment-failed instead of update-failed.
func IsPaymentError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range paymentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err means the subscription no longer exists on
// the provider side.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSubscriptionNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "not_found")
}
