package billing

import (
	"context"
	"net/http"
	"time"
)

// Provider defines the minimal interface to the external subscription-billing
// platform. The platform is the source of truth for live subscription state;
// this module never caches it. Implementations should use the official
// provider SDK and keep provider quirks internal.
type Provider interface {
	// GetSubscription fetches the current state of a subscription.
	// Returns ErrSubscriptionNotFound when the provider no longer knows it.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetActiveSubscription resolves the active (or trialing) subscription
	// for a customer. Returns ErrNoActiveSubscription when there is none.
	GetActiveSubscription(ctx context.Context, customerID string) (*Subscription, error)

	// UpdateSubscription applies a product switch and/or a
	// cancel-at-period-end flag change.
	UpdateSubscription(ctx context.Context, subscriptionID string, params UpdateParams) (*Subscription, error)

	// CreateCheckoutLink creates a hosted checkout session for a plan
	// purchase or an immediate upgrade.
	CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)

	// VerifyWebhook validates an inbound provider webhook request and
	// returns the raw payload on success.
	VerifyWebhook(r *http.Request) ([]byte, error)
}

// Status is the provider-normalized subscription status.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
)

// Subscription is the provider-normalized view of a live subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	ProductID         string // product of the first (primary) item
	PriceID           string
	Status            Status
	CurrentPeriodEnd  *time.Time // nil when the provider exposes no period
	CancelAtPeriodEnd bool
}

// Eligible reports whether a scheduled change may still apply to the
// subscription.
func (s *Subscription) Eligible() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// ProrationMode selects how the provider bills a mid-cycle product switch.
type ProrationMode string

const (
	// ProrationProratedImmediately bills the difference on the next invoice
	// without extending the current period.
	ProrationProratedImmediately ProrationMode = "prorated_immediately"
	// ProrationNone applies the switch without any proration charge.
	ProrationNone ProrationMode = "do_not_bill"
)

// UpdateParams describes a subscription mutation. Nil fields are untouched.
type UpdateParams struct {
	PriceID           *string
	CancelAtPeriodEnd *bool
	Proration         ProrationMode
}

// CheckoutRequest contains data needed to create a hosted checkout session.
type CheckoutRequest struct {
	PriceID    string
	CustomerID string
	Email      string
	SuccessURL string
}

// CheckoutLink represents a hosted checkout session.
type CheckoutLink struct {
	URL       string
	SessionID string
	ExpiresAt time.Time
}
