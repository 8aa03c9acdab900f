package billing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

// GetSubscription fetches the current state of a subscription from Paddle.
func (p *PaddleProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.Join(ErrProviderError, err)
	}

	return mapPaddleSubscription(sub), nil
}

// GetActiveSubscription returns the customer's active or trialing
// subscription. Paddle allows several subscriptions per customer; the first
// eligible one wins, matching the one-subscription-per-account product rule.
func (p *PaddleProvider) GetActiveSubscription(ctx context.Context, customerID string) (*Subscription, error) {
	res, err := p.client.SubscriptionsClient.ListSubscriptions(ctx, &paddle.ListSubscriptionsRequest{
		CustomerID: []string{customerID},
	})
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}

	var found *Subscription
	err = res.Iter(ctx, func(s *paddle.Subscription) (bool, error) {
		mapped := mapPaddleSubscription(s)
		if mapped.Eligible() {
			found = mapped
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}
	if found == nil {
		return nil, ErrNoActiveSubscription
	}
	return found, nil
}

// UpdateSubscription applies a product switch and/or cancel-at-period-end
// flag change on Paddle.
func (p *PaddleProvider) UpdateSubscription(ctx context.Context, subscriptionID string, params UpdateParams) (*Subscription, error) {
	// Setting the flag maps to Paddle's scheduled cancellation; clearing it
	// removes the scheduled change.
	if params.CancelAtPeriodEnd != nil {
		if *params.CancelAtPeriodEnd {
			sub, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
				SubscriptionID: subscriptionID,
				EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromNextBillingPeriod),
			})
			if err != nil {
				return nil, classifyPaddleError(err)
			}
			return mapPaddleSubscription(sub), nil
		}

		sub, err := p.client.SubscriptionsClient.UpdateSubscription(ctx, &paddle.UpdateSubscriptionRequest{
			SubscriptionID:  subscriptionID,
			ScheduledChange: paddle.NewNullPatchField[*paddle.SubscriptionScheduledChange](),
		})
		if err != nil {
			return nil, classifyPaddleError(err)
		}
		return mapPaddleSubscription(sub), nil
	}

	if params.PriceID == nil {
		return p.GetSubscription(ctx, subscriptionID)
	}

	item := paddle.NewUpdateSubscriptionItemsSubscriptionUpdateItemFromCatalog(&paddle.SubscriptionUpdateItemFromCatalog{
		PriceID:  *params.PriceID,
		Quantity: 1,
	})

	req := &paddle.UpdateSubscriptionRequest{
		SubscriptionID:       subscriptionID,
		Items:                paddle.NewPatchField([]paddle.UpdateSubscriptionItems{*item}),
		ProrationBillingMode: paddle.NewPatchField(mapProrationMode(params.Proration)),
	}

	sub, err := p.client.SubscriptionsClient.UpdateSubscription(ctx, req)
	if err != nil {
		return nil, classifyPaddleError(err)
	}
	return mapPaddleSubscription(sub), nil
}

// CreateCheckoutLink creates a hosted checkout session in Paddle.
func (p *PaddleProvider) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PriceID == "" {
		return nil, errors.New("price ID is required")
	}
	if req.CustomerID == "" {
		return nil, errors.New("customer ID is required")
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"customer_id": req.CustomerID,
		},
	}
	if req.Email != "" {
		transactionReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, classifyPaddleError(err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, errors.New("no checkout URL returned from paddle")
	}

	return &CheckoutLink{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour), // Paddle checkout links expire in 24 hours
	}, nil
}

// VerifyWebhook validates the Paddle signature on an inbound webhook request
// and returns the raw payload. The request body remains readable afterwards.
func (p *PaddleProvider) VerifyWebhook(r *http.Request) ([]byte, error) {
	valid, err := p.verifier.Verify(r)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerification, err)
	}
	if !valid {
		return nil, ErrWebhookVerification
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	return body, nil
}

func classifyPaddleError(err error) error {
	if IsNotFound(err) {
		return errors.Join(ErrSubscriptionNotFound, err)
	}
	return errors.Join(ErrProviderError, err)
}

func mapProrationMode(mode ProrationMode) paddle.ProrationBillingMode {
	switch mode {
	case ProrationNone:
		return paddle.ProrationBillingModeDoNotBill
	default:
		// Invoice-based proration without extending the current period.
		return paddle.ProrationBillingModeProratedImmediately
	}
}

func mapPaddleSubscription(s *paddle.Subscription) *Subscription {
	sub := &Subscription{
		ID:         s.ID,
		CustomerID: s.CustomerID,
		Status:     mapPaddleStatus(string(s.Status)),
	}

	if s.CurrentBillingPeriod != nil {
		if end, err := time.Parse(time.RFC3339, s.CurrentBillingPeriod.EndsAt); err == nil {
			end = end.UTC()
			sub.CurrentPeriodEnd = &end
		}
	}

	if len(s.Items) > 0 {
		sub.PriceID = s.Items[0].Price.ID
		sub.ProductID = s.Items[0].Price.ProductID
	}

	if s.ScheduledChange != nil && s.ScheduledChange.Action == paddle.ScheduledChangeActionCancel {
		sub.CancelAtPeriodEnd = true
	}

	return sub
}

func mapPaddleStatus(status string) Status {
	switch strings.ToLower(status) {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due":
		return StatusPastDue
	case "paused":
		return StatusPaused
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		return Status(status)
	}
}
