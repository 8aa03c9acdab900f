package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linklethq/linklet/core"
	billingapi "github.com/linklethq/linklet/modules/billing"
	billingpkg "github.com/linklethq/linklet/pkg/billing"
	"github.com/linklethq/linklet/pkg/delayq"
	"github.com/linklethq/linklet/pkg/plan"
	"github.com/linklethq/linklet/pkg/planchange"
	"github.com/linklethq/linklet/pkg/ratelimit"
	"github.com/linklethq/linklet/pkg/usage"
)

const (
	callbackURL    = "https://app.linklet.dev/api/billing/execute-downgrade"
	callbackSecret = "whsec_callbacks"
)

type mockProvider struct{ mock.Mock }

func (m *mockProvider) GetSubscription(ctx context.Context, id string) (*billingpkg.Subscription, error) {
	args := m.Called(ctx, id)
	if sub := args.Get(0); sub != nil {
		return sub.(*billingpkg.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) GetActiveSubscription(ctx context.Context, customerID string) (*billingpkg.Subscription, error) {
	args := m.Called(ctx, customerID)
	if sub := args.Get(0); sub != nil {
		return sub.(*billingpkg.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) UpdateSubscription(ctx context.Context, id string, params billingpkg.UpdateParams) (*billingpkg.Subscription, error) {
	args := m.Called(ctx, id, params)
	if sub := args.Get(0); sub != nil {
		return sub.(*billingpkg.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CreateCheckoutLink(ctx context.Context, req billingpkg.CheckoutRequest) (*billingpkg.CheckoutLink, error) {
	args := m.Called(ctx, req)
	if link := args.Get(0); link != nil {
		return link.(*billingpkg.CheckoutLink), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) VerifyWebhook(r *http.Request) ([]byte, error) {
	args := m.Called(r)
	if payload := args.Get(0); payload != nil {
		return payload.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, url string, payload []byte, delay time.Duration) (string, error) {
	args := m.Called(ctx, url, payload, delay)
	return args.String(0), args.Error(1)
}

func (m *mockPublisher) Delete(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func (m *mockPublisher) MaxDelay() time.Duration {
	return 7 * 24 * time.Hour
}

type fixture struct {
	provider  *mockProvider
	publisher *mockPublisher
	store     *planchange.MemoryStore
	catalog   *plan.Catalog
	principal core.Principal
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog, err := plan.NewDefaultCatalog(plan.Config{
		BasicProductID: "pro_basic", BasicPriceID: "pri_basic",
		PlusProductID: "pro_plus", PlusPriceID: "pri_plus",
		ProProductID: "pro_pro", ProPriceID: "pri_pro",
	})
	require.NoError(t, err)

	return &fixture{
		provider:  &mockProvider{},
		publisher: &mockPublisher{},
		store:     planchange.NewMemoryStore(),
		catalog:   catalog,
		principal: core.Principal{UserID: uuid.New(), CustomerID: "ctm_1", Email: "owner@example.com"},
		now:       time.Date(2025, 2, 25, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) handler(opts ...billingapi.Option) http.Handler {
	changes := planchange.NewService(f.catalog, f.provider, f.publisher, f.store, callbackURL,
		planchange.WithClock(func() time.Time { return f.now }))

	resolve := func(r *http.Request) (core.Principal, error) {
		if r.Header.Get("X-Test-Anonymous") != "" {
			return core.Principal{}, core.ErrNoPrincipal
		}
		return f.principal, nil
	}

	svc := billingapi.NewService(billingapi.Config{
		CallbackSecret:     callbackSecret,
		CallbackMaxAge:     5 * time.Minute,
		CheckoutSuccessURL: "https://app.linklet.dev/billing/success",
	}, changes, f.provider, f.catalog, resolve, opts...)

	return svc.Handle()
}

func (f *fixture) activeSubscription() *billingpkg.Subscription {
	end := f.now.Add(48 * time.Hour)
	return &billingpkg.Subscription{
		ID:               "sub_1",
		CustomerID:       f.principal.CustomerID,
		ProductID:        "pro_plus",
		PriceID:          "pri_plus",
		Status:           billingpkg.StatusActive,
		CurrentPeriodEnd: &end,
	}
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestUpdateSession(t *testing.T) {
	t.Run("schedules a downgrade", func(t *testing.T) {
		f := newFixture(t)
		f.provider.On("GetActiveSubscription", mock.Anything, "ctm_1").Return(f.activeSubscription(), nil)
		f.publisher.On("Publish", mock.Anything, callbackURL, mock.Anything, mock.Anything).Return("job_1", nil)

		rec := doJSON(t, f.handler(), http.MethodPost, "/update-session",
			map[string]any{"plan": "basic", "downgrade": true})

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "sub_1", body["subscription"])
		assert.Equal(t, "downgrade", body["changeType"])
		assert.Equal(t, "basic", body["targetPlan"])
		assert.NotEmpty(t, body["changeId"])
		assert.NotEmpty(t, body["scheduledFor"])
	})

	t.Run("returns a checkout link for upgrades", func(t *testing.T) {
		f := newFixture(t)
		f.provider.On("CreateCheckoutLink", mock.Anything, billingpkg.CheckoutRequest{
			PriceID:    "pri_pro",
			CustomerID: "ctm_1",
			Email:      "owner@example.com",
			SuccessURL: "https://app.linklet.dev/billing/success",
		}).Return(&billingpkg.CheckoutLink{URL: "https://pay.example.com/cs_1"}, nil)

		rec := doJSON(t, f.handler(), http.MethodPost, "/update-session",
			map[string]any{"plan": "pro"})

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "https://pay.example.com/cs_1", body["url"])
		f.provider.AssertExpectations(t)
	})

	t.Run("rejects anonymous requests", func(t *testing.T) {
		f := newFixture(t)

		req := httptest.NewRequest(http.MethodPost, "/update-session",
			bytes.NewBufferString(`{"plan":"basic","downgrade":true}`))
		req.Header.Set("X-Test-Anonymous", "1")
		rec := httptest.NewRecorder()
		f.handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", decodeBody(t, rec)["message"])
	})

	t.Run("maps workflow errors to stable keys", func(t *testing.T) {
		tests := []struct {
			name     string
			plan     string
			wantKey  string
			wantCode int
		}{
			{"same plan", "plus", "same-plan", http.StatusBadRequest},
			{"not a downgrade", "pro", "not-downgrade", http.StatusBadRequest},
			{"unknown plan", "enterprise", "plan-not-found", http.StatusBadRequest},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t)
				f.provider.On("GetActiveSubscription", mock.Anything, "ctm_1").Return(f.activeSubscription(), nil)

				rec := doJSON(t, f.handler(), http.MethodPost, "/update-session",
					map[string]any{"plan": tt.plan, "downgrade": true})

				assert.Equal(t, tt.wantCode, rec.Code)
				assert.Equal(t, tt.wantKey, decodeBody(t, rec)["message"])
			})
		}
	})

	t.Run("no active subscription", func(t *testing.T) {
		f := newFixture(t)
		f.provider.On("GetActiveSubscription", mock.Anything, "ctm_1").
			Return(nil, billingpkg.ErrNoActiveSubscription)

		rec := doJSON(t, f.handler(), http.MethodPost, "/update-session",
			map[string]any{"plan": "basic", "downgrade": true})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no-active-subscription", decodeBody(t, rec)["message"])
	})

	t.Run("payment problems surface as 402", func(t *testing.T) {
		f := newFixture(t)
		f.provider.On("CreateCheckoutLink", mock.Anything, mock.Anything).
			Return(nil, errors.New("card declined by issuer"))

		rec := doJSON(t, f.handler(), http.MethodPost, "/update-session",
			map[string]any{"plan": "pro"})

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.Equal(t, "payment-failed", decodeBody(t, rec)["message"])
	})
}

func TestScheduleCancellation(t *testing.T) {
	t.Run("flags the subscription and records the change", func(t *testing.T) {
		f := newFixture(t)
		sub := f.activeSubscription()
		f.provider.On("GetActiveSubscription", mock.Anything, "ctm_1").Return(sub, nil)
		f.provider.On("UpdateSubscription", mock.Anything, "sub_1", billingpkg.UpdateParams{
			CancelAtPeriodEnd: billingpkg.Bool(true),
		}).Return(sub, nil)

		rec := doJSON(t, f.handler(), http.MethodPost, "/schedule-cancellation",
			map[string]any{"reason": "too_expensive", "comment": "switching tools"})

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "cancellation", body["changeType"])
		assert.Equal(t, "sub_1", body["subscription"])
		f.provider.AssertExpectations(t)
	})

	t.Run("second schedule conflicts", func(t *testing.T) {
		f := newFixture(t)
		sub := f.activeSubscription()
		f.provider.On("GetActiveSubscription", mock.Anything, "ctm_1").Return(sub, nil)
		f.provider.On("UpdateSubscription", mock.Anything, "sub_1", mock.Anything).Return(sub, nil)

		handler := f.handler()
		rec := doJSON(t, handler, http.MethodPost, "/schedule-cancellation", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, handler, http.MethodPost, "/schedule-cancellation", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "already-pending", decodeBody(t, rec)["message"])
	})
}

func TestRevertScheduledChange(t *testing.T) {
	t.Run("nothing pending", func(t *testing.T) {
		f := newFixture(t)
		f.provider.On("GetActiveSubscription", mock.Anything, "ctm_1").Return(f.activeSubscription(), nil)

		rec := doJSON(t, f.handler(), http.MethodPost, "/revert-scheduled-change", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no-pending-change", decodeBody(t, rec)["message"])
	})

	t.Run("reverts a pending downgrade", func(t *testing.T) {
		f := newFixture(t)
		f.provider.On("GetActiveSubscription", mock.Anything, "ctm_1").Return(f.activeSubscription(), nil)
		f.publisher.On("Publish", mock.Anything, callbackURL, mock.Anything, mock.Anything).Return("job_1", nil)
		f.publisher.On("Delete", mock.Anything, "job_1").Return(nil)

		handler := f.handler()
		rec := doJSON(t, handler, http.MethodPost, "/update-session",
			map[string]any{"plan": "basic", "downgrade": true})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, handler, http.MethodPost, "/revert-scheduled-change", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "change-reverted", body["message"])
		assert.Equal(t, "downgrade", body["changeType"])
		f.publisher.AssertExpectations(t)
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newFixture(t)
		f.provider.On("GetActiveSubscription", mock.Anything, "ctm_1").Return(f.activeSubscription(), nil)

		store := ratelimit.NewMemoryStore()
		t.Cleanup(store.Close)
		limiter, err := ratelimit.NewBucket(store, ratelimit.Config{
			Capacity:       1,
			RefillRate:     1,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		handler := f.handler(billingapi.WithRevertLimiter(limiter))

		rec := doJSON(t, handler, http.MethodPost, "/revert-scheduled-change", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code) // nothing pending, but allowed through

		rec = doJSON(t, handler, http.MethodPost, "/revert-scheduled-change", nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "too_many_requests", decodeBody(t, rec)["message"])
	})
}

func TestExecuteDowngradeCallback(t *testing.T) {
	signedRequest := func(t *testing.T, payload []byte) *http.Request {
		t.Helper()
		// The job platform signs at publish time and delivers days later;
		// the signature carries the delivery time, so a callback scheduled
		// two days out still clears the replay window when it fires.
		publishedAt := time.Now().Add(-48 * time.Hour)
		headers, err := delayq.SignPayload(callbackSecret, payload, publishedAt.Add(48*time.Hour))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/execute-downgrade", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(delayq.HeaderSignature, headers.Signature)
		req.Header.Set(delayq.HeaderTimestamp, strconv.FormatInt(headers.Timestamp, 10))
		return req
	}

	t.Run("rejects unsigned callbacks", func(t *testing.T) {
		f := newFixture(t)

		req := httptest.NewRequest(http.MethodPost, "/execute-downgrade",
			bytes.NewBufferString(`{"subscriptionId":"sub_1","newProductId":"pro_basic","targetPlan":"basic"}`))
		rec := httptest.NewRecorder()
		f.handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("applies a due downgrade", func(t *testing.T) {
		f := newFixture(t)
		sub := f.activeSubscription()
		f.provider.On("GetActiveSubscription", mock.Anything, "ctm_1").Return(sub, nil)
		f.publisher.On("Publish", mock.Anything, callbackURL, mock.Anything, mock.Anything).Return("job_1", nil)

		handler := f.handler()
		rec := doJSON(t, handler, http.MethodPost, "/update-session",
			map[string]any{"plan": "basic", "downgrade": true})
		require.Equal(t, http.StatusOK, rec.Code)

		// Callback fires at the scheduled time.
		f.now = sub.CurrentPeriodEnd.UTC()
		f.provider.On("GetSubscription", mock.Anything, "sub_1").Return(sub, nil)
		f.provider.On("UpdateSubscription", mock.Anything, "sub_1", billingpkg.UpdateParams{
			PriceID:   billingpkg.String("pri_basic"),
			Proration: billingpkg.ProrationProratedImmediately,
		}).Return(sub, nil)

		payload := []byte(`{"subscriptionId":"sub_1","newProductId":"pro_basic","targetPlan":"basic"}`)
		rec2 := httptest.NewRecorder()
		handler.ServeHTTP(rec2, signedRequest(t, payload))

		require.Equal(t, http.StatusOK, rec2.Code)
		assert.Equal(t, "applied", decodeBody(t, rec2)["outcome"])
		f.provider.AssertExpectations(t)
	})

	t.Run("transient provider failure returns 500 for retry", func(t *testing.T) {
		f := newFixture(t)
		f.provider.On("GetSubscription", mock.Anything, "sub_1").
			Return(nil, errors.New("gateway timeout"))

		payload := []byte(`{"subscriptionId":"sub_1","newProductId":"pro_basic","targetPlan":"basic"}`)
		rec := httptest.NewRecorder()
		f.handler().ServeHTTP(rec, signedRequest(t, payload))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "update-failed", decodeBody(t, rec)["message"])
	})
}

func TestWebhook(t *testing.T) {
	t.Run("rejects invalid signatures", func(t *testing.T) {
		f := newFixture(t)
		f.provider.On("VerifyWebhook", mock.Anything).Return(nil, billingpkg.ErrWebhookVerification)

		rec := doJSON(t, f.handler(), http.MethodPost, "/webhook", map[string]any{"event_type": "subscription.updated"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("acks unrelated events", func(t *testing.T) {
		f := newFixture(t)
		f.provider.On("VerifyWebhook", mock.Anything).
			Return([]byte(`{"event_type":"transaction.completed","data":{}}`), nil)

		rec := doJSON(t, f.handler(), http.MethodPost, "/webhook", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["success"])
	})

	t.Run("finalizes a pending cancellation at period end", func(t *testing.T) {
		f := newFixture(t)
		sub := f.activeSubscription()
		f.provider.On("GetActiveSubscription", mock.Anything, "ctm_1").Return(sub, nil)
		f.provider.On("UpdateSubscription", mock.Anything, "sub_1", mock.Anything).Return(sub, nil)

		handler := f.handler()
		rec := doJSON(t, handler, http.MethodPost, "/schedule-cancellation", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		cancelled := f.activeSubscription()
		cancelled.Status = billingpkg.StatusCanceled
		f.provider.On("GetSubscription", mock.Anything, "sub_1").Return(cancelled, nil)
		f.provider.On("VerifyWebhook", mock.Anything).
			Return([]byte(`{"event_type":"subscription.canceled","data":{"id":"sub_1","status":"canceled"}}`), nil)

		rec = doJSON(t, handler, http.MethodPost, "/webhook", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "applied", decodeBody(t, rec)["outcome"])
	})
}

func TestUsageReadout(t *testing.T) {
	t.Run("reports per-resource consumption for the principal", func(t *testing.T) {
		f := newFixture(t)
		basic, err := f.catalog.ByKey(plan.KeyBasic)
		require.NoError(t, err)

		var resolvedFor core.Principal
		ledger := usage.NewLedger(func(ctx context.Context, p core.Principal) (plan.Plan, error) {
			resolvedFor = p
			return basic, nil
		})
		ledger.RegisterCounter(plan.ResourceLinks, func(context.Context, uuid.UUID) (int64, error) {
			return 12, nil
		})

		handler := f.handler(billingapi.WithUsageLedger(ledger))
		req := httptest.NewRequest(http.MethodGet, "/usage", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		byResource, ok := decodeBody(t, rec)["usage"].(map[string]any)
		require.True(t, ok)
		linksInfo, ok := byResource[string(plan.ResourceLinks)].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(12), linksInfo["used"])
		assert.Contains(t, linksInfo, "limit")
		assert.Contains(t, linksInfo, "balance")

		// Plans resolve by the same customer reference the billing flows use.
		assert.Equal(t, f.principal.CustomerID, resolvedFor.CustomerID)
	})

	t.Run("anonymous requests are rejected", func(t *testing.T) {
		f := newFixture(t)
		ledger := usage.NewLedger(func(ctx context.Context, p core.Principal) (plan.Plan, error) {
			return plan.Plan{}, nil
		})

		req := httptest.NewRequest(http.MethodGet, "/usage", nil)
		req.Header.Set("X-Test-Anonymous", "1")
		rec := httptest.NewRecorder()
		f.handler(billingapi.WithUsageLedger(ledger)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("absent ledger leaves the route unregistered", func(t *testing.T) {
		f := newFixture(t)
		req := httptest.NewRequest(http.MethodGet, "/usage", nil)
		rec := httptest.NewRecorder()
		f.handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
