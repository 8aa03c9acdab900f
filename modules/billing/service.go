// Package billing exposes the subscription-change HTTP API: checkout and
// downgrade scheduling, cancellation, revert, the delayed-job execution
// callback and the provider webhook.
package billing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linklethq/linklet/core"
	billingpkg "github.com/linklethq/linklet/pkg/billing"
	"github.com/linklethq/linklet/pkg/delayq"
	"github.com/linklethq/linklet/pkg/logger"
	"github.com/linklethq/linklet/pkg/plan"
	"github.com/linklethq/linklet/pkg/planchange"
	"github.com/linklethq/linklet/pkg/ratelimit"
	"github.com/linklethq/linklet/pkg/usage"
)

// PrincipalResolver extracts the authenticated principal from a request.
// The session layer implements it; handlers respond 401 when it fails.
type PrincipalResolver func(r *http.Request) (core.Principal, error)

// Config holds the module's HTTP-facing settings.
type Config struct {
	// CallbackSecret signs and verifies delayed-job execution callbacks.
	CallbackSecret string `env:"DELAYQ_CALLBACK_SECRET,required"`
	// CallbackMaxAge bounds callback signature age.
	CallbackMaxAge time.Duration `env:"DELAYQ_CALLBACK_MAX_AGE" envDefault:"5m"`
	// CheckoutSuccessURL is where the provider redirects after checkout.
	CheckoutSuccessURL string `env:"BILLING_CHECKOUT_SUCCESS_URL,required"`
}

// Service wires the plan-change workflow to HTTP.
type Service struct {
	cfg           Config
	changes       *planchange.Service
	provider      billingpkg.Provider
	catalog       *plan.Catalog
	resolve       PrincipalResolver
	ledger        *usage.Ledger
	revertLimiter ratelimit.Limiter
	log           *slog.Logger
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithUsageLedger enables the usage readout endpoint.
func WithUsageLedger(ledger *usage.Ledger) Option {
	return func(s *Service) {
		if ledger != nil {
			s.ledger = ledger
		}
	}
}

// WithRevertLimiter rate-limits the revert endpoint.
func WithRevertLimiter(limiter ratelimit.Limiter) Option {
	return func(s *Service) {
		if limiter != nil {
			s.revertLimiter = limiter
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates the billing HTTP service. Panics when a required
// dependency is missing.
func NewService(
	cfg Config,
	changes *planchange.Service,
	provider billingpkg.Provider,
	catalog *plan.Catalog,
	resolve PrincipalResolver,
	opts ...Option,
) *Service {
	if changes == nil {
		panic("billing: plan-change service is required")
	}
	if provider == nil {
		panic("billing: provider is required")
	}
	if catalog == nil {
		panic("billing: plan catalog is required")
	}
	if resolve == nil {
		panic("billing: principal resolver is required")
	}
	if cfg.CallbackSecret == "" {
		panic("billing: callback secret is required")
	}
	if cfg.CallbackMaxAge <= 0 {
		cfg.CallbackMaxAge = 5 * time.Minute
	}

	s := &Service{
		cfg:      cfg,
		changes:  changes,
		provider: provider,
		catalog:  catalog,
		resolve:  resolve,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle returns the module router, ready to mount.
func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()

	r.Post("/update-session", s.updateSession)
	r.Post("/schedule-cancellation", s.scheduleCancellation)

	if s.ledger != nil {
		r.Get("/usage", s.usage)
	}

	r.Group(func(g chi.Router) {
		if s.revertLimiter != nil {
			g.Use(ratelimit.Middleware(s.revertLimiter, ratelimit.ByClientIP()))
		}
		g.Post("/revert-scheduled-change", s.revertScheduledChange)
	})

	r.Group(func(g chi.Router) {
		g.Use(delayq.VerifyMiddleware(s.cfg.CallbackSecret, s.cfg.CallbackMaxAge))
		g.Post("/execute-downgrade", s.executeDowngrade)
	})

	r.Post("/webhook", s.webhook)

	return r
}

type updateSessionRequest struct {
	Plan      plan.Key `json:"plan"`
	Downgrade bool     `json:"downgrade"`
}

// updateSession starts a plan change: downgrades are scheduled for period
// end, everything else gets a hosted checkout link for immediate payment.
func (s *Service) updateSession(w http.ResponseWriter, r *http.Request) {
	principal, err := s.resolve(r)
	if err != nil {
		core.Fail(w, core.ErrUnauthorized, nil)
		return
	}

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Plan == "" {
		core.Fail(w, core.ErrBadRequest, nil)
		return
	}

	if req.Downgrade {
		change, err := s.changes.ScheduleDowngrade(r.Context(), principal, req.Plan)
		if err != nil {
			s.failChange(w, r, err)
			return
		}
		core.Success(w, changePayload(change))
		return
	}

	target, err := s.catalog.ByKey(req.Plan)
	if err != nil {
		core.Fail(w, errPlanNotFound, nil)
		return
	}

	link, err := s.provider.CreateCheckoutLink(r.Context(), billingpkg.CheckoutRequest{
		PriceID:    target.PriceID,
		CustomerID: principal.CustomerID,
		Email:      principal.Email,
		SuccessURL: s.cfg.CheckoutSuccessURL,
	})
	if err != nil {
		s.failChange(w, r, err)
		return
	}

	core.Success(w, core.Payload{"url": link.URL})
}

type scheduleCancellationRequest struct {
	Reason  string `json:"reason,omitempty"`
	Comment string `json:"comment,omitempty"`
}

func (s *Service) scheduleCancellation(w http.ResponseWriter, r *http.Request) {
	principal, err := s.resolve(r)
	if err != nil {
		core.Fail(w, core.ErrUnauthorized, nil)
		return
	}

	var req scheduleCancellationRequest
	if r.Body != nil {
		// Body is optional; reason and comment are survey data.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	change, err := s.changes.ScheduleCancellation(r.Context(), principal, req.Reason, req.Comment)
	if err != nil {
		s.failChange(w, r, err)
		return
	}

	core.Success(w, changePayload(change))
}

func (s *Service) revertScheduledChange(w http.ResponseWriter, r *http.Request) {
	principal, err := s.resolve(r)
	if err != nil {
		core.Fail(w, core.ErrUnauthorized, nil)
		return
	}

	change, err := s.changes.Revert(r.Context(), principal)
	if err != nil {
		s.failChange(w, r, err)
		return
	}

	core.Success(w, core.Payload{
		"message":    "change-reverted",
		"changeType": string(change.ChangeType),
	})
}

// executeDowngrade is the delayed-job callback target. Transient failures
// return 500 so the job platform retries; terminal outcomes ack with 200.
func (s *Service) executeDowngrade(w http.ResponseWriter, r *http.Request) {
	var payload planchange.ExecutePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		core.Fail(w, core.ErrBadRequest, nil)
		return
	}

	outcome, err := s.changes.Execute(r.Context(), payload)
	if err != nil {
		if errors.Is(err, planchange.ErrInvalidChange) {
			core.Fail(w, core.ErrBadRequest, nil)
			return
		}
		s.log.ErrorContext(r.Context(), "downgrade execution failed",
			logger.Component("billing"),
			logger.SubscriptionID(payload.SubscriptionID),
			logger.Error(err))
		core.Fail(w, errUpdateFailed, nil)
		return
	}

	core.Success(w, core.Payload{"outcome": string(outcome)})
}

// webhook receives provider events. Signature verification happens before
// any parsing; unrecognized events are acked so the provider stops retrying.
func (s *Service) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := s.provider.VerifyWebhook(r)
	if err != nil {
		core.Fail(w, core.ErrUnauthorized, nil)
		return
	}

	event, err := billingpkg.ParseWebhookEvent(payload)
	if err != nil {
		core.Fail(w, core.ErrBadRequest, nil)
		return
	}

	if event.Type == billingpkg.EventIgnored || event.SubscriptionID == "" {
		core.Success(w, nil)
		return
	}

	outcome, err := s.changes.ExecuteForSubscription(r.Context(), event.SubscriptionID)
	if err != nil {
		s.log.ErrorContext(r.Context(), "webhook change finalization failed",
			logger.Component("billing"),
			logger.SubscriptionID(event.SubscriptionID),
			slog.String("event", event.ProviderEvent),
			logger.Error(err))
		core.Fail(w, errUpdateFailed, nil)
		return
	}

	core.Success(w, core.Payload{"outcome": string(outcome)})
}

// usage reports the principal's consumption against the plan quotas so the
// dashboard can render meters and pre-flight downgrade warnings.
func (s *Service) usage(w http.ResponseWriter, r *http.Request) {
	principal, err := s.resolve(r)
	if err != nil {
		core.Fail(w, core.ErrUnauthorized, nil)
		return
	}

	all, err := s.ledger.All(r.Context(), principal)
	if err != nil {
		s.log.ErrorContext(r.Context(), "usage readout failed",
			logger.Component("billing"),
			logger.UserID(principal.UserID),
			logger.Error(err))
		core.FailWith(w, err)
		return
	}

	out := make(core.Payload, len(all))
	for res, info := range all {
		out[string(res)] = core.Payload{
			"used":    info.Used,
			"limit":   info.Limit,
			"balance": info.Balance,
		}
	}
	core.Success(w, core.Payload{"usage": out})
}

func changePayload(change *planchange.ScheduledChange) core.Payload {
	return core.Payload{
		"subscription": change.SubscriptionID,
		"scheduledFor": change.ScheduledFor.UTC().Format(time.RFC3339),
		"changeId":     change.ID.String(),
		"changeType":   string(change.ChangeType),
		"targetPlan":   string(change.TargetPlan),
	}
}
