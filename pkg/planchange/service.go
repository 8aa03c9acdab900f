package planchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linklethq/linklet/core"
	"github.com/linklethq/linklet/pkg/billing"
	"github.com/linklethq/linklet/pkg/delayq"
	"github.com/linklethq/linklet/pkg/logger"
	"github.com/linklethq/linklet/pkg/plan"
)

// executeSlack tolerates clock drift between the job platform and this
// service when deciding whether an execution callback arrived too early.
const executeSlack = 5 * time.Minute

// UsageGuard checks whether a user's current usage fits a target plan.
// usage.Ledger satisfies it.
type UsageGuard interface {
	ExceedsPlan(ctx context.Context, principal core.Principal, target plan.Plan) ([]plan.Resource, error)
}

// Notifier delivers lifecycle notices to the change owner. Implemented by
// pkg/email; failures are logged, never fatal.
type Notifier interface {
	ChangeScheduled(ctx context.Context, change *ScheduledChange) error
	ChangeExecuted(ctx context.Context, change *ScheduledChange) error
	ChangeReverted(ctx context.Context, change *ScheduledChange) error
}

// ExecutePayload is the executor input, carried verbatim in the delayed-job
// callback body and reconstructed from webhook data. It is advisory only:
// Execute re-reads live subscription state before acting.
type ExecutePayload struct {
	SubscriptionID string   `json:"subscriptionId"`
	NewProductID   string   `json:"newProductId"`
	TargetPlan     plan.Key `json:"targetPlan"`
}

// Outcome reports what an Execute call did.
type Outcome string

const (
	// OutcomeApplied means the product switch was performed and the record
	// marked executed.
	OutcomeApplied Outcome = "applied"
	// OutcomeAlreadyApplied means the subscription was already on the
	// target product; the record was finalized without a provider call.
	OutcomeAlreadyApplied Outcome = "already_applied"
	// OutcomeStale means the subscription is no longer eligible; the
	// record was reverted and the live plan untouched.
	OutcomeStale Outcome = "stale"
	// OutcomeGone means the provider no longer knows the subscription.
	OutcomeGone Outcome = "gone"
	// OutcomeTooEarly means the callback arrived before the scheduled
	// time; nothing was touched and the caller may retry later.
	OutcomeTooEarly Outcome = "too_early"
)

// ServiceOption configures optional Service dependencies.
type ServiceOption func(*Service)

// WithUsageGuard enables the downgrade usage check.
func WithUsageGuard(guard UsageGuard) ServiceOption {
	return func(s *Service) {
		if guard != nil {
			s.guard = guard
		}
	}
}

// WithNotifier enables lifecycle notifications.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service orchestrates the scheduled-change lifecycle against the billing
// provider, the delayed-job platform and the change store.
type Service struct {
	catalog     *plan.Catalog
	provider    billing.Provider
	publisher   delayq.Publisher
	store       Store
	guard       UsageGuard
	notifier    Notifier
	log         *slog.Logger
	callbackURL string // executor endpoint the job platform POSTs to
	now         func() time.Time
}

// NewService creates a Service. Panics on nil required dependencies to fail
// fast during initialization.
func NewService(catalog *plan.Catalog, provider billing.Provider, publisher delayq.Publisher, store Store, callbackURL string, opts ...ServiceOption) *Service {
	if catalog == nil {
		panic("planchange: plan catalog is required")
	}
	if provider == nil {
		panic("planchange: billing provider is required")
	}
	if publisher == nil {
		panic("planchange: delayed-job publisher is required")
	}
	if store == nil {
		panic("planchange: store is required")
	}
	if callbackURL == "" {
		panic("planchange: executor callback URL is required")
	}

	s := &Service{
		catalog:     catalog,
		provider:    provider,
		publisher:   publisher,
		store:       store,
		log:         slog.New(slog.DiscardHandler),
		callbackURL: callbackURL,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ScheduleDowngrade records an end-of-period switch to a lower plan. The
// live subscription stays untouched until execution.
func (s *Service) ScheduleDowngrade(ctx context.Context, principal core.Principal, target plan.Key) (*ScheduledChange, error) {
	sub, err := s.provider.GetActiveSubscription(ctx, principal.CustomerID)
	if err != nil {
		return nil, err
	}

	// Short-circuit only; CreatePending's conditional write is the
	// authority under concurrency.
	if _, err := s.store.FindPending(ctx, sub.ID); err == nil {
		return nil, ErrChangePending
	} else if !errors.Is(err, ErrNoPendingChange) {
		return nil, err
	}

	current, err := s.catalog.ByProductID(sub.ProductID)
	if err != nil {
		return nil, err
	}
	targetPlan, err := s.catalog.ByKey(target)
	if err != nil {
		return nil, err
	}
	if targetPlan.ProductID == sub.ProductID {
		return nil, ErrSamePlan
	}
	if !current.IsDowngradeTo(targetPlan) {
		return nil, ErrNotDowngrade
	}

	if s.guard != nil {
		blocked, err := s.guard.ExceedsPlan(ctx, principal, targetPlan)
		if err != nil {
			return nil, err
		}
		if len(blocked) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrDowngradeBlocked, blocked)
		}
	}

	if sub.CurrentPeriodEnd == nil {
		return nil, billing.ErrNoPeriodEnd
	}
	scheduledFor := sub.CurrentPeriodEnd.UTC()

	change := &ScheduledChange{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         principal.UserID,
		OwnerEmail:     principal.Email,
		ChangeType:     TypeDowngrade,
		CurrentPlan:    current.Key,
		TargetPlan:     targetPlan.Key,
		ScheduledFor:   scheduledFor,
	}

	jobID, err := s.publishExecutor(ctx, change, targetPlan.ProductID)
	if err != nil {
		return nil, err
	}
	change.DelayedJobID = jobID

	if err := s.store.CreatePending(ctx, change); err != nil {
		// No partial state: drop the job we just scheduled.
		if jobID != "" {
			if delErr := s.publisher.Delete(ctx, jobID); delErr != nil {
				s.log.WarnContext(ctx, "failed to delete orphaned delayed job",
					logger.JobID(jobID), logger.Error(delErr))
			}
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "downgrade scheduled",
		logger.Component("planchange"),
		logger.ChangeID(change.ID),
		logger.SubscriptionID(sub.ID),
		logger.UserID(principal.UserID),
		logger.PlanID(string(target)),
		slog.Time("scheduled_for", scheduledFor),
		logger.JobID(jobID))
	s.notify(ctx, change, s.notifyScheduled)

	return change, nil
}

// ScheduleCancellation flags the subscription to cancel at period end and
// records the change so it can be reverted.
func (s *Service) ScheduleCancellation(ctx context.Context, principal core.Principal, reason, comment string) (*ScheduledChange, error) {
	sub, err := s.provider.GetActiveSubscription(ctx, principal.CustomerID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.FindPending(ctx, sub.ID); err == nil {
		return nil, ErrChangePending
	} else if !errors.Is(err, ErrNoPendingChange) {
		return nil, err
	}

	current, err := s.catalog.ByProductID(sub.ProductID)
	if err != nil {
		return nil, err
	}
	if sub.CurrentPeriodEnd == nil {
		return nil, billing.ErrNoPeriodEnd
	}
	scheduledFor := sub.CurrentPeriodEnd.UTC()

	// The provider applies the cancellation itself at period end; no
	// delayed job is scheduled for this change type.
	if _, err := s.provider.UpdateSubscription(ctx, sub.ID, billing.UpdateParams{
		CancelAtPeriodEnd: billing.Bool(true),
	}); err != nil {
		return nil, err
	}

	change := &ScheduledChange{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         principal.UserID,
		OwnerEmail:     principal.Email,
		ChangeType:     TypeCancellation,
		CurrentPlan:    current.Key,
		TargetPlan:     s.catalog.Default().Key,
		ScheduledFor:   scheduledFor,
		Reason:         reason,
		Comment:        comment,
	}

	if err := s.store.CreatePending(ctx, change); err != nil {
		// Undo the provider flag so the subscription is not silently
		// cancelling without a record to revert.
		if _, undoErr := s.provider.UpdateSubscription(ctx, sub.ID, billing.UpdateParams{
			CancelAtPeriodEnd: billing.Bool(false),
		}); undoErr != nil {
			s.log.ErrorContext(ctx, "failed to undo cancel flag after persist failure",
				logger.SubscriptionID(sub.ID), logger.Error(undoErr))
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "cancellation scheduled",
		logger.Component("planchange"),
		logger.ChangeID(change.ID),
		logger.SubscriptionID(sub.ID),
		logger.UserID(principal.UserID),
		slog.Time("scheduled_for", scheduledFor))
	s.notify(ctx, change, s.notifyScheduled)

	return change, nil
}

// Execute applies a previously scheduled downgrade. It is idempotent and
// safe to reach from both the delayed-job callback and the billing
// webhook's period-end path; live provider state decides, not the payload.
func (s *Service) Execute(ctx context.Context, payload ExecutePayload) (Outcome, error) {
	if payload.SubscriptionID == "" || payload.NewProductID == "" {
		return "", fmt.Errorf("%w: missing subscription or product id", ErrInvalidChange)
	}

	pending, err := s.store.FindPending(ctx, payload.SubscriptionID)
	if err != nil && !errors.Is(err, ErrNoPendingChange) {
		return "", err
	}

	if pending != nil && s.now().Before(pending.ScheduledFor.Add(-executeSlack)) {
		s.log.WarnContext(ctx, "execution callback arrived before scheduled time",
			logger.ChangeID(pending.ID),
			logger.SubscriptionID(payload.SubscriptionID),
			slog.Time("scheduled_for", pending.ScheduledFor))
		return OutcomeTooEarly, nil
	}

	sub, err := s.provider.GetSubscription(ctx, payload.SubscriptionID)
	if err != nil {
		if billing.IsNotFound(err) {
			s.finalize(ctx, pending, s.store.MarkReverted, s.notifyReverted)
			return OutcomeGone, nil
		}
		// Transient provider errors bubble up so the job platform retries.
		return "", err
	}

	if !sub.Eligible() {
		s.finalize(ctx, pending, s.store.MarkReverted, s.notifyReverted)
		s.log.InfoContext(ctx, "scheduled change dropped for ineligible subscription",
			logger.SubscriptionID(sub.ID), slog.String("status", string(sub.Status)))
		return OutcomeStale, nil
	}

	if sub.ProductID == payload.NewProductID {
		s.finalize(ctx, pending, s.store.MarkExecuted, s.notifyExecuted)
		return OutcomeAlreadyApplied, nil
	}

	// No pending record means the change was reverted (or already finalized
	// by the other path); a surviving callback must not act on it.
	if pending == nil {
		s.log.InfoContext(ctx, "execution callback for a change that is no longer pending",
			logger.SubscriptionID(sub.ID))
		return OutcomeStale, nil
	}

	targetPlan, err := s.catalog.ByProductID(payload.NewProductID)
	if err != nil {
		return "", err
	}

	// Prorated on the next invoice, never extending the current period.
	if _, err := s.provider.UpdateSubscription(ctx, sub.ID, billing.UpdateParams{
		PriceID:   billing.String(targetPlan.PriceID),
		Proration: billing.ProrationProratedImmediately,
	}); err != nil {
		return "", err
	}

	s.finalize(ctx, pending, s.store.MarkExecuted, s.notifyExecuted)
	s.log.InfoContext(ctx, "scheduled downgrade executed",
		logger.Component("planchange"),
		logger.SubscriptionID(sub.ID),
		logger.PlanID(string(targetPlan.Key)))

	return OutcomeApplied, nil
}

// ExecuteForSubscription finalizes whatever change is pending for the given
// subscription, driven by a billing webhook rather than a job callback. It
// covers two paths the callback never sees: cancellations (the provider
// performs those itself) and downgrades whose delay exceeded the job
// platform's horizon.
func (s *Service) ExecuteForSubscription(ctx context.Context, subscriptionID string) (Outcome, error) {
	if subscriptionID == "" {
		return "", fmt.Errorf("%w: missing subscription id", ErrInvalidChange)
	}

	pending, err := s.store.FindPending(ctx, subscriptionID)
	if errors.Is(err, ErrNoPendingChange) {
		return OutcomeStale, nil
	}
	if err != nil {
		return "", err
	}

	if pending.ChangeType == TypeCancellation {
		return s.finalizeCancellation(ctx, pending)
	}

	targetPlan, err := s.catalog.ByKey(pending.TargetPlan)
	if err != nil {
		return "", err
	}
	return s.Execute(ctx, ExecutePayload{
		SubscriptionID: subscriptionID,
		NewProductID:   targetPlan.ProductID,
		TargetPlan:     pending.TargetPlan,
	})
}

// finalizeCancellation settles a pending cancellation record against live
// provider state. The provider executes the cancellation itself; this only
// keeps the record honest.
func (s *Service) finalizeCancellation(ctx context.Context, pending *ScheduledChange) (Outcome, error) {
	sub, err := s.provider.GetSubscription(ctx, pending.SubscriptionID)
	if err != nil {
		if billing.IsNotFound(err) {
			s.finalize(ctx, pending, s.store.MarkExecuted, s.notifyExecuted)
			return OutcomeApplied, nil
		}
		return "", err
	}

	if sub.Status == billing.StatusCanceled {
		s.finalize(ctx, pending, s.store.MarkExecuted, s.notifyExecuted)
		s.log.InfoContext(ctx, "scheduled cancellation executed",
			logger.Component("planchange"),
			logger.ChangeID(pending.ID),
			logger.SubscriptionID(sub.ID))
		return OutcomeApplied, nil
	}

	// Flag cleared outside our revert flow (e.g. provider dashboard); the
	// record no longer reflects reality.
	if !sub.CancelAtPeriodEnd {
		s.finalize(ctx, pending, s.store.MarkReverted, s.notifyReverted)
		return OutcomeStale, nil
	}

	// Still waiting for period end; nothing to do yet.
	return OutcomeTooEarly, nil
}

// Revert cancels the principal's pending change and restores the
// subscription to its uninterrupted course.
func (s *Service) Revert(ctx context.Context, principal core.Principal) (*ScheduledChange, error) {
	sub, err := s.provider.GetActiveSubscription(ctx, principal.CustomerID)
	if err != nil {
		return nil, err
	}

	change, err := s.store.FindPendingForUser(ctx, sub.ID, principal.UserID)
	if err != nil {
		return nil, err
	}

	if change.DelayedJobID != "" {
		if err := s.publisher.Delete(ctx, change.DelayedJobID); err != nil {
			// The executor drops reverted changes anyway.
			s.log.WarnContext(ctx, "failed to delete delayed job on revert",
				logger.JobID(change.DelayedJobID), logger.Error(err))
		}
	}

	if change.ChangeType == TypeCancellation {
		if _, err := s.provider.UpdateSubscription(ctx, sub.ID, billing.UpdateParams{
			CancelAtPeriodEnd: billing.Bool(false),
		}); err != nil {
			return nil, err
		}
	}

	if err := s.store.MarkReverted(ctx, change.ID); err != nil {
		return nil, err
	}
	change.Status = StatusReverted

	s.log.InfoContext(ctx, "scheduled change reverted",
		logger.Component("planchange"),
		logger.ChangeID(change.ID),
		logger.SubscriptionID(sub.ID),
		logger.UserID(principal.UserID))
	s.notify(ctx, change, s.notifyReverted)

	return change, nil
}

// publishExecutor schedules the execution callback. A delay beyond the job
// platform's horizon is not an error: the record is kept without a job and
// the billing webhook finalizes the change at period end.
func (s *Service) publishExecutor(ctx context.Context, change *ScheduledChange, newProductID string) (string, error) {
	delay := change.ScheduledFor.Sub(s.now())
	if delay > s.publisher.MaxDelay() {
		s.log.InfoContext(ctx, "delay exceeds job platform horizon, webhook path will finalize",
			logger.SubscriptionID(change.SubscriptionID),
			slog.Duration("delay", delay),
			slog.Duration("max_delay", s.publisher.MaxDelay()))
		return "", nil
	}

	payload, err := json.Marshal(ExecutePayload{
		SubscriptionID: change.SubscriptionID,
		NewProductID:   newProductID,
		TargetPlan:     change.TargetPlan,
	})
	if err != nil {
		return "", fmt.Errorf("marshal executor payload: %w", err)
	}

	jobID, err := s.publisher.Publish(ctx, s.callbackURL, payload, delay)
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// finalize moves a pending record to a terminal state, tolerating a missing
// record and concurrent finalizers.
func (s *Service) finalize(ctx context.Context, pending *ScheduledChange, mark func(context.Context, uuid.UUID) error, after func(context.Context, *ScheduledChange) error) {
	if pending == nil {
		return
	}
	if err := mark(ctx, pending.ID); err != nil {
		if !errors.Is(err, ErrChangeNotFound) {
			s.log.ErrorContext(ctx, "failed to finalize scheduled change",
				logger.ChangeID(pending.ID), logger.Error(err))
		}
		return
	}
	s.notify(ctx, pending, after)
}

func (s *Service) notify(ctx context.Context, change *ScheduledChange, send func(context.Context, *ScheduledChange) error) {
	if send == nil {
		return
	}
	if err := send(ctx, change); err != nil {
		s.log.WarnContext(ctx, "change notification failed",
			logger.ChangeID(change.ID), logger.Error(err))
	}
}

func (s *Service) notifyScheduled(ctx context.Context, c *ScheduledChange) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.ChangeScheduled(ctx, c)
}

func (s *Service) notifyExecuted(ctx context.Context, c *ScheduledChange) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.ChangeExecuted(ctx, c)
}

func (s *Service) notifyReverted(ctx context.Context, c *ScheduledChange) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.ChangeReverted(ctx, c)
}
