package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/linklethq/linklet/core"
	"github.com/linklethq/linklet/pkg/plan"
)

var (
	ErrNoCounterRegistered = errors.New("no usage counter registered for resource")
	ErrLimitExceeded       = errors.New("usage limit exceeded")
	ErrInvalidResource     = errors.New("resource not present in plan")
	ErrFailedToCountUsage  = errors.New("failed to count resource usage")
)

// PlanResolver returns the plan currently effective for a principal.
// The billing platform remains the source of truth; implementations usually
// map the live subscription's product ID through the catalog. The full
// principal is passed because the platform keys subscriptions by its own
// customer reference, not by the user ID.
type PlanResolver func(ctx context.Context, principal core.Principal) (plan.Plan, error)

// CounterFunc returns the usage consumed by a user in the current period.
// Called on every quota check, so implementations should be cheap.
type CounterFunc func(ctx context.Context, userID uuid.UUID) (int64, error)

// Info is the consumed/limit/balance triple for one resource.
type Info struct {
	Used    int64
	Limit   int64
	Balance int64 // Unlimited limit yields Unlimited balance
}

// Ledger computes per-user usage against plan quotas for the current
// calendar month. Read-mostly; all state lives in the counters.
type Ledger struct {
	resolve  PlanResolver
	counters map[plan.Resource]CounterFunc
}

// NewLedger creates a Ledger. Panics on a nil resolver to fail fast during
// initialization.
func NewLedger(resolve PlanResolver) *Ledger {
	if resolve == nil {
		panic("usage: PlanResolver is required")
	}
	return &Ledger{
		resolve:  resolve,
		counters: make(map[plan.Resource]CounterFunc),
	}
}

// RegisterCounter binds a counter to a resource. Not safe for concurrent use
// with reads; register everything during startup.
func (l *Ledger) RegisterCounter(res plan.Resource, fn CounterFunc) {
	l.counters[res] = fn
}

// Usage returns consumed/limit/balance for one resource.
func (l *Ledger) Usage(ctx context.Context, principal core.Principal, res plan.Resource) (Info, error) {
	p, err := l.resolve(ctx, principal)
	if err != nil {
		return Info{}, err
	}

	limit, ok := p.Limits[res]
	if !ok {
		return Info{}, ErrInvalidResource
	}

	counter, ok := l.counters[res]
	if !ok {
		return Info{}, ErrNoCounterRegistered
	}

	used, err := counter(ctx, principal.UserID)
	if err != nil {
		return Info{}, errors.Join(ErrFailedToCountUsage, err)
	}

	info := Info{Used: used, Limit: limit, Balance: plan.Unlimited}
	if limit != plan.Unlimited {
		info.Balance = max(limit-used, 0)
	}
	return info, nil
}

// All returns usage for every resource in the user's plan. Counter errors
// for individual resources leave that entry at zero used.
func (l *Ledger) All(ctx context.Context, principal core.Principal) (map[plan.Resource]Info, error) {
	p, err := l.resolve(ctx, principal)
	if err != nil {
		return nil, err
	}

	result := make(map[plan.Resource]Info, len(p.Limits))
	for res, limit := range p.Limits {
		info := Info{Limit: limit, Balance: limit}
		if counter, ok := l.counters[res]; ok {
			if used, err := counter(ctx, principal.UserID); err == nil {
				info.Used = used
				if limit != plan.Unlimited {
					info.Balance = max(limit-used, 0)
				}
			}
		}
		result[res] = info
	}
	return result, nil
}

// CanCreate reports whether the user may create one more instance of res.
// Returns ErrLimitExceeded when the quota is exhausted.
func (l *Ledger) CanCreate(ctx context.Context, principal core.Principal, res plan.Resource) error {
	info, err := l.Usage(ctx, principal, res)
	if err != nil {
		return err
	}
	if info.Limit == plan.Unlimited {
		return nil
	}
	if info.Used >= info.Limit {
		return ErrLimitExceeded
	}
	return nil
}

// ExceedsPlan reports the resources whose current usage would not fit the
// target plan's quotas. Used to block downgrades that would strand data.
// Only quotas that shrink between the plans are checked; usage permitted
// under an equal or larger target quota cannot strand anything.
func (l *Ledger) ExceedsPlan(ctx context.Context, principal core.Principal, target plan.Plan) ([]plan.Resource, error) {
	current, err := l.resolve(ctx, principal)
	if err != nil {
		return nil, err
	}

	var blocked []plan.Resource
	for res, change := range plan.Compare(current, target) {
		counter, ok := l.counters[res]
		if !ok {
			continue
		}
		used, err := counter(ctx, principal.UserID)
		if err != nil {
			return nil, errors.Join(ErrFailedToCountUsage, err)
		}
		if used > change.To {
			blocked = append(blocked, res)
		}
	}
	return blocked, nil
}

// CounterFromEvents adapts an EventStore into a CounterFunc scoped to the
// current calendar month.
func CounterFromEvents(store EventStore, res plan.Resource, now func() time.Time) CounterFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, userID uuid.UUID) (int64, error) {
		start, end := CurrentPeriod(now())
		return store.CountInPeriod(ctx, userID, res, start, end)
	}
}
