package planchange

import (
	"context"

	"github.com/google/uuid"
)

// Store persists scheduled-change records. Implementations must enforce
// the at-most-one-pending-per-subscription invariant inside CreatePending
// with a conditional write, not a read-then-write check; concurrent
// schedulers race and exactly one may win.
type Store interface {
	// CreatePending inserts a new pending change. Returns ErrChangePending
	// when the subscription already has one.
	CreatePending(ctx context.Context, change *ScheduledChange) error

	// FindPending returns the pending change for a subscription, or
	// ErrNoPendingChange.
	FindPending(ctx context.Context, subscriptionID string) (*ScheduledChange, error)

	// FindPendingForUser is FindPending scoped to the owning user, used to
	// authorize reverts.
	FindPendingForUser(ctx context.Context, subscriptionID string, userID uuid.UUID) (*ScheduledChange, error)

	// MarkExecuted moves a pending change to executed. Returns
	// ErrChangeNotFound when the record is missing or already terminal.
	MarkExecuted(ctx context.Context, id uuid.UUID) error

	// MarkReverted moves a pending change to reverted. Returns
	// ErrChangeNotFound when the record is missing or already terminal.
	MarkReverted(ctx context.Context, id uuid.UUID) error
}
