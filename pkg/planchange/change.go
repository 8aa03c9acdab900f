package planchange

import (
	"time"

	"github.com/google/uuid"

	"github.com/linklethq/linklet/pkg/plan"
)

// ChangeType identifies what kind of change is scheduled.
type ChangeType string

const (
	TypeCancellation ChangeType = "cancellation"
	TypeDowngrade    ChangeType = "downgrade"
)

// Valid reports whether t is a known change type.
func (t ChangeType) Valid() bool {
	return t == TypeCancellation || t == TypeDowngrade
}

// Status is the lifecycle state of a scheduled change.
type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
	StatusReverted Status = "reverted"
)

// transitions lists the allowed status moves. Both terminal states are
// reachable only from pending; terminal records never change again.
var transitions = map[Status][]Status{
	StatusPending: {StatusExecuted, StatusReverted},
}

// CanTransition reports whether a change may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ScheduledChange records a user's intent to change their subscription at
// the end of the current billing period.
type ScheduledChange struct {
	ID             uuid.UUID  `bson:"_id"`
	SubscriptionID string     `bson:"subscription_id"`
	UserID         uuid.UUID  `bson:"user_id"`
	OwnerEmail     string     `bson:"owner_email,omitempty"` // notification recipient, captured at scheduling time
	ChangeType     ChangeType `bson:"change_type"`
	CurrentPlan    plan.Key   `bson:"current_plan"`
	TargetPlan     plan.Key   `bson:"target_plan"`
	ScheduledFor   time.Time  `bson:"scheduled_for"`
	DelayedJobID   string     `bson:"delayed_job_id,omitempty"` // empty when the job platform could not cover the delay
	Reason         string     `bson:"reason,omitempty"`
	Comment        string     `bson:"comment,omitempty"`
	Status         Status     `bson:"status"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
	ExecutedAt     *time.Time `bson:"executed_at,omitempty"`
	RevertedAt     *time.Time `bson:"reverted_at,omitempty"`
}

// Pending reports whether the change is still awaiting execution.
func (c *ScheduledChange) Pending() bool {
	return c.Status == StatusPending
}
