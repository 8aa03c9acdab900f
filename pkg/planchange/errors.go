package planchange

import "errors"

var (
	// ErrChangePending indicates the subscription already has a pending
	// scheduled change; it must be reverted before another is scheduled.
	ErrChangePending = errors.New("subscription already has a pending scheduled change")

	// ErrChangeNotFound indicates no matching change record exists, or the
	// record is no longer pending.
	ErrChangeNotFound = errors.New("scheduled change not found")

	// ErrNoPendingChange indicates the subscription has nothing to revert.
	ErrNoPendingChange = errors.New("no pending scheduled change")

	// ErrSamePlan indicates the requested target equals the current plan.
	ErrSamePlan = errors.New("target plan equals current plan")

	// ErrNotDowngrade indicates the requested target is not below the
	// current plan; upgrades go through checkout, not scheduling.
	ErrNotDowngrade = errors.New("target plan is not a downgrade")

	// ErrDowngradeBlocked indicates current usage exceeds the target plan's
	// limits; the user must reduce usage first.
	ErrDowngradeBlocked = errors.New("current usage exceeds target plan limits")

	// ErrInvalidChange indicates a change record is missing required fields.
	ErrInvalidChange = errors.New("invalid scheduled change")
)
