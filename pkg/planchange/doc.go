// Package planchange implements end-of-period subscription changes:
// scheduling downgrades and cancellations, executing them when the billing
// period closes, and reverting them while they are still pending.
//
// The billing provider stays the source of truth for live subscription
// state; this package only records the user's intent and applies it at the
// right moment. Execution is idempotent and is reached from two independent
// paths (a delayed-job callback and the provider's period-end webhook), so
// whichever arrives first wins and the other becomes a no-op.
package planchange
