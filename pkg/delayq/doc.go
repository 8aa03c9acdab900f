// Package delayq is the client for the external delayed-job service: a
// message-queue product that calls an HTTP endpoint back at a caller-chosen
// future time.
//
// The workflow uses it to fire the downgrade executor at the subscription's
// period end. Two pieces live here:
//
//   - Client, which publishes a delayed callback (returning a job handle that
//     can later cancel it) and deletes scheduled jobs.
//   - VerifyMiddleware, which authenticates inbound callbacks by their
//     HMAC-SHA256 signature before the executor handler runs.
//
// The job platform caps how far in the future a callback may be scheduled
// (Config.MaxDelay). Publish refuses longer delays with ErrDelayExceedsMax
// so callers can fall back to another finalization path.
package delayq
