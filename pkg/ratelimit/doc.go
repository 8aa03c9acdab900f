// Package ratelimit provides token-bucket rate limiting with pluggable
// storage backends (in-memory for single instances, Redis for fleets) and
// an HTTP middleware that emits standard X-RateLimit headers.
//
// It protects the abuse-prone public endpoints: password verification on
// protected links and scheduled-change reverts.
package ratelimit
