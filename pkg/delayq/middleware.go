package delayq

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// VerifyMiddleware authenticates inbound job callbacks before the wrapped
// handler runs. Requests with a missing, expired, or mismatched signature
// are rejected with 401 and never reach the handler. The request body stays
// readable for the handler.
func VerifyMiddleware(secret string, maxAge time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				http.Error(w, "unreadable body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(payload))

			timestamp, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
			if err != nil {
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}

			headers := SignatureHeaders{
				Signature: r.Header.Get(HeaderSignature),
				Timestamp: timestamp,
				JobID:     r.Header.Get(HeaderJobID),
			}

			if err := VerifySignature(secret, payload, headers, maxAge); err != nil {
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
