package delayq

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Header names carried on every scheduled callback.
const (
	HeaderSignature = "X-Callback-Signature"
	HeaderTimestamp = "X-Callback-Timestamp"
	HeaderJobID     = "X-Callback-Job-ID"
)

// SignatureHeaders contains the callback authentication headers.
type SignatureHeaders struct {
	Signature string
	Timestamp int64
	JobID     string
}

// Headers returns the signature headers as a map for HTTP header setting.
func (s SignatureHeaders) Headers() map[string]string {
	return map[string]string{
		HeaderSignature: s.Signature,
		HeaderTimestamp: strconv.FormatInt(s.Timestamp, 10),
		HeaderJobID:     s.JobID,
	}
}

// SignPayload creates an HMAC-SHA256 signature for a callback payload.
// Signature format: HMAC-SHA256(secret, timestamp + "." + payload); binding
// the timestamp prevents replay of captured callbacks.
//
// deliverAt is the moment the job platform will POST the callback. The
// platform stores the headers verbatim at publish time, so the signed
// timestamp must be the delivery time: the verifier's replay window opens
// when the job fires, not when it was scheduled.
func SignPayload(secret string, payload []byte, deliverAt time.Time) (SignatureHeaders, error) {
	if secret == "" {
		return SignatureHeaders{}, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}

	timestamp := deliverAt.Unix()
	return SignatureHeaders{
		Signature: computeSignature(secret, payload, timestamp),
		Timestamp: timestamp,
		JobID:     uuid.New().String(),
	}, nil
}

// VerifySignature validates callback authenticity. maxAge bounds the replay
// window; zero disables the timestamp check.
func VerifySignature(secret string, payload []byte, headers SignatureHeaders, maxAge time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if headers.Signature == "" {
		return ErrInvalidSignature
	}

	if maxAge > 0 {
		age := time.Since(time.Unix(headers.Timestamp, 0))
		if age > maxAge {
			return fmt.Errorf("%w: %v old", ErrSignatureExpired, age)
		}
		// Tolerate modest clock skew, reject far-future timestamps.
		if age < -1*time.Minute {
			return fmt.Errorf("%w: timestamp is in the future", ErrSignatureExpired)
		}
	}

	expected := computeSignature(secret, payload, headers.Timestamp)
	if !hmac.Equal([]byte(expected), []byte(headers.Signature)) {
		return ErrInvalidSignature
	}

	return nil
}

func computeSignature(secret string, payload []byte, timestamp int64) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.%s", timestamp, payload)
	return hex.EncodeToString(h.Sum(nil))
}
