package delayq_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linklethq/linklet/pkg/delayq"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"subscriptionId":"sub_1"}`)

	headers, err := delayq.SignPayload("secret", payload, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, headers.Signature)
	require.NotEmpty(t, headers.JobID)

	assert.NoError(t, delayq.VerifySignature("secret", payload, headers, time.Minute))
}

func TestSignForDelayedDelivery(t *testing.T) {
	payload := []byte(`{"subscriptionId":"sub_1"}`)

	t.Run("signature minted days before delivery verifies when the job fires", func(t *testing.T) {
		// The job platform stored these headers two days ago and is
		// delivering them now; the signed timestamp is the delivery time.
		publishedAt := time.Now().Add(-48 * time.Hour)
		headers, err := delayq.SignPayload("secret", payload, publishedAt.Add(48*time.Hour))
		require.NoError(t, err)

		assert.NoError(t, delayq.VerifySignature("secret", payload, headers, 5*time.Minute))
	})

	t.Run("callback replayed before its delivery time is refused", func(t *testing.T) {
		headers, err := delayq.SignPayload("secret", payload, time.Now().Add(48*time.Hour))
		require.NoError(t, err)

		err = delayq.VerifySignature("secret", payload, headers, 5*time.Minute)
		assert.ErrorIs(t, err, delayq.ErrSignatureExpired)
	})
}

func TestVerifySignatureFailures(t *testing.T) {
	payload := []byte(`{"subscriptionId":"sub_1"}`)
	headers, err := delayq.SignPayload("secret", payload, time.Now())
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		err := delayq.VerifySignature("other", payload, headers, time.Minute)
		assert.ErrorIs(t, err, delayq.ErrInvalidSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		err := delayq.VerifySignature("secret", []byte(`{"subscriptionId":"sub_2"}`), headers, time.Minute)
		assert.ErrorIs(t, err, delayq.ErrInvalidSignature)
	})

	t.Run("expired timestamp", func(t *testing.T) {
		old := headers
		old.Timestamp = time.Now().Add(-10 * time.Minute).Unix()
		err := delayq.VerifySignature("secret", payload, old, time.Minute)
		assert.ErrorIs(t, err, delayq.ErrSignatureExpired)
	})

	t.Run("future timestamp", func(t *testing.T) {
		future := headers
		future.Timestamp = time.Now().Add(10 * time.Minute).Unix()
		err := delayq.VerifySignature("secret", payload, future, time.Minute)
		assert.ErrorIs(t, err, delayq.ErrSignatureExpired)
	})

	t.Run("missing signature", func(t *testing.T) {
		err := delayq.VerifySignature("secret", payload, delayq.SignatureHeaders{Timestamp: time.Now().Unix()}, time.Minute)
		assert.ErrorIs(t, err, delayq.ErrInvalidSignature)
	})

	t.Run("empty secret", func(t *testing.T) {
		err := delayq.VerifySignature("", payload, headers, time.Minute)
		assert.ErrorIs(t, err, delayq.ErrInvalidConfiguration)
	})
}
