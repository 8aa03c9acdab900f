package core_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linklethq/linklet/core"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	core.Success(rec, core.Payload{"changeId": "abc"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "abc", body["changeId"])
}

func TestFail(t *testing.T) {
	rec := httptest.NewRecorder()
	core.Fail(rec, core.NewHTTPError(http.StatusBadRequest, "already-pending"), core.Payload{
		"paymentFailed": false,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "already-pending", body["message"])
	assert.Equal(t, false, body["paymentFailed"])
}

func TestFailWith(t *testing.T) {
	t.Run("http error keeps status and key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		core.FailWith(rec, core.ErrUnauthorized)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "unauthorized", body["message"])
	})

	t.Run("unknown error becomes opaque 500", func(t *testing.T) {
		rec := httptest.NewRecorder()
		core.FailWith(rec, errors.New("pg: connection refused on 10.0.0.3"))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "internal_server_error", body["message"])
		assert.NotContains(t, rec.Body.String(), "10.0.0.3")
	})

	t.Run("wrapped http error unwraps", func(t *testing.T) {
		rec := httptest.NewRecorder()
		core.FailWith(rec, errors.Join(core.ErrTooManyRequests, errors.New("bucket empty")))

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}
