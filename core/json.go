package core

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Payload carries the top-level fields of an API response body.
// Fields are merged next to the "success" flag rather than nested under a
// "data" key, matching the dashboard client contract.
type Payload map[string]any

// Success writes a 200 response with {"success": true} plus the given fields.
func Success(w http.ResponseWriter, fields Payload) {
	writeJSON(w, http.StatusOK, merge(Payload{"success": true}, fields))
}

// Fail writes an error response with {"success": false, "message": key} plus
// any extra fields. The status code and key come from the given HTTPError.
func Fail(w http.ResponseWriter, httpErr HTTPError, fields Payload) {
	writeJSON(w, httpErr.Code, merge(Payload{
		"success": false,
		"message": httpErr.Key,
	}, fields))
}

// FailWith maps an arbitrary error to a response. HTTPError values keep
// their status and key; anything else becomes a 500 with a generic key so
// upstream error text never leaks to clients.
func FailWith(w http.ResponseWriter, err error) {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		Fail(w, httpErr, nil)
		return
	}
	Fail(w, ErrInternalServerError, nil)
}

func merge(base, extra Payload) Payload {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

func writeJSON(w http.ResponseWriter, status int, body Payload) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
