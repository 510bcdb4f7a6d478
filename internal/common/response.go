package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error object of every failed response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps ErrorBody for endpoints without a notice.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// JSON writes v with status. Responses carry ERP document data and are never cached.
// HTML escaping is off so item names with & or <> reach the client unchanged.
func JSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v == nil || status == http.StatusNoContent {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// JSONError renders an ErrorEnvelope.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, ErrorEnvelope{Error: ErrorBody{Code: code, Message: message, Details: details}})
}
