package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "signlink/pkg/domain-errors"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads a JSON request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// WriteError translates a domain error into the JSON error envelope. Internal
// errors never carry a description so store messages do not leak.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		if de, ok := dErrors.As(err); ok && de.Message != "" {
			body["error_description"] = de.Message
		}
	}
	WriteJSON(w, code.HTTPStatus(), body)
}
