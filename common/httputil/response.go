// Package httputil provides JSON request/response helpers for Draftline's
// HTTP API layer.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes a JSON error response with a machine-readable code and a
// human-readable message. Callers branch on the code, not the message.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]string{
		"code":  code,
		"error": message,
	})
}

// maxBodySize bounds request bodies at 10MB; proposals carry file contents
// but not binaries.
const maxBodySize = 10 << 20

// DecodeJSON decodes a JSON request body into v, enforcing the body size
// limit and rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var syntaxErr *json.SyntaxError
		switch {
		case errors.Is(err, io.EOF):
			return fmt.Errorf("request body is empty")
		case errors.As(err, &syntaxErr):
			return fmt.Errorf("malformed JSON at offset %d", syntaxErr.Offset)
		default:
			return fmt.Errorf("invalid request body: %w", err)
		}
	}
	return nil
}
