// ABOUTME: JSON request decoding and response envelopes shared by every handler
// ABOUTME: Maps apperr variants onto status codes and logs internal failures in full

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/2389/convo-gateway/internal/apperr"
	"github.com/2389/convo-gateway/internal/errutil"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeJSON writes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with its public message. Internal errors are logged
// with their full cause before the generic message goes out.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		errutil.LogError(r.Context(), s.logger, "request failed", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
	}
	writeJSON(w, apperr.Status(err), ErrorResponse{
		Success: false,
		Error:   apperr.PublicMessage(err),
	})
}

// decodeJSON reads a JSON object from the request body into dst. Unknown
// fields are ignored so a client-sent owner never reaches the store.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperr.Invalid("request body too large")
		case errors.Is(err, io.EOF):
			return apperr.Invalid("request body is required")
		default:
			return apperr.Invalid("invalid JSON body")
		}
	}
	return nil
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found"})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
}
