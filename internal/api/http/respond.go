package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mind-engage/bandcore/internal/apperr"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError is the single place taxonomy errors become HTTP responses.
// Internal errors are logged with the request id and never described to the
// client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err, "unexpected error")
	}
	status := e.Kind.Status()

	body := map[string]any{"code": e.Kind.Code(), "message": e.Message}
	switch {
	case status >= http.StatusInternalServerError && e.Kind == apperr.KindInternal:
		zerolog.Ctx(r.Context()).Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
		body["message"] = "internal error"
	case e.Kind == apperr.KindUnavailable && e.Err != nil:
		zerolog.Ctx(r.Context()).Warn().Err(e.Err).Msg("kill switch failed closed")
	}
	for k, v := range e.Details {
		body[k] = v
	}
	writeJSON(w, status, map[string]any{"error": body})
}

// InvalidToken is the auth.Identify error callback.
func InvalidToken(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, apperr.Auth("invalid or expired token").WithErr(err))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return apperr.Validation("request body too large")
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body is required")
		default:
			return apperr.Validation("malformed JSON body: %v", err)
		}
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
