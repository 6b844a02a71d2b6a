package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fulcrum-ai/gateway/internal/capability"
	"github.com/fulcrum-ai/gateway/internal/jwtauth"
	"github.com/fulcrum-ai/gateway/internal/llm"
	"github.com/fulcrum-ai/gateway/internal/sandbox"
)

// apiError carries a status and a client-safe message for request-level
// failures (bad bodies, disabled features) that originate in this
// package.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func badRequest(msg string) error  { return &apiError{status: http.StatusBadRequest, msg: msg} }
func unavailable(msg string) error { return &apiError{status: http.StatusServiceUnavailable, msg: msg} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError is the single point translating internal failures into
// HTTP responses. Handlers classify by returning wrapped sentinel
// errors; nothing else in the package writes error bodies.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "Internal server error"

	var ae *apiError
	switch {
	case errors.As(err, &ae):
		status, msg = ae.status, ae.msg
	case errors.Is(err, jwtauth.ErrNotConfigured):
		status, msg = http.StatusServiceUnavailable, "Auth0 not configured"
	case errors.Is(err, jwtauth.ErrMissingToken):
		status, msg = http.StatusUnauthorized, "Missing or invalid Authorization header"
	case errors.Is(err, jwtauth.ErrInvalidToken):
		status, msg = http.StatusUnauthorized, "Invalid or expired token"
	case errors.Is(err, sandbox.ErrCredentialUnavailable):
		status, msg = http.StatusBadGateway, "Sandbox credential unavailable"
	case errors.Is(err, capability.ErrDownstreamUnavailable), errors.Is(err, llm.ErrUnavailable):
		status, msg = http.StatusBadGateway, "Upstream service unavailable"
	}

	if status >= http.StatusInternalServerError {
		// Detail stays server-side; the client sees only the generic message.
		h.log.ErrorContext(ctx, "request failed", slog.Int("status", status), slog.String("err", err.Error()))
	} else {
		h.log.DebugContext(ctx, "request rejected", slog.Int("status", status), slog.String("err", err.Error()))
	}

	writeJSON(w, status, map[string]string{"error": msg})
}
