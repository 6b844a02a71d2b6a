// Package httpapi is the gateway's HTTP surface: route dispatch,
// bearer-token gating, CORS for the configured frontend origin, and the
// single error-translation boundary.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/fulcrum-ai/gateway/internal/chat"
	"github.com/fulcrum-ai/gateway/internal/jwtauth"
	"github.com/fulcrum-ai/gateway/internal/logctx"
	"github.com/fulcrum-ai/gateway/internal/sandbox"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Config for the gateway handler.
type Config struct {
	// FrontendOrigin is the sole origin allowed by CORS.
	FrontendOrigin string

	// Validator gates JWT-protected routes. Use jwtauth.NewUnconfigured
	// when identity settings are absent.
	Validator jwtauth.Validator

	// Backend serves chat turns and document listing.
	Backend chat.Backend

	// Broker, when set, enables GET /api/sandbox-token.
	Broker *sandbox.Broker

	// RequireUserJWT selects the end-user-JWT deployment mode: POST
	// /api/chat demands a validated JWT and never forwards the caller's
	// bearer downstream. When false (sandbox-token mode) the caller's
	// bearer is forwarded to the capability backend as-is.
	RequireUserJWT bool

	// LogHandler is an optional slog.Handler. If nil, logging is discarded.
	LogHandler slog.Handler
}

// Handler serves the gateway API.
type Handler struct {
	mux            *http.ServeMux
	log            *slog.Logger
	validator      jwtauth.Validator
	backend        chat.Backend
	broker         *sandbox.Broker
	requireUserJWT bool
	frontendOrigin string
}

var _ http.Handler = (*Handler)(nil)

func New(cfg Config) (*Handler, error) {
	if cfg.Validator == nil {
		return nil, errors.New("validator is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}
	logHandler := cfg.LogHandler
	if logHandler == nil {
		logHandler = slog.DiscardHandler
	}

	h := &Handler{
		log:            slog.New(logctx.Handler{Handler: logHandler}),
		validator:      cfg.Validator,
		backend:        cfg.Backend,
		broker:         cfg.Broker,
		requireUserJWT: cfg.RequireUserJWT,
		frontendOrigin: cfg.FrontendOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/auth/me", h.handleMe)
	mux.HandleFunc("GET /api/sandbox-token", h.handleSandboxToken)
	mux.HandleFunc("GET /api/documents", h.handleDocuments)
	mux.HandleFunc("POST /api/chat", h.handleChat)
	h.mux = mux

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})
	r = r.WithContext(ctx)

	h.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, err := h.validator.Validate(r.Context(), bearerToken(r))
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	type user struct {
		ID    string `json:"id"`
		Email string `json:"email,omitempty"`
		Name  string `json:"name,omitempty"`
	}
	writeJSON(w, http.StatusOK, map[string]user{"user": {
		ID:    principal.Subject,
		Email: principal.Email,
		Name:  principal.Name,
	}})
}

func (h *Handler) handleSandboxToken(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		h.writeError(r.Context(), w, unavailable("Ally sandbox not enabled: set USE_ALLY_SANDBOX and credentials"))
		return
	}
	cred, err := h.broker.Resolve(r.Context(), "")
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": cred.AccessToken,
		"expires_in":   int(cred.TTL(time.Now()).Seconds()),
	})
}

func (h *Handler) handleDocuments(w http.ResponseWriter, r *http.Request) {
	// Bearer optional here: the listing is not user-scoped.
	ids, err := h.backend.ListDocuments(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"documents": ids})
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := bearerToken(r)

	callerToken := token
	if h.requireUserJWT {
		principal, err := h.validator.Validate(ctx, token)
		if err != nil {
			h.writeError(ctx, w, err)
			return
		}
		ctx = logctx.WithTurnData(ctx, &logctx.TurnData{Backend: "chat", UserID: principal.Subject})
		// The end-user JWT must never reach the capability backend; the
		// broker mints the app-level credential instead.
		callerToken = ""
	}

	message, err := decodeChatBody(r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	h.log.InfoContext(ctx, "chat turn started")
	response, err := h.backend.Chat(ctx, message, callerToken)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": response})
}

// decodeChatBody normalizes the two accepted shapes ({message} and
// {query}) into one non-empty message.
func decodeChatBody(r *http.Request) (string, error) {
	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			return "", badRequest("Content-Type must be application/json")
		}
	}

	var body struct {
		Message string `json:"message"`
		Query   string `json:"query"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		return "", badRequest("Invalid JSON body")
	}

	message := strings.TrimSpace(body.Message)
	if message == "" {
		message = strings.TrimSpace(body.Query)
	}
	if message == "" {
		return "", badRequest("Missing message or query")
	}
	return message, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}
