// Package logctx enriches slog records with request-scoped attributes
// carried on the context.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("path", rd.Path),
			slog.String("remote_addr", rd.RemoteAddr),
		))
	}

	if td, ok := ctx.Value(turnDataKey{}).(*TurnData); ok {
		r.AddAttrs(slog.Group("turn",
			slog.String("backend", td.Backend),
			slog.String("user_id", td.UserID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type turnDataKey struct{}

// TurnData identifies a single chat turn: which backend serves it and,
// when known, the authenticated user.
type TurnData struct {
	Backend string
	UserID  string
}

func WithTurnData(ctx context.Context, data *TurnData) context.Context {
	return context.WithValue(ctx, turnDataKey{}, data)
}
