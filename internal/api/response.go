package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/voxprep/voxprep/internal/call"
	"github.com/voxprep/voxprep/internal/flow"
	"github.com/voxprep/voxprep/internal/observe"
)

// errorPayload is the wire shape of every error response.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

// writeJSON marshals v before touching the response so an encoding failure
// can still produce a clean 500 instead of a half-written body.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		observe.Logger(ctx).Error("response encoding failed", slog.Any("err", err))
		data = []byte(`{"error":{"code":"internal","message":"internal server error"}}`)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		observe.Logger(ctx).Warn("response write failed", slog.Any("err", err))
	}
}

// writeError maps a domain error onto an HTTP status and the error envelope.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		status = http.StatusInternalServerError
		code   = "internal"
		msg    = "internal server error"
	)

	var verr *flow.ValidationError
	var perr *flow.PersistenceError
	switch {
	case errors.As(err, &verr):
		status, code, msg = http.StatusBadRequest, "invalid_request", verr.Error()
	case errors.Is(err, flow.ErrNotFound):
		status, code, msg = http.StatusNotFound, "not_found", "interview session not found"
	case errors.Is(err, flow.ErrSessionBusy):
		status, code, msg = http.StatusConflict, "session_busy", "a turn is already in flight for this session"
	case errors.Is(err, call.ErrCallActive):
		status, code, msg = http.StatusConflict, "call_active", "session already has a live call"
	case errors.Is(err, call.ErrNoCall):
		status, code, msg = http.StatusNotFound, "no_call", "session has no live call"
	case errors.As(err, &perr):
		status, code, msg = http.StatusBadGateway, "store_unavailable", "session store is unavailable"
	default:
		observe.Logger(ctx).Error("request failed", slog.Any("err", err))
	}

	writeJSON(ctx, w, status, errorEnvelope{Error: errorPayload{Code: code, Message: msg}})
}

// badRequest writes a 400 with the given message, for malformed request
// bodies that never reach the flow engine.
func badRequest(ctx context.Context, w http.ResponseWriter, msg string) {
	writeJSON(ctx, w, http.StatusBadRequest, errorEnvelope{
		Error: errorPayload{Code: "invalid_request", Message: msg},
	})
}
