// Package api exposes the ReMemory entry points as JSON over HTTP.
//
// Routes:
//
//   - POST /v1/chats/{chat}/turns/{turn}/remember
//   - POST /v1/chats/{chat}/turns/{turn}/log
//   - POST /v1/chats/{chat}/turns/{turn}/end-scene
//   - POST /v1/fade
//
// Turn routes take an optional [rememory.Options] body. Every route answers
// with a [Response]; the status code reflects Outcome.Err.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/rememory/internal/notify"
	"github.com/MrWong99/rememory/internal/rememory"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// Entrypoints is the service behind the routes. [rememory.Service]
// implements it.
type Entrypoints interface {
	RememberEvent(ctx context.Context, chatID string, turn int, opts rememory.Options) rememory.Outcome
	LogMessage(ctx context.Context, chatID string, turn int, opts rememory.Options) rememory.Outcome
	EndScene(ctx context.Context, chatID string, turn int, opts rememory.Options) rememory.Outcome
	FadeMemories(ctx context.Context, chatID, key string, quiet bool) rememory.Outcome
}

var _ Entrypoints = (*rememory.Service)(nil)

// FadeRequest is the body of POST /v1/fade.
type FadeRequest struct {
	Chat  string `json:"chat"`
	Book  string `json:"book,omitempty"`
	Quiet *bool  `json:"quiet,omitempty"`
}

// Response is the JSON body of every route.
type Response struct {
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Memory   string          `json:"memory,omitempty"`
	Keywords []string        `json:"keywords,omitempty"`
	Books    []string        `json:"books,omitempty"`
	Faded    int             `json:"faded"`
	Purged   int             `json:"purged"`
	Boundary *int            `json:"boundary,omitempty"`
	Notices  []notify.Notice `json:"notices,omitempty"`
}

// Handler serves the entry-point routes.
type Handler struct {
	svc Entrypoints
}

// New returns a Handler calling svc.
func New(svc Entrypoints) *Handler {
	return &Handler{svc: svc}
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chats/{chat}/turns/{turn}/remember", h.turnRoute(h.svc.RememberEvent))
	mux.HandleFunc("POST /v1/chats/{chat}/turns/{turn}/log", h.turnRoute(h.svc.LogMessage))
	mux.HandleFunc("POST /v1/chats/{chat}/turns/{turn}/end-scene", h.turnRoute(h.svc.EndScene))
	mux.HandleFunc("POST /v1/fade", h.fade)
}

type turnFunc func(ctx context.Context, chatID string, turn int, opts rememory.Options) rememory.Outcome

func (h *Handler) turnRoute(fn turnFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := r.PathValue("chat")
		turn, err := strconv.Atoi(r.PathValue("turn"))
		if err != nil || turn < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid turn %q", r.PathValue("turn")))
			return
		}

		var opts rememory.Options
		if err := decodeBody(r, &opts); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		writeOutcome(w, fn(r.Context(), chatID, turn, opts))
	}
}

func (h *Handler) fade(w http.ResponseWriter, r *http.Request) {
	var req FadeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Chat == "" {
		writeError(w, http.StatusBadRequest, errors.New("chat is required"))
		return
	}
	quiet := true
	if req.Quiet != nil {
		quiet = *req.Quiet
	}
	writeOutcome(w, h.svc.FadeMemories(r.Context(), req.Chat, req.Book, quiet))
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// StatusFor maps a handled failure kind to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, rememory.ErrCompletion):
		return http.StatusBadGateway
	case errors.Is(err, rememory.ErrChatNotFound), errors.Is(err, rememory.ErrTurnOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, rememory.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, rememory.ErrNoBookSelected),
		errors.Is(err, rememory.ErrInvalidBook),
		errors.Is(err, rememory.ErrEmptyContent),
		errors.Is(err, rememory.ErrEmptySummary):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewResponse converts an outcome to its wire form.
func NewResponse(out rememory.Outcome) Response {
	res := Response{
		OK:       out.Err == nil,
		Memory:   out.Memory,
		Keywords: out.Keywords,
		Books:    out.Books,
		Faded:    out.Faded,
		Purged:   out.Purged,
		Notices:  out.Notices,
	}
	if out.Boundary >= 0 {
		b := out.Boundary
		res.Boundary = &b
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	return res
}

func writeOutcome(w http.ResponseWriter, out rememory.Outcome) {
	writeJSON(w, StatusFor(out.Err), NewResponse(out))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, Response{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: write response", "err", err)
	}
}
