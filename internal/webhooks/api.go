package webhooks

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/opencarelabs/medvoice/internal/calllog"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// CallStore is the read side of the call-event log.
type CallStore interface {
	ListCalls(limit, offset int, from, to time.Time) ([]calllog.CallSummary, int, error)
	CallEvents(callID string) ([]calllog.Event, error)
}

// CallAPI serves the historical call-log browsing endpoints.
type CallAPI struct {
	store CallStore
}

func NewCallAPI(store CallStore) *CallAPI {
	return &CallAPI{store: store}
}

type callListResponse struct {
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
	Calls  []calllog.CallSummary `json:"calls"`
}

type eventResponse struct {
	ID        string          `json:"id"`
	CallID    string          `json:"call_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// HandleListCalls pages through calls, newest first.
// GET /api/calls?limit=&offset=&from=&to=
func (a *CallAPI) HandleListCalls(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		http.Error(w, "call log disabled", http.StatusServiceUnavailable)
		return
	}

	limit := intQuery(r, "limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := intQuery(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	from, ok := timeQuery(r, "from")
	if !ok {
		http.Error(w, "invalid from timestamp, want RFC3339", http.StatusBadRequest)
		return
	}
	to, ok := timeQuery(r, "to")
	if !ok {
		http.Error(w, "invalid to timestamp, want RFC3339", http.StatusBadRequest)
		return
	}

	calls, total, err := a.store.ListCalls(limit, offset, from, to)
	if err != nil {
		slog.Error("list calls", "error", err)
		http.Error(w, "failed to list calls", http.StatusInternalServerError)
		return
	}
	if calls == nil {
		calls = []calllog.CallSummary{}
	}

	writeJSON(w, callListResponse{Total: total, Limit: limit, Offset: offset, Calls: calls})
}

// HandleCallEvents returns one call's event records in order.
// GET /api/calls/{callId}
func (a *CallAPI) HandleCallEvents(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		http.Error(w, "call log disabled", http.StatusServiceUnavailable)
		return
	}

	callID := r.PathValue("callId")
	events, err := a.store.CallEvents(callID)
	if err != nil {
		slog.Error("call events", "call_id", callID, "error", err)
		http.Error(w, "failed to load call events", http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		http.Error(w, "call not found", http.StatusNotFound)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			ID:        ev.ID,
			CallID:    ev.CallID,
			Kind:      ev.Kind,
			Payload:   json.RawMessage(ev.Payload),
			CreatedAt: ev.CreatedAt,
		})
	}
	writeJSON(w, out)
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// timeQuery parses an optional RFC3339 query parameter; ok is false only on
// a present-but-invalid value.
func timeQuery(r *http.Request, key string) (time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
