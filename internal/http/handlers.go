package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/driftlane/outreach-gateway/internal/core"
	"github.com/driftlane/outreach-gateway/internal/metrics"
	"github.com/driftlane/outreach-gateway/internal/store"
)

type Server struct {
	Store      *store.Store
	Dispatcher *core.Dispatcher
	Registry   *core.Registry
	Usage      core.UsageStore
	Clock      core.Clock
}

func NewServer(st *store.Store, disp *core.Dispatcher, reg *core.Registry, usage core.UsageStore) *Server {
	return &Server{Store: st, Dispatcher: disp, Registry: reg, Usage: usage, Clock: core.SystemClock()}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, instrument)

	s.mountHealth(r)
	s.mountMetrics(r)
	s.mountDocs(r)

	r.Post("/messages", s.postMessage)
	r.Get("/messages", s.listMessages)
	r.Get("/messages/{id}", s.getMessage)
	r.Post("/dispatch", s.dispatchNow)
	r.Get("/accounts", s.listAccounts)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// postMessage queues a message in the outbox; the worker dispatches it.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	idemp := r.Header.Get("Idempotency-Key")
	var key *string
	if idemp != "" {
		key = &idemp
	}
	var in struct {
		Recipient          string `json:"recipient"`
		Subject            string `json:"subject"`
		Body               string `json:"body"`
		TargetKey          string `json:"target_key"`
		PreferredAccountID string `json:"preferred_account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Recipient == "" || in.Body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	msgID, already, err := s.Store.Enqueue(r.Context(), store.EnqueueRequest{
		Recipient:        in.Recipient,
		Subject:          in.Subject,
		Body:             in.Body,
		TargetKey:        in.TargetKey,
		PreferredAccount: in.PreferredAccountID,
		IdempotencyKey:   key,
	})
	if err != nil {
		metrics.EnqueueTotal.WithLabelValues("error").Inc()
		writeJSON(w, 500, map[string]string{"error": err.Error()})
		return
	}
	status := http.StatusAccepted
	if already {
		metrics.EnqueueTotal.WithLabelValues("idempotent").Inc()
		status = http.StatusOK
	} else {
		metrics.EnqueueTotal.WithLabelValues("ok").Inc()
	}
	writeJSON(w, status, map[string]string{"id": msgID})
}

// dispatchNow bypasses the outbox and runs one send synchronously.
func (s *Server) dispatchNow(w http.ResponseWriter, r *http.Request) {
	var in core.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Recipient == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	res, err := s.Dispatcher.Dispatch(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrNoEligibleAccount):
			writeJSON(w, http.StatusTooManyRequests, res)
		case errors.Is(err, core.ErrAccountNotFound):
			writeJSON(w, http.StatusNotFound, res)
		case errors.Is(err, core.ErrPersistence):
			writeJSON(w, http.StatusServiceUnavailable, res)
		default:
			writeJSON(w, http.StatusBadGateway, res)
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	var status *string
	if v := r.URL.Query().Get("status"); v != "" {
		status = &v
	}
	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = &t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = &t
		}
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	items, err := s.Store.QueryMessages(r.Context(), status, from, to, limit, offset)
	if err != nil {
		writeJSON(w, 500, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, 200, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.Store.GetMessage(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "message_not_found"})
		return
	}
	writeJSON(w, 200, m)
}

// listAccounts reports each configured account with today's usage.
func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	day := s.Clock.Today()
	type row struct {
		core.Account
		SentToday int `json:"sent_today"`
	}
	accounts := s.Registry.All()
	out := make([]row, 0, len(accounts))
	for _, a := range accounts {
		n, err := s.Usage.Count(r.Context(), a.ID, day)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "usage_store_unavailable"})
			return
		}
		out = append(out, row{Account: a, SentToday: n})
	}
	total, err := s.Usage.TotalCount(r.Context(), day)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "usage_store_unavailable"})
		return
	}
	writeJSON(w, 200, map[string]any{"day": day, "accounts": out, "sent_today_total": total})
}
