package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fieldroute/internal/buildinfo"
	"fieldroute/internal/model"
	"fieldroute/internal/schedule"
	"fieldroute/internal/store"
)

// respondError maps service errors onto problem responses: bad input is
// 400, unknown resources 404, an empty optimize 422, anything else 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *schedule.ValidationError
	switch {
	case errors.As(err, &ve):
		writeProblem(w, http.StatusBadRequest, "Invalid request", ve.Msg, r.URL.Path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not found", err.Error(), r.URL.Path)
	case errors.Is(err, schedule.ErrNoEvents):
		writeProblem(w, http.StatusUnprocessableEntity, "No events to optimize", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), r.URL.Path)
	}
}

// EventsHandler handles POST/GET /v1/schedule/events.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p := getPrincipal(r)
		if !p.CanDispatch() {
			writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path)
			return
		}
		var req model.CreateEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		ev, err := s.Schedule.CreateEvent(r.Context(), req)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, ev)
	case http.MethodGet:
		p := getPrincipal(r)
		q := r.URL.Query()
		assignee := q.Get("assigneeId")
		if !p.CanView(assignee) {
			writeProblem(w, 403, "Forbidden", "drivers may only read their own schedule", r.URL.Path)
			return
		}
		var (
			events []model.ScheduledEvent
			err    error
		)
		if start, end := q.Get("start"), q.Get("end"); start != "" || end != "" {
			events, err = s.Schedule.EventsForRange(r.Context(), start, end, assignee)
		} else {
			events, err = s.Schedule.EventsForDate(r.Context(), q.Get("date"), assignee)
		}
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": events, "count": len(events)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// EventByIDHandler handles GET /v1/schedule/events/{id} and
// POST /v1/schedule/events/{id}/status.
func (s *Server) EventByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/schedule/events/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]

	if len(parts) > 1 && parts[1] == "status" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req model.StatusUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		p := getPrincipal(r)
		if req.ActorID == "" {
			req.ActorID = p.WorkerID
		}
		ev, err := s.Schedule.UpdateStatus(r.Context(), id, req)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ev, err := s.Schedule.GetEvent(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// OptimizeHandler handles POST /v1/schedule/routes/optimize.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := getPrincipal(r)
	if !p.CanDispatch() {
		writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	rt, err := s.Schedule.OptimizeRoute(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// RoutesHandler handles GET /v1/schedule/routes?assigneeId=&date=.
func (s *Server) RoutesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	assignee, date := q.Get("assigneeId"), q.Get("date")
	p := getPrincipal(r)
	if !p.CanView(assignee) {
		writeProblem(w, 403, "Forbidden", "drivers may only read their own route", r.URL.Path)
		return
	}
	rt, err := s.Schedule.RouteFor(r.Context(), assignee, date)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// CalendarHandler handles GET /v1/schedule/calendar?month=YYYY-MM.
func (s *Server) CalendarHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	cal, err := s.Schedule.CalendarMonth(r.Context(), q.Get("month"), q.Get("assigneeId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"month": q.Get("month"), "days": cal})
}

// ActivityHandler handles POST/GET /v1/schedule/activity.
func (s *Server) ActivityHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.LogActivityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		p := getPrincipal(r)
		if req.ActorID == "" {
			req.ActorID = p.WorkerID
		}
		e, err := s.Schedule.LogActivity(r.Context(), req)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	case http.MethodGet:
		p := getPrincipal(r)
		if !p.CanDispatch() {
			writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path)
			return
		}
		q := r.URL.Query()
		limit := 0
		if v := q.Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, err := s.Schedule.Activity(r.Context(), q.Get("actorId"), limit)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// WorkersHandler handles /v1/schedule/workers/{id}/stream (SSE) and
// /v1/schedule/workers/{id}/location.
func (s *Server) WorkersHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/schedule/workers/")
	parts := strings.Split(rest, "/")
	if rest == r.URL.Path || len(parts) < 2 {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	workerID := parts[0]
	p := getPrincipal(r)
	if !p.CanView(workerID) {
		writeProblem(w, 403, "Forbidden", "not authorized for this worker", r.URL.Path)
		return
	}

	switch parts[1] {
	case "stream":
		s.streamWorker(w, r, workerID)
	case "location":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		loc, ok := s.Locations.Get(workerID)
		if !ok {
			writeProblem(w, http.StatusNotFound, "No location", "no fix received for worker", r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, loc)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) streamWorker(w http.ResponseWriter, r *http.Request, workerID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(workerID)
	defer s.Broker.Unsubscribe(workerID, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"workerId\":%q,\"ts\":%q}\n\n", workerID, time.Now().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			heartbeat()
		}
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateSubscription(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		items, err := s.Store.ListSubscriptions(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" || r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when backed by Postgres.
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
