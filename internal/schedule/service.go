// Package schedule implements event lifecycle, daily route optimization,
// and the GPS activity log on top of a pluggable store and geocoder.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/geocode"
	"fieldroute/internal/model"
	"fieldroute/internal/opt"
	"fieldroute/internal/store"
)

// ErrNoEvents is returned by OptimizeRoute when the worker has nothing
// schedulable on the requested date. Nothing is persisted in that case.
var ErrNoEvents = errors.New("no events to optimize")

// ValidationError marks bad caller input so the HTTP layer can map it to 400.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Service coordinates the store, the geocoder, and the route optimizer.
// All time and ID generation is injected so tests run deterministically.
type Service struct {
	store store.Store
	geo   geocode.Geocoder

	now   func() time.Time
	newID func() string

	warehouse     model.GeoPoint
	warehouseAddr string
	mph           float64

	// notify, when set, is called after a successful state change with the
	// event type and the payload that was persisted. The API layer hangs
	// webhook fan-out and SSE publishing off it.
	notify func(eventType string, payload any)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIDGen replaces the random ID source. The generator returns the bare
// identifier; callers add the "ev_" / "act_" kind prefix.
func WithIDGen(gen func() string) Option { return func(s *Service) { s.newID = gen } }

// WithWarehouse sets the route start point and its display address.
func WithWarehouse(p model.GeoPoint, addr string) Option {
	return func(s *Service) { s.warehouse, s.warehouseAddr = p, addr }
}

// WithSpeed sets the average travel speed used for ETAs, in mph.
func WithSpeed(mph float64) Option { return func(s *Service) { s.mph = mph } }

func WithNotifier(fn func(eventType string, payload any)) Option {
	return func(s *Service) { s.notify = fn }
}

func New(st store.Store, geo geocode.Geocoder, opts ...Option) *Service {
	s := &Service{
		store:         st,
		geo:           geo,
		now:           time.Now,
		newID:         uuid.NewString,
		warehouse:     geocode.Fallback,
		warehouseAddr: "Warehouse, Huntsville, AL 35801",
		mph:           30,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) emit(eventType string, payload any) {
	if s.notify != nil {
		s.notify(eventType, payload)
	}
}

// CreateEvent validates and persists a new scheduled event. Missing
// priority, duration, and status fall back to normal / 30 minutes /
// scheduled. A GPS stamp on the request also lands in the activity log.
func (s *Service) CreateEvent(ctx context.Context, req model.CreateEventRequest) (model.ScheduledEvent, error) {
	if req.Address == "" {
		return model.ScheduledEvent{}, invalid("address is required")
	}
	if req.AssigneeID == "" {
		return model.ScheduledEvent{}, invalid("assigneeId is required")
	}
	if req.Date == "" || req.Time == "" {
		return model.ScheduledEvent{}, invalid("date and time are required")
	}
	if req.Type != "" && !model.ValidEventType(req.Type) {
		return model.ScheduledEvent{}, invalid("unknown event type %q", req.Type)
	}
	if req.Priority != "" && !model.ValidPriority(req.Priority) {
		return model.ScheduledEvent{}, invalid("unknown priority %q", req.Priority)
	}

	now := s.now()
	ev := model.ScheduledEvent{
		ID:              "ev_" + s.newID(),
		Type:            req.Type,
		JobID:           req.JobID,
		JobName:         req.JobName,
		Priority:        req.Priority,
		Address:         req.Address,
		City:            req.City,
		State:           req.State,
		Zip:             req.Zip,
		ScheduledDate:   req.Date,
		ScheduledTime:   req.Time,
		DurationMinutes: req.DurationMinutes,
		AssigneeID:      req.AssigneeID,
		AssigneeName:    req.AssigneeName,
		AssignedBy:      req.AssignedBy,
		Status:          model.StatusScheduled,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		ProjectManager:  req.ProjectManager,
		Notes:           req.Notes,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if ev.Type == "" {
		ev.Type = model.EventOther
	}
	if ev.Priority == "" {
		ev.Priority = model.PriorityNormal
	}
	if ev.DurationMinutes <= 0 {
		ev.DurationMinutes = 30
	}
	ev.History = []model.StatusChange{{
		ToStatus:  model.StatusScheduled,
		ChangedBy: req.CreatedBy,
		ChangedAt: now,
		GPS:       req.GPS,
		Note:      "created",
	}}

	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return model.ScheduledEvent{}, err
	}
	if req.GPS != nil {
		// The event is already committed; a failed audit write surfaces
		// as an error rather than being masked.
		err := s.store.AppendActivity(ctx, model.ActivityEntry{
			ID:           "act_" + s.newID(),
			ActivityType: "event_created",
			ActorID:      req.CreatedBy,
			GPS:          *req.GPS,
			Description:  "created " + ev.ID,
			CreatedAt:    now,
		})
		if err != nil {
			return ev, err
		}
	}
	s.emit("event.created", ev)
	return ev, nil
}

// UpdateStatus records a lifecycle transition. Any status may follow any
// other. ActualStart is stamped on the first move to in_progress and
// ActualEnd on the first move to completed; neither is ever overwritten.
func (s *Service) UpdateStatus(ctx context.Context, id string, req model.StatusUpdateRequest) (model.ScheduledEvent, error) {
	if !model.ValidStatus(req.Status) {
		return model.ScheduledEvent{}, invalid("unknown status %q", req.Status)
	}
	if req.ActorID == "" {
		return model.ScheduledEvent{}, invalid("actorId is required")
	}
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return model.ScheduledEvent{}, err
	}

	now := s.now()
	from := ev.Status
	ev.Status = req.Status
	ev.UpdatedAt = now
	ev.History = append(ev.History, model.StatusChange{
		FromStatus:    from,
		ToStatus:      req.Status,
		ChangedBy:     req.ActorID,
		ChangedByName: req.ActorName,
		ChangedAt:     now,
		GPS:           req.GPS,
		Note:          req.Note,
	})
	if req.Status == model.StatusInProgress && ev.ActualStart == nil {
		t := now
		ev.ActualStart = &t
	}
	if req.Status == model.StatusCompleted && ev.ActualEnd == nil {
		t := now
		ev.ActualEnd = &t
	}

	if err := s.store.UpdateEvent(ctx, ev); err != nil {
		return model.ScheduledEvent{}, err
	}
	if req.GPS != nil {
		err := s.store.AppendActivity(ctx, model.ActivityEntry{
			ID:           "act_" + s.newID(),
			ActivityType: "status_change",
			ActorID:      req.ActorID,
			ActorName:    req.ActorName,
			GPS:          *req.GPS,
			Description:  fmt.Sprintf("%s: %s -> %s", ev.ID, from, req.Status),
			CreatedAt:    now,
		})
		if err != nil {
			return ev, err
		}
	}
	s.emit("event.status_changed", ev)
	return ev, nil
}

// EventsForDate returns a worker's (or everyone's) events on one date,
// sorted by scheduled time.
func (s *Service) EventsForDate(ctx context.Context, date, assigneeID string) ([]model.ScheduledEvent, error) {
	if date == "" {
		return nil, invalid("date is required")
	}
	return s.store.ListEventsByDate(ctx, date, assigneeID)
}

// EventsForRange returns events with scheduled date in [start, end].
func (s *Service) EventsForRange(ctx context.Context, start, end, assigneeID string) ([]model.ScheduledEvent, error) {
	if start == "" || end == "" {
		return nil, invalid("start and end are required")
	}
	if end < start {
		return nil, invalid("end precedes start")
	}
	return s.store.ListEventsByRange(ctx, start, end, assigneeID)
}

// GetEvent fetches one event with its full status history.
func (s *Service) GetEvent(ctx context.Context, id string) (model.ScheduledEvent, error) {
	return s.store.GetEvent(ctx, id)
}

// CalendarMonth groups a month's events by date. month is "YYYY-MM".
func (s *Service) CalendarMonth(ctx context.Context, month, assigneeID string) (map[string][]model.ScheduledEvent, error) {
	if len(month) != 7 || month[4] != '-' {
		return nil, invalid("month must be YYYY-MM")
	}
	// "-31" over-covers short months; the range compare is on strings and
	// nonexistent dates simply never match.
	events, err := s.store.ListEventsByRange(ctx, month+"-01", month+"-31", assigneeID)
	if err != nil {
		return nil, err
	}
	out := map[string][]model.ScheduledEvent{}
	for _, ev := range events {
		out[ev.ScheduledDate] = append(out[ev.ScheduledDate], ev)
	}
	return out, nil
}

// OptimizeRoute recomputes one worker's route for a date and persists the
// result. Events missing coordinates are geocoded and saved first; then
// every routed event gets its order, leg distance, and ETA written back,
// one event at a time, before the route record itself is upserted.
func (s *Service) OptimizeRoute(ctx context.Context, req model.OptimizeRequest) (model.DailyRoute, error) {
	if req.AssigneeID == "" || req.Date == "" {
		return model.DailyRoute{}, invalid("assigneeId and date are required")
	}
	routable, err := s.store.ListEventsByDate(ctx, req.Date, req.AssigneeID)
	if err != nil {
		return model.DailyRoute{}, err
	}
	if len(routable) == 0 {
		return model.DailyRoute{}, ErrNoEvents
	}

	for i := range routable {
		if routable[i].Coords != nil {
			continue
		}
		pt := s.geo.Geocode(fullAddress(routable[i]))
		routable[i].Coords = &pt
		routable[i].UpdatedAt = s.now()
		if err := s.store.UpdateEvent(ctx, routable[i]); err != nil {
			return model.DailyRoute{}, err
		}
	}

	stops := make([]opt.Stop, len(routable))
	for i, ev := range routable {
		stops[i] = opt.Stop{
			ID:              ev.ID,
			Priority:        ev.Priority,
			Coord:           *ev.Coords,
			ScheduledTime:   ev.ScheduledTime,
			DurationMinutes: ev.DurationMinutes,
		}
	}
	plan := opt.BuildPlan(stops, s.warehouse, s.mph)

	now := s.now()
	ordered := make([]model.ScheduledEvent, 0, len(plan.Legs))
	ids := make([]string, 0, len(plan.Legs))
	for _, leg := range plan.Legs {
		ev := routable[leg.StopIndex]
		ev.RouteOrder = leg.RouteOrder
		ev.DistanceFromPrevious = leg.DistanceFromPrevious
		ev.EstimatedArrival = leg.Arrival
		ev.UpdatedAt = now
		if err := s.store.UpdateEvent(ctx, ev); err != nil {
			return model.DailyRoute{}, err
		}
		ordered = append(ordered, ev)
		ids = append(ids, ev.ID)
	}

	optimizedAt := now
	rt := model.DailyRoute{
		ID:            fmt.Sprintf("rt_%s_%s", req.AssigneeID, req.Date),
		AssigneeID:    req.AssigneeID,
		Date:          req.Date,
		EventIDs:      ids,
		Events:        ordered,
		TotalStops:    len(ordered),
		TotalDistance: plan.TotalDistance,
		TotalMinutes:  plan.TotalMinutes,
		StartAddress:  s.warehouseAddr,
		EndAddress:    fullAddress(ordered[len(ordered)-1]),
		Status:        model.RoutePlanned,
		IsOptimized:   true,
		OptimizedAt:   &optimizedAt,
	}
	if err := s.store.UpsertRoute(ctx, rt); err != nil {
		return model.DailyRoute{}, err
	}
	s.emit("route.optimized", rt)
	return rt, nil
}

// RouteFor returns the persisted route for a worker-day, with the current
// event records hydrated in route order.
func (s *Service) RouteFor(ctx context.Context, assigneeID, date string) (model.DailyRoute, error) {
	if assigneeID == "" || date == "" {
		return model.DailyRoute{}, invalid("assigneeId and date are required")
	}
	rt, err := s.store.GetRoute(ctx, assigneeID, date)
	if err != nil {
		return model.DailyRoute{}, err
	}
	for _, id := range rt.EventIDs {
		ev, err := s.store.GetEvent(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return model.DailyRoute{}, err
		}
		rt.Events = append(rt.Events, ev)
	}
	return rt, nil
}

// LogActivity appends one immutable GPS activity record.
func (s *Service) LogActivity(ctx context.Context, req model.LogActivityRequest) (model.ActivityEntry, error) {
	if req.ActivityType == "" {
		return model.ActivityEntry{}, invalid("activityType is required")
	}
	if req.ActorID == "" {
		return model.ActivityEntry{}, invalid("actorId is required")
	}
	e := model.ActivityEntry{
		ID:           "act_" + s.newID(),
		ActivityType: req.ActivityType,
		ActorID:      req.ActorID,
		ActorName:    req.ActorName,
		GPS:          req.GPS,
		Description:  req.Description,
		PhotoRefs:    req.PhotoRefs,
		CreatedAt:    s.now(),
	}
	if err := s.store.AppendActivity(ctx, e); err != nil {
		return model.ActivityEntry{}, err
	}
	return e, nil
}

// Activity lists recent activity entries, newest first.
func (s *Service) Activity(ctx context.Context, actorID string, limit int) ([]model.ActivityEntry, error) {
	return s.store.ListActivity(ctx, actorID, limit)
}

func fullAddress(ev model.ScheduledEvent) string {
	parts := []string{ev.Address}
	if ev.City != "" {
		parts = append(parts, ev.City)
	}
	tail := strings.TrimSpace(ev.State + " " + ev.Zip)
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}
