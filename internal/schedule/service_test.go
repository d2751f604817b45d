package schedule

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/geocode"
	"fieldroute/internal/model"
	"fieldroute/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	geo := geocode.NewZipGeocoder(geocode.WithJitter(0))
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	tick := 0
	seq := 0
	svc := New(mem, geo,
		WithClock(func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Minute)
		}),
		WithIDGen(func() string {
			seq++
			return fmt.Sprintf("%03d", seq)
		}),
		WithSpeed(30),
	)
	return svc, mem
}

func createEvent(t *testing.T, svc *Service, timeStr, zip string, prio model.Priority) model.ScheduledEvent {
	t.Helper()
	ev, err := svc.CreateEvent(context.Background(), model.CreateEventRequest{
		Type:       model.EventDelivery,
		Address:    "100 Main St",
		City:       "Huntsville",
		State:      "AL",
		Zip:        zip,
		Date:       "2026-03-02",
		Time:       timeStr,
		AssigneeID: "drv-1",
		Priority:   prio,
		CreatedBy:  "dispatch-1",
	})
	require.NoError(t, err)
	return ev
}

func TestCreateEventDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ev, err := svc.CreateEvent(context.Background(), model.CreateEventRequest{
		Address:    "100 Main St",
		Date:       "2026-03-02",
		Time:       "09:00",
		AssigneeID: "drv-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, ev.Status)
	assert.Equal(t, model.PriorityNormal, ev.Priority)
	assert.Equal(t, model.EventOther, ev.Type)
	assert.Equal(t, 30, ev.DurationMinutes)
	require.Len(t, ev.History, 1)
	assert.Equal(t, model.StatusScheduled, ev.History[0].ToStatus)
}

func TestCreateEventValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateEvent(ctx, model.CreateEventRequest{Date: "2026-03-02", Time: "09:00", AssigneeID: "drv-1"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = svc.CreateEvent(ctx, model.CreateEventRequest{
		Address: "x", Date: "2026-03-02", Time: "09:00", AssigneeID: "drv-1",
		Priority: "whenever",
	})
	require.ErrorAs(t, err, &ve)
}

func TestStatusTransitionStamps(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	ev := createEvent(t, svc, "09:00", "35801", model.PriorityNormal)

	got, err := svc.UpdateStatus(ctx, ev.ID, model.StatusUpdateRequest{
		Status: model.StatusInProgress, ActorID: "drv-1",
		GPS: &model.GPSStamp{Lat: 34.73, Lng: -86.58},
	})
	require.NoError(t, err)
	require.NotNil(t, got.ActualStart)
	firstStart := *got.ActualStart

	// A second in_progress keeps the original start time.
	got, err = svc.UpdateStatus(ctx, ev.ID, model.StatusUpdateRequest{Status: model.StatusInProgress, ActorID: "drv-1"})
	require.NoError(t, err)
	assert.Equal(t, firstStart, *got.ActualStart)

	got, err = svc.UpdateStatus(ctx, ev.ID, model.StatusUpdateRequest{Status: model.StatusCompleted, ActorID: "drv-1"})
	require.NoError(t, err)
	require.NotNil(t, got.ActualEnd)
	assert.True(t, got.ActualEnd.After(firstStart))
	assert.Len(t, got.History, 4)

	// The GPS stamp on the first transition produced an activity entry.
	acts, err := svc.Activity(ctx, "drv-1", 10)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "status_change", acts[0].ActivityType)
}

// activityFailStore breaks only the activity-log write.
type activityFailStore struct {
	store.Store
	err error
}

func (s *activityFailStore) AppendActivity(ctx context.Context, e model.ActivityEntry) error {
	return s.err
}

func TestActivityWriteFailureSurfaces(t *testing.T) {
	mem := store.NewMemory()
	boom := errors.New("activity write failed")
	svc := New(&activityFailStore{Store: mem, err: boom}, geocode.NewZipGeocoder(geocode.WithJitter(0)))
	ctx := context.Background()
	gps := &model.GPSStamp{Lat: 34.73, Lng: -86.58}

	ev, err := svc.CreateEvent(ctx, model.CreateEventRequest{
		Address: "100 Main St", Date: "2026-03-02", Time: "09:00",
		AssigneeID: "drv-1", CreatedBy: "dispatch-1", GPS: gps,
	})
	assert.ErrorIs(t, err, boom)
	// The event itself was committed before the audit write failed.
	stored, err := mem.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, stored.Status)

	_, err = svc.UpdateStatus(ctx, ev.ID, model.StatusUpdateRequest{
		Status: model.StatusInProgress, ActorID: "drv-1", GPS: gps,
	})
	assert.ErrorIs(t, err, boom)
	stored, err = mem.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, stored.Status)
}

func TestStatusUpdateUnknownEvent(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.UpdateStatus(context.Background(), "ev_missing", model.StatusUpdateRequest{
		Status: model.StatusCompleted, ActorID: "drv-1",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEventsForDateSortedByTime(t *testing.T) {
	svc, _ := newTestService(t)
	createEvent(t, svc, "14:15", "35801", model.PriorityNormal)
	createEvent(t, svc, "08:30", "35801", model.PriorityNormal)
	createEvent(t, svc, "09:00", "35801", model.PriorityNormal)

	events, err := svc.EventsForDate(context.Background(), "2026-03-02", "drv-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	times := []string{events[0].ScheduledTime, events[1].ScheduledTime, events[2].ScheduledTime}
	assert.Equal(t, []string{"08:30", "09:00", "14:15"}, times)
}

func TestOptimizeNoEvents(t *testing.T) {
	svc, mem := newTestService(t)
	_, err := svc.OptimizeRoute(context.Background(), model.OptimizeRequest{AssigneeID: "drv-1", Date: "2026-03-02"})
	assert.ErrorIs(t, err, ErrNoEvents)

	_, err = mem.GetRoute(context.Background(), "drv-1", "2026-03-02")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOptimizePriorityBuckets(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Input (time) order: far normal, near normal, urgent, rush.
	farNormal := createEvent(t, svc, "08:00", "35824", model.PriorityNormal)
	nearNormal := createEvent(t, svc, "09:00", "35805", model.PriorityNormal)
	urgent := createEvent(t, svc, "10:00", "35803", model.PriorityUrgent)
	rush := createEvent(t, svc, "11:00", "35811", model.PriorityRush)

	rt, err := svc.OptimizeRoute(ctx, model.OptimizeRequest{AssigneeID: "drv-1", Date: "2026-03-02"})
	require.NoError(t, err)
	require.Len(t, rt.EventIDs, 4)

	// Urgent, then rush, then normals nearest-first from the warehouse.
	assert.Equal(t, []string{urgent.ID, rush.ID, nearNormal.ID, farNormal.ID}, rt.EventIDs)
	for i, ev := range rt.Events {
		assert.Equal(t, i+1, ev.RouteOrder)
		assert.NotEmpty(t, ev.EstimatedArrival)
	}
}

func TestOptimizeIncludesAllStatuses(t *testing.T) {
	// The optimizer routes every event on the day, cancelled included;
	// dispatch reschedules or removes them before optimizing if needed.
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := createEvent(t, svc, "09:00", "35801", model.PriorityNormal)
	b := createEvent(t, svc, "10:00", "35805", model.PriorityNormal)
	_, err := svc.UpdateStatus(ctx, b.ID, model.StatusUpdateRequest{Status: model.StatusCancelled, ActorID: "dispatch-1"})
	require.NoError(t, err)

	rt, err := svc.OptimizeRoute(ctx, model.OptimizeRequest{AssigneeID: "drv-1", Date: "2026-03-02"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, rt.EventIDs)
	assert.Equal(t, 2, rt.TotalStops)
}

func TestOptimizeTwiceKeepsOneRoute(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	createEvent(t, svc, "09:00", "35801", model.PriorityNormal)

	first, err := svc.OptimizeRoute(ctx, model.OptimizeRequest{AssigneeID: "drv-1", Date: "2026-03-02"})
	require.NoError(t, err)
	createEvent(t, svc, "10:00", "35805", model.PriorityNormal)
	second, err := svc.OptimizeRoute(ctx, model.OptimizeRequest{AssigneeID: "drv-1", Date: "2026-03-02"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	stored, err := mem.GetRoute(ctx, "drv-1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.TotalStops)
}

func TestOptimizeEndToEnd(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createEvent(t, svc, "08:30", "35801", model.PriorityNormal)
	createEvent(t, svc, "10:00", "35805", model.PriorityNormal)
	createEvent(t, svc, "13:00", "35824", model.PriorityNormal)

	rt, err := svc.OptimizeRoute(ctx, model.OptimizeRequest{AssigneeID: "drv-1", Date: "2026-03-02"})
	require.NoError(t, err)
	assert.Equal(t, "rt_drv-1_2026-03-02", rt.ID)
	assert.Equal(t, 3, rt.TotalStops)
	assert.True(t, rt.IsOptimized)
	require.NotNil(t, rt.OptimizedAt)
	assert.Greater(t, rt.TotalDistance, 0.0)
	assert.Greater(t, rt.TotalMinutes, 0)

	seen := map[int]bool{}
	for _, ev := range rt.Events {
		require.NotNil(t, ev.Coords)
		seen[ev.RouteOrder] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seen)

	// Events carry the routing results on reread too.
	events, err := svc.EventsForDate(ctx, "2026-03-02", "drv-1")
	require.NoError(t, err)
	for _, ev := range events {
		assert.NotZero(t, ev.RouteOrder)
		assert.NotEmpty(t, ev.EstimatedArrival)
	}

	got, err := svc.RouteFor(ctx, "drv-1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, rt.EventIDs, got.EventIDs)
	require.Len(t, got.Events, 3)
}

func TestCalendarMonth(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, err := svc.CreateEvent(ctx, model.CreateEventRequest{
		Address: "1 A St", Date: "2026-03-02", Time: "09:00", AssigneeID: "drv-1",
	})
	require.NoError(t, err)
	b, err := svc.CreateEvent(ctx, model.CreateEventRequest{
		Address: "2 B St", Date: "2026-03-15", Time: "10:00", AssigneeID: "drv-1",
	})
	require.NoError(t, err)
	_, err = svc.CreateEvent(ctx, model.CreateEventRequest{
		Address: "3 C St", Date: "2026-04-01", Time: "10:00", AssigneeID: "drv-1",
	})
	require.NoError(t, err)

	cal, err := svc.CalendarMonth(ctx, "2026-03", "")
	require.NoError(t, err)
	require.Len(t, cal, 2)
	assert.Equal(t, a.ID, cal["2026-03-02"][0].ID)
	assert.Equal(t, b.ID, cal["2026-03-15"][0].ID)

	_, err = svc.CalendarMonth(ctx, "March", "")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestLogActivity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.LogActivity(ctx, model.LogActivityRequest{ActorID: "drv-1"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	e, err := svc.LogActivity(ctx, model.LogActivityRequest{
		ActivityType: "clock_in", ActorID: "drv-1",
		GPS: model.GPSStamp{Lat: 34.7, Lng: -86.6},
	})
	require.NoError(t, err)
	// Activity IDs come from the injected generator, same as event IDs.
	assert.Equal(t, "act_001", e.ID)

	got, err := svc.Activity(ctx, "drv-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "clock_in", got[0].ActivityType)
}

func TestNotifierFires(t *testing.T) {
	mem := store.NewMemory()
	geo := geocode.NewZipGeocoder(geocode.WithJitter(0))
	var fired []string
	svc := New(mem, geo, WithNotifier(func(eventType string, _ any) {
		fired = append(fired, eventType)
	}))
	ctx := context.Background()
	ev, err := svc.CreateEvent(ctx, model.CreateEventRequest{
		Address: "1 A St", Date: "2026-03-02", Time: "09:00", AssigneeID: "drv-1",
	})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, ev.ID, model.StatusUpdateRequest{Status: model.StatusInProgress, ActorID: "drv-1"})
	require.NoError(t, err)
	_, err = svc.OptimizeRoute(ctx, model.OptimizeRequest{AssigneeID: "drv-1", Date: "2026-03-02"})
	require.NoError(t, err)

	assert.Equal(t, []string{"event.created", "event.status_changed", "route.optimized"}, fired)
}
