package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// It is also the store behind the service and handler tests.
type Memory struct {
	mu       sync.Mutex
	events   map[string]model.ScheduledEvent // id -> event
	eventIDs []string                        // insertion order
	routes   map[string]model.DailyRoute     // assignee|date -> route
	activity []model.ActivityEntry
	subs     []model.Subscription
	// Webhook queue state
	deliveries  map[string]*memDelivery
	deliveryIDs []string
}

func NewMemory() *Memory {
	return &Memory{
		events:     map[string]model.ScheduledEvent{},
		routes:     map[string]model.DailyRoute{},
		deliveries: map[string]*memDelivery{},
	}
}

// memDelivery augments WebhookDelivery with scheduling state.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func routeKey(assigneeID, date string) string { return assigneeID + "|" + date }

func (m *Memory) CreateEvent(ctx context.Context, ev model.ScheduledEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[ev.ID]; !exists {
		m.eventIDs = append(m.eventIDs, ev.ID)
	}
	m.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (m *Memory) GetEvent(ctx context.Context, id string) (model.ScheduledEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return model.ScheduledEvent{}, ErrNotFound
	}
	return cloneEvent(ev), nil
}

func (m *Memory) UpdateEvent(ctx context.Context, ev model.ScheduledEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.ID]; !ok {
		return ErrNotFound
	}
	m.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (m *Memory) ListEventsByDate(ctx context.Context, date, assigneeID string) ([]model.ScheduledEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ScheduledEvent{}
	for _, id := range m.eventIDs {
		ev := m.events[id]
		if ev.ScheduledDate != date {
			continue
		}
		if assigneeID != "" && ev.AssigneeID != assigneeID {
			continue
		}
		out = append(out, cloneEvent(ev))
	}
	// Raw string compare on "HH:MM"; correct for zero-padded 24h times.
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledTime < out[j].ScheduledTime })
	return out, nil
}

func (m *Memory) ListEventsByRange(ctx context.Context, start, end, assigneeID string) ([]model.ScheduledEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ScheduledEvent{}
	for _, id := range m.eventIDs {
		ev := m.events[id]
		if ev.ScheduledDate < start || ev.ScheduledDate > end {
			continue
		}
		if assigneeID != "" && ev.AssigneeID != assigneeID {
			continue
		}
		out = append(out, cloneEvent(ev))
	}
	return out, nil
}

func (m *Memory) UpsertRoute(ctx context.Context, rt model.DailyRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[routeKey(rt.AssigneeID, rt.Date)] = cloneRoute(rt)
	return nil
}

func (m *Memory) GetRoute(ctx context.Context, assigneeID, date string) (model.DailyRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.routes[routeKey(assigneeID, date)]
	if !ok {
		return model.DailyRoute{}, ErrNotFound
	}
	return cloneRoute(rt), nil
}

func (m *Memory) AppendActivity(ctx context.Context, e model.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, e)
	return nil
}

func (m *Memory) ListActivity(ctx context.Context, actorID string, limit int) ([]model.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []model.ActivityEntry{}
	// newest first
	for i := len(m.activity) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.activity[i]
		if actorID != "" && e.ActorID != actorID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription(nil), m.subs...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.subs = out
	return nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{
			ID:             id,
			SubscriptionID: subscriptionID,
			EventType:      eventType,
			URL:            url,
			Secret:         secret,
			Payload:        append([]byte(nil), payload...),
			Status:         "pending",
		},
		NextAttemptAt: time.Now(),
	}
	m.deliveryIDs = append(m.deliveryIDs, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs {
		d := m.deliveries[id]
		if d == nil || d.Status != "pending" || d.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, d.WebhookDelivery)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func cloneEvent(ev model.ScheduledEvent) model.ScheduledEvent {
	out := ev
	out.History = append([]model.StatusChange(nil), ev.History...)
	if ev.Coords != nil {
		c := *ev.Coords
		out.Coords = &c
	}
	return out
}

func cloneRoute(rt model.DailyRoute) model.DailyRoute {
	out := rt
	out.EventIDs = append([]string(nil), rt.EventIDs...)
	out.Events = append([]model.ScheduledEvent(nil), rt.Events...)
	return out
}
