package store

import (
	"context"
	"errors"
	"time"

	"fieldroute/internal/model"
)

// Store is the persistence interface behind the schedule service. The
// original system of record was a spreadsheet; both implementations here
// (in-memory and Postgres) expose the same row-level operations.
//
// Writes are last-writer-wins with no version check. Concurrent updates
// to the same event or route can race; with one dispatcher and a handful
// of drivers that is an accepted gap, not something the store papers over.
type Store interface {
	// Events
	CreateEvent(ctx context.Context, ev model.ScheduledEvent) error
	GetEvent(ctx context.Context, id string) (model.ScheduledEvent, error)
	UpdateEvent(ctx context.Context, ev model.ScheduledEvent) error
	// ListEventsByDate returns events for one date, sorted ascending by the
	// raw scheduled-time string. Lexicographic compare is correct because
	// times are zero-padded 24-hour "HH:MM".
	ListEventsByDate(ctx context.Context, date, assigneeID string) ([]model.ScheduledEvent, error)
	// ListEventsByRange returns events with date in [start, end] inclusive.
	// No sort guarantee.
	ListEventsByRange(ctx context.Context, start, end, assigneeID string) ([]model.ScheduledEvent, error)

	// Routes. At most one route exists per (assignee, date); UpsertRoute
	// overwrites any previous record for that key.
	UpsertRoute(ctx context.Context, rt model.DailyRoute) error
	GetRoute(ctx context.Context, assigneeID, date string) (model.DailyRoute, error)

	// Activity log, append-only.
	AppendActivity(ctx context.Context, e model.ActivityEntry) error
	ListActivity(ctx context.Context, actorID string, limit int) ([]model.ActivityEntry, error)

	// Webhook subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)

	// Webhook delivery queue
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error
}

// WebhookDelivery is one queued outbound notification.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}

var ErrNotFound = errors.New("not found")
