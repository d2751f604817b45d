package model

import "time"

// Domain types for scheduled field work, daily routes, and GPS activity.

// EventType classifies a unit of field work.
type EventType string

const (
	EventDelivery   EventType = "delivery"
	EventPickup     EventType = "pickup"
	EventReturn     EventType = "return"
	EventInspection EventType = "inspection"
	EventMeeting    EventType = "meeting"
	EventOther      EventType = "other"
)

// Priority orders events ahead of distance-based routing.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityRush   Priority = "rush"
	PriorityUrgent Priority = "urgent"
)

// EventStatus is the lifecycle state of a scheduled event.
// Transitions are deliberately unrestricted: any status may follow any
// other, matching dispatcher practice (jobs get un-cancelled, re-opened,
// rescheduled mid-flight). A stricter policy would be layered into the
// schedule service, not here.
type EventStatus string

const (
	StatusScheduled   EventStatus = "scheduled"
	StatusInProgress  EventStatus = "in_progress"
	StatusCompleted   EventStatus = "completed"
	StatusCancelled   EventStatus = "cancelled"
	StatusRescheduled EventStatus = "rescheduled"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GPSStamp is an optional device fix attached to a status change or
// activity entry.
type GPSStamp struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
	Address  string  `json:"address,omitempty"`
}

// StatusChange is one entry in an event's append-only history.
type StatusChange struct {
	FromStatus    EventStatus `json:"fromStatus"`
	ToStatus      EventStatus `json:"toStatus"`
	ChangedBy     string      `json:"changedBy"`
	ChangedByName string      `json:"changedByName,omitempty"`
	ChangedAt     time.Time   `json:"changedAt"`
	GPS           *GPSStamp   `json:"gps,omitempty"`
	Note          string      `json:"note,omitempty"`
}

// ScheduledEvent is a single scheduled field-work item.
type ScheduledEvent struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	JobID    string    `json:"jobId,omitempty"`
	JobName  string    `json:"jobName,omitempty"`
	Priority Priority  `json:"priority"`

	Address string    `json:"address"`
	City    string    `json:"city,omitempty"`
	State   string    `json:"state,omitempty"`
	Zip     string    `json:"zip,omitempty"`
	Coords  *GeoPoint `json:"coords,omitempty"`

	// ScheduledDate is "YYYY-MM-DD", ScheduledTime zero-padded 24h "HH:MM".
	// Wall clock only; the system does not model timezones.
	ScheduledDate   string     `json:"scheduledDate"`
	ScheduledTime   string     `json:"scheduledTime"`
	DurationMinutes int        `json:"durationMinutes"`
	ActualStart     *time.Time `json:"actualStart,omitempty"`
	ActualEnd       *time.Time `json:"actualEnd,omitempty"`

	AssigneeID   string `json:"assigneeId"`
	AssigneeName string `json:"assigneeName,omitempty"`
	AssignedBy   string `json:"assignedBy,omitempty"`

	// Route-derived fields, populated only after optimization.
	RouteOrder           int     `json:"routeOrder,omitempty"`
	DistanceFromPrevious float64 `json:"distanceFromPrevious,omitempty"`
	EstimatedArrival     string  `json:"estimatedArrival,omitempty"`

	Status  EventStatus    `json:"status"`
	History []StatusChange `json:"history"`

	CustomerName   string `json:"customerName,omitempty"`
	CustomerPhone  string `json:"customerPhone,omitempty"`
	ProjectManager string `json:"projectManager,omitempty"`
	Notes          string `json:"notes,omitempty"`

	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RouteStatus is the lifecycle state of a daily route.
type RouteStatus string

const (
	RoutePlanned    RouteStatus = "planned"
	RouteInProgress RouteStatus = "in_progress"
	RouteCompleted  RouteStatus = "completed"
)

// DailyRoute is the materialized, ordered plan for one worker on one date.
// At most one exists per (worker, date); re-optimizing overwrites it.
type DailyRoute struct {
	ID         string `json:"id"`
	AssigneeID string `json:"assigneeId"`
	Date       string `json:"date"`

	EventIDs   []string         `json:"eventIds"`
	Events     []ScheduledEvent `json:"events,omitempty"`
	TotalStops int              `json:"totalStops"`

	// TotalDistance is straight-line miles across the whole route;
	// TotalMinutes includes both travel and on-site time.
	TotalDistance float64 `json:"totalDistance"`
	TotalMinutes  int     `json:"totalMinutes"`

	StartAddress string      `json:"startAddress"`
	EndAddress   string      `json:"endAddress"`
	Status       RouteStatus `json:"status"`
	IsOptimized  bool        `json:"isOptimized"`
	OptimizedAt  *time.Time  `json:"optimizedAt,omitempty"`
}

// ActivityEntry is an immutable GPS activity log record.
type ActivityEntry struct {
	ID           string    `json:"id"`
	ActivityType string    `json:"activityType"`
	ActorID      string    `json:"actorId"`
	ActorName    string    `json:"actorName,omitempty"`
	GPS          GPSStamp  `json:"gps"`
	Description  string    `json:"description,omitempty"`
	PhotoRefs    []string  `json:"photoRefs,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateEventRequest is the payload for POST /v1/schedule/events.
type CreateEventRequest struct {
	Type            EventType `json:"type"`
	JobID           string    `json:"jobId,omitempty"`
	JobName         string    `json:"jobName,omitempty"`
	Address         string    `json:"address"`
	City            string    `json:"city,omitempty"`
	State           string    `json:"state,omitempty"`
	Zip             string    `json:"zip,omitempty"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"durationMinutes,omitempty"`
	AssigneeID      string    `json:"assigneeId"`
	AssigneeName    string    `json:"assigneeName,omitempty"`
	AssignedBy      string    `json:"assignedBy,omitempty"`
	CustomerName    string    `json:"customerName,omitempty"`
	CustomerPhone   string    `json:"customerPhone,omitempty"`
	ProjectManager  string    `json:"projectManager,omitempty"`
	Priority        Priority  `json:"priority,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedBy       string    `json:"createdBy,omitempty"`
	GPS             *GPSStamp `json:"gps,omitempty"`
}

// StatusUpdateRequest is the payload for POST /v1/schedule/events/{id}/status.
type StatusUpdateRequest struct {
	Status    EventStatus `json:"status"`
	ActorID   string      `json:"actorId"`
	ActorName string      `json:"actorName,omitempty"`
	GPS       *GPSStamp   `json:"gps,omitempty"`
	Note      string      `json:"note,omitempty"`
}

// OptimizeRequest asks for a route recompute for one worker on one date.
type OptimizeRequest struct {
	AssigneeID string `json:"assigneeId"`
	Date       string `json:"date"`
}

// LogActivityRequest is the payload for POST /v1/schedule/activity.
type LogActivityRequest struct {
	ActivityType string   `json:"activityType"`
	ActorID      string   `json:"actorId"`
	ActorName    string   `json:"actorName,omitempty"`
	GPS          GPSStamp `json:"gps"`
	Description  string   `json:"description,omitempty"`
	PhotoRefs    []string `json:"photoRefs,omitempty"`
}

// PositionFix is a driver GPS sample pushed over the websocket uplink.
type PositionFix struct {
	WorkerID string  `json:"workerId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
	TS       string  `json:"ts,omitempty"`
}

// SubscriptionRequest registers a webhook consumer.
type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// ValidEventType reports whether t is one of the known event types.
func ValidEventType(t EventType) bool {
	switch t {
	case EventDelivery, EventPickup, EventReturn, EventInspection, EventMeeting, EventOther:
		return true
	}
	return false
}

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s EventStatus) bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known priority bucket.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityNormal, PriorityRush, PriorityUrgent:
		return true
	}
	return false
}
