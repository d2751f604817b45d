package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fieldroute/internal/model"
)

// Postgres is the durable store. Dates and times are stored as text on
// purpose: the scheduling domain compares "YYYY-MM-DD" and "HH:MM" strings
// lexicographically, and text columns keep SQL ordering identical to the
// in-memory implementation.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping is used by the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order. Files are
// expected to be idempotent (CREATE TABLE IF NOT EXISTS style).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations %s: %w", dir, err)
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		raw, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(raw)); err != nil {
			return fmt.Errorf("migration %s: %w", n, err)
		}
	}
	return nil
}

const eventColumns = `id, type, job_id, job_name, priority, address, city, state, zip,
	lat, lng, scheduled_date, scheduled_time, duration_minutes, actual_start, actual_end,
	assignee_id, assignee_name, assigned_by, route_order, distance_prev, estimated_arrival,
	status, customer_name, customer_phone, project_manager, notes, created_by, created_at, updated_at`

func (p *Postgres) CreateEvent(ctx context.Context, ev model.ScheduledEvent) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var lat, lng any
	if ev.Coords != nil {
		lat, lng = ev.Coords.Lat, ev.Coords.Lng
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)`,
		ev.ID, ev.Type, nullIfEmpty(ev.JobID), nullIfEmpty(ev.JobName), ev.Priority,
		ev.Address, nullIfEmpty(ev.City), nullIfEmpty(ev.State), nullIfEmpty(ev.Zip),
		lat, lng, ev.ScheduledDate, ev.ScheduledTime, ev.DurationMinutes, ev.ActualStart, ev.ActualEnd,
		ev.AssigneeID, nullIfEmpty(ev.AssigneeName), nullIfEmpty(ev.AssignedBy),
		ev.RouteOrder, ev.DistanceFromPrevious, nullIfEmpty(ev.EstimatedArrival),
		ev.Status, nullIfEmpty(ev.CustomerName), nullIfEmpty(ev.CustomerPhone),
		nullIfEmpty(ev.ProjectManager), nullIfEmpty(ev.Notes), nullIfEmpty(ev.CreatedBy),
		ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		return err
	}
	if err := insertHistoryTail(ctx, tx, ev.ID, 0, ev.History); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) GetEvent(ctx context.Context, id string) (model.ScheduledEvent, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ScheduledEvent{}, ErrNotFound
		}
		return model.ScheduledEvent{}, err
	}
	hist, err := p.loadHistory(ctx, id)
	if err != nil {
		return model.ScheduledEvent{}, err
	}
	ev.History = hist
	return ev, nil
}

func (p *Postgres) UpdateEvent(ctx context.Context, ev model.ScheduledEvent) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var lat, lng any
	if ev.Coords != nil {
		lat, lng = ev.Coords.Lat, ev.Coords.Lng
	}
	res, err := tx.ExecContext(ctx, `UPDATE events SET
		type=$2, job_id=$3, job_name=$4, priority=$5, address=$6, city=$7, state=$8, zip=$9,
		lat=$10, lng=$11, scheduled_date=$12, scheduled_time=$13, duration_minutes=$14,
		actual_start=$15, actual_end=$16, assignee_id=$17, assignee_name=$18, assigned_by=$19,
		route_order=$20, distance_prev=$21, estimated_arrival=$22, status=$23,
		customer_name=$24, customer_phone=$25, project_manager=$26, notes=$27, updated_at=$28
		WHERE id=$1`,
		ev.ID, ev.Type, nullIfEmpty(ev.JobID), nullIfEmpty(ev.JobName), ev.Priority,
		ev.Address, nullIfEmpty(ev.City), nullIfEmpty(ev.State), nullIfEmpty(ev.Zip),
		lat, lng, ev.ScheduledDate, ev.ScheduledTime, ev.DurationMinutes,
		ev.ActualStart, ev.ActualEnd, ev.AssigneeID, nullIfEmpty(ev.AssigneeName), nullIfEmpty(ev.AssignedBy),
		ev.RouteOrder, ev.DistanceFromPrevious, nullIfEmpty(ev.EstimatedArrival), ev.Status,
		nullIfEmpty(ev.CustomerName), nullIfEmpty(ev.CustomerPhone), nullIfEmpty(ev.ProjectManager),
		nullIfEmpty(ev.Notes), ev.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	// History rows are append-only: insert only entries past the stored count.
	var have int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_status_history WHERE event_id=$1`, ev.ID).Scan(&have); err != nil {
		return err
	}
	if err := insertHistoryTail(ctx, tx, ev.ID, have, ev.History); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ListEventsByDate(ctx context.Context, date, assigneeID string) ([]model.ScheduledEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE scheduled_date=$1`
	args := []any{date}
	if assigneeID != "" {
		q += ` AND assignee_id=$2`
		args = append(args, assigneeID)
	}
	q += ` ORDER BY scheduled_time ASC, id ASC`
	return p.queryEvents(ctx, q, args...)
}

func (p *Postgres) ListEventsByRange(ctx context.Context, start, end, assigneeID string) ([]model.ScheduledEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE scheduled_date BETWEEN $1 AND $2`
	args := []any{start, end}
	if assigneeID != "" {
		q += ` AND assignee_id=$3`
		args = append(args, assigneeID)
	}
	return p.queryEvents(ctx, q, args...)
}

func (p *Postgres) queryEvents(ctx context.Context, q string, args ...any) ([]model.ScheduledEvent, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ScheduledEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		hist, err := p.loadHistory(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].History = hist
	}
	return out, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanEvent(r rowScanner) (model.ScheduledEvent, error) {
	var ev model.ScheduledEvent
	var jobID, jobName, city, state, zip, assigneeName, assignedBy sql.NullString
	var estArrival, customerName, customerPhone, projectManager, notes, createdBy sql.NullString
	var lat, lng sql.NullFloat64
	var actualStart, actualEnd sql.NullTime
	err := r.Scan(&ev.ID, &ev.Type, &jobID, &jobName, &ev.Priority,
		&ev.Address, &city, &state, &zip, &lat, &lng,
		&ev.ScheduledDate, &ev.ScheduledTime, &ev.DurationMinutes, &actualStart, &actualEnd,
		&ev.AssigneeID, &assigneeName, &assignedBy,
		&ev.RouteOrder, &ev.DistanceFromPrevious, &estArrival,
		&ev.Status, &customerName, &customerPhone, &projectManager, &notes, &createdBy,
		&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return ev, err
	}
	ev.JobID, ev.JobName = jobID.String, jobName.String
	ev.City, ev.State, ev.Zip = city.String, state.String, zip.String
	ev.AssigneeName, ev.AssignedBy = assigneeName.String, assignedBy.String
	ev.EstimatedArrival = estArrival.String
	ev.CustomerName, ev.CustomerPhone = customerName.String, customerPhone.String
	ev.ProjectManager, ev.Notes, ev.CreatedBy = projectManager.String, notes.String, createdBy.String
	if lat.Valid && lng.Valid {
		ev.Coords = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	if actualStart.Valid {
		t := actualStart.Time
		ev.ActualStart = &t
	}
	if actualEnd.Valid {
		t := actualEnd.Time
		ev.ActualEnd = &t
	}
	return ev, nil
}

func (p *Postgres) loadHistory(ctx context.Context, eventID string) ([]model.StatusChange, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT from_status, to_status, changed_by, changed_by_name,
		changed_at, lat, lng, accuracy, gps_address, note
		FROM event_status_history WHERE event_id=$1 ORDER BY seq ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.StatusChange{}
	for rows.Next() {
		var sc model.StatusChange
		var name, gpsAddr, note sql.NullString
		var lat, lng, acc sql.NullFloat64
		if err := rows.Scan(&sc.FromStatus, &sc.ToStatus, &sc.ChangedBy, &name,
			&sc.ChangedAt, &lat, &lng, &acc, &gpsAddr, &note); err != nil {
			return nil, err
		}
		sc.ChangedByName = name.String
		sc.Note = note.String
		if lat.Valid && lng.Valid {
			sc.GPS = &model.GPSStamp{Lat: lat.Float64, Lng: lng.Float64, Accuracy: acc.Float64, Address: gpsAddr.String}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func insertHistoryTail(ctx context.Context, tx *sql.Tx, eventID string, from int, hist []model.StatusChange) error {
	for i := from; i < len(hist); i++ {
		h := hist[i]
		var lat, lng, acc, gpsAddr any
		if h.GPS != nil {
			lat, lng, acc = h.GPS.Lat, h.GPS.Lng, h.GPS.Accuracy
			gpsAddr = nullIfEmpty(h.GPS.Address)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO event_status_history
			(event_id, seq, from_status, to_status, changed_by, changed_by_name, changed_at, lat, lng, accuracy, gps_address, note)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			eventID, i, h.FromStatus, h.ToStatus, h.ChangedBy, nullIfEmpty(h.ChangedByName),
			h.ChangedAt, lat, lng, acc, gpsAddr, nullIfEmpty(h.Note))
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) UpsertRoute(ctx context.Context, rt model.DailyRoute) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO routes
		(id, assignee_id, route_date, event_ids, total_stops, total_distance, total_minutes,
		 start_address, end_address, status, is_optimized, optimized_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (assignee_id, route_date) DO UPDATE SET
		 event_ids=EXCLUDED.event_ids, total_stops=EXCLUDED.total_stops,
		 total_distance=EXCLUDED.total_distance, total_minutes=EXCLUDED.total_minutes,
		 start_address=EXCLUDED.start_address, end_address=EXCLUDED.end_address,
		 status=EXCLUDED.status, is_optimized=EXCLUDED.is_optimized, optimized_at=EXCLUDED.optimized_at`,
		rt.ID, rt.AssigneeID, rt.Date, jsonList(rt.EventIDs), rt.TotalStops,
		rt.TotalDistance, rt.TotalMinutes, rt.StartAddress, rt.EndAddress,
		rt.Status, rt.IsOptimized, rt.OptimizedAt)
	return err
}

func (p *Postgres) GetRoute(ctx context.Context, assigneeID, date string) (model.DailyRoute, error) {
	var rt model.DailyRoute
	var eventIDs []byte
	var optimizedAt sql.NullTime
	row := p.db.QueryRowContext(ctx, `SELECT id, assignee_id, route_date, event_ids, total_stops,
		total_distance, total_minutes, start_address, end_address, status, is_optimized, optimized_at
		FROM routes WHERE assignee_id=$1 AND route_date=$2`, assigneeID, date)
	if err := row.Scan(&rt.ID, &rt.AssigneeID, &rt.Date, &eventIDs, &rt.TotalStops,
		&rt.TotalDistance, &rt.TotalMinutes, &rt.StartAddress, &rt.EndAddress,
		&rt.Status, &rt.IsOptimized, &optimizedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rt, ErrNotFound
		}
		return rt, err
	}
	if err := unmarshalList(eventIDs, &rt.EventIDs); err != nil {
		return rt, err
	}
	if optimizedAt.Valid {
		t := optimizedAt.Time
		rt.OptimizedAt = &t
	}
	return rt, nil
}

func (p *Postgres) AppendActivity(ctx context.Context, e model.ActivityEntry) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO activity_log
		(id, activity_type, actor_id, actor_name, lat, lng, accuracy, gps_address, description, photo_refs, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.ActivityType, e.ActorID, nullIfEmpty(e.ActorName),
		e.GPS.Lat, e.GPS.Lng, e.GPS.Accuracy, nullIfEmpty(e.GPS.Address),
		nullIfEmpty(e.Description), jsonList(e.PhotoRefs), e.CreatedAt)
	return err
}

func (p *Postgres) ListActivity(ctx context.Context, actorID string, limit int) ([]model.ActivityEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id, activity_type, actor_id, actor_name, lat, lng, accuracy, gps_address,
		description, photo_refs, created_at FROM activity_log`
	args := []any{}
	if actorID != "" {
		q += ` WHERE actor_id=$1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, actorID, limit)
	} else {
		q += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ActivityEntry{}
	for rows.Next() {
		var e model.ActivityEntry
		var name, gpsAddr, desc sql.NullString
		var photos []byte
		if err := rows.Scan(&e.ID, &e.ActivityType, &e.ActorID, &name,
			&e.GPS.Lat, &e.GPS.Lng, &e.GPS.Accuracy, &gpsAddr, &desc, &photos, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorName, e.GPS.Address, e.Description = name.String, gpsAddr.String, desc.String
		if err := unmarshalList(photos, &e.PhotoRefs); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`,
		id, req.URL, jsonList(req.Events), req.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, events FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events); err != nil {
			return nil, err
		}
		if err := unmarshalList(events, &s.Events); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
	return err
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, events, secret FROM subscriptions
		WHERE events @> to_jsonb($1::text)`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		if err := unmarshalList(events, &s.Events); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries
		(id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),now())`,
		id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, COALESCE(subscription_id,''), event_type, url,
		COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries WHERE status='pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered',
			attempts=attempts+1, last_error=NULL, response_code=$2, latency_ms=$3, delivered_at=now()
			WHERE id=$1`, id, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET
		attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4, next_attempt_at=$5
		WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs, nextAttemptAt)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed',
		attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

// Helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// jsonList marshals a string slice for a jsonb column. An empty slice is
// stored as NULL so reads round-trip to nil.
func jsonList(v []string) any {
	if len(v) == 0 {
		return nil
	}
	raw, _ := json.Marshal(v)
	return raw
}

func unmarshalList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		*dst = nil
		return nil
	}
	return json.Unmarshal(raw, dst)
}
