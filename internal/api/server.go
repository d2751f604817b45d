package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fieldroute/internal/config"
	"fieldroute/internal/geocode"
	"fieldroute/internal/metrics"
	"fieldroute/internal/model"
	"fieldroute/internal/schedule"
	"fieldroute/internal/store"
	"fieldroute/internal/webhooks"
)

type Server struct {
	Cfg       *config.Config
	Log       *zap.Logger
	Store     store.Store
	Schedule  *schedule.Service
	Pub       *webhooks.Publisher
	Broker    EventBroker
	Locations *LocationCache
}

// NewServer wires the store, broker, geocoder, and schedule service from
// config. No DATABASE_URL means the in-memory store; no REDIS_URL means
// the in-process broker.
func NewServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	var st store.Store
	if cfg.DatabaseURL == "" {
		st = store.NewMemory()
		log.Info("using in-memory store")
	} else {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.MigrateDir(cfg.MigrationsDir); err != nil {
			return nil, err
		}
		st = pg
		log.Info("using postgres store")
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		broker = rb
		log.Info("using redis stream broker")
	} else {
		broker = NewBroker()
	}

	geoOpts := []geocode.Option{geocode.WithJitter(cfg.Routing.GeocodeJitterDeg)}
	if cfg.Routing.ZipTablePath != "" {
		table, fallback, err := geocode.LoadZipTable(cfg.Routing.ZipTablePath)
		if err != nil {
			return nil, err
		}
		geoOpts = append(geoOpts, geocode.WithTable(table))
		if fallback != nil {
			geoOpts = append(geoOpts, geocode.WithFallback(*fallback))
		}
	}
	geo := geocode.NewZipGeocoder(geoOpts...)

	s := &Server{
		Cfg:       cfg,
		Log:       log,
		Store:     st,
		Pub:       webhooks.NewPublisher(st),
		Broker:    broker,
		Locations: NewLocationCache(),
	}
	warehouse := model.GeoPoint{Lat: cfg.Routing.WarehouseLat, Lng: cfg.Routing.WarehouseLng}
	s.Schedule = schedule.New(st, geo,
		schedule.WithWarehouse(warehouse, cfg.Routing.WarehouseAddress),
		schedule.WithSpeed(cfg.Routing.AverageSpeedMph),
		schedule.WithNotifier(s.onScheduleEvent),
	)
	return s, nil
}

// onScheduleEvent fans a committed state change out to webhooks, the
// worker's SSE stream, and the domain counters.
func (s *Server) onScheduleEvent(eventType string, payload any) {
	ctx := context.Background()
	s.Pub.Emit(ctx, eventType, payload)

	switch v := payload.(type) {
	case model.ScheduledEvent:
		if eventType == "event.created" {
			metrics.EventsCreated.WithLabelValues(string(v.Type), string(v.Priority)).Inc()
		} else {
			metrics.StatusChanges.WithLabelValues(string(v.Status)).Inc()
		}
		s.Broker.Publish(v.AssigneeID, StreamEvent{Type: eventType, Data: map[string]any{
			"eventId": v.ID, "status": string(v.Status), "date": v.ScheduledDate,
		}})
	case model.DailyRoute:
		metrics.RouteOptimizations.WithLabelValues("ok").Inc()
		metrics.RouteStops.Observe(float64(v.TotalStops))
		s.Broker.Publish(v.AssigneeID, StreamEvent{Type: eventType, Data: map[string]any{
			"routeId": v.ID, "date": v.Date, "totalStops": v.TotalStops,
		}})
	}
}

// NewWebhookWorker builds the background delivery worker.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Log,
		time.Duration(s.Cfg.Webhook.TimeoutSeconds)*time.Second,
		s.Cfg.Webhook.MaxAttempts, s.Cfg.Webhook.Workers)
}
