package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fieldroute/internal/api"
	"fieldroute/internal/config"
	"fieldroute/internal/logger"
	"fieldroute/internal/metrics"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Get()

	metrics.RegisterDefault()

	srv, err := api.NewServer(cfg, log)
	if err != nil {
		log.Fatal("init server", zap.Error(err))
	}

	mux := http.NewServeMux()

	// Schedule
	mux.HandleFunc("/v1/schedule/events", srv.EventsHandler)
	mux.HandleFunc("/v1/schedule/events/", srv.EventByIDHandler) // includes /{id}/status
	mux.HandleFunc("/v1/schedule/routes/optimize", srv.OptimizeHandler)
	mux.HandleFunc("/v1/schedule/routes", srv.RoutesHandler)
	mux.HandleFunc("/v1/schedule/calendar", srv.CalendarHandler)
	mux.HandleFunc("/v1/schedule/activity", srv.ActivityHandler)

	// Worker streams and GPS uplink
	mux.HandleFunc("/v1/schedule/workers/", srv.WorkersHandler) // /{id}/stream, /{id}/location
	mux.HandleFunc("/v1/schedule/ws", srv.ScheduleWSHandler)

	// Webhook subscriptions
	mux.HandleFunc("/v1/subscriptions", srv.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srv.SubscriptionByIDHandler)

	// Operational
	mux.HandleFunc("/healthz", srv.HealthHandler)
	mux.HandleFunc("/readyz", srv.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           api.Instrument(mux, log, cfg.RateLimitRPS, cfg.RateLimitBurst),
		ReadHeaderTimeout: 5 * time.Second,
	}

	worker := srv.NewWebhookWorker()
	worker.Start()

	go func() {
		log.Info("API listening", zap.String("addr", addr), zap.String("env", cfg.Environment))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	close(worker.Stop)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	log.Info("stopped")
}
