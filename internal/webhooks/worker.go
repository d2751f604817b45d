package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldroute/internal/metrics"
	"fieldroute/internal/store"
)

// Worker drains the delivery queue on a 1s tick. A single fetch loop
// claims due deliveries and fans them out to Workers goroutines so one
// slow endpoint does not stall the rest. Each due delivery gets one
// POST; non-2xx or transport errors reschedule with exponential backoff
// until MaxAttempts, then the delivery is parked as failed.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	Log         *zap.Logger
	Stop        chan struct{}
	MaxAttempts int
	Workers     int
	Tick        time.Duration

	// inflight guards against re-dispatching a delivery the queue still
	// reports as pending while one of the pool goroutines is posting it.
	mu       sync.Mutex
	inflight map[string]bool
}

func NewWorker(s store.Store, log *zap.Logger, timeout time.Duration, maxAttempts, workers int) *Worker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	if workers <= 0 {
		workers = 2
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: timeout},
		Log:         log,
		Stop:        make(chan struct{}),
		MaxAttempts: maxAttempts,
		Workers:     workers,
		Tick:        1 * time.Second,
		inflight:    map[string]bool{},
	}
}

func (w *Worker) Start() {
	jobs := make(chan store.WebhookDelivery)
	for i := 0; i < w.Workers; i++ {
		go func() {
			for it := range jobs {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				w.deliver(ctx, it)
				cancel()
				w.mu.Lock()
				delete(w.inflight, it.ID)
				w.mu.Unlock()
			}
		}()
	}
	go func() {
		defer close(jobs)
		ticker := time.NewTicker(w.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				for _, it := range w.fetchDue() {
					w.mu.Lock()
					busy := w.inflight[it.ID]
					if !busy {
						w.inflight[it.ID] = true
					}
					w.mu.Unlock()
					if busy {
						continue
					}
					select {
					case jobs <- it:
					case <-w.Stop:
						return
					}
				}
			}
		}
	}()
}

func (w *Worker) fetchDue() []store.WebhookDelivery {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil {
		w.Log.Warn("webhook queue fetch failed", zap.Error(err))
		return nil
	}
	return items
}

// processOnce drains one fetch synchronously.
func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, it := range w.fetchDue() {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		_ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	if it.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
	}

	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())

	success := false
	code := 0
	if err == nil && resp != nil {
		code = resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		success = code >= 200 && code < 300
	}
	lastErr := ""
	if !success && err != nil {
		lastErr = err.Error()
	}

	switch {
	case success:
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, "delivered").Inc()
		metrics.WebhookLatency.WithLabelValues(it.EventType, "delivered").Observe(float64(latency))
		_ = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
	case it.Attempts+1 >= w.MaxAttempts:
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, "failed").Inc()
		w.Log.Warn("webhook delivery abandoned",
			zap.String("id", it.ID), zap.String("url", it.URL),
			zap.Int("attempts", it.Attempts+1), zap.Int("code", code), zap.String("err", lastErr))
		_ = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
	default:
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, "retry").Inc()
		next := time.Now().Add(nextBackoff(it.Attempts))
		_ = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	d := time.Second * time.Duration(1<<attempts)
	if d > time.Hour {
		d = time.Hour
	}
	return d
}
