package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fieldroute/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// ScheduleWSHandler handles /v1/schedule/ws, the GPS uplink. Driver apps
// push PositionFix frames; each fix updates the location cache and is
// rebroadcast on the worker's SSE stream. Malformed frames are skipped,
// not fatal.
func (s *Server) ScheduleWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	p := getPrincipal(r)
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Keepalive pings so idle connections survive proxies.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		var fix model.PositionFix
		if err := conn.ReadJSON(&fix); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Log.Debug("ws uplink closed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		if fix.WorkerID == "" {
			fix.WorkerID = p.WorkerID
		}
		if fix.WorkerID == "" {
			continue
		}
		// Drivers can only report for themselves.
		if p.Role == "driver" && p.WorkerID != "" && fix.WorkerID != p.WorkerID {
			continue
		}
		if fix.TS == "" {
			fix.TS = time.Now().UTC().Format(time.RFC3339)
		}
		s.Locations.Upsert(WorkerLocation{
			WorkerID: fix.WorkerID,
			Lat:      fix.Lat,
			Lng:      fix.Lng,
			Accuracy: fix.Accuracy,
			TS:       fix.TS,
		})
		s.Broker.Publish(fix.WorkerID, StreamEvent{Type: "worker.location", Data: map[string]any{
			"workerId": fix.WorkerID, "lat": fix.Lat, "lng": fix.Lng, "ts": fix.TS,
		}})
	}
}
