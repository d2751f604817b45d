package api

import (
	"sync"
)

// WorkerLocation is the latest known position for one field worker.
type WorkerLocation struct {
	WorkerID string  `json:"workerId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
	TS       string  `json:"ts"`
}

// LocationCache keeps the last GPS fix per worker. Fixes arrive over the
// websocket uplink; dispatch reads them back per worker.
type LocationCache struct {
	mu sync.Mutex
	m  map[string]WorkerLocation
}

func NewLocationCache() *LocationCache { return &LocationCache{m: map[string]WorkerLocation{}} }

// Upsert stores the latest fix for a worker. Empty worker IDs are dropped.
func (c *LocationCache) Upsert(loc WorkerLocation) {
	if loc.WorkerID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[loc.WorkerID] = loc
}

// Get returns the latest fix for a worker, if any.
func (c *LocationCache) Get(workerID string) (WorkerLocation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, ok := c.m[workerID]
	return loc, ok
}

// List returns the latest fix for every worker seen so far.
func (c *LocationCache) List() []WorkerLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WorkerLocation, 0, len(c.m))
	for _, v := range c.m {
		out = append(out, v)
	}
	return out
}
