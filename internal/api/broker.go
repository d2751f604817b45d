package api

import (
	"sync"
)

// StreamEvent is one server-sent event on a worker's stream.
type StreamEvent struct {
	Type string
	Data map[string]any
}

// Broker is the in-process fan-out used when no REDIS_URL is configured.
// Channels are keyed by worker ID; slow subscribers drop events rather
// than blocking publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan StreamEvent]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan StreamEvent]struct{}{}}
}

func (b *Broker) Subscribe(workerID string) chan StreamEvent {
	ch := make(chan StreamEvent, 8)
	b.mu.Lock()
	if b.subs[workerID] == nil {
		b.subs[workerID] = map[chan StreamEvent]struct{}{}
	}
	b.subs[workerID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(workerID string, ch chan StreamEvent) {
	b.mu.Lock()
	if m := b.subs[workerID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, workerID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(workerID string, evt StreamEvent) {
	b.mu.Lock()
	for ch := range b.subs[workerID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
