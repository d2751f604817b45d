package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// EventBroker fans stream events out to subscribers of a worker's channel.
type EventBroker interface {
	Subscribe(workerID string) chan StreamEvent
	Unsubscribe(workerID string, ch chan StreamEvent)
	Publish(workerID string, evt StreamEvent)
}

// RedisBroker implements EventBroker over Redis pub/sub so streams work
// across multiple API instances.
type RedisBroker struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[chan StreamEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{
		rdb:  redis.NewClient(opt),
		subs: map[chan StreamEvent]*redis.PubSub{},
	}, nil
}

func (b *RedisBroker) Subscribe(workerID string) chan StreamEvent {
	ch := make(chan StreamEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(workerID))
	// First Receive confirms the subscription before we hand the channel out.
	_, _ = ps.Receive(ctx)
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt StreamEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

// Unsubscribe closes the subscriber's pubsub connection, which ends the
// reader goroutine and closes ch.
func (b *RedisBroker) Unsubscribe(workerID string, ch chan StreamEvent) {
	b.mu.Lock()
	ps := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(workerID string, evt StreamEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, b.chanName(workerID), data).Err()
}

func (b *RedisBroker) chanName(workerID string) string { return "worker:" + workerID }
