package api

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("drv-1")

	evt := StreamEvent{Type: "worker.location", Data: map[string]any{"lat": 34.7}}
	b.Publish("drv-1", evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["lat"].(float64) != 34.7 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe("drv-1", ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerIsolatesWorkers(t *testing.T) {
	b := NewBroker()
	ch1 := b.Subscribe("drv-1")
	ch2 := b.Subscribe("drv-2")
	defer b.Unsubscribe("drv-1", ch1)
	defer b.Unsubscribe("drv-2", ch2)

	b.Publish("drv-1", StreamEvent{Type: "event.created", Data: map[string]any{}})

	select {
	case <-ch1:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("drv-1 should receive its event")
	}
	select {
	case <-ch2:
		t.Fatal("drv-2 should not receive drv-1 events")
	case <-time.After(50 * time.Millisecond):
	}
}
