package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	contractsv1 "agora/contracts/gen/events/v1"
)

func TestBusFansOutToEveryGroupInOrder(t *testing.T) {
	bus, err := NewBus(nil, nil)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received = map[string][]string{}
		wg       sync.WaitGroup
	)
	wg.Add(6)
	for _, groupName := range []string{"projector-cg", "audit-cg"} {
		groupName := groupName
		if err := bus.Subscribe(ctx, "vote.cast", groupName, func(_ context.Context, event contractsv1.Envelope) error {
			mu.Lock()
			received[groupName] = append(received[groupName], event.EventID)
			mu.Unlock()
			wg.Done()
			return nil
		}); err != nil {
			t.Fatalf("subscribe %s: %v", groupName, err)
		}
	}

	for _, id := range []string{"e1", "e2", "e3"} {
		if err := bus.Publish(ctx, "vote.cast", contractsv1.Envelope{EventID: id, EventType: "vote.cast"}); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	waitOrFail(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	for groupName, ids := range received {
		if len(ids) != 3 || ids[0] != "e1" || ids[1] != "e2" || ids[2] != "e3" {
			t.Fatalf("group %s received %v", groupName, ids)
		}
	}
}

func TestBusPublishWithoutSubscribersSucceeds(t *testing.T) {
	bus, _ := NewBus([]string{"localhost:9092"}, nil)
	if err := bus.Publish(context.Background(), "poll.created", contractsv1.Envelope{EventID: "e1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := bus.Brokers(); len(got) != 1 || got[0] != "localhost:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
}

func TestBusDropsGroupWhenConsumerStops(t *testing.T) {
	bus, _ := NewBus(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := bus.Subscribe(ctx, "vote.cancelled", "cg", func(context.Context, contractsv1.Envelope) error { return nil }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		bus.mu.RLock()
		_, ok := bus.topics["vote.cancelled"]
		bus.mu.RUnlock()
		if !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected consumer group to be removed after cancellation")
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for deliveries")
	}
}
