/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

func testDelivery(n int) Delivery {
	body := fmt.Sprintf(`{"n": %d}`, n)
	return Delivery{
		Headers:   map[string]string{"X-Github-Event": "push"},
		Body:      json.RawMessage(body),
		RawBody:   body,
		Timestamp: int64(n),
	}
}

func TestPublishFansOut(t *testing.T) {
	bus := New()
	ctx := context.Background()

	a := bus.Subscribe(DefaultChannel)
	defer a.Unsubscribe()
	b := bus.Subscribe(DefaultChannel)
	defer b.Unsubscribe()
	other := bus.Subscribe("repo:acme/widgets")
	defer other.Unsubscribe()

	bus.Publish(ctx, DefaultChannel, testDelivery(1))

	for _, sub := range []*Subscription{a, b} {
		select {
		case d := <-sub.C:
			if d.Timestamp != 1 {
				t.Errorf("got timestamp %d, want 1", d.Timestamp)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive delivery")
		}
	}

	select {
	case d := <-other.C:
		t.Errorf("subscriber on other channel received %+v", d)
	default:
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := New()
	ctx := context.Background()

	slow := bus.Subscribe(DefaultChannel)
	defer slow.Unsubscribe()
	fast := bus.Subscribe(DefaultChannel)
	defer fast.Unsubscribe()

	// Overflow the slow subscriber's buffer without draining it. Publish
	// must stay non-blocking and the fast subscriber must keep receiving.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range subscriptionBuffer * 3 {
			bus.Publish(ctx, DefaultChannel, testDelivery(i))
			<-fast.C
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if n := len(slow.C); n != subscriptionBuffer {
		t.Errorf("slow subscriber buffered %d deliveries, want %d", n, subscriptionBuffer)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	ctx := context.Background()

	sub := bus.Subscribe(DefaultChannel)
	sub.Unsubscribe()
	// Safe to call twice.
	sub.Unsubscribe()

	bus.Publish(ctx, DefaultChannel, testDelivery(1))
	select {
	case d := <-sub.C:
		t.Errorf("unsubscribed subscriber received %+v", d)
	default:
	}
}

func TestPublishConcurrent(t *testing.T) {
	bus := New()
	ctx := context.Background()

	sub := bus.Subscribe(DefaultChannel)
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(ctx, DefaultChannel, testDelivery(i))
		}()
	}
	wg.Wait()

	if len(sub.C) == 0 {
		t.Error("no deliveries received")
	}
}

// fakeBroker records publishes and feeds a scripted message stream to the
// bridge.
type fakeBroker struct {
	mu        sync.Mutex
	published []BrokerMessage
	incoming  chan BrokerMessage
}

func (f *fakeBroker) Publish(_ context.Context, channel string, d Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, BrokerMessage{Channel: channel, Delivery: d})
	return nil
}

func (f *fakeBroker) Subscribe(context.Context) (<-chan BrokerMessage, error) {
	return f.incoming, nil
}

func TestPublishForwardsToBroker(t *testing.T) {
	broker := &fakeBroker{incoming: make(chan BrokerMessage)}
	bus := New(WithBroker(broker))

	bus.Publish(context.Background(), "repo:acme/widgets", testDelivery(7))

	broker.mu.Lock()
	defer broker.mu.Unlock()
	if len(broker.published) != 1 {
		t.Fatalf("broker saw %d publishes, want 1", len(broker.published))
	}
	if got := broker.published[0].Channel; got != "repo:acme/widgets" {
		t.Errorf("broker channel = %q, want %q", got, "repo:acme/widgets")
	}
}

func TestBridgeReEmitsBrokerMessages(t *testing.T) {
	broker := &fakeBroker{incoming: make(chan BrokerMessage, 1)}
	bus := New(WithBroker(broker))

	sub := bus.Subscribe(DefaultChannel)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Bridge(ctx) }()

	broker.incoming <- BrokerMessage{Channel: DefaultChannel, Delivery: testDelivery(42)}

	select {
	case d := <-sub.C:
		if d.Timestamp != 42 {
			t.Errorf("got timestamp %d, want 42", d.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("bridge did not re-emit broker message")
	}
}

func TestBridgeWithoutBrokerReturns(t *testing.T) {
	bus := New()
	if err := bus.Bridge(context.Background()); err != nil {
		t.Errorf("Bridge() without broker = %v, want nil", err)
	}
}
