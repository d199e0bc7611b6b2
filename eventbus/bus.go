/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package eventbus provides the in-process pub/sub fabric that webhook
// deliveries travel through, an optional broker bridge for multi-process
// fan-out, and the bounded per-installation delivery history.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chainguard-dev/clog"
)

// DefaultChannel is the channel every verified delivery is published to.
const DefaultChannel = "default"

// subscriptionBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this starts dropping deliveries; it never blocks
// the publisher or its sibling subscribers.
const subscriptionBuffer = 16

// Delivery is one verified webhook invocation. It is immutable once
// constructed: the bus and the history only ever copy it.
type Delivery struct {
	Headers   map[string]string `json:"headers"`
	Body      json.RawMessage   `json:"body"`
	RawBody   string            `json:"rawdata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live, connection-lifetime attachment to one channel.
// Deliveries are only guaranteed "while connected".
type Subscription struct {
	C chan Delivery

	bus     *Bus
	channel string
}

// Bus fans deliveries out to in-process subscribers, and optionally forwards
// them to an external broker so multiple process instances can share one
// logical bus without each re-verifying signatures.
type Bus struct {
	broker Broker

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithBroker attaches an external broker. Publish forwards every delivery to
// it; call Bridge to re-emit broker traffic into the local bus.
func WithBroker(b Broker) Option {
	return func(bus *Bus) {
		bus.broker = b
	}
}

// New constructs a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs: make(map[string]map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish fans the delivery out synchronously to local subscribers of the
// channel and, when a broker is configured, forwards it for other instances.
// Broker failures are logged and do not affect local fan-out.
func (b *Bus) Publish(ctx context.Context, channel string, d Delivery) {
	b.publishLocal(channel, d)

	if b.broker != nil {
		if err := b.broker.Publish(ctx, channel, d); err != nil {
			clog.FromContext(ctx).With("channel", channel).Warnf("Forwarding to broker failed: %v", err)
		}
	}
}

func (b *Bus) publishLocal(channel string, d Delivery) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[channel] {
		select {
		case sub.C <- d:
		default:
			// Slow consumer: drop for this subscriber only.
		}
	}
}

// Subscribe attaches a new subscriber to the channel. Callers must
// Unsubscribe when done.
func (b *Bus) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		C:       make(chan Delivery, subscriptionBuffer),
		bus:     b,
		channel: channel,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*Subscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	return sub
}

// Unsubscribe detaches the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.bus == nil {
		return
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if set := s.bus.subs[s.channel]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(s.bus.subs, s.channel)
		}
	}
	s.bus = nil
}

// Bridge consumes broker messages and re-emits them into the local bus until
// ctx is cancelled. Messages originating from this instance are dropped by
// the broker implementation, so local subscribers see each delivery once.
func (b *Bus) Bridge(ctx context.Context) error {
	if b.broker == nil {
		return nil
	}

	msgs, err := b.broker.Subscribe(ctx)
	if err != nil {
		return err
	}

	log := clog.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			log.With("channel", msg.Channel).Debug("Re-emitting broker delivery")
			b.publishLocal(msg.Channel, msg.Delivery)
		}
	}
}
