/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// brokerChannel is the single redis pub/sub channel shared by all instances.
const brokerChannel = "webhooks"

// BrokerMessage is a delivery re-emitted from the external broker.
type BrokerMessage struct {
	Channel  string
	Delivery Delivery
}

// Broker forwards deliveries between process instances.
type Broker interface {
	Publish(ctx context.Context, channel string, d Delivery) error
	Subscribe(ctx context.Context) (<-chan BrokerMessage, error)
}

// envelope is the wire format on the broker channel. Origin identifies the
// publishing instance so the bridge can drop its own messages instead of
// double-delivering them locally.
type envelope struct {
	Origin   string   `json:"origin"`
	Channel  string   `json:"channel"`
	Delivery Delivery `json:"payload"`
}

// RedisBroker bridges the bus over redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	origin string
}

// NewRedisBroker constructs a RedisBroker on the given client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{
		client: client,
		origin: uuid.NewString(),
	}
}

// Publish forwards the delivery to every instance subscribed to the broker.
func (r *RedisBroker) Publish(ctx context.Context, channel string, d Delivery) error {
	raw, err := json.Marshal(envelope{
		Origin:   r.origin,
		Channel:  channel,
		Delivery: d,
	})
	if err != nil {
		return fmt.Errorf("marshaling broker envelope: %w", err)
	}

	if err := r.client.Publish(ctx, brokerChannel, raw).Err(); err != nil {
		return fmt.Errorf("publishing to broker: %w", err)
	}
	return nil
}

// Subscribe returns a channel of deliveries published by other instances.
// The subscription closes when ctx is cancelled.
func (r *RedisBroker) Subscribe(ctx context.Context) (<-chan BrokerMessage, error) {
	pubsub := r.client.Subscribe(ctx, brokerChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribing to broker: %w", err)
	}

	out := make(chan BrokerMessage)
	go func() {
		defer close(out)
		defer pubsub.Close()

		log := clog.FromContext(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Warnf("Dropping malformed broker message: %v", err)
					continue
				}
				if env.Origin == r.origin {
					continue
				}
				out <- BrokerMessage{Channel: env.Channel, Delivery: env.Delivery}
			}
		}
	}()
	return out, nil
}
