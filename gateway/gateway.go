/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gateway terminates GitHub webhook HTTP traffic: it verifies
// delivery signatures, publishes verified deliveries onto the event bus,
// records them in the per-installation history, and exposes the SSE event
// stream and history endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/formalmind/agent/eventbus"
)

const (
	// maxLogEntries caps the history endpoint response.
	maxLogEntries = 50

	// keepAliveInterval paces SSE comment frames so proxies do not reap
	// idle streams.
	keepAliveInterval = 30 * time.Second

	defaultRateLimitPerMin = 120
)

// Dispatcher consumes verified deliveries. The pipeline package provides the
// production implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventName string, d eventbus.Delivery) error
}

// Gateway is the webhook-facing HTTP surface.
type Gateway struct {
	secret     string
	bus        *eventbus.Bus
	history    eventbus.History
	dispatcher Dispatcher
	limiter    *sourceLimiter
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRateLimit overrides the per-source webhook rate limit.
func WithRateLimit(requestsPerMin int) Option {
	return func(g *Gateway) {
		g.limiter = newSourceLimiter(requestsPerMin)
	}
}

// New constructs a Gateway.
func New(secret string, bus *eventbus.Bus, history eventbus.History, dispatcher Dispatcher, opts ...Option) (*Gateway, error) {
	switch {
	case secret == "":
		return nil, errors.New("webhook secret is required")
	case bus == nil:
		return nil, errors.New("event bus is required")
	case history == nil:
		return nil, errors.New("history store is required")
	case dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	}

	g := &Gateway{
		secret:     secret,
		bus:        bus,
		history:    history,
		dispatcher: dispatcher,
		limiter:    newSourceLimiter(defaultRateLimitPerMin),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Routes returns the HTTP handler for the gateway surface.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/github/webhook", g.handleWebhook)
	r.Get("/api/events", g.handleEvents)
	r.Get("/api/logs/{installID}", g.handleLogs)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// deliveryHooks is the subset of the webhook payload the gateway itself needs
// to route the delivery. Full payload decoding happens in the pipeline.
type deliveryHooks struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := clog.FromContext(ctx)

	if !g.limiter.Allow(sourceKey(r)) {
		rateLimitedCounter.Inc()
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Errorf("Reading webhook body: %v", err)
		http.Error(w, "reading body", http.StatusInternalServerError)
		return
	}

	// Reject before touching the payload.
	if err := VerifySignature(g.secret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		signatureFailureCounter.Inc()
		log.Warnf("Rejecting delivery: %v", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	eventName := r.Header.Get("X-GitHub-Event")
	if eventName == "" {
		http.Error(w, "missing X-GitHub-Event header", http.StatusBadRequest)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	delivery := eventbus.Delivery{
		Headers:   headers,
		Body:      json.RawMessage(body),
		RawBody:   string(body),
		Timestamp: time.Now().UnixMilli(),
	}

	var hooks deliveryHooks
	if err := json.Unmarshal(body, &hooks); err != nil {
		log.Warnf("Webhook payload is not JSON: %v", err)
	}

	deliveryCounter.WithLabelValues(eventName).Inc()
	log.With("event", eventName, "repo", hooks.Repository.FullName).Info("Accepted webhook delivery")

	g.bus.Publish(ctx, eventbus.DefaultChannel, delivery)
	if hooks.Repository.FullName != "" {
		g.bus.Publish(ctx, "repo:"+hooks.Repository.FullName, delivery)
	}

	if hooks.Installation.ID != 0 {
		if err := g.history.Append(ctx, hooks.Installation.ID, eventbus.HistoryEntry{
			Type:       eventName,
			Data:       json.RawMessage(body),
			ReceivedAt: delivery.Timestamp,
		}); err != nil {
			log.Warnf("Recording delivery history: %v", err)
		}
	}

	// Processing outlives the webhook request. GitHub only needs the ack.
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := g.dispatcher.Dispatch(bg, eventName, delivery); err != nil {
			clog.FromContext(bg).With("event", eventName, "delivery_id", deliveryID).Errorf("Dispatching delivery: %v", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"ok":true}`)
}

func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := clog.FromContext(r.Context())

	channel := r.URL.Query().Get("channel")
	if channel == "" {
		channel = eventbus.DefaultChannel
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Long-lived connection: the server's write deadline must not apply.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Warnf("Disabling SSE write deadline: %v", err)
	}

	sub := g.bus.Subscribe(channel)
	defer sub.Unsubscribe()

	if _, err := fmt.Fprint(w, "data: ready\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case d := <-sub.C:
			data, err := json.Marshal(d)
			if err != nil {
				log.Warnf("Encoding SSE delivery: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (g *Gateway) handleLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	installID, err := strconv.ParseInt(chi.URLParam(r, "installID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid installation id", http.StatusBadRequest)
		return
	}

	entries, err := g.history.Recent(ctx, installID, maxLogEntries)
	if err != nil {
		clog.FromContext(ctx).Errorf("Fetching history for %d: %v", installID, err)
		http.Error(w, "fetching history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []eventbus.HistoryEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		clog.FromContext(ctx).Warnf("Encoding history response: %v", err)
	}
}
