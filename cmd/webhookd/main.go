/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs the webhook daemon: the HTTP gateway, the event bus with
// its optional redis bridge, and the agent pipeline behind them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"

	"github.com/formalmind/agent/completion"
	"github.com/formalmind/agent/eventbus"
	"github.com/formalmind/agent/gateway"
	"github.com/formalmind/agent/githubapp"
	"github.com/formalmind/agent/pipeline"
)

type config struct {
	Port int `env:"PORT, default=8080"`

	WebhookSecret    string `env:"GITHUB_WEBHOOK_SECRET, required"`
	GitHubAppID      int64  `env:"GITHUB_APP_ID, required"`
	GitHubPrivateKey string `env:"GITHUB_PRIVATE_KEY, required"`

	// When unset the daemon runs single-instance with in-memory history.
	RedisURL string `env:"REDIS_URL"`

	RateLimitPerMin int `env:"RATE_LIMIT_PER_MIN, default=120"`

	Completion completion.Config `env:", prefix="`
	Pipeline   pipeline.Config   `env:", prefix="`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	clients, err := githubapp.NewClientFactory(cfg.GitHubAppID, cfg.GitHubPrivateKey)
	if err != nil {
		clog.FatalContextf(ctx, "creating GitHub client factory: %v", err)
	}

	provider, err := completion.New(cfg.Completion)
	if err != nil {
		clog.FatalContextf(ctx, "creating completion provider: %v", err)
	}

	var busOpts []eventbus.Option
	var history eventbus.History
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			clog.FatalContextf(ctx, "parsing REDIS_URL: %v", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			clog.FatalContextf(ctx, "connecting to redis: %v", err)
		}
		busOpts = append(busOpts, eventbus.WithBroker(eventbus.NewRedisBroker(client)))
		history = eventbus.NewRedisHistory(client)
		clog.InfoContext(ctx, "Using redis-backed broker and history")
	} else {
		history = eventbus.NewMemoryHistory()
		clog.InfoContext(ctx, "REDIS_URL not set; using in-memory history without a broker")
	}

	bus := eventbus.New(busOpts...)
	go func() {
		if err := bus.Bridge(ctx); err != nil && !errors.Is(err, context.Canceled) {
			clog.ErrorContextf(ctx, "broker bridge exited: %v", err)
		}
	}()

	dispatcher := pipeline.NewDispatcher(clients, provider, history, cfg.Pipeline)

	gw, err := gateway.New(cfg.WebhookSecret, bus, history, dispatcher,
		gateway.WithRateLimit(cfg.RateLimitPerMin))
	if err != nil {
		clog.FatalContextf(ctx, "creating gateway: %v", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           gw.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			clog.ErrorContextf(ctx, "shutting down server: %v", err)
		}
	}()

	clog.InfoContextf(ctx, "Starting webhook daemon on port %d", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		clog.FatalContextf(ctx, "server failed: %v", err)
	}
}
