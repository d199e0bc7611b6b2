/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	limiterCacheSize = 1000
	limiterTTL       = 5 * time.Minute
)

// sourceLimiter applies a per-source token bucket. Idle sources age out of
// the cache so the map does not grow with every IP that ever delivered.
type sourceLimiter struct {
	limiters *expirable.LRU[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

func newSourceLimiter(requestsPerMin int) *sourceLimiter {
	burst := requestsPerMin / 10
	if burst < 1 {
		burst = 1
	}
	return &sourceLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, limiterTTL),
		rate:     rate.Limit(float64(requestsPerMin) / 60.0),
		burst:    burst,
	}
}

func (sl *sourceLimiter) Allow(key string) bool {
	limiter, ok := sl.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(sl.rate, sl.burst)
		sl.limiters.Add(key, limiter)
	}
	return limiter.Allow()
}

// sourceKey identifies the delivery source, preferring proxy-forwarded
// headers over the socket address.
func sourceKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
