/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_webhook_deliveries_total",
			Help: "Total number of webhook deliveries accepted",
		},
		[]string{"event"},
	)

	signatureFailureCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_signature_failures_total",
			Help: "Total number of webhook deliveries rejected for a bad signature",
		},
	)

	rateLimitedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Total number of webhook deliveries rejected by rate limiting",
		},
	)
)
