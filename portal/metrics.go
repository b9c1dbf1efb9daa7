// Copyright 2025 The portal-evm-rpc Authors
// This file is part of the portal-evm-rpc library.
//
// The portal-evm-rpc library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The portal-evm-rpc library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the portal-evm-rpc library. If not, see <http://www.gnu.org/licenses/>.

package portal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	portalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_requests_total",
			Help: "Portal HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "status"},
	)
	portalLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_latency_seconds",
			Help:    "Portal HTTP request latency by endpoint.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)
	ndjsonLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ndjson_lines_total",
			Help: "NDJSON stream lines parsed.",
		},
	)
	finalizedFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finalized_fallback_total",
			Help: "Finalized head lookups that fell back to the unfinalized head.",
		},
	)
)
