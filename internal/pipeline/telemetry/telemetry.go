// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry mirrors the per-service metric surface into Prometheus.
// Services keep their own numeric maps for the status API; this package is
// the export path scraped from /metrics. Labels are bounded: service names
// and metric names both come from the topology, never from payloads.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	serviceCounters = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simflow_service_events_total",
		Help: "Cumulative per-service counters (batches_written, ticks_written, ...)",
	}, []string{"service", "metric"})

	serviceGauges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "simflow_service_gauge",
		Help: "Per-service instantaneous values (current_batch_size, ...)",
	}, []string{"service", "metric"})

	serviceState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "simflow_service_state",
		Help: "Service lifecycle state (0 stopped, 1 running, 2 paused, 3 errored)",
	}, []string{"service"})

	serviceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simflow_service_errors_total",
		Help: "Errors recorded by a service, by error type",
	}, []string{"service", "type"})
)

func init() {
	// Registration is eager; harmless when no /metrics endpoint is exposed.
	prometheus.MustRegister(serviceCounters, serviceGauges, serviceState, serviceErrors)
}

// AddCounter adds delta to a cumulative per-service counter.
func AddCounter(service, metric string, delta float64) {
	if delta < 0 {
		return // counters are monotonic; negative deltas are caller bugs
	}
	serviceCounters.WithLabelValues(service, metric).Add(delta)
}

// SetGauge sets an instantaneous per-service value.
func SetGauge(service, metric string, v float64) {
	serviceGauges.WithLabelValues(service, metric).Set(v)
}

// SetState exports the lifecycle state code.
func SetState(service string, code int) {
	serviceState.WithLabelValues(service).Set(float64(code))
}

// IncError counts one recorded error of the given type.
func IncError(service, errType string) {
	serviceErrors.WithLabelValues(service, errType).Inc()
}
