/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package metrics

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "trackam_live"
)

var (
	once     sync.Once
	registry *prometheus.Registry

	// Realtime connection
	ConnectionState        GaugeVec   = noopGaugeVec{}
	StateTransitionsTotal  CounterVec = noopCounterVec{}
	ReconnectAttemptsTotal Counter    = noopCounter{}
	ConnectionErrorsTotal  CounterVec = noopCounterVec{}
	EventsReceivedTotal    CounterVec = noopCounterVec{}
	EventsSentTotal        CounterVec = noopCounterVec{}
	EventsDroppedTotal     CounterVec = noopCounterVec{}

	// Tracking
	LocationUpdatesTotal CounterVec = noopCounterVec{}
	WatchedDeliveries    Gauge      = noopGauge{}

	// Storage
	StorageOperationsTotal          CounterVec   = noopCounterVec{}
	StorageOperationDurationSeconds HistogramVec = noopHistogramVec{}

	// HTTP API
	HTTPRequestsTotal          CounterVec   = noopCounterVec{}
	HTTPRequestDurationSeconds HistogramVec = noopHistogramVec{}
	ConcurrentRequests         Gauge        = noopGauge{}

	// Process
	Up                   Gauge      = noopGauge{}
	Info                 GaugeVec   = noopGaugeVec{}
	Goroutines           Gauge      = noopGauge{}
	MemoryBytes          GaugeVec   = noopGaugeVec{}
	PanicRecoveriesTotal CounterVec = noopCounterVec{}
)

func initMetrics() {
	ConnectionState = newGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Realtime connection state (1 for the current state, 0 otherwise)",
		},
		[]string{"state"},
	)

	StateTransitionsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_state_transitions_total",
			Help:      "Total number of realtime connection state transitions",
		},
		[]string{"from", "to"},
	)

	ReconnectAttemptsTotal = newCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of automatic reconnection attempts",
		},
	)

	ConnectionErrorsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Total number of realtime connection errors",
		},
		[]string{"kind"},
	)

	EventsReceivedTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of inbound realtime events",
		},
		[]string{"event"},
	)

	EventsSentTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_sent_total",
			Help:      "Total number of outbound realtime events queued on a live connection",
		},
		[]string{"event"},
	)

	EventsDroppedTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of realtime events dropped",
		},
		[]string{"direction", "reason"},
	)

	LocationUpdatesTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_updates_total",
			Help:      "Total number of rider location updates processed",
		},
		[]string{"status"},
	)

	WatchedDeliveries = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_deliveries",
			Help:      "Number of deliveries currently being watched",
		},
	)

	StorageOperationsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of location store operations",
		},
		[]string{"operation", "backend", "status"},
	)

	StorageOperationDurationSeconds = newHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Location store operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation", "backend"},
	)

	HTTPRequestsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDurationSeconds = newHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"method", "endpoint"},
	)

	ConcurrentRequests = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concurrent_requests",
			Help:      "Number of HTTP requests currently being served",
		},
	)

	Up = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "Whether the tracker process is up",
		},
	)

	Info = newGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Build information",
		},
		[]string{"version", "storage_type"},
	)

	Goroutines = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of goroutines",
		},
	)

	MemoryBytes = newGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_bytes",
			Help:      "Memory usage in bytes",
		},
		[]string{"type"},
	)

	PanicRecoveriesTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panic_recoveries_total",
			Help:      "Total number of recovered panics",
		},
		[]string{"component"},
	)
}

func registerAll() {
	for _, m := range []any{
		ConnectionState, StateTransitionsTotal, ReconnectAttemptsTotal, ConnectionErrorsTotal,
		EventsReceivedTotal, EventsSentTotal, EventsDroppedTotal,
		LocationUpdatesTotal, WatchedDeliveries,
		StorageOperationsTotal, StorageOperationDurationSeconds,
		HTTPRequestsTotal, HTTPRequestDurationSeconds, ConcurrentRequests,
		Up, Info, Goroutines, MemoryBytes, PanicRecoveriesTotal,
	} {
		register(m)
	}
}

// Init initializes the metrics registry with all collectors.
// It is safe to call multiple times; only the first call has effect.
func Init() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		initMetrics()
		if Enabled {
			registry.MustRegister(collectors.NewGoCollector())
			registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			registerAll()
			Up.Set(1)
		}
	})
	return registry
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return Init()
	}
	return registry
}

// UpdateMemoryMetrics refreshes the goroutine and heap gauges.
func UpdateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	Goroutines.Set(float64(runtime.NumGoroutine()))
	MemoryBytes.WithLabelValues("heap_alloc").Set(float64(m.HeapAlloc))
	MemoryBytes.WithLabelValues("heap_sys").Set(float64(m.HeapSys))
	MemoryBytes.WithLabelValues("stack_inuse").Set(float64(m.StackInuse))
}
