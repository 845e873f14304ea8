/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// Package metrics holds the Prometheus collectors of the bridge.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hostport"

var (
	registerOnce sync.Once

	workerMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "messages_total",
			Help:      "Messages moved through the host port buffers.",
		},
		[]string{"direction"},
	)
	workerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "errors_total",
			Help:      "Session worker failures by kind.",
		},
		[]string{"kind"},
	)
	workerLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "loads_total",
			Help:      "Program load attempts.",
		},
		[]string{"success"},
	)
	brokerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "calls_total",
			Help:      "Broker request operations.",
		},
		[]string{"op", "result"},
	)
	brokerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "call_duration_seconds",
			Help:      "Broker request duration in seconds, admission included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	asyncMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "async_total",
			Help:      "Unsolicited register pushes received.",
		},
	)
	discardedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "discarded_total",
			Help:      "Replies discarded by load or shutdown.",
		},
	)
	sinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sink_errors_total",
			Help:      "Notifications a sink failed to take.",
		},
		[]string{"sink"},
	)
	watchdogPings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "pings_total",
			Help:      "Scheduled liveness pings.",
		},
		[]string{"success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(workerMessages, workerErrors, workerLoads,
			brokerCalls, brokerDuration, asyncMessages, discardedMessages, sinkErrors, watchdogPings)
	})
}

func RecordInbound() {
	RegisterMetrics()
	workerMessages.WithLabelValues("inbound").Inc()
}

func RecordOutbound() {
	RegisterMetrics()
	workerMessages.WithLabelValues("outbound").Inc()
}

// RecordWorkerError counts a worker failure, kind is e.g. write_timeout or malformed_frame
func RecordWorkerError(kind string) {
	RegisterMetrics()
	workerErrors.WithLabelValues(kind).Inc()
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func RecordLoad(success bool) {
	RegisterMetrics()
	workerLoads.WithLabelValues(boolLabel(success)).Inc()
}

func RecordCall(op, result string, duration time.Duration) {
	RegisterMetrics()
	brokerCalls.WithLabelValues(op, result).Inc()
	brokerDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordAsync() {
	RegisterMetrics()
	asyncMessages.Inc()
}

func RecordDiscarded(n int) {
	RegisterMetrics()
	discardedMessages.Add(float64(n))
}

func RecordSinkError(sink string) {
	RegisterMetrics()
	sinkErrors.WithLabelValues(sink).Inc()
}

func RecordWatchdog(success bool) {
	RegisterMetrics()
	watchdogPings.WithLabelValues(boolLabel(success)).Inc()
}
