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

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "goosi"
)

var (
	registerOnce sync.Once

	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dissect",
			Name:      "frames_total",
			Help:      "Frames handed to the entry dispatcher.",
		},
		[]string{"unit_kind", "status"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dissect",
			Name:      "dispatches_total",
			Help:      "Payloads dispatched by abstract syntax.",
		},
		[]string{"protocol"},
	)
	diagnostics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dissect",
			Name:      "diagnostics_total",
			Help:      "Fault paths taken while dissecting.",
		},
		[]string{"kind"},
	)
	invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "roc",
			Name:      "invocations_total",
			Help:      "Remote-operation correlation events.",
		},
		[]string{"event"},
	)
	units = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reassembly",
			Name:      "units_total",
			Help:      "Completed reassembled units.",
		},
	)
	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "packets_total",
			Help:      "Captured packets by outcome.",
		},
		[]string{"outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Diagnostic kinds
const (
	DiagUnresolvedOID = "unresolved_oid"
	DiagNoProgress    = "no_progress"
	DiagWrongUnitKind = "wrong_unit_kind"
	DiagNotBound      = "not_bound"
	DiagMalformed     = "malformed"
	DiagTooDeep       = "too_deep"
)

// Capture outcomes
const (
	PacketOSI     = "osi"
	PacketSkipped = "skipped"
	PacketResync  = "resync"
)

// Correlation events
const (
	EventInvoke  = "invoke"
	EventMatched = "matched"
	EventEvicted = "evicted"
	EventOrphan  = "orphan"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(frames, dispatches, diagnostics, invocations, units, packets, httpRequests, httpDuration)
	})
}

func RecordFrame(kind, status string) {
	RegisterMetrics()
	frames.WithLabelValues(kind, status).Inc()
}

func RecordDispatch(protocol string) {
	RegisterMetrics()
	dispatches.WithLabelValues(protocol).Inc()
}

func RecordDiagnostic(kind string) {
	RegisterMetrics()
	diagnostics.WithLabelValues(kind).Inc()
}

func RecordInvocation(event string) {
	RegisterMetrics()
	invocations.WithLabelValues(event).Inc()
}

func RecordUnit() {
	RegisterMetrics()
	units.Inc()
}

func RecordPacket(outcome string) {
	RegisterMetrics()
	packets.WithLabelValues(outcome).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
