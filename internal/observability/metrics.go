package observability

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "j1939",
			Subsystem: "bus",
			Name:      "frames_total",
			Help:      "CAN frames received from the adapter.",
		},
		[]string{"network"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "j1939",
			Subsystem: "bus",
			Name:      "frames_dropped_total",
			Help:      "Frames rejected before reaching the pipeline.",
		},
		[]string{"network", "reason"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "j1939",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Complete messages handed to the decoder.",
		},
		[]string{"network", "pgn", "transport"},
	)
	transferAborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "j1939",
			Subsystem: "tp",
			Name:      "aborts_total",
			Help:      "Transport protocol sessions aborted.",
		},
		[]string{"network", "reason"},
	)
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "j1939",
			Subsystem: "tp",
			Name:      "sessions",
			Help:      "Live transport protocol sessions.",
		},
		[]string{"network"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "j1939",
			Subsystem: "decoder",
			Name:      "errors_total",
			Help:      "Signals that could not be decoded.",
		},
		[]string{"network", "pgn"},
	)
	decodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "j1939",
			Subsystem: "decoder",
			Name:      "duration_seconds",
			Help:      "Time spent decoding one message.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 10),
		},
		[]string{"network"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesReceived, framesDropped, messages, transferAborts, activeSessions, decodeErrors, decodeDuration)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func pgnLabel(pgn uint32) string {
	return fmt.Sprintf("%05X", pgn)
}

func RecordFrame(network string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(network).Inc()
}

func RecordDropped(network, reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(network, reason).Inc()
}

// RecordMessage counts a complete message. transport is "single" or the
// reassembly mode that produced it.
func RecordMessage(network string, pgn uint32, transport string) {
	RegisterMetrics()
	messages.WithLabelValues(network, pgnLabel(pgn), transport).Inc()
}

func RecordAbort(network, reason string) {
	RegisterMetrics()
	transferAborts.WithLabelValues(network, reason).Inc()
}

func SetSessions(network string, n int) {
	RegisterMetrics()
	activeSessions.WithLabelValues(network).Set(float64(n))
}

func RecordDecode(network string, pgn uint32, failed int, duration time.Duration) {
	RegisterMetrics()
	if failed > 0 {
		decodeErrors.WithLabelValues(network, pgnLabel(pgn)).Add(float64(failed))
	}
	decodeDuration.WithLabelValues(network).Observe(duration.Seconds())
}
