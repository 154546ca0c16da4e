// Package metrics exposes Prometheus instrumentation for the agent: reader
// monitor events, smart card service failures, API traffic and WebSocket
// clients.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SimplyPrint/pcsc-agent/internal/pcsc"
)

const (
	// Namespace is the Prometheus namespace for all agent metrics
	Namespace = "pcsc_agent"

	LabelOperation  = "operation"
	LabelError      = "error"
	LabelEvent      = "event"
	LabelRoute      = "route"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// ErrorOther labels failures that are not smart card service errors.
	ErrorOther = "other"
)

var (
	// MonitorEvents counts reader and card events emitted by the monitor.
	MonitorEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "monitor",
			Name:      "events_total",
			Help:      "Reader and card events emitted by the monitor, by event type",
		},
		[]string{LabelEvent},
	)

	// MonitorDroppedEvents counts events not delivered to a slow subscriber.
	MonitorDroppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "monitor",
			Name:      "dropped_events_total",
			Help:      "Events dropped because a subscriber was not keeping up",
		},
	)

	// ReadersConnected is the number of readers the monitor currently tracks.
	ReadersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "monitor",
			Name:      "readers",
			Help:      "Number of connected readers",
		},
	)

	// PCSCErrors counts failed smart card service operations by error.
	PCSCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pcsc_errors_total",
			Help:      "Failed smart card service operations by operation and error",
		},
		[]string{LabelOperation, LabelError},
	)

	// HTTPRequestsTotal counts API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route, method and status code",
		},
		[]string{LabelRoute, LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks API latency. Transmit requests include the
	// card round trip.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelRoute},
	)

	// WebSocketClients is the number of connected event stream clients.
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Number of connected WebSocket clients",
		},
	)
)

// ErrorLabel names an error for the PCSCErrors error label.
func ErrorLabel(err error) string {
	var perr pcsc.Error
	if !errors.As(err, &perr) {
		return ErrorOther
	}
	return strings.ReplaceAll(strings.TrimPrefix(perr.Error(), "pcsc: "), " ", "_")
}

// RecordPCSCError counts a failed operation. A nil error is ignored.
func RecordPCSCError(operation string, err error) {
	if err == nil {
		return
	}
	PCSCErrors.WithLabelValues(operation, ErrorLabel(err)).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware records request count and duration under route.
func HTTPMiddleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(wrapper.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.written {
		rw.statusCode = statusCode
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}

// Hijack passes through to the underlying writer so WebSocket upgrades
// work behind the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	rw.written = true
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
