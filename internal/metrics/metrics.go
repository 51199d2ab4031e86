// Package metrics defines the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connection outcome labels for ConnectionsTotal.
const (
	ResultOK          = "ok"
	ResultDialError   = "dial_error"
	ResultHeaderError = "header_error"
	ResultPeerReset   = "peer_reset"
	ResultTimeout     = "timeout"
	ResultIOError     = "io_error"
)

// Direction labels for BytesTotal.
const (
	DirUpstream   = "client_to_backend"
	DirDownstream = "backend_to_client"
)

var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "r2lay_connections_total",
			Help: "Relayed connections by outcome",
		},
		[]string{"result"},
	)

	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "r2lay_connections_current",
			Help: "Connections currently being relayed",
		},
	)

	ConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "r2lay_connection_duration_seconds",
			Help:    "Lifetime of relayed connections",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300, 1800, 3600},
		},
	)

	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "r2lay_bytes_total",
			Help: "Bytes copied between clients and the back-end",
		},
		[]string{"direction"},
	)

	AcceptErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "r2lay_accept_errors_total",
			Help: "Errors returned by the listener on accept",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
