package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stream_events_total", Help: "Decoded stream events by kind"},
		[]string{"kind"},
	)
	DecodeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "stream_decode_errors_total", Help: "Frames dropped as undecodable"},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "stream_reconnects_total", Help: "Websocket reconnect attempts"},
	)
	Connected = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "stream_connected", Help: "1 while the event stream is connected"},
	)
	SnapshotFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "snapshot_fetches_total", Help: "REST snapshot fetches by collection and result"},
		[]string{"collection", "result"},
	)
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "commands_total", Help: "Execution commands forwarded to the backend"},
		[]string{"command", "result"},
	)
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifications_total", Help: "User-facing alerts dispatched"},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsTotal, DecodeErrorsTotal, ReconnectsTotal, Connected,
		SnapshotFetchesTotal, CommandsTotal, NotificationsTotal,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
