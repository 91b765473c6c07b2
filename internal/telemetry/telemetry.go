// Package telemetry exposes the server's runtime metrics via Prometheus
// and, optionally, pushes live measurement samples to connected
// dashboards over a websocket, filling out the "metrics" part of the
// ambient stack the distilled spec leaves implicit.
package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics bundles every Prometheus collector the server registers.
type Metrics struct {
	FramesSent      prometheus.Counter
	FramesDropped   prometheus.Counter
	FrameTime       prometheus.Histogram
	SocketBytesSent prometheus.Counter
	SocketBytesRecv prometheus.Counter
	SessionState    *prometheus.GaugeVec
}

// NewMetrics registers and returns the server's metric collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "wvb_frames_sent_total",
			Help: "Total video frames successfully sent to the client.",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "wvb_frames_dropped_total",
			Help: "Total video frames dropped before reaching the client.",
		}),
		FrameTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wvb_frame_time_seconds",
			Help:    "End-to-end time from frame submission to packet send.",
			Buckets: prometheus.DefBuckets,
		}),
		SocketBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "wvb_socket_bytes_sent_total",
			Help: "Total bytes sent across all sockets.",
		}),
		SocketBytesRecv: factory.NewCounter(prometheus.CounterOpts{
			Name: "wvb_socket_bytes_received_total",
			Help: "Total bytes received across all sockets.",
		}),
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wvb_session_state",
			Help: "Current VRCP session state (1 = active, one label per state name).",
		}, []string{"state"}),
	}
}

// Handler returns the /metrics HTTP handler for a Registerer created
// with prometheus.NewRegistry (or prometheus.DefaultRegisterer's
// gatherer, via promhttp.Handler, when the caller prefers the global
// registry).
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// LiveSample is one measurement pushed to subscribed dashboards.
type LiveSample struct {
	Kind      string      `json:"kind"`
	Timestamp uint32      `json:"timestamp"`
	Value     interface{} `json:"value"`
}

// Broadcaster fans out LiveSample values to any number of websocket
// subscribers, for a live benchmark dashboard distinct from the
// Prometheus scrape-based path.
type Broadcaster struct {
	log      *logrus.Entry
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*websocket.Conn]chan LiveSample
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		log:      logrus.WithField("component", "telemetry.broadcaster"),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		subs:     make(map[*websocket.Conn]chan LiveSample),
	}
}

// ServeHTTP upgrades the connection and registers it as a subscriber
// until it disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	ch := make(chan LiveSample, 64)

	b.mu.Lock()
	b.subs[conn] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	for sample := range ch {
		payload, err := json.Marshal(sample)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// Publish fans a sample out to every connected subscriber, dropping it
// for any subscriber whose outbound buffer is full rather than
// blocking the producer.
func (b *Broadcaster) Publish(sample LiveSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- sample:
		default:
		}
	}
}
