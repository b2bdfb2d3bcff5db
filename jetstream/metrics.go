package jetstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigil_jetstream_events_received_total",
		Help: "Total number of events received from the upstream feed",
	}, []string{"kind"})
	eventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sigil_jetstream_events_malformed_total",
		Help: "Total number of frames that failed to decode",
	})
	connectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sigil_jetstream_connection_state",
		Help: "Current connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=shutting-down 5=closed)",
	})
	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sigil_jetstream_reconnects_total",
		Help: "Total number of reconnection attempts",
	})
	lastCursorGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sigil_jetstream_last_cursor_us",
		Help: "Checkpointable stream position in microseconds since epoch",
	})
	workersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sigil_jetstream_workers_active",
		Help: "Number of scheduler workers running",
	})
)
