package monitoring

import (
	"context"
	"strconv"
	"time"

	"roomsignal/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	roomsActive       prometheus.Gauge
	peersActive       prometheus.Gauge
	connectionsActive prometheus.Gauge
	roomEvents        *prometheus.CounterVec
	remoteRoomEvents  *prometheus.CounterVec

	messagesTotal   *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec

	engineCalls        *prometheus.CounterVec
	engineCallDuration *prometheus.HistogramVec

	workerRouters    *prometheus.GaugeVec
	workerTransports *prometheus.GaugeVec
}

// NewPrometheusCollector registers the signalling metrics with reg; pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomsignal_rooms_active",
			Help: "Number of live rooms",
		}),
		peersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomsignal_peers_active",
			Help: "Number of peers admitted to a room",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomsignal_connections_active",
			Help: "Number of open signalling connections",
		}),
		roomEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsignal_room_events_total",
			Help: "Room lifecycle events by type",
		}, []string{"type"}),
		remoteRoomEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsignal_remote_room_events_total",
			Help: "Room lifecycle events received from other instances by type and origin",
		}, []string{"type", "instance"}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsignal_signal_messages_total",
			Help: "Inbound signalling messages by type and outcome",
		}, []string{"type", "outcome"}),
		messageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roomsignal_signal_message_duration_seconds",
			Help:    "Time spent handling a signalling message",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"type"}),

		engineCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsignal_engine_calls_total",
			Help: "Media engine calls by operation and outcome",
		}, []string{"op", "outcome"}),
		engineCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roomsignal_engine_call_duration_seconds",
			Help:    "Media engine call latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 9),
		}, []string{"op"}),

		workerRouters: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomsignal_worker_routers",
			Help: "Routers hosted per media worker",
		}, []string{"worker"}),
		workerTransports: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomsignal_worker_transports",
			Help: "Transports hosted per media worker",
		}, []string{"worker"}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) ObserveMessage(messageType, outcome string, d time.Duration) {
	p.messagesTotal.WithLabelValues(messageType, outcome).Inc()
	p.messageDuration.WithLabelValues(messageType).Observe(d.Seconds())
}

func (p *PrometheusCollector) RecordEngineCall(op string, err error, d time.Duration) {
	outcome := "ok"
	switch {
	case err == nil:
	case domain.IsUserFacing(err):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	p.engineCalls.WithLabelValues(op, outcome).Inc()
	p.engineCallDuration.WithLabelValues(op).Observe(d.Seconds())
}

// HandleRoomEvent keeps the room and peer gauges in step with the registry.
// It is subscribed as a room event hook.
func (p *PrometheusCollector) HandleRoomEvent(_ context.Context, event domain.RoomEvent) error {
	p.roomEvents.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case domain.RoomEventCreated:
		p.roomsActive.Inc()
	case domain.RoomEventDeleted:
		p.roomsActive.Dec()
		// peers still present when a room is deleted explicitly
		p.peersActive.Sub(float64(event.Room.CurrentParticipants))
	case domain.RoomEventPeerJoined:
		p.peersActive.Inc()
	case domain.RoomEventPeerLeft:
		p.peersActive.Dec()
	}
	return nil
}

// RecordRemoteRoomEvent counts a room event published by another instance.
// The local room and peer gauges are not touched.
func (p *PrometheusCollector) RecordRemoteRoomEvent(eventType domain.RoomEventType, instanceID string) {
	p.remoteRoomEvents.WithLabelValues(string(eventType), instanceID).Inc()
}

func (p *PrometheusCollector) UpdateWorkerStats(stats []domain.WorkerStats) {
	for _, s := range stats {
		worker := strconv.Itoa(s.Index)
		p.workerRouters.WithLabelValues(worker).Set(float64(s.Routers))
		p.workerTransports.WithLabelValues(worker).Set(float64(s.Transports))
	}
}

// PollWorkerStats refreshes the worker gauges every interval until ctx ends.
func (p *PrometheusCollector) PollWorkerStats(ctx context.Context, source func() []domain.WorkerStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.UpdateWorkerStats(source())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.UpdateWorkerStats(source())
		}
	}
}
