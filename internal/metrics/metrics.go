// Package metrics expõe os contadores Prometheus do serviço. Todas as
// métricas vivem em um Registry próprio, servido em /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry *prometheus.Registry

	FramesProcessed   *prometheus.CounterVec
	FramesDropped     *prometheus.CounterVec
	Recognitions      *prometheus.CounterVec
	CheckIns          *prometheus.CounterVec
	ActiveStreams     prometheus.Gauge
	IndexVectors      prometheus.Gauge
	PresenceOccupants *prometheus.GaugeVec
	Subscribers       *prometheus.GaugeVec
	DroppedMessages   *prometheus.CounterVec
	ProviderLatency   prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{registry: reg}

	m.FramesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presenca_frames_processed_total",
		Help: "Frames submitted to recognition, per camera",
	}, []string{"camera"})
	reg.MustRegister(m.FramesProcessed)

	m.FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presenca_frames_dropped_total",
		Help: "Frames skipped by the recognition throttle, per camera",
	}, []string{"camera"})
	reg.MustRegister(m.FramesDropped)

	m.Recognitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presenca_recognitions_total",
		Help: "Recognitions that passed the event cooldown, per camera",
	}, []string{"camera"})
	reg.MustRegister(m.Recognitions)

	m.CheckIns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presenca_checkins_total",
		Help: "Check-in attempts by outcome (created, already, suppressed, error)",
	}, []string{"status"})
	reg.MustRegister(m.CheckIns)

	m.ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "presenca_streams_active",
		Help: "Camera workers currently running",
	})
	reg.MustRegister(m.ActiveStreams)

	m.IndexVectors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "presenca_index_vectors",
		Help: "Embeddings currently held by the similarity index",
	})
	reg.MustRegister(m.IndexVectors)

	m.PresenceOccupants = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "presenca_room_occupants",
		Help: "People currently tracked as present, per room",
	}, []string{"room"})
	reg.MustRegister(m.PresenceOccupants)

	m.Subscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "presenca_hub_subscribers",
		Help: "Active hub subscriptions, per topic kind",
	}, []string{"kind"})
	reg.MustRegister(m.Subscribers)

	m.DroppedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presenca_hub_dropped_total",
		Help: "Messages dropped from slow subscriber queues, per topic kind",
	}, []string{"kind"})
	reg.MustRegister(m.DroppedMessages)

	m.ProviderLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "presenca_provider_latency_seconds",
		Help:    "Latency of face provider calls",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(m.ProviderLatency)

	return m
}

// Registry retorna o registry para exposição via promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
