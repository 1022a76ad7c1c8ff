package p2p

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	metricsInitOnce sync.Once
	sharedMetrics   *banMetrics
)

type banMetrics struct {
	bansActive  prometheus.Gauge
	banOps      *prometheus.CounterVec
	bansSwept   prometheus.Counter
	connsLive   prometheus.Gauge
	connsOpened *prometheus.CounterVec
	connsClosed *prometheus.CounterVec
	connRefused prometheus.Counter

	meter      metric.Meter
	banCounter metric.Int64Counter
	connGauge  metric.Int64UpDownCounter
}

func newBanMetrics() *banMetrics {
	metricsInitOnce.Do(func() {
		bm := &banMetrics{
			bansActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "peerban_bans_active",
				Help: "Entries currently present in the ban table, expired or not.",
			}),
			banOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peerban_ban_ops_total",
				Help: "Ban table mutations by operation.",
			}, []string{"op"}),
			bansSwept: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "peerban_bans_swept_total",
				Help: "Expired ban entries physically removed by sweeps.",
			}),
			connsLive: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "peerban_connections_live",
				Help: "Live peer connections tracked by the registry.",
			}),
			connsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peerban_connections_opened_total",
				Help: "Admitted connections by direction.",
			}, []string{"direction"}),
			connsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peerban_connections_closed_total",
				Help: "Connection teardowns by reason.",
			}, []string{"reason"}),
			connRefused: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "peerban_connections_refused_total",
				Help: "Connection attempts refused by the ban list.",
			}),
		}
		prometheus.MustRegister(bm.bansActive, bm.banOps, bm.bansSwept,
			bm.connsLive, bm.connsOpened, bm.connsClosed, bm.connRefused)
		bm.initMeter()
		sharedMetrics = bm
	})
	return sharedMetrics
}

func (m *banMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("peerban/p2p")
	banCounter, err := meter.Int64Counter("peerban.ban_ops")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("peerban/p2p")
		banCounter, _ = fallback.Int64Counter("peerban.ban_ops")
		meter = fallback
	}
	connGauge, err := meter.Int64UpDownCounter("peerban.connections")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("peerban/p2p")
		connGauge, _ = fallback.Int64UpDownCounter("peerban.connections")
		meter = fallback
	}
	m.meter = meter
	m.banCounter = banCounter
	m.connGauge = connGauge
}

func (m *banMetrics) recordBanOp(op string) {
	if m == nil {
		return
	}
	m.banOps.WithLabelValues(op).Inc()
	if m.banCounter != nil {
		m.banCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("op", op)))
	}
}

func (m *banMetrics) recordBanSweep(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.bansSwept.Add(float64(count))
}

func (m *banMetrics) setActiveBans(count int) {
	if m == nil {
		return
	}
	m.bansActive.Set(float64(count))
}

func (m *banMetrics) recordConnOpened(direction string) {
	if m == nil {
		return
	}
	if direction == "" {
		direction = "unknown"
	}
	m.connsOpened.WithLabelValues(direction).Inc()
	if m.connGauge != nil {
		m.connGauge.Add(context.Background(), 1)
	}
}

func (m *banMetrics) recordConnClosed(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.connsClosed.WithLabelValues(reason).Inc()
	if m.connGauge != nil {
		m.connGauge.Add(context.Background(), -1)
	}
}

func (m *banMetrics) recordConnRefused() {
	if m == nil {
		return
	}
	m.connRefused.Inc()
}

func (m *banMetrics) setLiveConns(count int) {
	if m == nil {
		return
	}
	m.connsLive.Set(float64(count))
}
