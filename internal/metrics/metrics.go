package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the sync engine.
type Metrics struct {
	// Token lifecycle
	TokenReissues   prometheus.Counter
	ReissueFailures prometheus.Counter
	RefreshState    prometheus.Gauge // 0=idle, 1=refreshing, 2=failed

	// Market state
	TicksFolded  prometheus.Counter
	TicksDropped prometheus.Counter
	BookSize     prometheus.Gauge

	// Stream
	StreamReconnects prometheus.Counter

	// Sinks
	RecorderDrops prometheus.Counter
	CacheDrops    prometheus.Counter
}

// New creates metrics registered on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered on the given registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokenReissues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinsync_token_reissues_total",
			Help: "Number of token reissue calls sent to the auth endpoint.",
		}),
		ReissueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinsync_token_reissue_failures_total",
			Help: "Number of reissue calls that ended the session.",
		}),
		RefreshState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coinsync_refresh_state",
			Help: "Current refresh state (0=idle, 1=refreshing, 2=failed).",
		}),
		TicksFolded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinsync_ticks_folded_total",
			Help: "Number of ticks merged into the market book.",
		}),
		TicksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinsync_ticks_dropped_total",
			Help: "Number of ticks dropped (unknown instrument or pre-seed).",
		}),
		BookSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coinsync_book_instruments",
			Help: "Number of instruments in the seeded market book.",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinsync_stream_reconnects_total",
			Help: "Number of stream resubscribe attempts after a terminal stream error.",
		}),
		RecorderDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinsync_recorder_drops_total",
			Help: "Number of ticks dropped by the recorder due to backpressure.",
		}),
		CacheDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinsync_cache_drops_total",
			Help: "Number of quote updates dropped by the cache mirror due to backpressure.",
		}),
	}

	reg.MustRegister(
		m.TokenReissues,
		m.ReissueFailures,
		m.RefreshState,
		m.TicksFolded,
		m.TicksDropped,
		m.BookSize,
		m.StreamReconnects,
		m.RecorderDrops,
		m.CacheDrops,
	)

	return m
}
