package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ConnectedClients prometheus.Gauge
	BetsPlaced       prometheus.Counter
	Cashouts         prometheus.Counter
	RoundsCrashed    prometheus.Counter
	CrashPoints      prometheus.Histogram
	RoundDuration    prometheus.Histogram
}

func New(namespace string) *Metrics {
	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of connected websocket clients",
		}),
		BetsPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bets_placed_total",
			Help:      "Total number of accepted bets",
		}),
		Cashouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cashouts_total",
			Help:      "Total number of successful cashouts",
		}),
		RoundsCrashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_crashed_total",
			Help:      "Total number of completed rounds",
		}),
		CrashPoints: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crash_point",
			Help:      "Distribution of round crash points",
			Buckets:   prometheus.ExponentialBuckets(1.0, 2, 12),
		}),
		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Time from round start to crash",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	prometheus.MustRegister(
		m.ConnectedClients,
		m.BetsPlaced,
		m.Cashouts,
		m.RoundsCrashed,
		m.CrashPoints,
		m.RoundDuration,
	)

	return m
}
