package kucoin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the REST pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	clockOffset     prometheus.Gauge
	syncFailures    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kucoin",
				Subsystem: "rest",
				Name:      "requests_total",
				Help:      "REST calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kucoin",
				Subsystem: "rest",
				Name:      "request_duration_seconds",
				Help:      "REST call duration in seconds, transport included",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method"},
		),
		clockOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kucoin",
			Subsystem: "timesync",
			Name:      "offset_ms",
			Help:      "Last measured server minus local clock offset in milliseconds",
		}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kucoin",
			Subsystem: "timesync",
			Name:      "failures_total",
			Help:      "Server time fetches that failed",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.requests, m.requestDuration, m.clockOffset, m.syncFailures} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeCall(method string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if reqErr, ok := AsRequestError(err); ok {
			outcome = reqErr.Kind.String()
		}
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) observeOffset(offset int64) {
	if m == nil {
		return
	}
	m.clockOffset.Set(float64(offset))
}

func (m *Metrics) observeSyncFailure(error) {
	if m == nil {
		return
	}
	m.syncFailures.Inc()
}
