// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds optional Prometheus collectors for adapters and middleware.
//
// A nil *Metrics is valid and records nothing, which is the default
// set by [NewConfig].
//
// Construct using [NewMetrics].
type Metrics struct {
	exchanges       *prometheus.CounterVec
	websocketFrames *prometheus.CounterVec
	bufferQueued    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
//
// Exchanges are labeled by protocol and by the errClass of their outcome
// (empty on success).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servio",
			Name:      "exchanges_total",
			Help:      "Total exchanges handled by the adapters",
		}, []string{"protocol", "errClass"}),

		websocketFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servio",
			Subsystem: "websocket",
			Name:      "frames_total",
			Help:      "Total WebSocket frames bridged",
		}, []string{"direction", "kind"}),

		bufferQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "servio",
			Subsystem: "buffer",
			Name:      "queued_events",
			Help:      "Events currently queued inside Buffer middleware",
		}),
	}
	collectors := []prometheus.Collector{m.exchanges, m.websocketFrames, m.bufferQueued}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeExchange(protocol, errClass string) {
	if m != nil {
		m.exchanges.WithLabelValues(protocol, errClass).Inc()
	}
}

func (m *Metrics) observeFrame(direction, kind string) {
	if m != nil {
		m.websocketFrames.WithLabelValues(direction, kind).Inc()
	}
}

func (m *Metrics) addQueued(delta float64) {
	if m != nil {
		m.bufferQueued.Add(delta)
	}
}
