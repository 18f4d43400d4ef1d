// Package metrics holds the Prometheus collectors for the panel. All methods are
// safe to call on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
	sensorReads    *prometheus.CounterVec
	marqueeFrames  prometheus.Counter
	actuatorState  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_requests_total",
			Help: "Requests served on the control port by route and status code.",
		}, []string{"route", "status"}),
		requestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "panel_request_duration_seconds",
			Help:    "Time from accept to response written, by route.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"route"}),
		sensorReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_sensor_reads_total",
			Help: "Sensor reads by sensor and result (ok, absent).",
		}, []string{"sensor", "result"}),
		marqueeFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "panel_marquee_frames_total",
			Help: "Marquee frames rendered to the display.",
		}),
		actuatorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panel_actuator_state",
			Help: "Current actuator state (1 on, 0 off).",
		}),
	}

	m.Registry.MustRegister(
		m.requestsTotal,
		m.requestSeconds,
		m.sensorReads,
		m.marqueeFrames,
		m.actuatorState,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveRequest records one served connection.
func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestSeconds.WithLabelValues(route).Observe(d.Seconds())
}

// SensorRead records the outcome of one sensor read.
func (m *Metrics) SensorRead(sensor string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "absent"
	}
	m.sensorReads.WithLabelValues(sensor, result).Inc()
}

func (m *Metrics) MarqueeFrame() {
	if m == nil {
		return
	}
	m.marqueeFrames.Inc()
}

func (m *Metrics) SetActuator(on bool) {
	if m == nil {
		return
	}
	if on {
		m.actuatorState.Set(1)
	} else {
		m.actuatorState.Set(0)
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
