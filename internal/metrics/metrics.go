// Package metrics exposes call coordinator counters to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkeye/voicecall/internal/domain"
)

const namespace = "voicecall"

type Metrics struct {
	callsStarted        *prometheus.CounterVec
	callsEnded          *prometheus.CounterVec
	callDuration        prometheus.Histogram
	activeCalls         prometheus.Gauge
	busyReplies         *prometheus.CounterVec
	negotiationFailures prometheus.Counter
	candidatesDropped   prometheus.Counter
	signalsIn           *prometheus.CounterVec
	signalsOut          *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		callsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Call sessions created, by mode and direction.",
		}, []string{"mode", "direction"}),
		callsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Call sessions torn down, by terminal status and reason.",
		}, []string{"status", "reason"}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_connected_seconds",
			Help:      "Connected time of finished calls.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_call",
			Help:      "1 while a call session is live.",
		}),
		busyReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_incoming_total",
			Help:      "Incoming calls met with a live session, by outcome.",
		}, []string{"outcome"}),
		negotiationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiation_failures_total",
			Help:      "SDP or ICE negotiation failures.",
		}),
		candidatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ice_candidates_dropped_total",
			Help:      "Buffered ICE candidates discarded at teardown.",
		}),
		signalsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_received_total",
			Help:      "Inbound call signaling messages, by type.",
		}, []string{"type"}),
		signalsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_sent_total",
			Help:      "Outbound call signaling messages, by type and result.",
		}, []string{"type", "result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.callsStarted,
			m.callsEnded,
			m.callDuration,
			m.activeCalls,
			m.busyReplies,
			m.negotiationFailures,
			m.candidatesDropped,
			m.signalsIn,
			m.signalsOut,
		)
	}
	return m
}

func direction(outgoing bool) string {
	if outgoing {
		return "outgoing"
	}
	return "incoming"
}

func (m *Metrics) RecordCallStarted(mode domain.Mode, outgoing bool) {
	if m == nil {
		return
	}
	m.callsStarted.WithLabelValues(mode.String(), direction(outgoing)).Inc()
	m.activeCalls.Set(1)
}

func (m *Metrics) RecordCallEnded(status domain.Status, reason domain.Reason, connected time.Duration) {
	if m == nil {
		return
	}
	m.callsEnded.WithLabelValues(status.String(), string(reason)).Inc()
	if connected > 0 {
		m.callDuration.Observe(connected.Seconds())
	}
	m.activeCalls.Set(0)
}

// RecordBusy counts an incoming call that met a live session; outcome is
// "declined", "queued" or "limited".
func (m *Metrics) RecordBusy(outcome string) {
	if m == nil {
		return
	}
	m.busyReplies.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordNegotiationFailure() {
	if m == nil {
		return
	}
	m.negotiationFailures.Inc()
}

func (m *Metrics) RecordCandidatesDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.candidatesDropped.Add(float64(n))
}

func (m *Metrics) RecordSignalIn(kind string) {
	if m == nil {
		return
	}
	m.signalsIn.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordSignalOut(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.signalsOut.WithLabelValues(kind, result).Inc()
}
