package cli

import (
	"errors"

	"github.com/dmora/agentpipe"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "agentpipe"

// Metrics are the counters a Client maintains. They are registered on the
// Registerer passed with WithRegisterer; without one they are still
// updated but not exported.
//
// Counters are shared by all clients on one Registerer. State carries a
// "client" label, so each named client reports its own lifecycle state.
type Metrics struct {
	SessionsStarted prometheus.Counter
	MalformedLines  prometheus.Counter
	RetryTurns      prometheus.Counter
	ForcedKills     prometheus.Counter
	DesyncHeals     prometheus.Counter
	State           prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, client string) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_started_total",
			Help:      "Agent processes spawned.",
		}),
		MalformedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "malformed_lines_total",
			Help:      "Stdout lines that could not be decoded and were skipped.",
		}),
		RetryTurns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retry_turns_total",
			Help:      "Synthetic retry turns injected after an in-band turn error.",
		}),
		ForcedKills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "forced_kills_total",
			Help:      "Agent process trees terminated forcibly.",
		}),
		DesyncHeals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "desync_heals_total",
			Help:      "Running states repaired after the agent exited unobserved.",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "state",
			Help:        "Client lifecycle state (0 not_started, 1 starting, 2 running, 3 shutting_down, 4 stopped).",
			ConstLabels: prometheus.Labels{"client": client},
		}),
	}
	if reg == nil {
		return m
	}
	m.SessionsStarted = register(reg, m.SessionsStarted)
	m.MalformedLines = register(reg, m.MalformedLines)
	m.RetryTurns = register(reg, m.RetryTurns)
	m.ForcedKills = register(reg, m.ForcedKills)
	m.DesyncHeals = register(reg, m.DesyncHeals)
	m.State = register(reg, m.State)
	return m
}

// register adds c to reg. If an identical collector is already registered
// (a second client on the same registry) the existing one is shared.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	return c
}

func (m *Metrics) setState(s agentpipe.State) {
	m.State.Set(float64(s))
}
