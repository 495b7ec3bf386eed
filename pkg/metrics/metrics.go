// Package metrics exposes ledger activity as prometheus collectors. Metrics
// implements events.Sink so it can be fanned in next to the logging sink.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sogobanwo/GiG-Economy/pkg/events"
)

const namespace = "gigledger"

type Metrics struct {
	registry *prometheus.Registry

	tasksCreated        prometheus.Counter
	submissions         prometheus.Counter
	approvals           prometheus.Counter
	failures            *prometheus.CounterVec
	bountyEscrowedTotal prometheus.Counter
	bountyReleasedTotal prometheus.Counter
}

// NewMetrics registers the ledger collectors and the go/process collectors on
// a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Tasks created.",
		}),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submissions accepted.",
		}),
		approvals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Submissions approved and paid out.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Rejected state-changing operations by op and error kind.",
		}, []string{"op", "kind"}),
		bountyEscrowedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bounty_escrowed_units_total",
			Help:      "Token units pulled into escrow, summed across tokens.",
		}),
		bountyReleasedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bounty_released_units_total",
			Help:      "Token units released from escrow, summed across tokens.",
		}),
	}
	m.registry.MustRegister(
		m.tasksCreated,
		m.submissions,
		m.approvals,
		m.failures,
		m.bountyEscrowedTotal,
		m.bountyReleasedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Emit(_ context.Context, e events.Event) {
	switch ev := e.(type) {
	case *events.TaskCreated:
		m.tasksCreated.Inc()
		if ev.Bounty != nil {
			f, _ := ev.Bounty.Float64()
			m.bountyEscrowedTotal.Add(f)
		}
	case *events.TaskSubmitted:
		m.submissions.Inc()
	case *events.SubmissionApproved:
		m.approvals.Inc()
		if ev.Bounty != nil {
			f, _ := ev.Bounty.Float64()
			m.bountyReleasedTotal.Add(f)
		}
	case *events.OperationFailed:
		m.failures.WithLabelValues(ev.Op, ev.ErrorKind).Inc()
	}
}
