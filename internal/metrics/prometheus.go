package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "spread_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry       *prometheus.Registry
	cyclesRun      prometheus.Counter
	cyclesSkipped  prometheus.Counter
	fetchFailures  prometheus.Counter
	ordersPlaced   prometheus.Counter
	ordersCanceled prometheus.Counter
	ordersFailed   prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	cyclesRun := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_total",
		Help:      "Total number of completed decision cycles.",
	})
	cyclesSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_skipped_total",
		Help:      "Total number of cycles skipped before acting.",
	})
	fetchFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "fetch_failures_total",
		Help:      "Total number of upstream fetch failures.",
	})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of limit orders placed.",
	})
	ordersCanceled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_canceled_total",
		Help:      "Total number of orders canceled.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement or cancel failures.",
	})

	registry.MustRegister(cyclesRun, cyclesSkipped, fetchFailures, ordersPlaced, ordersCanceled, ordersFailed)

	m := &Metrics{
		CyclesRun:      promCounter{cyclesRun},
		CyclesSkipped:  promCounter{cyclesSkipped},
		FetchFailures:  promCounter{fetchFailures},
		OrdersPlaced:   promCounter{ordersPlaced},
		OrdersCanceled: promCounter{ordersCanceled},
		OrdersFailed:   promCounter{ordersFailed},
	}

	return &Prometheus{
		Metrics:        m,
		registry:       registry,
		cyclesRun:      cyclesRun,
		cyclesSkipped:  cyclesSkipped,
		fetchFailures:  fetchFailures,
		ordersPlaced:   ordersPlaced,
		ordersCanceled: ordersCanceled,
		ordersFailed:   ordersFailed,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
