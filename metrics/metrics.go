// Package metrics exports runtime and cache activity as Prometheus
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/contract-vm/cache"
	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/linker"
	"github.com/wippyai/contract-vm/runtime"
)

// ResultOK labels calls that returned without error.
const ResultOK = "ok"

// Option configures a Prometheus instance.
type Option func(*Prometheus)

// WithRegistry registers collectors on reg instead of the default
// registerer.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(p *Prometheus) { p.registry = reg }
}

// WithNamespace prefixes every metric name.
func WithNamespace(ns string) Option {
	return func(p *Prometheus) { p.namespace = ns }
}

// WithConstLabels attaches labels to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(p *Prometheus) { p.constLabels = labels }
}

// Prometheus implements runtime.Observer.
type Prometheus struct {
	registry    prometheus.Registerer
	namespace   string
	constLabels prometheus.Labels

	calls      *prometheus.CounterVec
	gasUsed    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	linkStates *prometheus.CounterVec
}

var _ runtime.Observer = (*Prometheus)(nil)

// NewPrometheus creates and registers the call and link collectors.
func NewPrometheus(opts ...Option) (*Prometheus, error) {
	p := &Prometheus{}
	for _, o := range opts {
		o(p)
	}
	if p.registry == nil {
		p.registry = prometheus.DefaultRegisterer
	}

	p.calls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   p.namespace,
		Name:        "contract_calls_total",
		Help:        "Contract calls by entry point, nesting and result kind",
		ConstLabels: p.constLabels,
	}, []string{"entry", "nested", "result"})
	p.gasUsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   p.namespace,
		Name:        "contract_gas_used_total",
		Help:        "Gas consumed by contract calls",
		ConstLabels: p.constLabels,
	}, []string{"entry"})
	p.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   p.namespace,
		Name:        "contract_call_duration_seconds",
		Help:        "Time (in seconds) spent executing contract calls",
		ConstLabels: p.constLabels,
		Buckets:     prometheus.DefBuckets,
	}, []string{"entry"})
	p.linkStates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   p.namespace,
		Name:        "dynamic_link_transitions_total",
		Help:        "Dynamic link state transitions",
		ConstLabels: p.constLabels,
	}, []string{"state"})

	for _, c := range []prometheus.Collector{p.calls, p.gasUsed, p.duration, p.linkStates} {
		if err := p.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// CallFinished records one contract call.
func (p *Prometheus) CallFinished(ev runtime.CallEvent) {
	nested := "false"
	if ev.Depth > 0 {
		nested = "true"
	}
	p.calls.WithLabelValues(ev.Entry, nested, Result(ev.Err)).Inc()
	p.gasUsed.WithLabelValues(ev.Entry).Add(float64(ev.GasUsed))
	p.duration.WithLabelValues(ev.Entry).Observe(ev.Duration.Seconds())
}

// LinkState records one dynamic link transition.
func (p *Prometheus) LinkState(state linker.State, _ string) {
	p.linkStates.WithLabelValues(state.String()).Inc()
}

// WatchCache registers a collector that reads c's counters on scrape.
func (p *Prometheus) WatchCache(c *cache.Cache) error {
	return p.registry.Register(NewCacheCollector(c, p.namespace, p.constLabels))
}

// Result maps an error to its metric label.
func Result(err error) string {
	if err == nil {
		return ResultOK
	}
	if k := errors.KindOf(err); k != "" {
		return string(k)
	}
	return "unknown"
}
