// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package metric

import (
	"io"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/util/syncutil"
	"github.com/prometheus/client_golang/prometheus"
	prometheusgo "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// A Registry bundles up the metrics of a component and exports them through
// a prometheus registry.
type Registry struct {
	prom *prometheus.Registry

	mu struct {
		syncutil.Mutex
		tracked map[string]valuer
	}
}

type valuer interface {
	value() int64
}

// NewRegistry creates a new Registry.
func NewRegistry() *Registry {
	r := &Registry{prom: prometheus.NewRegistry()}
	r.mu.tracked = map[string]valuer{}
	return r
}

// exportedName converts a dotted metric name into a prometheus-compatible
// one.
func exportedName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func (r *Registry) add(name string, c prometheus.Collector, v valuer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mu.tracked[name]; ok {
		return errors.Newf("metric %s already registered", name)
	}
	if err := r.prom.Register(c); err != nil {
		return errors.Wrapf(err, "registering %s", name)
	}
	r.mu.tracked[name] = v
	return nil
}

// Counter registers a new counter with the registry. It panics if the name
// is already in use.
func (r *Registry) Counter(name, help string) *Counter {
	c := &Counter{Counter: prometheus.NewCounter(prometheus.CounterOpts{
		Name: exportedName(name),
		Help: help,
	})}
	if err := r.add(name, c.Counter, c); err != nil {
		panic(err)
	}
	return c
}

// Gauge registers a new gauge with the registry. It panics if the name is
// already in use.
func (r *Registry) Gauge(name, help string) *Gauge {
	g := &Gauge{Gauge: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: exportedName(name),
		Help: help,
	})}
	if err := r.add(name, g.Gauge, g); err != nil {
		panic(err)
	}
	return g
}

// Each calls the given closure for all metrics, in name order.
func (r *Registry) Each(f func(name string, val int64)) {
	r.mu.Lock()
	names := make([]string, 0, len(r.mu.tracked))
	for name := range r.mu.tracked {
		names = append(names, name)
	}
	tracked := r.mu.tracked
	r.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		f(name, tracked[name].value())
	}
}

// Gatherer exposes the underlying prometheus registry, e.g. for an HTTP
// handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}

// PrintAsText writes all metrics in the prometheus text exposition format.
func (r *Registry) PrintAsText(w io.Writer) error {
	families, err := r.Gatherer().Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// A Counter holds a single monotonically increasing value.
type Counter struct {
	prometheus.Counter
}

// Inc increments the counter by the given amount.
func (c *Counter) Inc(v int64) {
	c.Add(float64(v))
}

// Count returns the current value of the counter.
func (c *Counter) Count() int64 {
	var m prometheusgo.Metric
	if err := c.Write(&m); err != nil {
		panic(err)
	}
	return int64(m.GetCounter().GetValue())
}

func (c *Counter) value() int64 { return c.Count() }

// A Gauge atomically stores a single integer value.
type Gauge struct {
	prometheus.Gauge
}

// Update sets the gauge's value.
func (g *Gauge) Update(v int64) {
	g.Set(float64(v))
}

// Value returns the gauge's current value.
func (g *Gauge) Value() int64 {
	var m prometheusgo.Metric
	if err := g.Write(&m); err != nil {
		panic(err)
	}
	return int64(m.GetGauge().GetValue())
}

func (g *Gauge) value() int64 { return g.Value() }
