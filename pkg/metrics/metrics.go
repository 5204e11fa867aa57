// Package metrics is a small Prometheus-text metrics registry for the
// engine-position host: counters and gauges with label sets, gathered
// into the text exposition format by the status server.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Labels is a metric label set.
type Labels map[string]string

func labelKey(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	return sb.String()
}

func formatLabels(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		v := strings.ReplaceAll(labels[k], "\\", "\\\\")
		v = strings.ReplaceAll(v, "\"", "\\\"")
		fmt.Fprintf(&sb, "%s=%q", k, v)
	}
	sb.WriteByte('}')
	return sb.String()
}

// Metric is one named metric family.
type Metric interface {
	Name() string
	Write(sb *strings.Builder)
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	help   string
	values sync.Map // labelKey -> *counterValue
}

type counterValue struct {
	labels Labels
	value  uint64
}

// NewCounter creates a counter family.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Name() string { return c.name }

// Inc adds one to the counter.
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

// Add adds delta to the counter.
func (c *Counter) Add(labels Labels, delta uint64) {
	val, _ := c.values.LoadOrStore(labelKey(labels), &counterValue{labels: labels})
	atomic.AddUint64(&val.(*counterValue).value, delta)
}

// Set moves the counter to value if it is ahead of the stored one.
// Used when mirroring an externally maintained monotonic count.
func (c *Counter) Set(labels Labels, value uint64) {
	val, _ := c.values.LoadOrStore(labelKey(labels), &counterValue{labels: labels})
	cv := val.(*counterValue)
	for {
		cur := atomic.LoadUint64(&cv.value)
		if value <= cur || atomic.CompareAndSwapUint64(&cv.value, cur, value) {
			return
		}
	}
}

// Get returns the counter value for the label set.
func (c *Counter) Get(labels Labels) uint64 {
	val, ok := c.values.Load(labelKey(labels))
	if !ok {
		return 0
	}
	return atomic.LoadUint64(&val.(*counterValue).value)
}

func (c *Counter) Write(sb *strings.Builder) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name)
	c.values.Range(func(_, value interface{}) bool {
		cv := value.(*counterValue)
		fmt.Fprintf(sb, "%s%s %d\n", c.name, formatLabels(cv.labels), atomic.LoadUint64(&cv.value))
		return true
	})
}

// Gauge is a metric that can move in both directions.
type Gauge struct {
	name   string
	help   string
	values sync.Map // labelKey -> *gaugeValue
}

type gaugeValue struct {
	mu     sync.Mutex
	labels Labels
	value  float64
}

// NewGauge creates a gauge family.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Name() string { return g.name }

// Set stores value for the label set.
func (g *Gauge) Set(labels Labels, value float64) {
	val, _ := g.values.LoadOrStore(labelKey(labels), &gaugeValue{labels: labels})
	gv := val.(*gaugeValue)
	gv.mu.Lock()
	gv.value = value
	gv.mu.Unlock()
}

// Get returns the gauge value for the label set.
func (g *Gauge) Get(labels Labels) float64 {
	val, ok := g.values.Load(labelKey(labels))
	if !ok {
		return 0
	}
	gv := val.(*gaugeValue)
	gv.mu.Lock()
	defer gv.mu.Unlock()
	return gv.value
}

func (g *Gauge) Write(sb *strings.Builder) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s gauge\n", g.name, g.help, g.name)
	g.values.Range(func(_, value interface{}) bool {
		gv := value.(*gaugeValue)
		gv.mu.Lock()
		v := gv.value
		gv.mu.Unlock()
		fmt.Fprintf(sb, "%s%s %g\n", g.name, formatLabels(gv.labels), v)
		return true
	})
}

// Registry holds metric families and gathers them in name order.
type Registry struct {
	mu      sync.Mutex
	metrics []Metric
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a metric family.
func (r *Registry) Register(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
	sort.Slice(r.metrics, func(i, j int) bool {
		return r.metrics[i].Name() < r.metrics[j].Name()
	})
}

// Gather renders all families in Prometheus text format.
func (r *Registry) Gather() string {
	r.mu.Lock()
	families := make([]Metric, len(r.metrics))
	copy(families, r.metrics)
	r.mu.Unlock()

	var sb strings.Builder
	for _, m := range families {
		m.Write(&sb)
	}
	return sb.String()
}
