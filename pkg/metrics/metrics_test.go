package metrics

import (
	"strings"
	"testing"

	"engine-position-go/pkg/crank"
)

func TestCounterAddAndGet(t *testing.T) {
	c := NewCounter("teeth_total", "teeth")
	l := Labels{"channel": "crank0"}
	c.Inc(l)
	c.Add(l, 4)
	if got := c.Get(l); got != 5 {
		t.Errorf("counter = %d, want 5", got)
	}
	if got := c.Get(Labels{"channel": "crank1"}); got != 0 {
		t.Errorf("unseen labels = %d, want 0", got)
	}
}

func TestCounterSetIsMonotonic(t *testing.T) {
	c := NewCounter("x_total", "x")
	l := Labels{}
	c.Set(l, 10)
	c.Set(l, 7) // moving backwards is ignored
	if got := c.Get(l); got != 10 {
		t.Errorf("counter = %d, want 10", got)
	}
	c.Set(l, 12)
	if got := c.Get(l); got != 12 {
		t.Errorf("counter = %d, want 12", got)
	}
}

func TestGaugeSetAndGet(t *testing.T) {
	g := NewGauge("rpm", "speed")
	l := Labels{"channel": "crank0"}
	g.Set(l, 3000)
	g.Set(l, 2500)
	if got := g.Get(l); got != 2500 {
		t.Errorf("gauge = %v, want 2500", got)
	}
}

func TestRegistryGatherFormat(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("enginepos_teeth_total", "Teeth decoded")
	c.Add(Labels{"channel": "crank0"}, 72)
	g := NewGauge("enginepos_rpm", "Speed")
	g.Set(Labels{"channel": "crank0"}, 1500)
	r.Register(g)
	r.Register(c)

	out := r.Gather()
	for _, want := range []string{
		"# TYPE enginepos_teeth_total counter",
		`enginepos_teeth_total{channel="crank0"} 72`,
		"# TYPE enginepos_rpm gauge",
		`enginepos_rpm{channel="crank0"} 1500`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("gather output missing %q:\n%s", want, out)
		}
	}
	// Families come out in name order.
	if strings.Index(out, "enginepos_rpm") > strings.Index(out, "enginepos_teeth_total") {
		t.Error("families not sorted by name")
	}
}

func TestHostMetricsObserveDecoder(t *testing.T) {
	h := NewHostMetrics()
	h.ObserveDecoder("crank0",
		crank.Status{State: crank.StateCounting, EngineState: crank.EngineFullSync},
		crank.Stats{TeethAccepted: 100, Stalls: 1})

	l := Labels{"channel": "crank0"}
	if got := h.TeethAccepted.Get(l); got != 100 {
		t.Errorf("teeth accepted = %d, want 100", got)
	}
	if got := h.Stalls.Get(l); got != 1 {
		t.Errorf("stalls = %d, want 1", got)
	}
	if got := h.EngineState.Get(l); got != float64(crank.EngineFullSync) {
		t.Errorf("engine state gauge = %v", got)
	}

	out := h.Registry().Gather()
	if !strings.Contains(out, "enginepos_teeth_accepted_total") {
		t.Errorf("registry missing tooth counter:\n%s", out)
	}
}
