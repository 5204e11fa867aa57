package metrics

import (
	"sync"

	"engine-position-go/pkg/crank"
)

// HostMetrics is the engine-position host metric set: decoder
// counters mirrored as Prometheus counters plus state and speed
// gauges, labeled per channel.
type HostMetrics struct {
	registry *Registry

	Transitions      *Counter
	TeethAccepted    *Counter
	GapsVerified     *Counter
	Timeouts         *Counter
	Stalls           *Counter
	HandshakeRetries *Counter
	Cycles           *Counter

	CrankState  *Gauge
	EngineState *Gauge
	RPM         *Gauge
}

// NewHostMetrics creates the metric set on a fresh registry.
func NewHostMetrics() *HostMetrics {
	h := &HostMetrics{
		registry:         NewRegistry(),
		Transitions:      NewCounter("enginepos_transitions_total", "Tooth transitions delivered to the decoder"),
		TeethAccepted:    NewCounter("enginepos_teeth_accepted_total", "Transitions accepted as teeth"),
		GapsVerified:     NewCounter("enginepos_gaps_verified_total", "Rotational landmarks verified"),
		Timeouts:         NewCounter("enginepos_timeouts_total", "Expected-edge deadline misses"),
		Stalls:           NewCounter("enginepos_stalls_total", "Stalls forcing a full reseek"),
		HandshakeRetries: NewCounter("enginepos_handshake_retries_total", "Sync handshake windows restarted without a commit"),
		Cycles:           NewCounter("enginepos_cycles_total", "Completed engine cycles"),
		CrankState:       NewGauge("enginepos_crank_state", "Tooth state machine state (enum ordinal)"),
		EngineState:      NewGauge("enginepos_engine_state", "Engine position confidence (0 seek, 3 full sync)"),
		RPM:              NewGauge("enginepos_rpm", "Estimated engine speed"),
	}
	for _, m := range []Metric{
		h.Transitions, h.TeethAccepted, h.GapsVerified, h.Timeouts,
		h.Stalls, h.HandshakeRetries, h.Cycles,
		h.CrankState, h.EngineState, h.RPM,
	} {
		h.registry.Register(m)
	}
	return h
}

// Registry returns the backing registry for the status server.
func (h *HostMetrics) Registry() *Registry {
	return h.registry
}

// ObserveDecoder mirrors a decoder snapshot into the metric set.
func (h *HostMetrics) ObserveDecoder(channel string, st crank.Status, stats crank.Stats) {
	l := Labels{"channel": channel}
	h.Transitions.Set(l, stats.Transitions)
	h.TeethAccepted.Set(l, stats.TeethAccepted)
	h.GapsVerified.Set(l, stats.GapsVerified)
	h.Timeouts.Set(l, stats.Timeouts)
	h.Stalls.Set(l, stats.Stalls)
	h.HandshakeRetries.Set(l, stats.HandshakeRetries)
	h.Cycles.Set(l, stats.Cycles)
	h.CrankState.Set(l, float64(st.State))
	h.EngineState.Set(l, float64(st.EngineState))
}

// SetRPM publishes a speed estimate computed by the caller from the
// normalized tooth period and the time-counter frequency.
func (h *HostMetrics) SetRPM(channel string, rpm float64) {
	h.RPM.Set(Labels{"channel": channel}, rpm)
}

var (
	globalOnce sync.Once
	global     *HostMetrics
)

// Global returns the process-wide metric set.
func Global() *HostMetrics {
	globalOnce.Do(func() {
		global = NewHostMetrics()
	})
	return global
}
