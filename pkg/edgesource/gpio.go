package edgesource

import (
	"io"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"

	"engine-position-go/pkg/errors"
)

// GPIO reads edges from a direct-wired pin on a bench rig. One source
// watches one pin; a rig wires the crank and cam signals to two pins
// and runs two sources.
type GPIO struct {
	pin    gpio.PinIn
	signal Signal
	now    func() uint64
	closed atomic.Bool
}

// NewGPIO arms edge detection on pin. now maps the host clock into
// the time-counter domain; it is sampled when the edge wait returns,
// which bounds timestamp skew to the scheduling latency of the wait.
func NewGPIO(pin gpio.PinIn, signal Signal, now func() uint64) (*GPIO, error) {
	if err := pin.In(gpio.PullNoChange, gpio.BothEdges); err != nil {
		return nil, errors.CaptureSourceError(pin.Name(), err)
	}
	return &GPIO{pin: pin, signal: signal, now: now}, nil
}

// Next blocks until the pin sees an edge. The polarity is read back
// from the pin level after the edge fires.
func (g *GPIO) Next() (Edge, error) {
	for {
		if g.closed.Load() {
			return Edge{}, io.EOF
		}
		if !g.pin.WaitForEdge(time.Second) {
			// Periodic wakeup so Close can take effect.
			continue
		}
		return Edge{
			Time:   g.now(),
			Signal: g.signal,
			Rising: g.pin.Read() == gpio.High,
		}, nil
	}
}

// Close stops the source; a blocked Next returns io.EOF within one
// wait period.
func (g *GPIO) Close() error {
	g.closed.Store(true)
	return g.pin.Halt()
}
