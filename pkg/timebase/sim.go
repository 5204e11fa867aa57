package timebase

import "sync"

// Sim is a deterministic in-memory Timebase for tests and the
// simulator command. Time advances only when the caller advances it;
// the angle counter accumulates at the configured rational rate with
// an explicit remainder so no rounding error builds up across teeth.
type Sim struct {
	mu sync.Mutex

	now      uint64
	deadline uint64

	angle     uint32
	angleSpan uint32

	// rate: advance rateAngle angle ticks per rateTime time ticks
	rateAngle uint32
	rateTime  uint32
	remainder uint64 // accumulated (dt * rateAngle) % rateTime
}

// NewSim creates a simulated timebase whose angle counter wraps at
// angleSpan ticks. A span of zero leaves the counter free running
// over the full 32-bit range.
func NewSim(angleSpan uint32) *Sim {
	return &Sim{angleSpan: angleSpan}
}

// Now returns the simulated time counter.
func (s *Sim) Now() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves simulated time forward by dt ticks, advancing the
// angle counter at the current rate.
func (s *Sim) Advance(dt uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now += dt
	if s.rateTime == 0 || s.rateAngle == 0 {
		return
	}

	acc := s.remainder + dt*uint64(s.rateAngle)
	steps := acc / uint64(s.rateTime)
	s.remainder = acc % uint64(s.rateTime)
	s.addAngle(uint32(steps))
}

// AdvanceTo moves simulated time forward to the absolute tick t.
// Moving backwards is ignored.
func (s *Sim) AdvanceTo(t uint64) {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()
	if t > now {
		s.Advance(t - now)
	}
}

// SetRate sets the angle advance rate and clears the rate remainder.
func (s *Sim) SetRate(angleTicks uint32, timeTicks uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateAngle = angleTicks
	s.rateTime = timeTicks
	s.remainder = 0
}

// SetDeadline arms the expected-edge deadline.
func (s *Sim) SetDeadline(t uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = t
}

// Deadline returns the armed deadline.
func (s *Sim) Deadline() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// ReadAngle returns the angle counter.
func (s *Sim) ReadAngle() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}

// AdjustAngle adds delta to the angle counter, wrapping in the span.
func (s *Sim) AdjustAngle(delta int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if delta >= 0 {
		s.addAngle(uint32(delta))
		return
	}
	d := uint32(-delta)
	if s.angleSpan != 0 {
		d %= s.angleSpan
		s.angle = (s.angle + s.angleSpan - d) % s.angleSpan
	} else {
		s.angle -= d
	}
}

// addAngle advances the angle counter by n, wrapping. Callers hold mu.
func (s *Sim) addAngle(n uint32) {
	if s.angleSpan == 0 {
		s.angle += n
		return
	}
	s.angle = uint32((uint64(s.angle) + uint64(n)) % uint64(s.angleSpan))
}
