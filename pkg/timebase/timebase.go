// Package timebase abstracts the free-running time counter and the
// rate-controlled angle counter that the crank decoder drives. The
// decoder holds no hardware handles; a Timebase implementation wraps
// whatever counter hardware (or simulation) is present.
package timebase

// Timebase is the counter capability consumed by the decoder.
//
// The time counter is free running and is the clock against which
// transition events are timestamped. The angle counter is advanced by
// the implementation at the rate set through SetRate and wraps modulo
// the span passed to the constructor of the implementation.
//
// Writers must apply each update atomically: external consumers read
// the angle counter concurrently and must never observe a torn value.
type Timebase interface {
	// Now returns the current time counter value in ticks.
	Now() uint64

	// SetRate requests that the angle counter advance by angleTicks
	// for every timeTicks of the time counter. timeTicks of zero
	// stops the angle counter.
	SetRate(angleTicks uint32, timeTicks uint32)

	// SetDeadline arms the expected-edge deadline. A deadline of zero
	// disarms it. The timebase itself takes no action at the
	// deadline; the scheduler compares against it and synthesizes
	// timeout events.
	SetDeadline(t uint64)

	// Deadline returns the currently armed deadline (zero if none).
	Deadline() uint64

	// ReadAngle returns the current angle counter value.
	ReadAngle() uint32

	// AdjustAngle adds delta to the angle counter, wrapping within
	// the angle span. Used by the synchronization handshake commit.
	AdjustAngle(delta int32)
}
