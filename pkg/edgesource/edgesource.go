// Package edgesource feeds timestamped signal transitions to the
// decoder. Three sources are provided: Replay (capture files), Serial
// (a hardware capture logger on a serial port) and GPIO (direct-wired
// bench rigs). All sources emit the same Edge records; the decoder
// never knows where an edge came from.
package edgesource

import "io"

// Signal identifies which wheel produced an edge.
type Signal int

const (
	// SignalCrank is the primary tooth signal.
	SignalCrank Signal = iota
	// SignalCam is the secondary reference signal.
	SignalCam
)

func (s Signal) String() string {
	switch s {
	case SignalCrank:
		return "crank"
	case SignalCam:
		return "cam"
	default:
		return "unknown"
	}
}

// Edge is one timestamped signal transition in the time-counter
// domain.
type Edge struct {
	Time   uint64
	Signal Signal
	Rising bool
}

// Source yields edges in time order. Next returns io.EOF when the
// source is exhausted.
type Source interface {
	Next() (Edge, error)
	Close() error
}

// Drain reads a source to exhaustion, handing each edge to fn. It
// stops on the first error other than io.EOF.
func Drain(src Source, fn func(Edge)) error {
	for {
		edge, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fn(edge)
	}
}
