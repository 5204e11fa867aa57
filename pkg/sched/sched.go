// Package sched runs the host's housekeeping timers in the
// tick-domain of the Timebase. Its main job is the deadline monitor:
// it watches the decoder's armed expected-edge deadline and
// synthesizes Timeout events when the deadline passes with no edge.
// It never decides tooth validity; it only reports the time.
package sched

import (
	"context"
	"math"
	"sync"
	"time"

	"engine-position-go/pkg/log"
)

// Never is the waketime that unregisters a timer.
const Never = math.MaxUint64

// Clock exposes the time counter the timers are scheduled against.
type Clock interface {
	Now() uint64
}

// Poller is the deadline-check entry point of a decoder channel.
type Poller interface {
	Poll(now uint64)
}

// TimerCallback runs when a timer's waketime is reached. It receives
// the event time and returns the next waketime, or Never to stop.
type TimerCallback func(now uint64) uint64

// Timer is a registered housekeeping timer.
type Timer struct {
	callback TimerCallback
	waketime uint64
}

// Monitor owns the timers and steps them against a Clock.
type Monitor struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	timers   map[*Timer]struct{}
	logger   *log.Logger
}

// New creates a monitor that, when Run, steps every interval of host
// wall time. Tests drive Step directly and never call Run.
func New(clock Clock, interval time.Duration) *Monitor {
	return &Monitor{
		clock:    clock,
		interval: interval,
		timers:   make(map[*Timer]struct{}),
		logger:   log.GetLogger("sched"),
	}
}

// RegisterTimer adds a timer that first fires at waketime.
func (m *Monitor) RegisterTimer(waketime uint64, cb TimerCallback) *Timer {
	t := &Timer{callback: cb, waketime: waketime}
	m.mu.Lock()
	m.timers[t] = struct{}{}
	m.mu.Unlock()
	return t
}

// UnregisterTimer removes a timer.
func (m *Monitor) UnregisterTimer(t *Timer) {
	m.mu.Lock()
	delete(m.timers, t)
	m.mu.Unlock()
}

// Step fires every timer whose waketime has been reached and
// reschedules it at the waketime its callback returns. Callbacks run
// outside the monitor lock.
func (m *Monitor) Step(now uint64) {
	m.mu.Lock()
	due := make([]*Timer, 0, len(m.timers))
	for t := range m.timers {
		if t.waketime != Never && t.waketime <= now {
			due = append(due, t)
		}
	}
	m.mu.Unlock()

	for _, t := range due {
		next := t.callback(now)
		m.mu.Lock()
		if next == Never {
			delete(m.timers, t)
		} else {
			t.waketime = next
		}
		m.mu.Unlock()
	}
}

// Run steps the monitor on a wall-time ticker until the context is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.WithField("interval", m.interval.String()).Debug("housekeeping started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("housekeeping stopped")
			return
		case <-ticker.C:
			m.Step(m.clock.Now())
		}
	}
}

// WatchDeadlines registers the decoder deadline poller: every
// interval ticks of the time counter it hands the current time to the
// decoder, which synthesizes its own Timeout if the armed deadline
// has passed.
func (m *Monitor) WatchDeadlines(p Poller, interval uint64) *Timer {
	start := m.clock.Now() + interval
	return m.RegisterTimer(start, func(now uint64) uint64 {
		p.Poll(now)
		return now + interval
	})
}
