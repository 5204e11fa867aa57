package sched

import (
	"testing"
	"time"

	"engine-position-go/pkg/timebase"
)

type countingPoller struct {
	polls []uint64
}

func (c *countingPoller) Poll(now uint64) {
	c.polls = append(c.polls, now)
}

func TestTimerFiresAndReschedules(t *testing.T) {
	tb := timebase.NewSim(0)
	m := New(tb, time.Millisecond)

	var fired []uint64
	m.RegisterTimer(100, func(now uint64) uint64 {
		fired = append(fired, now)
		return now + 100
	})

	m.Step(50) // not due yet
	if len(fired) != 0 {
		t.Fatalf("timer fired early at %v", fired)
	}
	m.Step(100) // due exactly at waketime
	m.Step(150) // rescheduled to 200, not due
	m.Step(250)
	if len(fired) != 2 {
		t.Fatalf("timer fired %d times, want 2", len(fired))
	}
	if fired[0] != 100 || fired[1] != 250 {
		t.Errorf("fire times = %v, want [100 250]", fired)
	}
}

func TestTimerUnregistersOnNever(t *testing.T) {
	tb := timebase.NewSim(0)
	m := New(tb, time.Millisecond)

	var count int
	m.RegisterTimer(10, func(now uint64) uint64 {
		count++
		return Never
	})
	m.Step(10)
	m.Step(20)
	if count != 1 {
		t.Errorf("timer fired %d times after Never, want 1", count)
	}
}

func TestUnregisterTimer(t *testing.T) {
	tb := timebase.NewSim(0)
	m := New(tb, time.Millisecond)

	var count int
	timer := m.RegisterTimer(10, func(now uint64) uint64 {
		count++
		return now + 10
	})
	m.Step(10)
	m.UnregisterTimer(timer)
	m.Step(20)
	if count != 1 {
		t.Errorf("timer fired %d times after unregister, want 1", count)
	}
}

func TestWatchDeadlinesPollsAtInterval(t *testing.T) {
	tb := timebase.NewSim(0)
	m := New(tb, time.Millisecond)

	p := &countingPoller{}
	m.WatchDeadlines(p, 500)

	tb.Advance(500)
	m.Step(tb.Now())
	tb.Advance(500)
	m.Step(tb.Now())
	tb.Advance(200) // between intervals
	m.Step(tb.Now())

	if len(p.polls) != 2 {
		t.Fatalf("polls = %v, want 2 entries", p.polls)
	}
	if p.polls[0] != 500 || p.polls[1] != 1000 {
		t.Errorf("poll times = %v, want [500 1000]", p.polls)
	}
}
