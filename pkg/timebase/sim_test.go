package timebase

import "testing"

func TestSimAdvance(t *testing.T) {
	s := NewSim(72000)

	if s.Now() != 0 {
		t.Errorf("initial Now = %d, want 0", s.Now())
	}

	s.Advance(500)
	s.Advance(250)
	if s.Now() != 750 {
		t.Errorf("Now = %d, want 750", s.Now())
	}

	// No rate set: angle must not move.
	if s.ReadAngle() != 0 {
		t.Errorf("angle moved without a rate: %d", s.ReadAngle())
	}
}

func TestSimRateExact(t *testing.T) {
	// 1000 angle ticks per 8000 time ticks: advancing exactly one
	// period must add exactly 1000, regardless of step granularity.
	s := NewSim(72000)
	s.SetRate(1000, 8000)

	for i := 0; i < 8000; i++ {
		s.Advance(1)
	}
	if s.ReadAngle() != 1000 {
		t.Errorf("angle after one period = %d, want 1000", s.ReadAngle())
	}

	s.Advance(8000)
	if s.ReadAngle() != 2000 {
		t.Errorf("angle after two periods = %d, want 2000", s.ReadAngle())
	}
}

func TestSimAngleWrap(t *testing.T) {
	s := NewSim(1000)
	s.SetRate(100, 1)
	s.Advance(15) // 1500 angle ticks
	if s.ReadAngle() != 500 {
		t.Errorf("angle = %d, want 500 after wrap", s.ReadAngle())
	}
}

func TestSimAdjustAngle(t *testing.T) {
	s := NewSim(1000)

	s.AdjustAngle(300)
	if s.ReadAngle() != 300 {
		t.Errorf("angle = %d, want 300", s.ReadAngle())
	}

	s.AdjustAngle(-500)
	if s.ReadAngle() != 800 {
		t.Errorf("angle = %d, want 800 after negative wrap", s.ReadAngle())
	}
}

func TestSimDeadline(t *testing.T) {
	s := NewSim(0)
	if s.Deadline() != 0 {
		t.Errorf("initial deadline = %d, want 0", s.Deadline())
	}
	s.SetDeadline(12345)
	if s.Deadline() != 12345 {
		t.Errorf("deadline = %d, want 12345", s.Deadline())
	}
	s.SetDeadline(0)
	if s.Deadline() != 0 {
		t.Errorf("deadline = %d, want disarmed", s.Deadline())
	}
}

func TestSimAdvanceTo(t *testing.T) {
	s := NewSim(0)
	s.AdvanceTo(100)
	if s.Now() != 100 {
		t.Errorf("Now = %d, want 100", s.Now())
	}
	s.AdvanceTo(50) // backwards is ignored
	if s.Now() != 100 {
		t.Errorf("Now = %d, want 100 after backwards AdvanceTo", s.Now())
	}
}
