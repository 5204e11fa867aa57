package camlog

import "testing"

func TestRecordAndSnapshot(t *testing.T) {
	l := New(8)
	l.Reset(100)
	l.Record(150, true)
	l.Record(200, false)

	entries, from := l.Snapshot()
	if from != 100 {
		t.Errorf("window start = %d, want 100", from)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0] != (Entry{Time: 150, Rising: true}) {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1] != (Entry{Time: 200, Rising: false}) {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}

func TestResetDiscardsWindow(t *testing.T) {
	l := New(8)
	l.Reset(0)
	l.Record(10, true)
	l.Reset(50)

	if l.Len() != 0 {
		t.Errorf("len after reset = %d, want 0", l.Len())
	}
	if l.Resets() != 2 {
		t.Errorf("resets = %d, want 2", l.Resets())
	}
}

func TestStaleTransitionsDiscarded(t *testing.T) {
	l := New(8)
	l.Reset(100)
	l.Record(50, true) // predates the window
	if l.Len() != 0 {
		t.Errorf("len = %d, want 0", l.Len())
	}
}

func TestOverflow(t *testing.T) {
	l := New(2)
	l.Reset(0)
	l.Record(1, true)
	l.Record(2, false)
	l.Record(3, true) // dropped

	if l.Len() != 2 {
		t.Errorf("len = %d, want 2", l.Len())
	}
	if !l.Overflowed() {
		t.Error("overflow not flagged")
	}
	l.Reset(10)
	if l.Overflowed() {
		t.Error("overflow flag survived reset")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New(8)
	l.Reset(0)
	l.Record(1, true)
	entries, _ := l.Snapshot()
	entries[0].Time = 999
	fresh, _ := l.Snapshot()
	if fresh[0].Time != 1 {
		t.Error("snapshot aliases internal storage")
	}
}
