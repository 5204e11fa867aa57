package edgesource

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"engine-position-go/pkg/camlog"
	"engine-position-go/pkg/crank"
	"engine-position-go/pkg/errors"
	"engine-position-go/pkg/fixed"
	"engine-position-go/pkg/timebase"
)

func replayFrom(doc string) *Replay {
	return NewReplay(io.NopCloser(strings.NewReader(doc)))
}

func TestReplayParsesRecords(t *testing.T) {
	doc := `
# bench session
1000 crank r
1500 cam f

2000 crank f
`
	r := replayFrom(doc)
	want := []Edge{
		{Time: 1000, Signal: SignalCrank, Rising: true},
		{Time: 1500, Signal: SignalCam, Rising: false},
		{Time: 2000, Signal: SignalCrank, Rising: false},
	}
	for i, w := range want {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("edge %d: %v", i, err)
		}
		if got != w {
			t.Errorf("edge %d = %+v, want %+v", i, got, w)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("after last record: err = %v, want EOF", err)
	}
}

func TestReplayRejectsMalformedRecords(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing field", "1000 crank\n"},
		{"bad timestamp", "soon crank r\n"},
		{"bad signal", "1000 knock r\n"},
		{"bad polarity", "1000 crank x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := replayFrom(tt.doc).Next()
			if err == nil {
				t.Fatal("malformed record accepted")
			}
			if !errors.Is(err, errors.ErrCaptureFormat) {
				t.Errorf("error = %v, want CAPTURE_FORMAT", err)
			}
		})
	}
}

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

func TestWriterRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(nopWriteCloser{buf})
	edges := []Edge{
		{Time: 10, Signal: SignalCrank, Rising: true},
		{Time: 20, Signal: SignalCam, Rising: false},
	}
	for _, e := range edges {
		if err := w.Write(e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := NewReplay(io.NopCloser(bytes.NewReader(buf.Bytes())))
	for i, want := range edges {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("edge %d: %v", i, err)
		}
		if got != want {
			t.Errorf("edge %d = %+v, want %+v", i, got, want)
		}
	}
}

func TestDrainStopsOnError(t *testing.T) {
	r := replayFrom("1000 crank r\nbroken line\n")
	var seen int
	err := Drain(r, func(Edge) { seen++ })
	if err == nil {
		t.Fatal("Drain swallowed the format error")
	}
	if seen != 1 {
		t.Errorf("edges before error = %d, want 1", seen)
	}
}

// syntheticCapture builds a capture of a 35-1 wheel at a constant
// 1000-tick period: seek, gap sync, a full logging window, then one
// complete cycle, with two cam transitions inside the logging window.
func syntheticCapture() string {
	var sb strings.Builder
	emit := func(t uint64) { fmt.Fprintf(&sb, "%d crank r\n", t) }

	t := uint64(0)
	step := func(dt uint64) uint64 { t += dt; return t }

	emit(step(1000)) // first timed edge
	emit(step(1000))
	emit(step(1000))
	emit(step(2000)) // the gap
	emit(step(1000)) // confirms it: half-cycle sync
	for i := 0; i < 33; i++ {
		emit(step(1000))
		if t == 20000 {
			sb.WriteString("20500 cam r\n")
		}
		if t == 30000 {
			sb.WriteString("30500 cam f\n")
		}
	}
	emit(step(2000)) // second gap closes the logging window
	for i := 0; i < 34; i++ {
		emit(step(1000))
	}
	emit(step(2000)) // third gap completes the cycle
	return sb.String()
}

func TestReplayDecodedTraceGolden(t *testing.T) {
	pattern := crank.ToothPatternConfig{
		TeethTillGap:  35,
		TeethInGap:    1,
		TeethPerCycle: 72,
		TicksPerTooth: 1000,
	}
	cfg := crank.RuntimeConfig{
		GapRatio:             fixed.FromFloat(0.6),
		WinRatioNormal:       fixed.FromFloat(0.2),
		WinRatioAcrossGap:    fixed.FromFloat(0.3),
		WinRatioAfterGap:     fixed.FromFloat(0.3),
		WinRatioAfterTimeout: fixed.FromFloat(0.5),
		FirstToothTimeout:    1000000,
		TeethPerSync:         36,
	}
	tb := timebase.NewSim(pattern.AngleSpan())
	refLog := camlog.New(0)
	dec, err := crank.New(pattern, cfg, tb, refLog)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var trace strings.Builder
	var edgeTime uint64
	dec.SetHalfCycleSyncCallback(func(crank.EnginePositionState) {
		fmt.Fprintf(&trace, "half_cycle_sync t=%d\n", edgeTime)
	})
	dec.SetLogWindowClosedCallback(func(crank.EnginePositionState) {
		fmt.Fprintf(&trace, "log_window_closed t=%d cam_entries=%d\n", edgeTime, refLog.Len())
		fmt.Fprintf(&trace, "commit adjust=0\n")
		if err := dec.CommitSync(0); err != nil {
			t.Errorf("CommitSync: %v", err)
		}
	})
	dec.SetFullSyncCallback(func(crank.EnginePositionState) {
		trace.WriteString("full_sync\n")
	})
	dec.SetOnceEveryCycleCallback(func(crank.EnginePositionState) {
		fmt.Fprintf(&trace, "once_every_cycle t=%d\n", edgeTime)
	})

	dec.Start(0)
	src := replayFrom(syntheticCapture())
	err = Drain(src, func(e Edge) {
		tb.AdvanceTo(e.Time)
		switch e.Signal {
		case SignalCrank:
			edgeTime = e.Time
			dec.OnTransition(e.Time)
		case SignalCam:
			refLog.Record(e.Time, e.Rising)
		}
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}

	st := dec.Status()
	stats := dec.Stats()
	fmt.Fprintf(&trace, "final state=%s engine=%s teeth=%d gaps=%d cycles=%d\n",
		st.State, st.EngineState, stats.TeethAccepted, stats.GapsVerified, stats.Cycles)

	g := goldie.New(t)
	g.Assert(t, "replay_trace", []byte(trace.String()))
}
