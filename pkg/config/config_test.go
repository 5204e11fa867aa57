package config

import (
	"os"
	"path/filepath"
	"testing"

	"engine-position-go/pkg/errors"
	"engine-position-go/pkg/fixed"
)

func TestParseOverlaysDefaults(t *testing.T) {
	doc := `
wheel:
  teeth_till_gap: 58
  teeth_in_gap: 2
  teeth_per_cycle: 120
  ticks_per_tooth: 500
runtime:
  gap_ratio: 0.55
  teeth_per_sync: 60
source:
  type: replay
  path: bench.capture
`
	f, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Wheel.TeethTillGap != 58 || f.Wheel.TeethInGap != 2 {
		t.Errorf("wheel = %+v", f.Wheel)
	}
	if f.Runtime.GapRatio != 0.55 {
		t.Errorf("gap ratio = %v, want 0.55", f.Runtime.GapRatio)
	}
	// Options absent from the document keep their defaults.
	if f.Runtime.WinRatioNormal != 0.2 {
		t.Errorf("win_ratio_normal = %v, want default 0.2", f.Runtime.WinRatioNormal)
	}
	if f.Status.Addr != "127.0.0.1:7225" {
		t.Errorf("status addr = %q, want default", f.Status.Addr)
	}

	rt := f.Runtime.Runtime()
	if rt.GapRatio != fixed.FromFloat(0.55) {
		t.Errorf("converted gap ratio = %v", rt.GapRatio)
	}
	if rt.TeethPerSync != 60 {
		t.Errorf("teeth_per_sync = %d, want 60", rt.TeethPerSync)
	}
}

func TestParseRejectsInvalidWheel(t *testing.T) {
	doc := `
wheel:
  teeth_till_gap: 35
  teeth_in_gap: 1
  teeth_per_cycle: 70
  ticks_per_tooth: 1000
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("cycle count that is not a segment multiple was accepted")
	}
	if !errors.IsConfig(err) {
		t.Errorf("error = %v, want config error", err)
	}
}

func TestParseRejectsUnknownSource(t *testing.T) {
	_, err := Parse([]byte("source:\n  type: carrier-pigeon\n"))
	if err == nil {
		t.Fatal("unknown source type accepted")
	}
}

func TestParseRejectsIncompleteSource(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"replay without path", "source:\n  type: replay\n"},
		{"serial without device", "source:\n  type: serial\n"},
		{"gpio without pin", "source:\n  type: gpio\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("incomplete source stanza accepted")
			}
		})
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("wheel: [not a mapping"))
	if err == nil {
		t.Fatal("malformed yaml accepted")
	}
	if !errors.Is(err, errors.ErrConfigParse) {
		t.Errorf("error = %v, want CONFIG_PARSE", err)
	}
}

func TestLoadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	doc := "runtime:\n  gap_ratio: 0.7\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Runtime.GapRatio != 0.7 {
		t.Errorf("gap ratio = %v, want 0.7", f.Runtime.GapRatio)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file did not error")
	}
}

func TestDefaultValidates(t *testing.T) {
	f := Default()
	if err := f.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
