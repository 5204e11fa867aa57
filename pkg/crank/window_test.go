package crank

import (
	"testing"

	"engine-position-go/pkg/fixed"
)

func TestAcceptanceWindow(t *testing.T) {
	tests := []struct {
		ratio  float64
		period uint32
		want   uint32
	}{
		{0.5, 1000, 500},
		{0.2, 1000, 199},
		{0.25, 4000, 1000},
		{0.5, 0, 0},
	}
	for _, tt := range tests {
		got := acceptanceWindow(fixed.FromFloat(tt.ratio), tt.period)
		if got != tt.want {
			t.Errorf("acceptanceWindow(%v, %d) = %d, want %d", tt.ratio, tt.period, got, tt.want)
		}
	}
}

func TestGapTestMissingTooth(t *testing.T) {
	ratio := fixed.FromFloat(0.6)
	tests := []struct {
		name      string
		candidate uint32
		prior     uint32
		want      bool
	}{
		{"genuine gap doubles the period", 2000, 1000, true},
		{"triple period for two missing teeth", 3000, 1000, true},
		{"ten percent jitter is not a gap", 1100, 1000, false},
		{"equal periods are not a gap", 1000, 1000, false},
		{"short period is not a gap", 800, 1000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gapTest(tt.candidate, tt.prior, ratio, false)
			if got != tt.want {
				t.Errorf("gapTest(%d, %d) = %v, want %v", tt.candidate, tt.prior, got, tt.want)
			}
		})
	}
}

func TestGapTestAdditionalTooth(t *testing.T) {
	ratio := fixed.FromFloat(0.6)
	tests := []struct {
		name      string
		candidate uint32
		prior     uint32
		want      bool
	}{
		{"short extra-tooth period", 250, 1000, true},
		{"normal period is not the landmark", 1000, 1000, false},
		{"slightly short is not the landmark", 700, 1000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gapTest(tt.candidate, tt.prior, ratio, true)
			if got != tt.want {
				t.Errorf("gapTest(%d, %d, additional) = %v, want %v", tt.candidate, tt.prior, got, tt.want)
			}
		})
	}
}

func TestGapTestScalesWithSpeed(t *testing.T) {
	// The ratio test uses no absolute threshold, so the same wheel
	// decodes at any speed.
	ratio := fixed.FromFloat(0.6)
	for _, p := range []uint32{100, 1000, 50000, 2000000} {
		if !gapTest(2*p, p, ratio, false) {
			t.Errorf("gap at period %d not detected", p)
		}
		if gapTest(p+p/10, p, ratio, false) {
			t.Errorf("jitter at period %d misread as gap", p)
		}
	}
}

func TestNormalizeGapPeriod(t *testing.T) {
	tests := []struct {
		period uint32
		inGap  int
		want   uint32
	}{
		{2000, 1, 1000},
		{3000, 2, 1000},
		{2100, 1, 1050},
		{1000, 0, 1000},
	}
	for _, tt := range tests {
		got := normalizeGapPeriod(tt.period, tt.inGap)
		if got != tt.want {
			t.Errorf("normalizeGapPeriod(%d, %d) = %d, want %d", tt.period, tt.inGap, got, tt.want)
		}
	}
}
