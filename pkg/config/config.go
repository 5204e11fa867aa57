// Package config loads the host configuration: the tooth wheel
// geometry, the decoder runtime parameters and the host plumbing
// (edge source, status server, capture store). The file format is
// YAML with one stanza per concern; every load is validated before
// any value reaches the decoder.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"engine-position-go/pkg/crank"
	"engine-position-go/pkg/errors"
	"engine-position-go/pkg/fixed"
)

// File is the top-level configuration document.
type File struct {
	Wheel   WheelSection   `yaml:"wheel"`
	Runtime RuntimeSection `yaml:"runtime"`
	Source  SourceSection  `yaml:"source"`
	Status  StatusSection  `yaml:"status"`
	Capture CaptureSection `yaml:"capture"`
}

// WheelSection mirrors crank.ToothPatternConfig in YAML form.
type WheelSection struct {
	TeethTillGap            int    `yaml:"teeth_till_gap"`
	TeethInGap              int    `yaml:"teeth_in_gap"`
	TeethPerCycle           int    `yaml:"teeth_per_cycle"`
	TicksPerTooth           uint32 `yaml:"ticks_per_tooth"`
	TicksPerAdditionalTooth uint32 `yaml:"ticks_per_additional_tooth"`
}

// Pattern converts the stanza to the decoder's pattern config.
func (w WheelSection) Pattern() crank.ToothPatternConfig {
	return crank.ToothPatternConfig{
		TeethTillGap:            w.TeethTillGap,
		TeethInGap:              w.TeethInGap,
		TeethPerCycle:           w.TeethPerCycle,
		TicksPerTooth:           w.TicksPerTooth,
		TicksPerAdditionalTooth: w.TicksPerAdditionalTooth,
	}
}

// RuntimeSection mirrors crank.RuntimeConfig. Ratios are plain
// decimals in the file and converted to the fixed-point fraction type
// on load.
type RuntimeSection struct {
	BlankTime            uint64  `yaml:"blank_time"`
	BlankTeeth           int     `yaml:"blank_teeth"`
	GapRatio             float64 `yaml:"gap_ratio"`
	WinRatioNormal       float64 `yaml:"win_ratio_normal"`
	WinRatioAcrossGap    float64 `yaml:"win_ratio_across_gap"`
	WinRatioAfterGap     float64 `yaml:"win_ratio_after_gap"`
	WinRatioAfterTimeout float64 `yaml:"win_ratio_after_timeout"`
	FirstToothTimeout    uint64  `yaml:"first_tooth_timeout"`
	TeethPerSync         int     `yaml:"teeth_per_sync"`
}

// Runtime converts the stanza to the decoder's runtime config.
func (r RuntimeSection) Runtime() crank.RuntimeConfig {
	return crank.RuntimeConfig{
		BlankTime:            r.BlankTime,
		BlankTeeth:           r.BlankTeeth,
		GapRatio:             fixed.FromFloat(r.GapRatio),
		WinRatioNormal:       fixed.FromFloat(r.WinRatioNormal),
		WinRatioAcrossGap:    fixed.FromFloat(r.WinRatioAcrossGap),
		WinRatioAfterGap:     fixed.FromFloat(r.WinRatioAfterGap),
		WinRatioAfterTimeout: fixed.FromFloat(r.WinRatioAfterTimeout),
		FirstToothTimeout:    r.FirstToothTimeout,
		TeethPerSync:         r.TeethPerSync,
	}
}

// SourceSection selects and configures the edge source.
type SourceSection struct {
	// Type is one of "replay", "serial" or "gpio".
	Type string `yaml:"type"`

	// Path is the capture file for the replay source.
	Path string `yaml:"path"`

	// Device and Baud configure the serial source.
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// Pin names the GPIO edge pin.
	Pin string `yaml:"pin"`
}

// StatusSection configures the status HTTP server.
type StatusSection struct {
	Addr string `yaml:"addr"`
}

// CaptureSection configures the decoded-session store.
type CaptureSection struct {
	Database string `yaml:"database"`
}

// Default returns the built-in configuration: a 36-1 wheel at 1000
// angle ticks per tooth and the bench-proven window ratios.
func Default() File {
	return File{
		Wheel: WheelSection{
			TeethTillGap:  35,
			TeethInGap:    1,
			TeethPerCycle: 72,
			TicksPerTooth: 1000,
		},
		Runtime: RuntimeSection{
			GapRatio:             0.6,
			WinRatioNormal:       0.2,
			WinRatioAcrossGap:    0.3,
			WinRatioAfterGap:     0.3,
			WinRatioAfterTimeout: 0.5,
			FirstToothTimeout:    1000000,
			TeethPerSync:         36,
		},
		Status: StatusSection{Addr: "127.0.0.1:7225"},
	}
}

// Load reads and validates a configuration file. Missing options keep
// their defaults.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigParseError(path, err)
	}
	f, err := Parse(data)
	if err != nil {
		if he, ok := err.(*errors.HostError); ok {
			he.SetContext("path", path)
		}
		return nil, err
	}
	return f, nil
}

// Parse decodes and validates a YAML document over the defaults.
func Parse(data []byte) (*File, error) {
	f := Default()
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigParse, "invalid yaml")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate applies the decoder's fail-fast checks plus the host
// plumbing constraints.
func (f *File) Validate() error {
	pattern := f.Wheel.Pattern()
	if err := pattern.Validate(); err != nil {
		return err
	}
	if err := f.Runtime.Runtime().Validate(pattern); err != nil {
		return err
	}
	switch f.Source.Type {
	case "", "replay", "serial", "gpio":
	default:
		return errors.ConfigValidationError("source", "type",
			"must be replay, serial or gpio")
	}
	if f.Source.Type == "replay" && f.Source.Path == "" {
		return errors.ConfigValidationError("source", "path", "required for replay source")
	}
	if f.Source.Type == "serial" && f.Source.Device == "" {
		return errors.ConfigValidationError("source", "device", "required for serial source")
	}
	if f.Source.Type == "gpio" && f.Source.Pin == "" {
		return errors.ConfigValidationError("source", "pin", "required for gpio source")
	}
	return nil
}
