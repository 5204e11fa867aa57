// Package crank decodes the crankshaft tooth signal into a running
// engine angle base and coordinates half-cycle synchronization with
// the camshaft reference-signal log.
//
// The decoder is a single-threaded state machine: one transition or
// timeout event is processed to completion before the next is
// accepted. All host-facing entry points serialize on an internal
// mutex; no blocking work happens inside an event.
package crank

import (
	"fmt"

	"engine-position-go/pkg/errors"
	"engine-position-go/pkg/fixed"
)

// MaxTeethInGap is the largest supported missing-tooth count per gap.
// Legacy counter hardware supports 1-3; this is a configuration range
// limit, not a behavioral branch.
const MaxTeethInGap = 7

// ToothPatternConfig describes the physical tooth wheel. It is
// immutable for the lifetime of a decoder.
type ToothPatternConfig struct {
	// TeethTillGap is the number of physical teeth between gaps.
	TeethTillGap int

	// TeethInGap is the number of missing teeth per gap. Zero selects
	// the additional-tooth pattern: an extra tooth, rather than an
	// absence, is the rotational landmark.
	TeethInGap int

	// TeethPerCycle is the number of tooth positions per 720-degree
	// engine cycle, counting missing positions. Must be a multiple of
	// TeethTillGap+TeethInGap.
	TeethPerCycle int

	// TicksPerTooth is the angle-counter ticks per tooth position.
	TicksPerTooth uint32

	// TicksPerAdditionalTooth is the angle-counter ticks assigned to
	// the additional tooth. Only meaningful when TeethInGap is zero.
	TicksPerAdditionalTooth uint32
}

// Validate fails fast on a pattern the state machine must never see.
func (p ToothPatternConfig) Validate() error {
	if p.TeethTillGap < 1 || p.TeethTillGap > 255 {
		return errors.ConfigValidationError("wheel", "teeth_till_gap",
			fmt.Sprintf("must be 1-255, got %d", p.TeethTillGap))
	}
	if p.TeethInGap < 0 || p.TeethInGap > MaxTeethInGap {
		return errors.ConfigValidationError("wheel", "teeth_in_gap",
			fmt.Sprintf("must be 0-%d, got %d", MaxTeethInGap, p.TeethInGap))
	}
	if p.TicksPerTooth < 1 || p.TicksPerTooth > 1024 {
		return errors.ConfigValidationError("wheel", "ticks_per_tooth",
			fmt.Sprintf("must be 1-1024, got %d", p.TicksPerTooth))
	}
	if p.TeethInGap == 0 {
		if p.TicksPerAdditionalTooth < 1 || p.TicksPerAdditionalTooth > 1024 {
			return errors.ConfigValidationError("wheel", "ticks_per_additional_tooth",
				fmt.Sprintf("must be 1-1024, got %d", p.TicksPerAdditionalTooth))
		}
	}
	segment := p.TeethTillGap + p.TeethInGap
	if p.TeethPerCycle < segment || p.TeethPerCycle%segment != 0 {
		return errors.ConfigValidationError("wheel", "teeth_per_cycle",
			fmt.Sprintf("must be a positive multiple of %d, got %d", segment, p.TeethPerCycle))
	}
	return nil
}

// AngleSpan returns the angle-counter span of one engine cycle.
func (p ToothPatternConfig) AngleSpan() uint32 {
	return p.TicksPerTooth * uint32(p.TeethPerCycle)
}

// RuntimeConfig holds the host-adjustable decoder parameters. A new
// RuntimeConfig may be handed to the decoder at any time; it is
// applied at the next event boundary, never mid-decision.
type RuntimeConfig struct {
	// BlankTime is the post-init interval (time-counter ticks) during
	// which all transitions are discarded.
	BlankTime uint64

	// BlankTeeth is the number of transitions discarded after
	// BlankTime elapses.
	BlankTeeth int

	// GapRatio is the ABA gap-test ratio.
	GapRatio fixed.Frac

	// Acceptance-window ratios for the four window policies.
	WinRatioNormal       fixed.Frac
	WinRatioAcrossGap    fixed.Frac
	WinRatioAfterGap     fixed.Frac
	WinRatioAfterTimeout fixed.Frac

	// FirstToothTimeout is the deadline (time-counter ticks) for the
	// first timed transitions during seek.
	FirstToothTimeout uint64

	// TeethPerSync is the reference-signal logging window length in
	// tooth positions. Must be a multiple of TeethTillGap+TeethInGap.
	TeethPerSync int
}

// Validate checks the runtime parameters against the wheel pattern.
func (c RuntimeConfig) Validate(p ToothPatternConfig) error {
	if c.FirstToothTimeout == 0 {
		return errors.ConfigValidationError("runtime", "first_tooth_timeout", "must be non-zero")
	}
	if c.BlankTeeth < 0 {
		return errors.ConfigValidationError("runtime", "blank_teeth", "must not be negative")
	}
	segment := p.TeethTillGap + p.TeethInGap
	if c.TeethPerSync < segment || c.TeethPerSync%segment != 0 {
		return errors.ConfigValidationError("runtime", "teeth_per_sync",
			fmt.Sprintf("must be a positive multiple of %d, got %d", segment, c.TeethPerSync))
	}
	if c.GapRatio == 0 {
		return errors.ConfigValidationError("runtime", "gap_ratio", "must be non-zero")
	}
	return nil
}

// CrankState identifies the tooth/gap state machine state.
type CrankState int

const (
	StateSeek CrankState = iota
	StateBlankTime
	StateBlankTeeth
	StateFirstTransition
	StateSecondTransition
	StateTestPossibleGap
	StateVerifyGap
	StateCounting
	StateCountingTimeout
	StateToothBeforeGap
	StateAdditionalTooth
	StateToothAfterGap
	StateToothAngleSync
)

func (s CrankState) String() string {
	switch s {
	case StateSeek:
		return "seek"
	case StateBlankTime:
		return "blank_time"
	case StateBlankTeeth:
		return "blank_teeth"
	case StateFirstTransition:
		return "first_transition"
	case StateSecondTransition:
		return "second_transition"
	case StateTestPossibleGap:
		return "test_possible_gap"
	case StateVerifyGap:
		return "verify_gap"
	case StateCounting:
		return "counting"
	case StateCountingTimeout:
		return "counting_timeout"
	case StateToothBeforeGap:
		return "tooth_before_gap"
	case StateAdditionalTooth:
		return "additional_tooth"
	case StateToothAfterGap:
		return "tooth_after_gap"
	case StateToothAngleSync:
		return "tooth_angle_sync"
	default:
		return "unknown"
	}
}

// EnginePositionState is the global synchronization confidence shared
// with external consumers.
type EnginePositionState int

const (
	EngineSeek EnginePositionState = iota
	EngineFirstHalfSync
	EnginePreFullSync
	EngineFullSync
)

func (s EnginePositionState) String() string {
	switch s {
	case EngineSeek:
		return "seek"
	case EngineFirstHalfSync:
		return "first_half_sync"
	case EnginePreFullSync:
		return "pre_full_sync"
	case EngineFullSync:
		return "full_sync"
	default:
		return "unknown"
	}
}

// ErrorFlags is the sticky error bitset. Flags accumulate until the
// host reads them; reading clears.
type ErrorFlags uint16

const (
	FlagInvalidTransition ErrorFlags = 1 << iota
	FlagInvalidMatch
	FlagTimeout
	FlagStall
	FlagInternal
	FlagTimeoutBeforeGap
	FlagTimeoutAfterGap
	FlagToothInGap
)

// Has reports whether all bits of f2 are set.
func (f ErrorFlags) Has(f2 ErrorFlags) bool {
	return f&f2 == f2
}

func (f ErrorFlags) String() string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		bit  ErrorFlags
		name string
	}{
		{FlagInvalidTransition, "invalid_transition"},
		{FlagInvalidMatch, "invalid_match"},
		{FlagTimeout, "timeout"},
		{FlagStall, "stall"},
		{FlagInternal, "internal"},
		{FlagTimeoutBeforeGap, "timeout_before_gap"},
		{FlagTimeoutAfterGap, "timeout_after_gap"},
		{FlagToothInGap, "tooth_in_gap"},
	}
	s := ""
	for _, n := range names {
		if f&n.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	return s
}

// RefLog is the decoder-side view of the camshaft reference-signal
// log. The decoder only ever resets it; the host reads and decodes
// the log contents.
type RefLog interface {
	Reset(now uint64)
}

// Status is a host-readable snapshot of the decoder.
type Status struct {
	State               CrankState
	EngineState         EnginePositionState
	ToothCounterGap     int
	ToothCounterCycle   int
	LastToothPeriod     uint32
	LastToothPeriodNorm uint32
	CycleStartOffset    uint64
	Angle               uint32
}

// Stats holds monotonically increasing decoder counters.
type Stats struct {
	Transitions      uint64
	TeethAccepted    uint64
	GapsVerified     uint64
	Timeouts         uint64
	Stalls           uint64
	HandshakeRetries uint64
	Cycles           uint64
}
