package crank

import (
	"fmt"
	"math"
	"sync"

	"engine-position-go/pkg/errors"
	"engine-position-go/pkg/fixed"
	"engine-position-go/pkg/log"
	"engine-position-go/pkg/timebase"
)

// Decoder is the tooth/gap state machine for one crank channel.
//
// Events enter through OnTransition, OnTimeout and Poll; the host
// reads state through Status, Stats, ReadErrorFlags and PeriodLog.
// Notification callbacks are fired after the triggering event has
// been fully processed and the internal lock released.
type Decoder struct {
	mu sync.Mutex

	pattern ToothPatternConfig
	cfg     RuntimeConfig
	pending *RuntimeConfig

	tb     timebase.Timebase
	refLog RefLog
	logger *log.Logger

	state    CrankState
	engState EnginePositionState

	toothCounterGap   int
	toothCounterCycle int

	lastToothPeriod     uint32
	lastToothPeriodNorm uint32
	prevPeriod          uint32 // last accepted normalized period
	gapPeriod           uint32 // gap-spanning candidate during seek
	lastEdge            uint64

	windowOpen uint64
	deadline   uint64

	blankUntil     uint64
	blankCount     int
	timeoutRetries int

	syncTeeth        int
	cycleStartOffset uint64

	flags ErrorFlags
	stats Stats

	periodLog []uint32

	onHalfCycleSync   func(EnginePositionState)
	onFullSync        func(EnginePositionState)
	onOnceEveryCycle  func(EnginePositionState)
	onStall           func(EnginePositionState)
	onLogWindowClosed func(EnginePositionState)

	notes []func()
}

// New creates a decoder for the given wheel pattern. Configuration is
// validated up front: an invalid pattern or runtime config never
// reaches the state machine. refLog may be nil when no camshaft
// reference log is attached.
func New(pattern ToothPatternConfig, cfg RuntimeConfig, tb timebase.Timebase, refLog RefLog) (*Decoder, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(pattern); err != nil {
		return nil, err
	}
	return &Decoder{
		pattern:   pattern,
		cfg:       cfg,
		tb:        tb,
		refLog:    refLog,
		logger:    log.GetLogger("crank"),
		state:     StateSeek,
		engState:  EngineSeek,
		periodLog: make([]uint32, pattern.TeethPerCycle),
	}, nil
}

// Notification callback setters. Callbacks run outside the decoder
// lock, after the event that raised them completes.

// SetHalfCycleSyncCallback registers the half-cycle sync notification.
func (d *Decoder) SetHalfCycleSyncCallback(fn func(EnginePositionState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onHalfCycleSync = fn
}

// SetFullSyncCallback registers the full sync notification.
func (d *Decoder) SetFullSyncCallback(fn func(EnginePositionState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFullSync = fn
}

// SetOnceEveryCycleCallback registers the once-per-cycle notification.
func (d *Decoder) SetOnceEveryCycleCallback(fn func(EnginePositionState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOnceEveryCycle = fn
}

// SetStallCallback registers the stall notification.
func (d *Decoder) SetStallCallback(fn func(EnginePositionState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStall = fn
}

// SetLogWindowClosedCallback registers the notification raised when
// the reference-signal logging window closes and the host should
// decode the log.
func (d *Decoder) SetLogWindowClosedCallback(fn func(EnginePositionState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onLogWindowClosed = fn
}

// Start begins seeking at the given time. Transitions arriving before
// Start are flagged as invalid.
func (d *Decoder) Start(now uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beginSeek(now)
}

// OnTransition delivers a timestamped tooth transition.
func (d *Decoder) OnTransition(now uint64) {
	d.mu.Lock()
	d.applyPendingConfig()
	d.stats.Transitions++
	d.dispatchTransition(now)
	notes := d.takeNotes()
	d.mu.Unlock()
	for _, fn := range notes {
		fn()
	}
}

// OnTimeout delivers an externally detected deadline miss. The caller
// decides nothing about tooth validity; it only reports the time.
func (d *Decoder) OnTimeout(now uint64) {
	d.mu.Lock()
	d.applyPendingConfig()
	d.handleTimeout(now)
	notes := d.takeNotes()
	d.mu.Unlock()
	for _, fn := range notes {
		fn()
	}
}

// Poll evaluates the armed deadline against the current time and
// synthesizes a timeout if it has passed. Intended to be driven by a
// periodic housekeeping tick.
func (d *Decoder) Poll(now uint64) {
	d.mu.Lock()
	d.applyPendingConfig()
	if d.deadline != 0 && now > d.deadline {
		d.handleTimeout(now)
	}
	notes := d.takeNotes()
	d.mu.Unlock()
	for _, fn := range notes {
		fn()
	}
}

// CommitSync applies the host's decoded angle adjustment and promotes
// the engine-position state to full sync. Only legal in PreFullSync.
func (d *Decoder) CommitSync(angleAdjust int32) error {
	d.mu.Lock()
	if d.engState != EnginePreFullSync {
		state := d.engState
		d.mu.Unlock()
		return errors.SyncCommitError(fmt.Sprintf("commit only valid in pre_full_sync, state is %s", state))
	}
	d.tb.AdjustAngle(angleAdjust)
	d.engState = EngineFullSync
	d.syncTeeth = 0
	if d.state == StateCounting {
		d.state = StateToothAngleSync
	}
	d.logger.WithField("adjust", angleAdjust).Info("sync committed, full sync")
	if fn := d.onFullSync; fn != nil {
		d.note(func() { fn(EngineFullSync) })
	}
	notes := d.takeNotes()
	d.mu.Unlock()
	for _, f := range notes {
		f()
	}
	return nil
}

// SetRuntimeConfig schedules a runtime config update. It is applied
// at the next event boundary, never inside an in-progress decision.
func (d *Decoder) SetRuntimeConfig(cfg RuntimeConfig) error {
	if err := cfg.Validate(d.pattern); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = &cfg
	return nil
}

// ReadErrorFlags returns the accumulated error flags and clears them.
func (d *Decoder) ReadErrorFlags() ErrorFlags {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.flags
	d.flags = 0
	return f
}

// Status returns a consistent snapshot of the decoder state.
func (d *Decoder) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		State:               d.state,
		EngineState:         d.engState,
		ToothCounterGap:     d.toothCounterGap,
		ToothCounterCycle:   d.toothCounterCycle,
		LastToothPeriod:     d.lastToothPeriod,
		LastToothPeriodNorm: d.lastToothPeriodNorm,
		CycleStartOffset:    d.cycleStartOffset,
		Angle:               d.tb.ReadAngle(),
	}
}

// Stats returns a copy of the decoder counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// PeriodLog returns a snapshot of the per-position period ring.
func (d *Decoder) PeriodLog() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint32, len(d.periodLog))
	copy(out, d.periodLog)
	return out
}

// Pattern returns the immutable wheel pattern.
func (d *Decoder) Pattern() ToothPatternConfig {
	return d.pattern
}

// internal machinery below; all methods hold d.mu

func (d *Decoder) applyPendingConfig() {
	if d.pending != nil {
		d.cfg = *d.pending
		d.pending = nil
	}
}

func (d *Decoder) note(fn func()) {
	d.notes = append(d.notes, fn)
}

func (d *Decoder) takeNotes() []func() {
	n := d.notes
	d.notes = nil
	return n
}

// periodSince returns the elapsed time-counter ticks since the last
// edge, saturated to 32 bits.
func (d *Decoder) periodSince(now uint64) uint32 {
	delta := now - d.lastEdge
	if delta > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(delta)
}

func (d *Decoder) additional() bool {
	return d.pattern.TeethInGap == 0
}

func (d *Decoder) arm(open, deadline uint64) {
	d.windowOpen = open
	d.deadline = deadline
	d.tb.SetDeadline(deadline)
}

func (d *Decoder) disarm() {
	d.windowOpen = 0
	d.deadline = 0
	d.tb.SetDeadline(0)
}

// beginSeek enters the blanking stage of a fresh seek.
func (d *Decoder) beginSeek(now uint64) {
	d.toothCounterGap = 0
	d.toothCounterCycle = 0
	d.timeoutRetries = 0
	d.syncTeeth = 0
	d.gapPeriod = 0
	if d.cfg.BlankTime > 0 || d.cfg.BlankTeeth > 0 {
		d.state = StateBlankTime
		d.blankUntil = now + d.cfg.BlankTime
		d.blankCount = 0
		d.disarm()
		return
	}
	d.enterFirstTransition(now)
}

// enterFirstTransition arms the first-tooth timeout and waits for the
// first timed edge.
func (d *Decoder) enterFirstTransition(now uint64) {
	d.state = StateFirstTransition
	d.arm(0, now+d.cfg.FirstToothTimeout)
}

// firstTransitionEdge consumes the first timed edge.
func (d *Decoder) firstTransitionEdge(now uint64) {
	d.lastEdge = now
	d.state = StateSecondTransition
	d.arm(0, now+d.cfg.FirstToothTimeout)
}

func (d *Decoder) dispatchTransition(now uint64) {
	switch d.state {
	case StateSeek:
		// Stall recovery or pre-Start noise: a fresh edge restarts
		// the seek; the edge itself is consumed by blanking.
		d.beginSeek(now)
		if d.state == StateFirstTransition {
			d.firstTransitionEdge(now)
		}

	case StateBlankTime:
		if now < d.blankUntil {
			return
		}
		if d.cfg.BlankTeeth == 0 {
			d.firstTransitionEdge(now)
			return
		}
		d.state = StateBlankTeeth
		d.blankCount = 1
		if d.blankCount >= d.cfg.BlankTeeth {
			d.enterFirstTransition(now)
		}

	case StateBlankTeeth:
		d.blankCount++
		if d.blankCount >= d.cfg.BlankTeeth {
			d.enterFirstTransition(now)
		}

	case StateFirstTransition:
		d.firstTransitionEdge(now)

	case StateSecondTransition:
		p := d.periodSince(now)
		d.lastToothPeriod = p
		d.prevPeriod = p
		d.lastEdge = now
		d.state = StateTestPossibleGap
		d.armSeekWindow(now, p)

	case StateTestPossibleGap:
		d.seekTestTooth(now)

	case StateVerifyGap:
		d.seekVerifyTooth(now)

	case StateCounting, StateToothBeforeGap, StateToothAngleSync:
		d.steadyTooth(now)

	case StateCountingTimeout:
		d.timeoutRecoveryTooth(now)

	case StateAdditionalTooth:
		d.additionalTooth(now)

	case StateToothAfterGap:
		d.toothAfterGap(now)

	default:
		d.flags |= FlagInternal
	}
}

// armSeekWindow arms the wide pre-sync window: the next edge may be a
// normal tooth or the landmark, so the deadline covers the full
// gap-spanning span with the across-gap margin.
func (d *Decoder) armSeekWindow(now uint64, period uint32) {
	if d.additional() {
		margin := acceptanceWindow(d.cfg.WinRatioAcrossGap, period)
		d.arm(0, now+uint64(period)+uint64(margin))
		return
	}
	span := uint64(d.pattern.TeethInGap+1) * uint64(period)
	margin := d.cfg.WinRatioAcrossGap.MulSat(span)
	d.arm(0, now+span+uint64(margin))
}

// seekTestTooth handles a transition while searching for the first
// landmark.
func (d *Decoder) seekTestTooth(now uint64) {
	cand := d.periodSince(now)
	if d.additional() {
		if gapTest(cand, d.prevPeriod, d.cfg.GapRatio, true) {
			d.syncFromAdditional(now, cand)
			return
		}
	} else {
		if gapTest(cand, d.prevPeriod, d.cfg.GapRatio, false) {
			// Possible gap: hold the candidate and verify with the
			// following tooth (the second leg of the ABA test).
			d.gapPeriod = cand
			d.lastToothPeriod = cand
			d.lastEdge = now
			d.state = StateVerifyGap
			expect := normalizeGapPeriod(cand, d.pattern.TeethInGap)
			margin := acceptanceWindow(d.cfg.WinRatioAfterGap, expect)
			d.arm(0, now+uint64(expect)+uint64(margin))
			return
		}
	}
	// Ordinary tooth; keep searching.
	d.prevPeriod = cand
	d.lastToothPeriod = cand
	d.lastEdge = now
	d.armSeekWindow(now, cand)
}

// seekVerifyTooth confirms or rejects a held gap candidate.
func (d *Decoder) seekVerifyTooth(now uint64) {
	cand := d.periodSince(now)
	if gapTest(d.gapPeriod, cand, d.cfg.GapRatio, false) {
		d.syncFromGap(now, cand)
		return
	}
	// False alarm: a spurious edge stretched one period. Resume the
	// search without reseeking.
	d.flags |= FlagInvalidMatch
	d.logger.Debug("gap candidate rejected, resuming search")
	d.prevPeriod = cand
	d.lastToothPeriod = cand
	d.lastEdge = now
	d.state = StateTestPossibleGap
	d.armSeekWindow(now, cand)
}

// syncFromGap establishes tooth position from a verified missing-tooth
// gap. The confirming edge is tooth position 2 after the gap.
func (d *Decoder) syncFromGap(now uint64, confirm uint32) {
	d.stats.GapsVerified++
	d.toothCounterGap = 2
	d.toothCounterCycle = 2
	d.periodLog[0] = normalizeGapPeriod(d.gapPeriod, d.pattern.TeethInGap)
	d.firstHalfSync(now)
	d.finishTooth(now, confirm, confirm, d.pattern.TicksPerTooth, 1, d.cfg.WinRatioAfterGap)
}

// syncFromAdditional establishes position from the extra-tooth
// landmark. The landmark itself is not a tooth position; the next
// normal tooth becomes position 1.
func (d *Decoder) syncFromAdditional(now uint64, cand uint32) {
	d.stats.GapsVerified++
	d.toothCounterGap = 0
	d.toothCounterCycle = 0
	d.firstHalfSync(now)
	d.acceptLandmarkTooth(now, cand)
}

// acceptLandmarkTooth records the additional tooth and arms the
// window for the normal tooth that follows it.
func (d *Decoder) acceptLandmarkTooth(now uint64, cand uint32) {
	d.lastToothPeriod = cand
	d.lastToothPeriodNorm = cand // substituted additional-tooth period
	d.lastEdge = now
	d.timeoutRetries = 0
	d.tb.SetRate(d.pattern.TicksPerAdditionalTooth, cand)
	d.state = StateToothAfterGap
	margin := acceptanceWindow(d.cfg.WinRatioAfterGap, d.prevPeriod)
	d.arm(0, now+uint64(d.prevPeriod)+uint64(margin))
}

// firstHalfSync promotes to half-cycle sync and starts the
// reference-signal logging window from this known point.
func (d *Decoder) firstHalfSync(now uint64) {
	if d.engState != EngineSeek {
		return
	}
	d.engState = EngineFirstHalfSync
	d.syncTeeth = 0
	d.resetRefLog(now)
	d.logger.Info("gap verified, half-cycle sync")
	if fn := d.onHalfCycleSync; fn != nil {
		d.note(func() { fn(EngineFirstHalfSync) })
	}
}

func (d *Decoder) resetRefLog(now uint64) {
	if d.refLog != nil {
		d.refLog.Reset(now)
	}
}

// steadyTooth handles a transition in the Counting family of states.
func (d *Decoder) steadyTooth(now uint64) {
	if d.windowOpen != 0 && now < d.windowOpen {
		// Early edge: outside the acceptance window, reject as noise.
		d.flags |= FlagInvalidTransition
		return
	}
	if d.deadline != 0 && now > d.deadline {
		// The deadline passed before this edge was seen; deliver the
		// timeout first, then let the edge recover the counter.
		d.handleTimeout(now)
		if d.state == StateCountingTimeout {
			d.timeoutRecoveryTooth(now)
		}
		return
	}
	cand := d.periodSince(now)
	d.toothCounterGap++
	d.advanceCycle(1)
	d.finishTooth(now, cand, cand, d.pattern.TicksPerTooth, 1, d.cfg.WinRatioNormal)
}

// timeoutRecoveryTooth consumes the first edge after a counting
// timeout. The raw period may span several missed teeth; the counter
// is advanced by the nearest whole tooth count.
func (d *Decoder) timeoutRecoveryTooth(now uint64) {
	raw := d.periodSince(now)
	steps := 1
	if d.prevPeriod > 0 {
		steps = int((uint64(raw) + uint64(d.prevPeriod)/2) / uint64(d.prevPeriod))
		if steps < 1 {
			steps = 1
		}
	}
	if d.toothCounterGap+steps > d.pattern.TeethTillGap {
		// The missed stretch reaches into the gap region; the tooth
		// count can no longer be trusted.
		d.flags |= FlagInternal
		d.stall(now, "tooth count lost across gap during timeout recovery")
		return
	}
	norm := raw / uint32(steps)
	d.toothCounterGap += steps
	d.advanceCycle(steps)
	d.finishTooth(now, raw, norm, d.pattern.TicksPerTooth, steps, d.cfg.WinRatioAfterTimeout)
}

// additionalTooth handles the expected extra-tooth landmark.
func (d *Decoder) additionalTooth(now uint64) {
	if d.deadline != 0 && now > d.deadline {
		d.handleTimeout(now)
		if d.state == StateCountingTimeout {
			d.timeoutRecoveryTooth(now)
		}
		return
	}
	cand := d.periodSince(now)
	if !gapTest(cand, d.prevPeriod, d.cfg.GapRatio, true) {
		// No landmark where the pattern requires one.
		d.flags |= FlagToothInGap
		d.stall(now, "additional-tooth landmark missing")
		return
	}
	d.stats.GapsVerified++
	d.acceptLandmarkTooth(now, cand)
}

// toothAfterGap handles the first tooth after the landmark.
func (d *Decoder) toothAfterGap(now uint64) {
	if d.additional() {
		raw := d.periodSince(now)
		d.toothCounterGap = 1
		d.advanceCycle(1)
		// The remainder period after the extra tooth is not a tooth
		// spacing; carry the last normal period as the estimate.
		d.finishTooth(now, raw, d.prevPeriod, d.pattern.TicksPerTooth, 1, d.cfg.WinRatioAfterGap)
		return
	}

	if d.windowOpen != 0 && now < d.windowOpen {
		// An edge inside the expected gap.
		d.flags |= FlagToothInGap
		d.stall(now, "transition inside expected gap")
		return
	}
	if d.deadline != 0 && now > d.deadline {
		d.handleTimeout(now)
		if d.state == StateCountingTimeout {
			d.timeoutRecoveryTooth(now)
		}
		return
	}
	cand := d.periodSince(now)
	if !gapTest(cand, d.prevPeriod, d.cfg.GapRatio, false) {
		d.flags |= FlagToothInGap
		d.stall(now, "gap test failed at expected gap")
		return
	}
	norm := normalizeGapPeriod(cand, d.pattern.TeethInGap)
	positions := d.pattern.TeethInGap + 1
	d.stats.GapsVerified++
	d.toothCounterGap = 1
	d.advanceCycle(positions)
	d.finishTooth(now, cand, norm, d.pattern.TicksPerTooth, positions, d.cfg.WinRatioAfterGap)
}

// advanceCycle moves the cycle counter by the given tooth positions,
// wrapping at the cycle boundary and advancing the angle-base offset.
func (d *Decoder) advanceCycle(positions int) {
	d.toothCounterCycle += positions
	if d.toothCounterCycle > d.pattern.TeethPerCycle {
		d.toothCounterCycle -= d.pattern.TeethPerCycle
		d.cycleStartOffset += uint64(d.pattern.AngleSpan())
		d.stats.Cycles++
		if d.engState == EngineFullSync {
			if fn := d.onOnceEveryCycle; fn != nil {
				d.note(func() { fn(EngineFullSync) })
			}
		}
	}
}

// finishTooth is the common tail of every accepted tooth: record the
// measurement, drive the rate estimator, advance the synchronization
// handshake and arm the window for the next expected tooth.
func (d *Decoder) finishTooth(now uint64, raw, norm, angleTicks uint32, positions int, winRatio fixed.Frac) {
	d.lastToothPeriod = raw
	d.lastToothPeriodNorm = norm
	d.prevPeriod = norm
	d.lastEdge = now
	d.timeoutRetries = 0
	d.stats.TeethAccepted++

	if d.toothCounterCycle >= 1 && d.toothCounterCycle <= len(d.periodLog) {
		d.periodLog[d.toothCounterCycle-1] = norm
	}

	// Rate estimation: the angle counter must reach the next tooth's
	// angle exactly when the next tooth is expected, assuming constant
	// velocity since this one.
	d.tb.SetRate(angleTicks, norm)

	d.advanceHandshake(now, positions)

	switch {
	case d.toothCounterGap >= d.pattern.TeethTillGap:
		d.armAcrossGap(now, norm)
	case d.toothCounterGap == d.pattern.TeethTillGap-1:
		d.state = StateToothBeforeGap
		d.armNormal(now, norm, winRatio)
	default:
		d.state = StateCounting
		d.armNormal(now, norm, winRatio)
	}
}

// armNormal arms a symmetric window around the next expected tooth.
func (d *Decoder) armNormal(now uint64, norm uint32, ratio fixed.Frac) {
	margin := acceptanceWindow(ratio, norm)
	expected := now + uint64(norm)
	d.arm(expected-uint64(margin), expected+uint64(margin))
}

// armAcrossGap arms the window that spans the gap (or awaits the
// additional tooth) after the last tooth before the landmark.
func (d *Decoder) armAcrossGap(now uint64, norm uint32) {
	if d.additional() {
		// The extra tooth arrives before the next normal spacing;
		// leave the window open early.
		d.state = StateAdditionalTooth
		margin := acceptanceWindow(d.cfg.WinRatioAcrossGap, norm)
		d.arm(0, now+uint64(norm)+uint64(margin))
		return
	}
	d.state = StateToothAfterGap
	span := uint64(d.pattern.TeethInGap+1) * uint64(norm)
	margin := uint64(d.cfg.WinRatioAcrossGap.MulSat(span))
	d.arm(now+span-margin, now+span+margin)
}

// advanceHandshake runs the reference-signal log handshake forward by
// the accepted tooth positions.
func (d *Decoder) advanceHandshake(now uint64, positions int) {
	switch d.engState {
	case EngineFirstHalfSync:
		d.syncTeeth += positions
		if d.syncTeeth >= d.cfg.TeethPerSync {
			d.syncTeeth = 0
			d.engState = EnginePreFullSync
			d.logger.Info("reference log window closed, awaiting sync commit")
			if fn := d.onLogWindowClosed; fn != nil {
				d.note(func() { fn(EnginePreFullSync) })
			}
		}
	case EnginePreFullSync:
		d.syncTeeth += positions
		if d.syncTeeth >= d.cfg.TeethPerSync {
			// No commit arrived in time: restart the logging window
			// and retry rather than failing hard.
			d.syncTeeth = 0
			d.stats.HandshakeRetries++
			d.resetRefLog(now)
			d.engState = EngineFirstHalfSync
			d.logger.Warn("sync commit missed, restarting reference log window")
			if fn := d.onHalfCycleSync; fn != nil {
				d.note(func() { fn(EngineFirstHalfSync) })
			}
		}
	}
}

// handleTimeout processes a deadline miss for the current state.
func (d *Decoder) handleTimeout(now uint64) {
	d.stats.Timeouts++
	switch d.state {
	case StateSeek, StateBlankTime, StateBlankTeeth:
		// No deadline armed while blanking.
		return

	case StateFirstTransition, StateSecondTransition, StateTestPossibleGap, StateVerifyGap:
		d.flags |= FlagTimeout
		d.timeoutRetries++
		if d.timeoutRetries >= 2 {
			d.stall(now, "no signal during seek")
			return
		}
		d.logger.Debug("first-tooth timeout, retrying seek")
		d.enterFirstTransition(now)

	case StateCounting, StateToothAngleSync:
		d.flags |= FlagTimeout
		d.enterCountingTimeout(now)

	case StateToothBeforeGap:
		d.flags |= FlagTimeoutBeforeGap
		d.enterCountingTimeout(now)

	case StateToothAfterGap, StateAdditionalTooth:
		d.flags |= FlagTimeoutAfterGap
		d.enterCountingTimeout(now)

	case StateCountingTimeout:
		d.stall(now, "second consecutive timeout")

	default:
		d.flags |= FlagInternal
	}
}

// enterCountingTimeout widens the window for the recovery tooth.
func (d *Decoder) enterCountingTimeout(now uint64) {
	d.state = StateCountingTimeout
	norm := d.prevPeriod
	base := d.lastEdge + 2*uint64(norm)
	if base <= now {
		base = now + uint64(norm)
	}
	margin := acceptanceWindow(d.cfg.WinRatioAfterTimeout, norm)
	d.logger.WithField("deadline", base+uint64(margin)).Debug("tooth window missed, widening")
	d.arm(0, base+uint64(margin))
}

// stall abandons local recovery: flag, demote to Seek, broadcast so
// dependent schedulers can enter a safe state.
func (d *Decoder) stall(now uint64, reason string) {
	d.flags |= FlagStall
	d.stats.Stalls++
	d.state = StateSeek
	d.engState = EngineSeek
	d.syncTeeth = 0
	d.disarm()
	d.tb.SetRate(0, 0)
	d.logger.WithField("time", now).Error("stall: %s", reason)
	if fn := d.onStall; fn != nil {
		d.note(func() { fn(EngineSeek) })
	}
}
