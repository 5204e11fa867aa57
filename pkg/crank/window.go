package crank

import "engine-position-go/pkg/fixed"

// Window and gap-test evaluation. These are stateless helpers: the
// state machine picks the ratio policy, the helpers do the arithmetic.

// acceptanceWindow returns the deadline margin around the expected
// next-tooth time: ratio * period.
func acceptanceWindow(ratio fixed.Frac, period uint32) uint32 {
	return ratio.Mul(period)
}

// gapTest reports whether candidate confirms the rotational landmark
// against the prior normal period.
//
// Missing-tooth pattern: the candidate spans the gap and is long; the
// gap is genuine iff gapRatio*candidate > prior. Additional-tooth
// pattern: the candidate is the short extra-tooth period and the
// operands swap: gapRatio*prior > candidate. Because both periods
// scale together under steady acceleration the test needs no absolute
// threshold.
func gapTest(candidate, prior uint32, gapRatio fixed.Frac, additional bool) bool {
	if additional {
		return gapRatio.Mul(prior) > candidate
	}
	return gapRatio.Mul(candidate) > prior
}

// normalizeGapPeriod divides a gap-spanning period across its tooth
// positions (the missing teeth plus the tooth that ended the period).
func normalizeGapPeriod(period uint32, teethInGap int) uint32 {
	return period / uint32(teethInGap+1)
}
