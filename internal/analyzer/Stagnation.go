/*

This file contains the stagnation detector. A channel that holds usable
outbound liquidity but has not forwarded anything within the window is priced
too high for the market; while stagnant, its fees are walked down a fixed
percentage per cycle. Detection is ledger-driven: only a genuinely new
routing event clears the state, never liquidity drifting back.

*/

package analyzer

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/routerlab/autofee/internal/types"
	"github.com/routerlab/autofee/internal/utils"
)

// EvaluateStagnation advances the channel's stagnation state. lastEvent is
// the channel's most recent ledger timestamp, nil when the ledger holds no
// events for it at all.
func EvaluateStagnation(prior *types.StagnationState, chanID types.ChannelID, ratio float64, lastEvent *time.Time, now time.Time, params types.PolicyParameters) types.StagnationState {
	st := types.StagnationState{ChannelID: chanID}
	if prior != nil {
		st = *prior
	}
	st.LastRatio = ratio
	st.UpdatedAt = now

	window := time.Duration(params.StagnationWindowHours) * time.Hour

	if st.IsStagnant {
		// Only an event newer than the transition clears the state.
		if lastEvent != nil && lastEvent.After(st.TransitionTime) {
			st.IsStagnant = false
			st.TransitionTime = now
		}
		return st
	}

	idle := lastEvent == nil || now.Sub(*lastEvent) > window
	if ratio > params.StagnationRatioThreshold && idle {
		st.IsStagnant = true
		st.TransitionTime = now
	}
	return st
}

// ReduceStagnantFee walks one fee value toward zero by the reduction
// percentage, at least 1 ppm per cycle, preserving sign so inbound discounts
// shrink in magnitude rather than deepen. The result never crosses zero.
func ReduceStagnantFee(fee int64, reductionPct float64) int64 {
	if fee == 0 {
		return 0
	}

	mag := fee
	sign := int64(1)
	if mag < 0 {
		mag = -mag
		sign = -1
	}

	pct, err := utils.Float64ToLegacyDec(reductionPct)
	if err != nil {
		pct = sdkmath.LegacyZeroDec()
	}
	step := utils.RoundHalfUp(sdkmath.LegacyNewDec(mag).Mul(pct).Quo(hundred))
	if step < 1 {
		step = 1
	}

	mag -= step
	if mag < 0 {
		mag = 0
	}
	return sign * mag
}
