/*

This file contains the inbound discount state machine. The discount is a
negative inbound fee advertised to pull routing volume through a channel
whose local liquidity has drained. Its lifecycle is hysteretic: it triggers
below one ratio, grows while the channel stays drained, and clears only at a
distinctly higher ratio, so a channel hovering around a single threshold does
not flap.

*/

package analyzer

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/routerlab/autofee/internal/types"
	"github.com/routerlab/autofee/internal/utils"
)

var hundred = sdkmath.LegacyNewDec(100)

// EvaluateDiscount advances the channel's discount state by at most one phase
// step and returns the new record.
//
// Phases:
//   - Remove: ratio at or above the remove threshold clears the discount to
//     zero immediately. The crossed-trigger gate stays set so a later drain
//     can retrigger.
//   - Trigger: ratio below the trigger threshold activates the discount at
//     the initial percentage of EMA, but only if the channel has been seen at
//     or above the trigger threshold before (never on first observation) and
//     the peer's own fee is within the ceiling (a discount is wasted when the
//     peer already prices the route out).
//   - Increment: an active discount grows by the increment percentage each
//     cycle, clamped at the maximum. The ceiling check applies here too: an
//     expensive peer freezes growth but keeps the discount.
//   - Maintain: at the percentage cap the absolute value still rescales with
//     the EMA.
//
// The returned DiscountPpm is always ≤ 0.
func EvaluateDiscount(prior *types.InboundDiscountState, ch types.Channel, ratio float64, ema sdkmath.LegacyDec, params types.PolicyParameters) types.InboundDiscountState {
	st := types.InboundDiscountState{ChannelID: ch.ID}
	if prior != nil {
		st = *prior
	}
	st.UpdatedAt = time.Now()

	switch {
	case ratio >= params.RemoveThreshold:
		st.DiscountPpm = 0
		st.CurrentPct = 0
		st.HasCrossedTrigger = true

	case ratio >= params.TriggerThreshold:
		// Hysteresis band. An inactive discount stays inactive; an active one
		// keeps growing until the remove threshold clears it.
		st.HasCrossedTrigger = true
		if st.DiscountPpm != 0 {
			st = growDiscount(st, ch, ema, params)
		}

	default:
		if st.DiscountPpm == 0 {
			if st.HasCrossedTrigger && remoteFeeAcceptable(ch, params) {
				st.CurrentPct = params.InitialDiscountPct
				st.DiscountPpm = -discountMagnitude(ema, st.CurrentPct)
			}
		} else {
			st = growDiscount(st, ch, ema, params)
		}
	}

	return st
}

// growDiscount applies one increment step, honoring the percentage cap and
// the remote-fee ceiling. A frozen discount still rescales against the EMA
// so the percentage it represents stays honest.
func growDiscount(st types.InboundDiscountState, ch types.Channel, ema sdkmath.LegacyDec, params types.PolicyParameters) types.InboundDiscountState {
	if remoteFeeAcceptable(ch, params) && st.CurrentPct < params.MaxDiscountPct {
		st.CurrentPct += params.IncrementDiscountPct
		if st.CurrentPct > params.MaxDiscountPct {
			st.CurrentPct = params.MaxDiscountPct
		}
	}
	st.DiscountPpm = -discountMagnitude(ema, st.CurrentPct)
	return st
}

func discountMagnitude(ema sdkmath.LegacyDec, pct int64) int64 {
	mag := utils.RoundHalfUp(ema.MulInt64(pct).Quo(hundred))
	if mag < 0 {
		return 0
	}
	return mag
}

func remoteFeeAcceptable(ch types.Channel, params types.PolicyParameters) bool {
	if ch.RemoteFeePpm <= params.RemoteFeeCeilingPpm {
		return true
	}
	for _, id := range params.RemoteFeeCheckExempt {
		if id == ch.ID {
			return true
		}
	}
	return false
}
