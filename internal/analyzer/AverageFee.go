/*

This file maintains the per-channel exponential moving average of true-fee
ppm. The EMA is the pipeline's memory: it survives ledger pruning and is
never deleted by normal processing.

*/

package analyzer

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/routerlab/autofee/internal/types"
	"github.com/routerlab/autofee/internal/utils"
)

// UpdateAverageFee folds a window of ledger events (oldest first) into the
// channel's persisted EMA and returns the new record.
//
// Seeding: a channel with no prior record takes the first event's true-fee
// ppm as its starting value; with no events either, the current outbound fee
// stands in so the control loop has a sane origin. With a prior record and
// zero events the value is carried forward unchanged, not decayed.
//
// The EMA is floored after every update so a burst of near-free forwards
// cannot collapse the estimate to zero.
func UpdateAverageFee(prior *types.AverageFeeState, chanID types.ChannelID, events []types.RoutingEvent, currentOutboundPpm int64, params types.PolicyParameters) (types.AverageFeeState, error) {
	alpha, err := utils.Float64ToLegacyDec(params.Alpha)
	if err != nil {
		return types.AverageFeeState{}, fmt.Errorf("invalid alpha %f: %w", params.Alpha, err)
	}
	oneMinusAlpha := sdkmath.LegacyOneDec().Sub(alpha)
	floor := sdkmath.LegacyNewDec(params.EmaFloorPpm)

	var ema sdkmath.LegacyDec
	switch {
	case prior != nil:
		ema = prior.EmaPpm
	case len(events) > 0:
		ema = events[0].TrueFeePpm
		events = events[1:]
	default:
		ema = sdkmath.LegacyNewDec(currentOutboundPpm)
	}
	if ema.LT(floor) {
		ema = floor
	}

	for _, ev := range events {
		ema = alpha.Mul(ev.TrueFeePpm).Add(oneMinusAlpha.Mul(ema))
		if ema.LT(floor) {
			ema = floor
		}
	}

	return types.AverageFeeState{
		ChannelID: chanID,
		EmaPpm:    ema,
		UpdatedAt: time.Now(),
	}, nil
}
