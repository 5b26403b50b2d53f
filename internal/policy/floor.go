/*

This file contains the minimum floor enforcer. It runs after every stage that
can lower an outbound fee, and only ever raises: a channel already at or above
its floor is untouched, so reapplication is a no-op.

*/

package policy

import (
	sdkmath "cosmossdk.io/math"

	"github.com/routerlab/autofee/internal/logger"
	"github.com/routerlab/autofee/internal/types"
	"github.com/routerlab/autofee/internal/utils"
)

var floorHundred = sdkmath.LegacyNewDec(100)

// ApplyFloors raises each ruled channel's outbound fee to its floor. A rule
// for a channel with no computed outbound fee this cycle is skipped: the
// floor constrains the pipeline's output, it does not invent one. Returns the
// number of channels raised.
func ApplyFloors(set *OverrideSet, emas map[types.ChannelID]sdkmath.LegacyDec, params types.PolicyParameters) int {
	log := logger.GetForComponent("floor")

	raised := 0
	for _, rule := range params.FloorRules {
		if !rule.Enabled {
			continue
		}

		current, ok := set.OutboundFee(rule.ChannelID)
		if !ok {
			continue
		}

		var floor int64
		switch rule.Kind {
		case types.FloorStatic:
			floor = rule.StaticPpm
		case types.FloorEmaPct:
			ema, ok := emas[rule.ChannelID]
			if !ok {
				continue
			}
			pct, err := utils.Float64ToLegacyDec(rule.EmaPct)
			if err != nil {
				log.Warn().Err(err).Uint64("chan_id", uint64(rule.ChannelID)).Msg("Invalid floor percentage, rule skipped")
				continue
			}
			floor = utils.RoundHalfUp(ema.Mul(pct).Quo(floorHundred))
		default:
			log.Warn().Str("kind", string(rule.Kind)).Uint64("chan_id", uint64(rule.ChannelID)).Msg("Unknown floor kind, rule skipped")
			continue
		}

		if current < floor {
			set.SetOutboundFee(rule.ChannelID, floor)
			raised++
		}
	}
	return raised
}
