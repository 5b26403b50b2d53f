/*

This file synchronizes fees across declared channel groups, typically
parallel channels to the same peer. All member channels that received a fee
this cycle converge to one value derived from the group's strategy.

*/

package policy

import (
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/routerlab/autofee/internal/logger"
	"github.com/routerlab/autofee/internal/types"
	"github.com/routerlab/autofee/internal/utils"
)

// SyncGroups applies each enabled group's strategy to its members' outbound
// fees, and to inbound fees when the group opts in. Members without a
// computed fee this cycle are left out of both the derivation and the write.
// Returns the number of channels rewritten.
func SyncGroups(set *OverrideSet, params types.PolicyParameters) int {
	log := logger.GetForComponent("groups")

	synced := 0
	for _, group := range params.ChannelGroups {
		if !group.Enabled || len(group.ChannelIDs) == 0 {
			continue
		}

		synced += syncField(group, group.Strategy, group.StaticFeePpm, set.OutboundFee, set.SetOutboundFee, log)

		if group.SyncInbound {
			strategy := group.InboundStrategy
			if strategy == "" {
				strategy = group.Strategy
			}
			synced += syncField(group, strategy, group.StaticInboundPpm, set.InboundFee, set.SetInboundFee, log)
		}
	}
	return synced
}

func syncField(
	group types.ChannelGroup,
	strategy types.GroupStrategy,
	staticValue int64,
	read func(types.ChannelID) (int64, bool),
	write func(types.ChannelID, int64),
	log zerolog.Logger,
) int {
	members := make([]types.ChannelID, 0, len(group.ChannelIDs))
	values := make([]int64, 0, len(group.ChannelIDs))
	for _, id := range group.ChannelIDs {
		if v, ok := read(id); ok {
			members = append(members, id)
			values = append(values, v)
		}
	}
	if len(members) == 0 {
		return 0
	}

	var target int64
	switch strategy {
	case types.GroupHighest:
		target = values[0]
		for _, v := range values[1:] {
			if v > target {
				target = v
			}
		}
	case types.GroupLowest:
		target = values[0]
		for _, v := range values[1:] {
			if v < target {
				target = v
			}
		}
	case types.GroupAverage:
		sum := sdkmath.LegacyZeroDec()
		for _, v := range values {
			sum = sum.Add(sdkmath.LegacyNewDec(v))
		}
		target = utils.RoundHalfUp(sum.QuoInt64(int64(len(values))))
	case types.GroupStatic:
		target = staticValue
	default:
		log.Warn().Str("group", group.Name).Str("strategy", string(strategy)).Msg("Unknown group strategy, group skipped")
		return 0
	}

	changed := 0
	for i, id := range members {
		if values[i] != target {
			write(id, target)
			changed++
		}
	}
	return changed
}
