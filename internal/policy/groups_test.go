package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/routerlab/autofee/internal/types"
)

func groupParams(group types.ChannelGroup) types.PolicyParameters {
	return types.PolicyParameters{ChannelGroups: []types.ChannelGroup{group}}
}

func TestSyncGroupsHighest(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, 100)
	set.SetOutboundFee(2, 250)
	set.SetOutboundFee(3, 175)

	params := groupParams(types.ChannelGroup{
		Name: "peer-a", ChannelIDs: []types.ChannelID{1, 2, 3},
		Strategy: types.GroupHighest, Enabled: true,
	})

	synced := SyncGroups(set, params)
	assert.Equal(t, 2, synced)

	for _, id := range []types.ChannelID{1, 2, 3} {
		out, _ := set.OutboundFee(id)
		assert.Equal(t, int64(250), out, "channel %d", id)
	}
}

func TestSyncGroupsAverageRounds(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, 100)
	set.SetOutboundFee(2, 101)

	params := groupParams(types.ChannelGroup{
		Name: "peer-b", ChannelIDs: []types.ChannelID{1, 2},
		Strategy: types.GroupAverage, Enabled: true,
	})

	SyncGroups(set, params)

	// 100.5 rounds half up to 101.
	out, _ := set.OutboundFee(1)
	assert.Equal(t, int64(101), out)
	out, _ = set.OutboundFee(2)
	assert.Equal(t, int64(101), out)
}

func TestSyncGroupsStatic(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, 100)
	set.SetOutboundFee(2, 250)

	params := groupParams(types.ChannelGroup{
		Name: "peer-c", ChannelIDs: []types.ChannelID{1, 2},
		Strategy: types.GroupStatic, StaticFeePpm: 42, Enabled: true,
	})

	SyncGroups(set, params)
	for _, id := range []types.ChannelID{1, 2} {
		out, _ := set.OutboundFee(id)
		assert.Equal(t, int64(42), out, "channel %d", id)
	}
}

func TestSyncGroupsIgnoresUncomputedMembers(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, 100)
	// Channel 2 got no fee this cycle (e.g. dropped): it neither feeds the
	// derivation nor gets written.
	params := groupParams(types.ChannelGroup{
		Name: "peer-d", ChannelIDs: []types.ChannelID{1, 2},
		Strategy: types.GroupLowest, Enabled: true,
	})

	SyncGroups(set, params)
	_, ok := set.OutboundFee(2)
	assert.False(t, ok)
}

func TestSyncGroupsInboundFollowsOwnStrategy(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, 100)
	set.SetOutboundFee(2, 200)
	set.SetInboundFee(1, -10)
	set.SetInboundFee(2, -40)

	params := groupParams(types.ChannelGroup{
		Name: "peer-e", ChannelIDs: []types.ChannelID{1, 2},
		Strategy: types.GroupHighest, SyncInbound: true,
		InboundStrategy: types.GroupLowest, Enabled: true,
	})

	SyncGroups(set, params)

	out, _ := set.OutboundFee(1)
	assert.Equal(t, int64(200), out)

	// "Lowest" picks the numerically smallest value, the deepest discount.
	in, _ := set.InboundFee(1)
	assert.Equal(t, int64(-40), in)
	in, _ = set.InboundFee(2)
	assert.Equal(t, int64(-40), in)
}

func TestSyncGroupsDisabledGroupUntouched(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, 100)
	set.SetOutboundFee(2, 250)

	params := groupParams(types.ChannelGroup{
		Name: "peer-f", ChannelIDs: []types.ChannelID{1, 2},
		Strategy: types.GroupHighest, Enabled: false,
	})

	assert.Equal(t, 0, SyncGroups(set, params))
	out, _ := set.OutboundFee(1)
	assert.Equal(t, int64(100), out)
}
