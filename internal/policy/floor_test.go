package policy

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routerlab/autofee/internal/types"
)

func TestApplyFloorsStaticOnlyRaises(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, 50)
	set.SetOutboundFee(2, 300)

	params := types.PolicyParameters{FloorRules: []types.FloorRule{
		{ChannelID: 1, Kind: types.FloorStatic, StaticPpm: 100, Enabled: true},
		{ChannelID: 2, Kind: types.FloorStatic, StaticPpm: 100, Enabled: true},
	}}

	raised := ApplyFloors(set, nil, params)
	assert.Equal(t, 1, raised)

	out, _ := set.OutboundFee(1)
	assert.Equal(t, int64(100), out)
	out, _ = set.OutboundFee(2)
	assert.Equal(t, int64(300), out)
}

func TestApplyFloorsEmaPct(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, 10)
	emas := map[types.ChannelID]sdkmath.LegacyDec{1: sdkmath.LegacyNewDec(200)}

	params := types.PolicyParameters{FloorRules: []types.FloorRule{
		{ChannelID: 1, Kind: types.FloorEmaPct, EmaPct: 25, Enabled: true},
	}}

	raised := ApplyFloors(set, emas, params)
	assert.Equal(t, 1, raised)

	out, _ := set.OutboundFee(1)
	assert.Equal(t, int64(50), out)
}

func TestApplyFloorsSkipsUncomputedChannels(t *testing.T) {
	set := NewOverrideSet()

	params := types.PolicyParameters{FloorRules: []types.FloorRule{
		{ChannelID: 1, Kind: types.FloorStatic, StaticPpm: 100, Enabled: true},
		{ChannelID: 2, Kind: types.FloorStatic, StaticPpm: 100, Enabled: false},
	}}

	raised := ApplyFloors(set, nil, params)
	assert.Equal(t, 0, raised)
	// The floor constrains output, it does not invent one.
	_, ok := set.OutboundFee(1)
	assert.False(t, ok)
}

func TestApplyFloorsIdempotent(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, 50)

	params := types.PolicyParameters{FloorRules: []types.FloorRule{
		{ChannelID: 1, Kind: types.FloorStatic, StaticPpm: 100, Enabled: true},
	}}

	require.Equal(t, 1, ApplyFloors(set, nil, params))
	assert.Equal(t, 0, ApplyFloors(set, nil, params))

	out, _ := set.OutboundFee(1)
	assert.Equal(t, int64(100), out)
}
