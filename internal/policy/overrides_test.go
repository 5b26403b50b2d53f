package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routerlab/autofee/internal/types"
)

func TestOverrideSetFieldLevelOverlay(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, 100)
	set.SetInboundFee(1, -30)

	// A later write replaces only the field it touches.
	set.SetOutboundFee(1, 120)

	out, ok := set.OutboundFee(1)
	require.True(t, ok)
	assert.Equal(t, int64(120), out)

	in, ok := set.InboundFee(1)
	require.True(t, ok)
	assert.Equal(t, int64(-30), in)
}

func TestOverrideSetClampsOutbound(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, -5)

	out, ok := set.OutboundFee(1)
	require.True(t, ok)
	assert.Equal(t, int64(0), out)

	// Inbound fees are allowed to be negative.
	set.SetInboundFee(1, -5)
	in, _ := set.InboundFee(1)
	assert.Equal(t, int64(-5), in)
}

func TestOverrideSetDropFailsClosed(t *testing.T) {
	set := NewOverrideSet()
	set.SetOutboundFee(1, 100)
	set.SetMaxForward(1, 50_000)
	set.SetOutboundFee(2, 200)

	set.Drop(1)

	_, ok := set.OutboundFee(1)
	assert.False(t, ok)
	assert.Equal(t, 1, set.Len())

	compiled := set.Compile()
	require.Len(t, compiled, 1)
	assert.Equal(t, types.ChannelID(2), compiled[0].ChannelID)
}

func TestOverrideSetCompileDeterministic(t *testing.T) {
	set := NewOverrideSet()
	base := int64(1000)
	for _, id := range []types.ChannelID{7, 3, 9, 1} {
		set.SetOutboundFee(id, int64(id)*10)
		set.SetInboundFee(id, -int64(id))
		set.SetMaxForward(id, int64(id)*1_000_000)
	}
	set.SetBaseFee(3, base)

	first := set.Compile()
	second := set.Compile()
	assert.Equal(t, first, second)

	// Ordered by channel id regardless of insertion order.
	ids := make([]types.ChannelID, 0, len(first))
	for _, o := range first {
		ids = append(ids, o.ChannelID)
	}
	assert.Equal(t, []types.ChannelID{1, 3, 7, 9}, ids)

	require.NotNil(t, first[1].BaseFeeMsat)
	assert.Equal(t, base, *first[1].BaseFeeMsat)
	assert.Nil(t, first[0].BaseFeeMsat)
}
