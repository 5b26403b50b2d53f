package analyzer

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routerlab/autofee/internal/types"
)

func emaParams() types.PolicyParameters {
	return types.PolicyParameters{
		Alpha:         0.15,
		EmaFloorPpm:   10,
		RetentionDays: 14,
	}
}

func eventWithPpm(ppm int64) types.RoutingEvent {
	return types.RoutingEvent{
		ChannelID:  42,
		Timestamp:  time.Now(),
		AmtOutMsat: 1_000_000,
		TrueFeePpm: sdkmath.LegacyNewDec(ppm),
	}
}

func TestUpdateAverageFeeSeedsFromFirstEvent(t *testing.T) {
	events := []types.RoutingEvent{eventWithPpm(50), eventWithPpm(100)}

	st, err := UpdateAverageFee(nil, 42, events, 500, emaParams())
	require.NoError(t, err)

	// Seeded at 50, then folds 100: 0.15*100 + 0.85*50 = 57.5.
	assert.True(t, st.EmaPpm.Equal(sdkmath.LegacyMustNewDecFromStr("57.5")), "got %s", st.EmaPpm)
	assert.Equal(t, types.ChannelID(42), st.ChannelID)
}

func TestUpdateAverageFeeSeedsFromCurrentFee(t *testing.T) {
	st, err := UpdateAverageFee(nil, 42, nil, 500, emaParams())
	require.NoError(t, err)
	assert.True(t, st.EmaPpm.Equal(sdkmath.LegacyNewDec(500)), "got %s", st.EmaPpm)
}

func TestUpdateAverageFeeCarriesForwardOnZeroEvents(t *testing.T) {
	prior := &types.AverageFeeState{ChannelID: 42, EmaPpm: sdkmath.LegacyNewDec(80)}

	st, err := UpdateAverageFee(prior, 42, nil, 500, emaParams())
	require.NoError(t, err)
	assert.True(t, st.EmaPpm.Equal(sdkmath.LegacyNewDec(80)), "got %s", st.EmaPpm)
}

func TestUpdateAverageFeeStaysBetweenOldAndNew(t *testing.T) {
	prior := &types.AverageFeeState{ChannelID: 42, EmaPpm: sdkmath.LegacyNewDec(100)}

	st, err := UpdateAverageFee(prior, 42, []types.RoutingEvent{eventWithPpm(200)}, 0, emaParams())
	require.NoError(t, err)
	assert.True(t, st.EmaPpm.GT(sdkmath.LegacyNewDec(100)), "got %s", st.EmaPpm)
	assert.True(t, st.EmaPpm.LT(sdkmath.LegacyNewDec(200)), "got %s", st.EmaPpm)
}

func TestUpdateAverageFeeFloorsAfterEveryUpdate(t *testing.T) {
	prior := &types.AverageFeeState{ChannelID: 42, EmaPpm: sdkmath.LegacyNewDec(12)}

	// A burst of free forwards cannot drag the EMA below the floor.
	events := []types.RoutingEvent{eventWithPpm(0), eventWithPpm(0), eventWithPpm(0)}
	st, err := UpdateAverageFee(prior, 42, events, 0, emaParams())
	require.NoError(t, err)
	assert.True(t, st.EmaPpm.GTE(sdkmath.LegacyNewDec(10)), "got %s", st.EmaPpm)
}

func TestUpdateAverageFeeFloorsSeed(t *testing.T) {
	st, err := UpdateAverageFee(nil, 42, nil, 0, emaParams())
	require.NoError(t, err)
	assert.True(t, st.EmaPpm.Equal(sdkmath.LegacyNewDec(10)), "got %s", st.EmaPpm)
}
