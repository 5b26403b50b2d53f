package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/routerlab/autofee/internal/types"
)

func stagnationParams() types.PolicyParameters {
	return types.PolicyParameters{
		StagnationWindowHours:    24,
		StagnationRatioThreshold: 0.20,
		StagnationReductionPct:   0.5,
	}
}

func TestStagnationMarksIdleLiquidChannel(t *testing.T) {
	now := time.Now()

	// Liquid channel with no ledger events at all.
	st := EvaluateStagnation(nil, 42, 0.5, nil, now, stagnationParams())
	assert.True(t, st.IsStagnant)
	assert.Equal(t, now, st.TransitionTime)

	// Liquid channel whose last event is older than the window.
	old := now.Add(-48 * time.Hour)
	st = EvaluateStagnation(nil, 42, 0.5, &old, now, stagnationParams())
	assert.True(t, st.IsStagnant)
}

func TestStagnationSkipsActiveOrDrainedChannels(t *testing.T) {
	now := time.Now()

	// Recent activity.
	recent := now.Add(-2 * time.Hour)
	st := EvaluateStagnation(nil, 42, 0.5, &recent, now, stagnationParams())
	assert.False(t, st.IsStagnant)

	// Drained channel is idle because it has nothing to forward.
	st = EvaluateStagnation(nil, 42, 0.1, nil, now, stagnationParams())
	assert.False(t, st.IsStagnant)
}

func TestStagnationClearsOnlyOnNewerEvent(t *testing.T) {
	now := time.Now()
	transition := now.Add(-72 * time.Hour)
	prior := &types.StagnationState{
		ChannelID: 42, IsStagnant: true, TransitionTime: transition,
	}

	// An event older than the transition does not clear it, and neither does
	// liquidity alone.
	stale := transition.Add(-time.Hour)
	st := EvaluateStagnation(prior, 42, 0.5, &stale, now, stagnationParams())
	assert.True(t, st.IsStagnant)

	st = EvaluateStagnation(prior, 42, 0.1, nil, now, stagnationParams())
	assert.True(t, st.IsStagnant)

	// A genuinely new routing event clears the state.
	fresh := transition.Add(time.Hour)
	st = EvaluateStagnation(prior, 42, 0.5, &fresh, now, stagnationParams())
	assert.False(t, st.IsStagnant)
	assert.Equal(t, now, st.TransitionTime)
}

func TestReduceStagnantFee(t *testing.T) {
	// 0.5% of 1000 is 5.
	assert.Equal(t, int64(995), ReduceStagnantFee(1000, 0.5))

	// Small fees still move by at least 1 ppm.
	assert.Equal(t, int64(99), ReduceStagnantFee(100, 0.5))
	assert.Equal(t, int64(0), ReduceStagnantFee(1, 0.5))

	// Negative fees (inbound discounts) shrink in magnitude, never deepen.
	assert.Equal(t, int64(-29), ReduceStagnantFee(-30, 0.5))
	assert.Equal(t, int64(0), ReduceStagnantFee(-1, 0.5))

	// Never crosses zero.
	assert.Equal(t, int64(0), ReduceStagnantFee(0, 0.5))
}
