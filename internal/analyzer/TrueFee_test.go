package analyzer

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
)

func TestReconstructTrueFeeAddsBackDiscount(t *testing.T) {
	// 1,000,000 msat forwarded at 100 ppm should have earned 100 msat; the
	// node settled 70 because a -30 ppm inbound discount was in force. The
	// missing 30 msat are attributed back.
	feeMsat, feePpm := ReconstructTrueFee(1_000_000, 70, 100, 0, true)
	assert.Equal(t, int64(100), feeMsat)
	assert.True(t, feePpm.Equal(sdkmath.LegacyNewDec(100)), "got %s", feePpm)
}

func TestReconstructTrueFeeIncludesBaseFee(t *testing.T) {
	feeMsat, feePpm := ReconstructTrueFee(1_000_000, 70, 100, 1000, true)
	assert.Equal(t, int64(1100), feeMsat)
	assert.True(t, feePpm.Equal(sdkmath.LegacyNewDec(1100)), "got %s", feePpm)
}

func TestReconstructTrueFeeNeverReduces(t *testing.T) {
	// The settled fee exceeds expectation (rates changed in flight); the
	// inference is one-sided and keeps the higher value.
	feeMsat, feePpm := ReconstructTrueFee(1_000_000, 150, 100, 0, true)
	assert.Equal(t, int64(150), feeMsat)
	assert.True(t, feePpm.Equal(sdkmath.LegacyNewDec(150)), "got %s", feePpm)
}

func TestReconstructTrueFeeUnknownPolicy(t *testing.T) {
	// Without a known policy there is nothing to correct against.
	feeMsat, feePpm := ReconstructTrueFee(1_000_000, 70, 0, 0, false)
	assert.Equal(t, int64(70), feeMsat)
	assert.True(t, feePpm.Equal(sdkmath.LegacyNewDec(70)), "got %s", feePpm)
}

func TestReconstructTrueFeeZeroAmount(t *testing.T) {
	feeMsat, feePpm := ReconstructTrueFee(0, 70, 100, 0, true)
	assert.Equal(t, int64(70), feeMsat)
	assert.True(t, feePpm.IsZero())
}
