// ./internal/state/fee_state_store.go
package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/routerlab/autofee/internal/types"
)

// parseLegacyDec converts a NUMERIC column value into a LegacyDec.
func parseLegacyDec(s string) (sdkmath.LegacyDec, error) {
	dec, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("failed to parse decimal %q: %w", s, err)
	}
	return dec, nil
}

// LoadAverageFee returns the channel's EMA record, or nil when the channel
// has never been tracked.
func LoadAverageFee(chanID types.ChannelID) (*types.AverageFeeState, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var st types.AverageFeeState
	var emaStr string
	err := DB.QueryRow(`
		SELECT chan_id, ema_ppm, updated_at
		FROM avg_fee_state
		WHERE chan_id = $1`, int64(chanID)).Scan(&chanID, &emaStr, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load avg fee state for channel %d: %w", chanID, err)
	}
	st.ChannelID = chanID
	ema, err := parseLegacyDec(emaStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt ema_ppm for channel %d: %w", chanID, err)
	}
	st.EmaPpm = ema
	return &st, nil
}

// SaveAverageFee upserts the channel's EMA record as a whole. There is no
// partial update path, so a crashed writer cannot leave a mixed record.
func SaveAverageFee(st types.AverageFeeState) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`
		INSERT INTO avg_fee_state (chan_id, ema_ppm, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (chan_id) DO UPDATE SET
			ema_ppm = EXCLUDED.ema_ppm,
			updated_at = EXCLUDED.updated_at`,
		int64(st.ChannelID), st.EmaPpm.String())
	if err != nil {
		return fmt.Errorf("failed to save avg fee state for channel %d: %w", st.ChannelID, err)
	}
	return nil
}

// LoadDiscountState returns the channel's inbound discount record, or nil
// when none has been created yet.
func LoadDiscountState(chanID types.ChannelID) (*types.InboundDiscountState, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var st types.InboundDiscountState
	var id int64
	err := DB.QueryRow(`
		SELECT chan_id, discount_ppm, current_pct, has_crossed_trigger, updated_at
		FROM inbound_discount_state
		WHERE chan_id = $1`, int64(chanID)).Scan(&id, &st.DiscountPpm, &st.CurrentPct, &st.HasCrossedTrigger, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load discount state for channel %d: %w", chanID, err)
	}
	st.ChannelID = types.ChannelID(id)
	return &st, nil
}

// SaveDiscountState upserts the channel's discount record as a whole.
func SaveDiscountState(st types.InboundDiscountState) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`
		INSERT INTO inbound_discount_state (chan_id, discount_ppm, current_pct, has_crossed_trigger, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (chan_id) DO UPDATE SET
			discount_ppm = EXCLUDED.discount_ppm,
			current_pct = EXCLUDED.current_pct,
			has_crossed_trigger = EXCLUDED.has_crossed_trigger,
			updated_at = EXCLUDED.updated_at`,
		int64(st.ChannelID), st.DiscountPpm, st.CurrentPct, st.HasCrossedTrigger)
	if err != nil {
		return fmt.Errorf("failed to save discount state for channel %d: %w", st.ChannelID, err)
	}
	return nil
}

// LoadStagnationState returns the channel's stagnation record, or nil when
// none has been created yet.
func LoadStagnationState(chanID types.ChannelID) (*types.StagnationState, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var st types.StagnationState
	var id int64
	err := DB.QueryRow(`
		SELECT chan_id, is_stagnant, last_ratio, transition_time, updated_at
		FROM stagnation_state
		WHERE chan_id = $1`, int64(chanID)).Scan(&id, &st.IsStagnant, &st.LastRatio, &st.TransitionTime, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stagnation state for channel %d: %w", chanID, err)
	}
	st.ChannelID = types.ChannelID(id)
	return &st, nil
}

// SaveStagnationState upserts the channel's stagnation record as a whole.
func SaveStagnationState(st types.StagnationState) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`
		INSERT INTO stagnation_state (chan_id, is_stagnant, last_ratio, transition_time, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (chan_id) DO UPDATE SET
			is_stagnant = EXCLUDED.is_stagnant,
			last_ratio = EXCLUDED.last_ratio,
			transition_time = EXCLUDED.transition_time,
			updated_at = EXCLUDED.updated_at`,
		int64(st.ChannelID), st.IsStagnant, st.LastRatio, st.TransitionTime)
	if err != nil {
		return fmt.Errorf("failed to save stagnation state for channel %d: %w", st.ChannelID, err)
	}
	return nil
}
