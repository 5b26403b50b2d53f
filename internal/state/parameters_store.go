// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/routerlab/autofee/internal/types"
)

func marshalJSONB(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameter table: %w", err)
	}
	return b, nil
}

func unmarshalJSONB(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal parameter table: %w", err)
	}
	return nil
}

// SavePolicyParameters saves a new version of pipeline parameters.
func SavePolicyParameters(params types.PolicyParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	exemptJSON, err := marshalJSONB(params.RemoteFeeCheckExempt)
	if err != nil {
		return 0, err
	}
	pivotsJSON, err := marshalJSONB(params.PivotOverrides)
	if err != nil {
		return 0, err
	}
	floorsJSON, err := marshalJSONB(params.FloorRules)
	if err != nil {
		return 0, err
	}
	groupsJSON, err := marshalJSONB(params.ChannelGroups)
	if err != nil {
		return 0, err
	}
	includeJSON, err := marshalJSONB(params.IncludeChannels)
	if err != nil {
		return 0, err
	}
	excludeJSON, err := marshalJSONB(params.ExcludeChannels)
	if err != nil {
		return 0, err
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE policy_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO policy_parameters (
            version, config_name, is_active, activated_at, created_at,
            alpha, ema_floor_ppm, retention_days,
            adjustment_factor, default_pivot, low_fee_damping_ppm,
            trigger_threshold, remove_threshold,
            initial_discount_pct, increment_discount_pct, max_discount_pct, remote_fee_ceiling_ppm,
            stagnation_window_hours, stagnation_ratio_threshold, stagnation_reduction_pct,
            max_htlc_ratio, reserve_offset, min_max_forward_msat,
            remote_fee_check_exempt, pivot_overrides, floor_rules, channel_groups, include_channels, exclude_channels
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6, $7, $8,
            $9, $10, $11,
            $12, $13,
            $14, $15, $16, $17,
            $18, $19, $20,
            $21, $22, $23,
            $24, $25, $26, $27, $28, $29
        ) RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		params.Alpha, params.EmaFloorPpm, params.RetentionDays,
		params.AdjustmentFactor, params.DefaultPivot, params.LowFeeDampingPpm,
		params.TriggerThreshold, params.RemoveThreshold,
		params.InitialDiscountPct, params.IncrementDiscountPct, params.MaxDiscountPct, params.RemoteFeeCeilingPpm,
		params.StagnationWindowHours, params.StagnationRatioThreshold, params.StagnationReductionPct,
		params.MaxHtlcRatio, params.ReserveOffset, params.MinMaxForwardMsat,
		exemptJSON, pivotsJSON, floorsJSON, groupsJSON, includeJSON, excludeJSON,
	).Scan(&paramsID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert policy parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved policy parameters")
	return paramsID, nil
}

// LoadActivePolicyParameters loads the currently active pipeline parameters.
func LoadActivePolicyParameters(configName string) (*types.PolicyParameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT
            alpha, ema_floor_ppm, retention_days,
            adjustment_factor, default_pivot, low_fee_damping_ppm,
            trigger_threshold, remove_threshold,
            initial_discount_pct, increment_discount_pct, max_discount_pct, remote_fee_ceiling_ppm,
            stagnation_window_hours, stagnation_ratio_threshold, stagnation_reduction_pct,
            max_htlc_ratio, reserve_offset, min_max_forward_msat,
            remote_fee_check_exempt, pivot_overrides, floor_rules, channel_groups, include_channels, exclude_channels
        FROM policy_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	p := &types.PolicyParameters{}
	var exemptJSON, pivotsJSON, floorsJSON, groupsJSON, includeJSON, excludeJSON []byte
	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&p.Alpha, &p.EmaFloorPpm, &p.RetentionDays,
		&p.AdjustmentFactor, &p.DefaultPivot, &p.LowFeeDampingPpm,
		&p.TriggerThreshold, &p.RemoveThreshold,
		&p.InitialDiscountPct, &p.IncrementDiscountPct, &p.MaxDiscountPct, &p.RemoteFeeCeilingPpm,
		&p.StagnationWindowHours, &p.StagnationRatioThreshold, &p.StagnationReductionPct,
		&p.MaxHtlcRatio, &p.ReserveOffset, &p.MinMaxForwardMsat,
		&exemptJSON, &pivotsJSON, &floorsJSON, &groupsJSON, &includeJSON, &excludeJSON,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active policy parameters found for config '%s'", configName)
		}
		return nil, fmt.Errorf("failed to scan active policy parameters for config '%s': %w", configName, err)
	}

	if err := unmarshalJSONB(exemptJSON, &p.RemoteFeeCheckExempt); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(pivotsJSON, &p.PivotOverrides); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(floorsJSON, &p.FloorRules); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(groupsJSON, &p.ChannelGroups); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(includeJSON, &p.IncludeChannels); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(excludeJSON, &p.ExcludeChannels); err != nil {
		return nil, err
	}

	log.Info().Str("config", configName).Msg("Loaded active policy parameters")
	return p, nil
}

// GetActivePolicyParametersID returns the params_id of the currently active parameters
func GetActivePolicyParametersID(configName string) (*int64, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT params_id
        FROM policy_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var paramsID int64
	row := DB.QueryRow(query, configName)
	err := row.Scan(&paramsID)

	if err != nil {
		if err == sql.ErrNoRows {
			// No active parameters found - this is valid, return nil
			log.Debug().Str("config", configName).Msg("No active policy parameters found")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active policy parameters ID for config '%s': %w", configName, err)
	}

	return &paramsID, nil
}
