// ./internal/state/snapshot_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/routerlab/autofee/internal/types"
)

// SaveCycleSnapshot persists the record of one completed pipeline run and
// returns its snapshot_id.
func SaveCycleSnapshot(snap types.CycleSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	stagesJSON, err := json.Marshal(snap.StageResults)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal stage results: %w", err)
	}
	overridesJSON, err := json.Marshal(snap.Overrides)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal overrides: %w", err)
	}

	stmt := `
        INSERT INTO cycle_snapshots (
            cycle_number, cycle_id, snapshot_timestamp, params_id, dry_run,
            channel_count, events_ingested, events_skipped, override_count,
            stage_results, overrides, duration_ms
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING snapshot_id;`

	var snapshotID int64
	err = DB.QueryRow(
		stmt,
		snap.CycleNumber, snap.CycleID, snap.Timestamp, snap.ParamsID, snap.DryRun,
		snap.ChannelCount, snap.EventsIngested, snap.EventsSkipped, snap.OverrideCount,
		stagesJSON, overridesJSON, snap.DurationMs,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert cycle snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snap.CycleNumber).
		Str("cycle_id", snap.CycleID).
		Msg("Saved cycle snapshot")
	return snapshotID, nil
}

// GetRecentCycleSnapshots returns up to limit snapshots, newest first.
func GetRecentCycleSnapshots(limit int) ([]types.CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := DB.Query(`
        SELECT snapshot_id, cycle_number, cycle_id, snapshot_timestamp, params_id, dry_run,
               channel_count, events_ingested, events_skipped, override_count,
               stage_results, overrides, duration_ms
        FROM cycle_snapshots
        ORDER BY snapshot_timestamp DESC
        LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []types.CycleSnapshot
	for rows.Next() {
		snap, err := scanCycleSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycle snapshots: %w", err)
	}
	return snaps, nil
}

// GetLatestCycleSnapshot returns the most recent snapshot, or nil when no
// cycle has completed yet.
func GetLatestCycleSnapshot() (*types.CycleSnapshot, error) {
	snaps, err := GetRecentCycleSnapshots(1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

func scanCycleSnapshot(rows *sql.Rows) (types.CycleSnapshot, error) {
	var snap types.CycleSnapshot
	var stagesJSON, overridesJSON []byte
	err := rows.Scan(
		&snap.SnapshotID, &snap.CycleNumber, &snap.CycleID, &snap.Timestamp, &snap.ParamsID, &snap.DryRun,
		&snap.ChannelCount, &snap.EventsIngested, &snap.EventsSkipped, &snap.OverrideCount,
		&stagesJSON, &overridesJSON, &snap.DurationMs,
	)
	if err != nil {
		return types.CycleSnapshot{}, fmt.Errorf("failed to scan cycle snapshot: %w", err)
	}
	if len(stagesJSON) > 0 {
		if err := json.Unmarshal(stagesJSON, &snap.StageResults); err != nil {
			return types.CycleSnapshot{}, fmt.Errorf("failed to unmarshal stage results: %w", err)
		}
	}
	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &snap.Overrides); err != nil {
			return types.CycleSnapshot{}, fmt.Errorf("failed to unmarshal overrides: %w", err)
		}
	}
	return snap, nil
}
