// ./internal/state/snapshot_store.go
package state

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bayfield-finance/yieldengine/internal/types"
)

// SaveVaultSnapshot saves a vault accounting snapshot to the database.
func SaveVaultSnapshot(snapshot types.VaultSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO vault_snapshots (
			snapshot_timestamp, total_assets, total_shares,
			price_per_share, idle_assets, strategy_id, paused
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err := DB.QueryRow(
		query,
		snapshot.Timestamp,
		snapshot.TotalAssets.String(), snapshot.TotalShares.String(),
		snapshot.PricePerShare.String(), snapshot.IdleAssets.String(),
		snapshot.StrategyID, snapshot.Paused,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save vault snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Str("total_assets", snapshot.TotalAssets.String()).
		Str("price_per_share", snapshot.PricePerShare.String()).
		Msg("Vault snapshot saved to database")
	return snapshotID, nil
}

// GetRecentVaultSnapshots returns the most recent snapshots, newest first.
func GetRecentVaultSnapshots(limit int) ([]types.VaultSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_id, snapshot_timestamp, total_assets, total_shares,
			price_per_share, idle_assets, strategy_id, paused
		FROM vault_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.VaultSnapshot
	for rows.Next() {
		var snapshot types.VaultSnapshot
		var timestamp time.Time
		var assets, shares, price, idle string
		if err := rows.Scan(
			&snapshot.SnapshotID, &timestamp, &assets, &shares,
			&price, &idle, &snapshot.StrategyID, &snapshot.Paused,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vault snapshot: %w", err)
		}
		snapshot.Timestamp = timestamp
		if snapshot.TotalAssets, err = parseNumeric(assets); err != nil {
			return nil, err
		}
		if snapshot.TotalShares, err = parseNumeric(shares); err != nil {
			return nil, err
		}
		if snapshot.PricePerShare, err = parseNumeric(price); err != nil {
			return nil, err
		}
		if snapshot.IdleAssets, err = parseNumeric(idle); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vault snapshots: %w", err)
	}
	return snapshots, nil
}

// SaveFarmPoolSnapshot saves one farm pool's accumulator state.
func SaveFarmPoolSnapshot(snapshot types.FarmPoolSnapshot) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO farm_pool_snapshots (
			pool_id, snapshot_timestamp, stake_denom, alloc_point,
			total_staked, acc_reward_per_share, total_locked_up
		) VALUES ($1, $2, $3, $4, $5, $6, $7);
	`

	_, err := DB.Exec(
		query,
		snapshot.PoolID, snapshot.Timestamp, snapshot.StakeDenom, snapshot.AllocPoint,
		snapshot.TotalStaked.String(), snapshot.AccRewardPerShare.String(),
		snapshot.TotalLockedUp.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save farm pool snapshot: %w", err)
	}

	log.Debug().
		Uint64("pool_id", snapshot.PoolID).
		Str("total_staked", snapshot.TotalStaked.String()).
		Msg("Farm pool snapshot saved to database")
	return nil
}
