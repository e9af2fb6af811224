// ./internal/state/receipt_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/bayfield-finance/yieldengine/internal/types"
)

// SaveHarvestReceipt persists the outcome of one harvest attempt.
func SaveHarvestReceipt(receipt types.HarvestReceipt) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO harvest_receipts (
			receipt_id, strategy_id, caller, harvest_timestamp,
			harvested, fees_native, balance_before, balance_after,
			success, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`

	_, err := DB.Exec(
		query,
		receipt.ReceiptID, receipt.StrategyID, string(receipt.Caller), receipt.Timestamp,
		receipt.Harvested.String(), receipt.FeesNative.String(),
		receipt.BalanceBefore.String(), receipt.BalanceAfter.String(),
		receipt.Success, receipt.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to save harvest receipt: %w", err)
	}

	log.Info().
		Str("receipt_id", receipt.ReceiptID).
		Uint64("strategy_id", receipt.StrategyID).
		Bool("success", receipt.Success).
		Msg("Harvest receipt saved to database")
	return nil
}

// GetRecentHarvestReceipts returns the most recent receipts, newest first.
func GetRecentHarvestReceipts(limit int) ([]types.HarvestReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT receipt_id, strategy_id, caller, harvest_timestamp,
			harvested, fees_native, balance_before, balance_after,
			success, COALESCE(error_message, '')
		FROM harvest_receipts
		ORDER BY harvest_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query harvest receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.HarvestReceipt
	for rows.Next() {
		var receipt types.HarvestReceipt
		var caller string
		var timestamp time.Time
		var harvested, fees, before, after string
		if err := rows.Scan(
			&receipt.ReceiptID, &receipt.StrategyID, &caller, &timestamp,
			&harvested, &fees, &before, &after,
			&receipt.Success, &receipt.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan harvest receipt: %w", err)
		}
		receipt.Caller = types.Account(caller)
		receipt.Timestamp = timestamp
		if receipt.Harvested, err = parseNumeric(harvested); err != nil {
			return nil, err
		}
		if receipt.FeesNative, err = parseNumeric(fees); err != nil {
			return nil, err
		}
		if receipt.BalanceBefore, err = parseNumeric(before); err != nil {
			return nil, err
		}
		if receipt.BalanceAfter, err = parseNumeric(after); err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate harvest receipts: %w", err)
	}
	return receipts, nil
}

// GetLastHarvestTime returns the timestamp of the last successful harvest
// for a strategy, or the zero time when none exists.
func GetLastHarvestTime(strategyID uint64) (time.Time, error) {
	if DB == nil {
		return time.Time{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT harvest_timestamp
		FROM harvest_receipts
		WHERE strategy_id = $1 AND success = TRUE
		ORDER BY harvest_timestamp DESC
		LIMIT 1;
	`

	var ts time.Time
	err := DB.QueryRow(query, strategyID).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last harvest time: %w", err)
	}
	return ts, nil
}

// parseNumeric converts a NUMERIC column value back to an integer amount.
func parseNumeric(value string) (sdkmath.Int, error) {
	amount, ok := sdkmath.NewIntFromString(value)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid numeric value in database: %s", value)
	}
	return amount, nil
}
