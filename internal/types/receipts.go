/*

Receipt and snapshot types persisted by the keeper after each harvest cycle.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// HarvestReceipt records the outcome of one strategy harvest.
type HarvestReceipt struct {
	ReceiptID     string      `json:"receipt_id"`
	StrategyID    uint64      `json:"strategy_id"`
	Caller        Account     `json:"caller"`
	Timestamp     time.Time   `json:"timestamp"`
	Harvested     sdkmath.Int `json:"harvested"`      // deposit asset produced by compounding
	FeesNative    sdkmath.Int `json:"fees_native"`    // native paid out across the three fee recipients
	BalanceBefore sdkmath.Int `json:"balance_before"` // strategy balance before the harvest
	BalanceAfter  sdkmath.Int `json:"balance_after"`
	Success       bool        `json:"success"`
	ErrorMessage  string      `json:"error_message,omitempty"`
}

// VaultSnapshot captures the vault's accounting state at a point in time.
type VaultSnapshot struct {
	SnapshotID    int64       `json:"snapshot_id,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	TotalAssets   sdkmath.Int `json:"total_assets"`
	TotalShares   sdkmath.Int `json:"total_shares"`
	PricePerShare sdkmath.Int `json:"price_per_share"` // scaled by SharePriceScale
	IdleAssets    sdkmath.Int `json:"idle_assets"`
	StrategyID    uint64      `json:"strategy_id"`
	Paused        bool        `json:"paused"`
}

// FarmPoolSnapshot captures one reward-farm pool's accumulator state.
type FarmPoolSnapshot struct {
	PoolID            uint64      `json:"pool_id"`
	Timestamp         time.Time   `json:"timestamp"`
	StakeDenom        string      `json:"stake_denom"`
	AllocPoint        uint64      `json:"alloc_point"`
	TotalStaked       sdkmath.Int `json:"total_staked"`
	AccRewardPerShare sdkmath.Int `json:"acc_reward_per_share"`
	TotalLockedUp     sdkmath.Int `json:"total_locked_up"`
}
