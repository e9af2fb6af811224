/*

This file contains the default economic parameters for the engine.

These values are the starting point for a production deployment; owners can
move them at runtime through the admin operations, and every change only
applies forward from the moment it lands.

*/

package config

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/bayfield-finance/yieldengine/internal/types"
)

// DefaultHarvestFees is the baseline three-way split charged on harvested
// rewards, in basis points of the native proceeds.
var DefaultHarvestFees = types.FeeSplit{
	StrategistBps: 112, // 1.12% to the strategist who maintains the strategy.
	TreasuryBps:   288, // 2.88% to the protocol treasury.
	CallerBps:     50,  // 0.50% to whoever triggered the harvest.
	// The total of 4.5% is deliberately on the low side: fees are charged on
	// every harvest, so a high rate compounds against depositors quickly.
}

// DefaultSlippageBps is the baseline tolerance for swap and liquidity
// operations. 100 bps keeps small pools usable without accepting real loss;
// owners should tighten this for deep pools.
const DefaultSlippageBps = uint64(100)

// DefaultEmissionRate is the reward units minted per second across all farm
// pools before the emission split is applied.
var DefaultEmissionRate = sdkmath.NewInt(1_000_000)

// DefaultEmissionSplit reserves a quarter of every emission tick for the
// protocol parties; stakers receive the remaining 75%.
var DefaultEmissionSplit = types.EmissionSplit{
	TeamPercent:     10,
	TreasuryPercent: 10,
	InvestorPercent: 5,
}

// DefaultHarvestCooldown is the baseline per-user farm payout cooldown.
// Rewards accrued inside the window are locked up, not lost.
var DefaultHarvestCooldown = 8 * time.Hour

// DefaultKeeperBackoff is how long the keeper waits before retrying a
// strategy whose harvest failed, to avoid hammering a broken route.
var DefaultKeeperBackoff = 30 * time.Minute

// SnapshotEveryCycles controls how often the keeper persists a full vault
// snapshot in addition to per-harvest receipts.
const SnapshotEveryCycles = 4
