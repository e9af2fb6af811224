/*

The keeper is the engine's autonomous operator: on a fixed interval it
triggers a harvest on every registered strategy, writes a receipt for each
attempt, and periodically persists vault and farm snapshots.

Harvest failures never stop the loop. A failing strategy is put on a backoff
so a broken swap route is not hammered every cycle; any rewards already
claimed stay idle on the strategy and are compounded by the next successful
harvest.

*/

package keeper

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bayfield-finance/yieldengine/internal/clock"
	"github.com/bayfield-finance/yieldengine/internal/config"
	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/logger"
	"github.com/bayfield-finance/yieldengine/internal/rewardfarm"
	"github.com/bayfield-finance/yieldengine/internal/state"
	"github.com/bayfield-finance/yieldengine/internal/strategy"
	"github.com/bayfield-finance/yieldengine/internal/types"
	"github.com/bayfield-finance/yieldengine/internal/vault"
)

// Target is one strategy the keeper harvests, with the accounts its fees
// are paid to so receipts can record the fee flow.
type Target struct {
	ID          uint64
	Strategy    *strategy.FarmStrategy
	FeeAccounts []types.Account
}

// Config holds the dependencies for creating a new Keeper instance.
type Config struct {
	Ledger      *ledger.Ledger
	Clock       clock.Clock
	Vault       *vault.ShareVault
	Farm        *rewardfarm.Farm
	Targets     []Target
	Account     types.Account // receives the caller share of harvest fees
	NativeDenom string
	Backoff     time.Duration // wait before retrying a failed strategy
}

// Keeper runs the periodic harvest cycle.
type Keeper struct {
	logger zerolog.Logger

	ledger      *ledger.Ledger
	clock       clock.Clock
	vault       *vault.ShareVault
	farm        *rewardfarm.Farm
	targets     []Target
	account     types.Account
	nativeDenom string
	backoff     time.Duration

	cycleCount int
	lastFailed map[uint64]time.Time
}

// New creates a keeper. All dependencies are required.
func New(cfg Config) (*Keeper, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault cannot be nil")
	}
	if cfg.Farm == nil {
		return nil, fmt.Errorf("farm cannot be nil")
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("at least one harvest target is required")
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = config.DefaultKeeperBackoff
	}

	k := &Keeper{
		logger:      logger.GetForComponent("keeper"),
		ledger:      cfg.Ledger,
		clock:       cfg.Clock,
		vault:       cfg.Vault,
		farm:        cfg.Farm,
		targets:     cfg.Targets,
		account:     cfg.Account,
		nativeDenom: cfg.NativeDenom,
		backoff:     backoff,
		lastFailed:  make(map[uint64]time.Time),
	}

	k.logger.Info().
		Int("targets", len(k.targets)).
		Dur("backoff", k.backoff).
		Msg("Keeper instance created")
	return k, nil
}

// RunLoop starts the main keeper loop with the specified interval.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.logger.Info().
		Dur("interval", interval).
		Msg("Starting keeper main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	k.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.RunCycle(ctx)
		}
	}
}

// RunCycle harvests every eligible target once and persists the results.
func (k *Keeper) RunCycle(ctx context.Context) {
	k.cycleCount++
	cycleID := uuid.New().String()
	cycleLogger := k.logger.With().Str("cycle_id", cycleID).Int("cycle", k.cycleCount).Logger()

	cycleLogger.Info().Msg("--- Starting harvest cycle ---")

	for _, target := range k.targets {
		select {
		case <-ctx.Done():
			cycleLogger.Info().Msg("Harvest cycle interrupted")
			return
		default:
		}
		k.harvestTarget(cycleLogger, target)
	}

	if k.cycleCount%config.SnapshotEveryCycles == 0 {
		k.persistSnapshots(cycleLogger)
	}

	cycleLogger.Info().Msg("--- Harvest cycle completed ---")
}

// harvestTarget runs one harvest attempt and records a receipt for it.
func (k *Keeper) harvestTarget(cycleLogger zerolog.Logger, target Target) {
	if target.Strategy.Retired() {
		return
	}
	if target.Strategy.Paused() {
		cycleLogger.Debug().Uint64("strategy_id", target.ID).Msg("Strategy paused, skipping harvest")
		return
	}
	now := k.clock.Now()
	if failedAt, ok := k.lastFailed[target.ID]; ok && now.Sub(failedAt) < k.backoff {
		cycleLogger.Debug().
			Uint64("strategy_id", target.ID).
			Time("failed_at", failedAt).
			Msg("Strategy in failure backoff, skipping harvest")
		return
	}

	balanceBefore := target.Strategy.Balance()
	feesBefore := k.feeBalances(target)

	err := target.Strategy.Harvest(k.account)

	balanceAfter := target.Strategy.Balance()
	feesNative := k.feeBalances(target).Sub(feesBefore)

	harvested := balanceAfter.Sub(balanceBefore)
	if harvested.IsNegative() {
		harvested = sdkmath.ZeroInt()
	}

	receipt := types.HarvestReceipt{
		ReceiptID:     uuid.New().String(),
		StrategyID:    target.ID,
		Caller:        k.account,
		Timestamp:     now,
		Harvested:     harvested,
		FeesNative:    feesNative,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		Success:       err == nil,
	}

	if err != nil {
		k.lastFailed[target.ID] = now
		receipt.ErrorMessage = err.Error()
		cycleLogger.Error().
			Err(err).
			Uint64("strategy_id", target.ID).
			Msg("Harvest failed, strategy placed on backoff")
	} else {
		delete(k.lastFailed, target.ID)
		cycleLogger.Info().
			Uint64("strategy_id", target.ID).
			Str("harvested", harvested.String()).
			Str("fees_native", feesNative.String()).
			Msg("Harvest succeeded")
	}

	if saveErr := state.SaveHarvestReceipt(receipt); saveErr != nil {
		cycleLogger.Error().Err(saveErr).Msg("Failed to persist harvest receipt")
	}
}

// feeBalances sums the native balances of the target's fee recipients.
func (k *Keeper) feeBalances(target Target) sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, account := range target.FeeAccounts {
		total = total.Add(k.ledger.BalanceOf(k.nativeDenom, account))
	}
	return total
}

// persistSnapshots writes the vault and farm state to the database.
func (k *Keeper) persistSnapshots(cycleLogger zerolog.Logger) {
	if _, err := state.SaveVaultSnapshot(k.vault.Snapshot()); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to persist vault snapshot")
	}
	for pid := uint64(0); pid < uint64(k.farm.PoolCount()); pid++ {
		snapshot, err := k.farm.Snapshot(pid)
		if err != nil {
			cycleLogger.Error().Err(err).Uint64("pid", pid).Msg("Failed to snapshot farm pool")
			continue
		}
		if err := state.SaveFarmPoolSnapshot(snapshot); err != nil {
			cycleLogger.Error().Err(err).Uint64("pid", pid).Msg("Failed to persist farm pool snapshot")
		}
	}
}
