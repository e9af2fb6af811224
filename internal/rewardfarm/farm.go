/*

RewardFarm: time-weighted emission of the reward token across staking pools.

The accumulator is lazy: accRewardPerShare and lastRewardTime are caught up
at the top of every mutating call, so results are identical no matter how
long the farm goes untouched. Every admin change mass-updates all pools
first, so emission and weight changes are never applied retroactively.

The harvest lockup defers payouts accrued inside a user's cooldown window
into rewardLockedUp instead of paying them, which keeps frequent small
interactions from bypassing the cooldown while leaving rewardDebt math
untouched.

*/

package rewardfarm

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/bayfield-finance/yieldengine/internal/clock"
	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/logger"
	"github.com/bayfield-finance/yieldengine/internal/types"
)

const (
	// MaxRewarders bounds the secondary rewarders attachable to one pool.
	MaxRewarders = 10

	// MaxDepositFeeBps bounds the configurable deposit fee (10%).
	MaxDepositFeeBps = uint64(1_000)

	// MaxHarvestInterval bounds the configurable harvest cooldown.
	MaxHarvestInterval = 14 * 24 * time.Hour
)

// Rewarder is the extension point for secondary reward streams. It is
// notified after every stake-amount change with the user's new total.
type Rewarder interface {
	OnReward(pid uint64, user types.Account, newStake sdkmath.Int) error
}

type poolInfo struct {
	stakeDenom        string
	allocPoint        uint64
	lastRewardTime    time.Time
	accRewardPerShare sdkmath.Int // scaled by types.RewardPrecision
	depositFeeBps     uint64
	harvestInterval   time.Duration
	totalStaked       sdkmath.Int
	rewarders         []Rewarder
}

type userInfo struct {
	amount           sdkmath.Int
	rewardDebt       sdkmath.Int
	rewardLockedUp   sdkmath.Int
	nextHarvestUntil time.Time
}

// Config wires a farm to its ledger, clock and emission policy.
type Config struct {
	Ledger *ledger.Ledger
	Clock  clock.Clock

	Account  types.Account // the farm's own ledger account
	Owner    types.Account
	Treasury types.Account
	Team     types.Account
	Investor types.Account

	RewardDenom  string
	EmissionRate sdkmath.Int // reward units minted per second across all pools
	Split        types.EmissionSplit
}

// Farm runs the reward accumulator over its staking pools.
type Farm struct {
	mu     sync.Mutex
	logger zerolog.Logger

	ledger *ledger.Ledger
	clock  clock.Clock

	account  types.Account
	owner    types.Account
	treasury types.Account
	team     types.Account
	investor types.Account

	rewardDenom  string
	emissionRate sdkmath.Int
	split        types.EmissionSplit

	totalAllocPoint uint64
	pools           []*poolInfo
	users           map[uint64]map[types.Account]*userInfo

	// totalLockedUp tracks rewards deferred by the lockup policy.
	totalLockedUp sdkmath.Int

	// totalRewardStaked is the portion of the farm's reward-denom balance
	// that is user stake, never to be paid out as rewards.
	totalRewardStaked sdkmath.Int
}

// New builds an empty farm. The emission split must leave the pool share
// non-negative.
func New(cfg Config) (*Farm, error) {
	if err := cfg.Split.Validate(); err != nil {
		return nil, err
	}
	if cfg.EmissionRate.IsNil() || cfg.EmissionRate.IsNegative() {
		return nil, fmt.Errorf("%w: emission rate %s", types.ErrZeroAmount, cfg.EmissionRate)
	}
	f := &Farm{
		logger:            logger.GetForComponent("reward_farm"),
		ledger:            cfg.Ledger,
		clock:             cfg.Clock,
		account:           cfg.Account,
		owner:             cfg.Owner,
		treasury:          cfg.Treasury,
		team:              cfg.Team,
		investor:          cfg.Investor,
		rewardDenom:       cfg.RewardDenom,
		emissionRate:      cfg.EmissionRate,
		split:             cfg.Split,
		users:             make(map[uint64]map[types.Account]*userInfo),
		totalLockedUp:     sdkmath.ZeroInt(),
		totalRewardStaked: sdkmath.ZeroInt(),
	}
	f.logger.Info().
		Str("rewardDenom", f.rewardDenom).
		Str("emissionRate", f.emissionRate.String()).
		Msg("Reward farm created")
	return f, nil
}

// Account returns the farm's ledger account.
func (f *Farm) Account() types.Account { return f.account }

// AddPool registers a staking pool. Each stake denom may back at most one
// pool. Owner-only; all pools are mass-updated first.
func (f *Farm) AddPool(caller types.Account, stakeDenom string, allocPoint uint64, depositFeeBps uint64, harvestInterval time.Duration, rewarders []Rewarder) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.owner {
		return 0, fmt.Errorf("%w: add pool", types.ErrNotOwner)
	}
	if depositFeeBps > MaxDepositFeeBps {
		return 0, fmt.Errorf("%w: deposit fee %d bps", types.ErrInvalidFee, depositFeeBps)
	}
	if harvestInterval < 0 || harvestInterval > MaxHarvestInterval {
		return 0, fmt.Errorf("%w: harvest interval %s", types.ErrInvalidFee, harvestInterval)
	}
	if len(rewarders) > MaxRewarders {
		return 0, fmt.Errorf("%w: %d", types.ErrTooManyRewarder, len(rewarders))
	}
	for _, pool := range f.pools {
		if pool.stakeDenom == stakeDenom {
			return 0, fmt.Errorf("%w: %s", types.ErrDuplicatePool, stakeDenom)
		}
	}

	f.massUpdateLocked()
	f.totalAllocPoint += allocPoint
	f.pools = append(f.pools, &poolInfo{
		stakeDenom:        stakeDenom,
		allocPoint:        allocPoint,
		lastRewardTime:    f.clock.Now(),
		accRewardPerShare: sdkmath.ZeroInt(),
		depositFeeBps:     depositFeeBps,
		harvestInterval:   harvestInterval,
		totalStaked:       sdkmath.ZeroInt(),
		rewarders:         rewarders,
	})
	pid := uint64(len(f.pools) - 1)
	f.users[pid] = make(map[types.Account]*userInfo)

	f.logger.Info().
		Uint64("pid", pid).
		Str("stakeDenom", stakeDenom).
		Uint64("allocPoint", allocPoint).
		Msg("Pool added")
	return pid, nil
}

// SetPool updates a pool's weight, fee and cooldown. Owner-only; all pools
// are mass-updated first so the new weight only applies forward.
func (f *Farm) SetPool(caller types.Account, pid uint64, allocPoint uint64, depositFeeBps uint64, harvestInterval time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.owner {
		return fmt.Errorf("%w: set pool", types.ErrNotOwner)
	}
	pool, err := f.poolLocked(pid)
	if err != nil {
		return err
	}
	if depositFeeBps > MaxDepositFeeBps {
		return fmt.Errorf("%w: deposit fee %d bps", types.ErrInvalidFee, depositFeeBps)
	}
	if harvestInterval < 0 || harvestInterval > MaxHarvestInterval {
		return fmt.Errorf("%w: harvest interval %s", types.ErrInvalidFee, harvestInterval)
	}

	f.massUpdateLocked()
	f.totalAllocPoint = f.totalAllocPoint - pool.allocPoint + allocPoint
	pool.allocPoint = allocPoint
	pool.depositFeeBps = depositFeeBps
	pool.harvestInterval = harvestInterval
	return nil
}

// UpdateAllocPoint changes only a pool's weight, leaving its fee and
// cooldown untouched. Owner-only; all pools are mass-updated first.
func (f *Farm) UpdateAllocPoint(caller types.Account, pid uint64, allocPoint uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.owner {
		return fmt.Errorf("%w: update alloc point", types.ErrNotOwner)
	}
	pool, err := f.poolLocked(pid)
	if err != nil {
		return err
	}
	f.massUpdateLocked()
	f.totalAllocPoint = f.totalAllocPoint - pool.allocPoint + allocPoint
	pool.allocPoint = allocPoint
	return nil
}

// UpdateEmissionRate replaces the global per-second emission. Owner-only;
// all pools are mass-updated first so the old rate covers the elapsed time.
func (f *Farm) UpdateEmissionRate(caller types.Account, rate sdkmath.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.owner {
		return fmt.Errorf("%w: update emission rate", types.ErrNotOwner)
	}
	if rate.IsNil() || rate.IsNegative() {
		return fmt.Errorf("%w: emission rate %s", types.ErrZeroAmount, rate)
	}
	f.massUpdateLocked()
	old := f.emissionRate
	f.emissionRate = rate

	f.logger.Info().
		Str("old", old.String()).
		Str("new", rate.String()).
		Msg("Emission rate updated")
	return nil
}

// UpdatePool catches one pool's accumulator up to now.
func (f *Farm) UpdatePool(pid uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pool, err := f.poolLocked(pid)
	if err != nil {
		return err
	}
	return f.updatePoolLocked(pool)
}

// MassUpdatePools catches every pool's accumulator up to now.
func (f *Farm) MassUpdatePools() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.massUpdateLocked()
}

// Stake settles the caller's pending reward under the lockup policy, then
// stakes amount (after the pool's deposit fee). A zero amount is a pure
// harvest attempt.
func (f *Farm) Stake(caller types.Account, pid uint64, amount sdkmath.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pool, err := f.poolLocked(pid)
	if err != nil {
		return err
	}
	if amount.IsNil() {
		amount = sdkmath.ZeroInt()
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", types.ErrZeroAmount, amount)
	}
	if err := f.updatePoolLocked(pool); err != nil {
		return err
	}

	user := f.userLocked(pid, caller)
	if err := f.settleLocked(pool, user, caller); err != nil {
		return err
	}

	if amount.IsPositive() {
		if err := f.ledger.TransferFrom(pool.stakeDenom, f.account, caller, f.account, amount); err != nil {
			return err
		}
		credited := amount
		if pool.depositFeeBps > 0 {
			fee := amount.Mul(sdkmath.NewIntFromUint64(pool.depositFeeBps)).Quo(sdkmath.NewIntFromUint64(types.MaxBasisPoints))
			if fee.IsPositive() {
				if err := f.ledger.Transfer(pool.stakeDenom, f.account, f.treasury, fee); err != nil {
					return err
				}
				credited = amount.Sub(fee)
			}
		}
		user.amount = user.amount.Add(credited)
		pool.totalStaked = pool.totalStaked.Add(credited)
		if pool.stakeDenom == f.rewardDenom {
			f.totalRewardStaked = f.totalRewardStaked.Add(credited)
		}
	}

	user.rewardDebt = user.amount.Mul(pool.accRewardPerShare).Quo(types.RewardPrecision)
	f.notifyRewardersLocked(pool, pid, caller, user.amount)

	f.logger.Debug().
		Uint64("pid", pid).
		Str("amount", amount.String()).
		Str("userStake", user.amount.String()).
		Msg("Stake processed")
	return nil
}

// Unstake settles pending reward, then returns amount of stake to the
// caller. Fails when the caller or the pool holds less than requested.
func (f *Farm) Unstake(caller types.Account, pid uint64, amount sdkmath.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pool, err := f.poolLocked(pid)
	if err != nil {
		return err
	}
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: %s", types.ErrZeroAmount, amount)
	}
	user := f.userLocked(pid, caller)
	if user.amount.LT(amount) {
		return fmt.Errorf("%w: unstake %s, staked %s", types.ErrInsufficientStake, amount, user.amount)
	}
	if pool.totalStaked.LT(amount) {
		return fmt.Errorf("%w: pool holds %s", types.ErrInsufficientStake, pool.totalStaked)
	}
	if err := f.updatePoolLocked(pool); err != nil {
		return err
	}
	if err := f.settleLocked(pool, user, caller); err != nil {
		return err
	}

	if amount.IsPositive() {
		user.amount = user.amount.Sub(amount)
		pool.totalStaked = pool.totalStaked.Sub(amount)
		if pool.stakeDenom == f.rewardDenom {
			f.totalRewardStaked = f.totalRewardStaked.Sub(amount)
		}
		if err := f.ledger.Transfer(pool.stakeDenom, f.account, caller, amount); err != nil {
			return err
		}
	}

	user.rewardDebt = user.amount.Mul(pool.accRewardPerShare).Quo(types.RewardPrecision)
	f.notifyRewardersLocked(pool, pid, caller, user.amount)
	return nil
}

// EmergencyUnstake returns the caller's full stake immediately, forfeiting
// all pending and locked rewards. It never fails for lack of reward
// liquidity: the transfer is stake, not a reward payment.
func (f *Farm) EmergencyUnstake(caller types.Account, pid uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pool, err := f.poolLocked(pid)
	if err != nil {
		return err
	}
	user := f.userLocked(pid, caller)
	amount := user.amount

	f.totalLockedUp = f.totalLockedUp.Sub(user.rewardLockedUp)
	user.amount = sdkmath.ZeroInt()
	user.rewardDebt = sdkmath.ZeroInt()
	user.rewardLockedUp = sdkmath.ZeroInt()
	user.nextHarvestUntil = time.Time{}

	if amount.IsPositive() {
		pool.totalStaked = pool.totalStaked.Sub(amount)
		if pool.stakeDenom == f.rewardDenom {
			f.totalRewardStaked = f.totalRewardStaked.Sub(amount)
		}
		if err := f.ledger.Transfer(pool.stakeDenom, f.account, caller, amount); err != nil {
			return err
		}
	}
	f.notifyRewardersLocked(pool, pid, caller, sdkmath.ZeroInt())

	f.logger.Warn().
		Uint64("pid", pid).
		Str("amount", amount.String()).
		Msg("Emergency unstake: rewards forfeited")
	return nil
}

// PendingReward projects the caller's claimable reward (including any
// locked-up portion) without mutating state.
func (f *Farm) PendingReward(pid uint64, who types.Account) (sdkmath.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pool, err := f.poolLocked(pid)
	if err != nil {
		return sdkmath.Int{}, err
	}
	user := f.userViewLocked(pid, who)

	acc := pool.accRewardPerShare
	now := f.clock.Now()
	if now.After(pool.lastRewardTime) && pool.totalStaked.IsPositive() && pool.allocPoint > 0 && f.totalAllocPoint > 0 {
		poolShare := f.poolEmissionLocked(pool, now)
		acc = acc.Add(poolShare.Mul(types.RewardPrecision).Quo(pool.totalStaked))
	}
	pending := user.amount.Mul(acc).Quo(types.RewardPrecision).Sub(user.rewardDebt)
	return pending.Add(user.rewardLockedUp), nil
}

// HarvestReadyAt returns when the user's next payout becomes eligible.
func (f *Farm) HarvestReadyAt(pid uint64, who types.Account) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.poolLocked(pid); err != nil {
		return time.Time{}, err
	}
	return f.userViewLocked(pid, who).nextHarvestUntil, nil
}

// StakedAmount returns the user's staked amount in the pool.
func (f *Farm) StakedAmount(pid uint64, who types.Account) (sdkmath.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.poolLocked(pid); err != nil {
		return sdkmath.Int{}, err
	}
	return f.userViewLocked(pid, who).amount, nil
}

// TotalLockedUp returns the farm-wide deferred reward total.
func (f *Farm) TotalLockedUp() sdkmath.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalLockedUp
}

// PoolCount returns the number of registered pools.
func (f *Farm) PoolCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pools)
}

// Snapshot captures one pool's accumulator state for persistence.
func (f *Farm) Snapshot(pid uint64) (types.FarmPoolSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pool, err := f.poolLocked(pid)
	if err != nil {
		return types.FarmPoolSnapshot{}, err
	}
	return types.FarmPoolSnapshot{
		PoolID:            pid,
		Timestamp:         f.clock.Now(),
		StakeDenom:        pool.stakeDenom,
		AllocPoint:        pool.allocPoint,
		TotalStaked:       pool.totalStaked,
		AccRewardPerShare: pool.accRewardPerShare,
		TotalLockedUp:     f.totalLockedUp,
	}, nil
}

// --- internal helpers, caller holds the lock ---

func (f *Farm) poolLocked(pid uint64) (*poolInfo, error) {
	if pid >= uint64(len(f.pools)) {
		return nil, fmt.Errorf("%w: pid %d", types.ErrUnknownPool, pid)
	}
	return f.pools[pid], nil
}

func (f *Farm) userLocked(pid uint64, who types.Account) *userInfo {
	if f.users[pid] == nil {
		f.users[pid] = make(map[types.Account]*userInfo)
	}
	user, ok := f.users[pid][who]
	if !ok {
		user = &userInfo{
			amount:         sdkmath.ZeroInt(),
			rewardDebt:     sdkmath.ZeroInt(),
			rewardLockedUp: sdkmath.ZeroInt(),
		}
		f.users[pid][who] = user
	}
	return user
}

// userViewLocked is the read-only counterpart of userLocked: queries for
// accounts that never staked must not grow the users map.
func (f *Farm) userViewLocked(pid uint64, who types.Account) userInfo {
	if m := f.users[pid]; m != nil {
		if user, ok := m[who]; ok {
			return *user
		}
	}
	return userInfo{
		amount:         sdkmath.ZeroInt(),
		rewardDebt:     sdkmath.ZeroInt(),
		rewardLockedUp: sdkmath.ZeroInt(),
	}
}

func (f *Farm) massUpdateLocked() {
	for _, pool := range f.pools {
		// A single pool failing to update must not block admin changes to
		// the others; mint failures surface on the next user interaction.
		if err := f.updatePoolLocked(pool); err != nil {
			f.logger.Error().Err(err).Str("stakeDenom", pool.stakeDenom).Msg("Pool update failed during mass update")
		}
	}
}

// updatePoolLocked is the lazy catch-up step: mint the emission accrued
// since lastRewardTime and fold the pool's share into the accumulator.
func (f *Farm) updatePoolLocked(pool *poolInfo) error {
	now := f.clock.Now()
	if !now.After(pool.lastRewardTime) {
		return nil
	}
	if pool.totalStaked.IsZero() || pool.allocPoint == 0 || f.totalAllocPoint == 0 || f.emissionRate.IsZero() {
		pool.lastRewardTime = now
		return nil
	}

	poolShare := f.poolEmissionLocked(pool, now)
	reward := f.rewardForLocked(pool, now)

	// Fee recipients are minted their fixed percentages; truncation dust is
	// simply never minted.
	if err := f.mintSplitLocked(reward); err != nil {
		return err
	}
	if poolShare.IsPositive() {
		if err := f.ledger.Mint(f.rewardDenom, f.account, poolShare); err != nil {
			return err
		}
		pool.accRewardPerShare = pool.accRewardPerShare.Add(poolShare.Mul(types.RewardPrecision).Quo(pool.totalStaked))
	}
	pool.lastRewardTime = now
	return nil
}

// rewardForLocked computes the pool's raw emission since lastRewardTime.
func (f *Farm) rewardForLocked(pool *poolInfo, now time.Time) sdkmath.Int {
	elapsed := int64(now.Sub(pool.lastRewardTime) / time.Second)
	return f.emissionRate.
		MulRaw(elapsed).
		MulRaw(int64(pool.allocPoint)).
		QuoRaw(int64(f.totalAllocPoint))
}

// poolEmissionLocked is the stakers' percentage of the pool's raw emission.
func (f *Farm) poolEmissionLocked(pool *poolInfo, now time.Time) sdkmath.Int {
	reward := f.rewardForLocked(pool, now)
	return reward.MulRaw(int64(f.split.PoolPercent())).QuoRaw(100)
}

// mintSplitLocked mints the team/treasury/investor percentages of reward.
func (f *Farm) mintSplitLocked(reward sdkmath.Int) error {
	if !reward.IsPositive() {
		return nil
	}
	parts := []struct {
		percent uint64
		to      types.Account
	}{
		{f.split.TeamPercent, f.team},
		{f.split.TreasuryPercent, f.treasury},
		{f.split.InvestorPercent, f.investor},
	}
	for _, part := range parts {
		if part.percent == 0 {
			continue
		}
		cut := reward.MulRaw(int64(part.percent)).QuoRaw(100)
		if cut.IsPositive() {
			if err := f.ledger.Mint(f.rewardDenom, part.to, cut); err != nil {
				return err
			}
		}
	}
	return nil
}

// settleLocked applies the harvest lockup policy for one user: pay out when
// the cooldown has elapsed, otherwise defer the pending amount.
func (f *Farm) settleLocked(pool *poolInfo, user *userInfo, who types.Account) error {
	now := f.clock.Now()
	if user.nextHarvestUntil.IsZero() {
		user.nextHarvestUntil = now.Add(pool.harvestInterval)
	}

	pending := user.amount.Mul(pool.accRewardPerShare).Quo(types.RewardPrecision).Sub(user.rewardDebt)

	if !now.Before(user.nextHarvestUntil) {
		total := pending.Add(user.rewardLockedUp)
		if total.IsPositive() {
			f.totalLockedUp = f.totalLockedUp.Sub(user.rewardLockedUp)
			user.rewardLockedUp = sdkmath.ZeroInt()
			user.nextHarvestUntil = now.Add(pool.harvestInterval)
			if err := f.safeRewardTransferLocked(who, total); err != nil {
				return err
			}
			f.logger.Debug().
				Str("paid", total.String()).
				Msg("Harvest paid out, cooldown reset")
		}
		return nil
	}

	if pending.IsPositive() {
		user.rewardLockedUp = user.rewardLockedUp.Add(pending)
		f.totalLockedUp = f.totalLockedUp.Add(pending)
		f.logger.Debug().
			Str("locked", pending.String()).
			Time("eligibleAt", user.nextHarvestUntil).
			Msg("Pending reward locked up during cooldown")
	}
	return nil
}

// safeRewardTransferLocked pays out rewards without ever drawing down the
// reward-denom balance that is itself user stake.
func (f *Farm) safeRewardTransferLocked(to types.Account, amount sdkmath.Int) error {
	available := f.ledger.BalanceOf(f.rewardDenom, f.account).Sub(f.totalRewardStaked)
	pay := sdkmath.MinInt(amount, available)
	if !pay.IsPositive() {
		return nil
	}
	return f.ledger.Transfer(f.rewardDenom, f.account, to, pay)
}

func (f *Farm) notifyRewardersLocked(pool *poolInfo, pid uint64, who types.Account, newStake sdkmath.Int) {
	for _, r := range pool.rewarders {
		if err := r.OnReward(pid, who, newStake); err != nil {
			f.logger.Error().Err(err).Uint64("pid", pid).Msg("Secondary rewarder notification failed")
		}
	}
}
