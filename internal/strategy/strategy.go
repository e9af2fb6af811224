/*

Farm strategy: deploys the vault's LP deposit asset into an external farm,
and on harvest claims farm rewards, charges the three-way fee split in the
native token, compounds the remainder back into more of the deposit asset
and re-stakes it.

The min-LP slippage guard off the pool's reserves and total supply is the
primary defense against price manipulation during a harvest. A harvest that
fails mid-sequence leaves claimed rewards idle on the strategy account; the
next harvest picks them up again, so nothing is lost to a transient market
failure.

*/

package strategy

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/bayfield-finance/yieldengine/internal/amm"
	"github.com/bayfield-finance/yieldengine/internal/chef"
	"github.com/bayfield-finance/yieldengine/internal/clock"
	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/logger"
	"github.com/bayfield-finance/yieldengine/internal/types"
)

// swapDeadline bounds every router call issued by a harvest.
const swapDeadline = 10 * time.Minute

// maxAllowance is the standing approval granted to the router and farm.
var maxAllowance = sdkmath.NewIntWithDecimal(1, 30)

type state int

const (
	stateActive state = iota
	statePaused
	stateRetired
)

// RewardRoute declares how one farm reward token is converted: to the
// native settlement token for fees, and to the two components of the
// deposit LP for compounding. A route may be empty when its source and
// destination token are the same.
type RewardRoute struct {
	Token    string
	ToNative types.Route
	ToLP0    types.Route
	ToLP1    types.Route
}

// Config wires a farm strategy to its collaborators and policy.
type Config struct {
	Ledger *ledger.Ledger
	Router amm.Router
	Farm   chef.Farm
	Clock  clock.Clock

	Account       types.Account // the strategy's own ledger account
	VaultAccount  types.Account // the one vault allowed to move funds
	Owner         types.Account
	Strategist    types.Account
	Treasury      types.Account
	RouterAccount types.Account // spender account for router allowances
	FarmAccount   types.Account // spender account for farm allowances

	WantDenom   string // the deposit asset, a two-token LP
	NativeDenom string
	PoolID      uint64 // pool id in the external farm

	Output      RewardRoute
	Secondaries []RewardRoute

	Fees             types.FeeSplit
	SlippageBps      uint64
	HarvestOnDeposit bool
}

// FarmStrategy implements the vault's Strategy surface over an external farm.
type FarmStrategy struct {
	mu     sync.Mutex
	logger zerolog.Logger

	ledger *ledger.Ledger
	router amm.Router
	farm   chef.Farm
	clock  clock.Clock

	account       types.Account
	vaultAccount  types.Account
	owner         types.Account
	strategist    types.Account
	treasury      types.Account
	routerAccount types.Account
	farmAccount   types.Account

	wantDenom   string
	nativeDenom string
	lp0Denom    string
	lp1Denom    string
	poolID      uint64

	output      RewardRoute
	secondaries []RewardRoute

	fees             types.FeeSplit
	slippageBps      uint64
	harvestOnDeposit bool

	state       state
	lastHarvest time.Time
}

// NewSingleReward builds a strategy for a farm that emits one reward token.
func NewSingleReward(cfg Config) (*FarmStrategy, error) {
	if len(cfg.Secondaries) != 0 {
		return nil, fmt.Errorf("%w: single-reward strategy cannot take secondary routes", types.ErrInvalidRoute)
	}
	return newFarmStrategy(cfg)
}

// NewMultiReward builds a strategy for a farm that emits a primary output
// token plus secondary reward tokens.
func NewMultiReward(cfg Config) (*FarmStrategy, error) {
	if len(cfg.Secondaries) == 0 {
		return nil, fmt.Errorf("%w: multi-reward strategy needs at least one secondary route", types.ErrInvalidRoute)
	}
	return newFarmStrategy(cfg)
}

func newFarmStrategy(cfg Config) (*FarmStrategy, error) {
	if err := cfg.Fees.Validate(); err != nil {
		return nil, err
	}
	if cfg.SlippageBps >= types.MaxBasisPoints {
		return nil, fmt.Errorf("%w: %d bps", types.ErrInvalidSlippage, cfg.SlippageBps)
	}

	lp0, lp1, err := cfg.Router.PairTokens(cfg.WantDenom)
	if err != nil {
		return nil, fmt.Errorf("deposit asset %s is not a known pair: %w", cfg.WantDenom, err)
	}

	// Route endpoints are checked here, at configuration time, never at
	// harvest time.
	for _, rr := range append([]RewardRoute{cfg.Output}, cfg.Secondaries...) {
		if err := validateRewardRoute(rr, cfg.NativeDenom, lp0, lp1); err != nil {
			return nil, err
		}
	}

	s := &FarmStrategy{
		logger:           logger.GetForComponent("farm_strategy"),
		ledger:           cfg.Ledger,
		router:           cfg.Router,
		farm:             cfg.Farm,
		clock:            cfg.Clock,
		account:          cfg.Account,
		vaultAccount:     cfg.VaultAccount,
		owner:            cfg.Owner,
		strategist:       cfg.Strategist,
		treasury:         cfg.Treasury,
		routerAccount:    cfg.RouterAccount,
		farmAccount:      cfg.FarmAccount,
		wantDenom:        cfg.WantDenom,
		nativeDenom:      cfg.NativeDenom,
		lp0Denom:         lp0,
		lp1Denom:         lp1,
		poolID:           cfg.PoolID,
		output:           cfg.Output,
		secondaries:      cfg.Secondaries,
		fees:             cfg.Fees,
		slippageBps:      cfg.SlippageBps,
		harvestOnDeposit: cfg.HarvestOnDeposit,
		state:            stateActive,
	}
	if err := s.grantAllowances(); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("want", s.wantDenom).
		Str("output", s.output.Token).
		Int("secondaryRewards", len(s.secondaries)).
		Uint64("poolId", s.poolID).
		Msg("Farm strategy constructed")
	return s, nil
}

func validateRewardRoute(rr RewardRoute, native, lp0, lp1 string) error {
	if rr.Token == "" {
		return fmt.Errorf("%w: reward token is empty", types.ErrInvalidRoute)
	}
	if err := validateLeg(rr.Token, native, rr.ToNative); err != nil {
		return err
	}
	if err := validateLeg(rr.Token, lp0, rr.ToLP0); err != nil {
		return err
	}
	return validateLeg(rr.Token, lp1, rr.ToLP1)
}

// validateLeg accepts an empty route only when no conversion is needed.
func validateLeg(from, to string, route types.Route) error {
	if from == to {
		if len(route) != 0 {
			return fmt.Errorf("%w: route given for identical tokens %s", types.ErrInvalidRoute, from)
		}
		return nil
	}
	return route.Validate(from, to)
}

// Account returns the strategy's ledger account.
func (s *FarmStrategy) Account() types.Account { return s.account }

// DepositAsset returns the denom this strategy deploys.
func (s *FarmStrategy) DepositAsset() string { return s.wantDenom }

// Paused reports whether the strategy refuses deposits.
func (s *FarmStrategy) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == statePaused
}

// Retired reports whether the strategy has been terminally shut down.
func (s *FarmStrategy) Retired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRetired
}

// LastHarvest returns the timestamp of the most recent harvest.
func (s *FarmStrategy) LastHarvest() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHarvest
}

// Balance returns idle deposit asset plus the staked farm position. This is
// what the vault's totalAssets reads through the active-strategy pointer.
func (s *FarmStrategy) Balance() sdkmath.Int {
	idle := s.ledger.BalanceOf(s.wantDenom, s.account)
	staked, err := s.farm.UserInfo(s.poolID, s.account)
	if err != nil {
		return idle
	}
	return idle.Add(staked)
}

// Deposit stakes amount of the deposit asset already transferred to the
// strategy. Vault-only, active-only. With harvestOnDeposit set, pending
// yield is compounded first so fee accrual is never diluted by new capital.
func (s *FarmStrategy) Deposit(caller types.Account, amount sdkmath.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.vaultAccount {
		return fmt.Errorf("%w: deposit", types.ErrNotVault)
	}
	if s.state != stateActive {
		return fmt.Errorf("%w: deposit", types.ErrPaused)
	}
	if s.harvestOnDeposit {
		if err := s.harvestLocked(s.strategist); err != nil {
			return fmt.Errorf("harvest on deposit: %w", err)
		}
	}
	return s.depositIdleLocked()
}

// DepositAll stakes the strategy's entire idle balance. Vault-only.
func (s *FarmStrategy) DepositAll(caller types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.vaultAccount {
		return fmt.Errorf("%w: deposit all", types.ErrNotVault)
	}
	if s.state != stateActive {
		return fmt.Errorf("%w: deposit all", types.ErrPaused)
	}
	return s.depositIdleLocked()
}

// Withdraw returns up to amount of the deposit asset to the vault, pulling
// the shortfall out of the farm. The farm returning slightly less than
// requested degrades the delivered amount, never aborts.
func (s *FarmStrategy) Withdraw(caller types.Account, amount sdkmath.Int) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.vaultAccount {
		return sdkmath.Int{}, fmt.Errorf("%w: withdraw", types.ErrNotVault)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", types.ErrZeroAmount, amount)
	}

	idle := s.ledger.BalanceOf(s.wantDenom, s.account)
	if idle.LT(amount) {
		staked, err := s.farm.UserInfo(s.poolID, s.account)
		if err != nil {
			return sdkmath.Int{}, err
		}
		shortfall := sdkmath.MinInt(amount.Sub(idle), staked)
		if shortfall.IsPositive() {
			if err := s.farm.Withdraw(s.account, s.poolID, shortfall); err != nil {
				return sdkmath.Int{}, err
			}
		}
		idle = s.ledger.BalanceOf(s.wantDenom, s.account)
	}

	delivered := sdkmath.MinInt(amount, idle)
	if err := s.ledger.Transfer(s.wantDenom, s.account, s.vaultAccount, delivered); err != nil {
		return sdkmath.Int{}, err
	}
	return delivered, nil
}

// WithdrawAll empties the farm position and sends everything to the vault.
func (s *FarmStrategy) WithdrawAll(caller types.Account) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.vaultAccount {
		return sdkmath.Int{}, fmt.Errorf("%w: withdraw all", types.ErrNotVault)
	}
	return s.withdrawAllLocked()
}

// Retire terminally shuts the strategy down, returning all funds to the
// vault. Vault-only.
func (s *FarmStrategy) Retire(caller types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.vaultAccount {
		return fmt.Errorf("%w: retire", types.ErrNotVault)
	}
	if s.state == stateRetired {
		return types.ErrStrategyRetired
	}
	if _, err := s.withdrawAllLocked(); err != nil {
		return err
	}
	s.revokeAllowances()
	s.state = stateRetired
	s.logger.Warn().Uint64("poolId", s.poolID).Msg("Strategy retired")
	return nil
}

// Harvest claims farm rewards, charges fees, compounds the remainder into
// the deposit asset and re-stakes it. Callable by anyone; the caller names
// the fee-reward recipient (usually itself). A harvest that finds nothing to
// compound still stamps lastHarvest and succeeds.
func (s *FarmStrategy) Harvest(recipient types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return fmt.Errorf("%w: harvest", types.ErrPaused)
	}
	return s.harvestLocked(recipient)
}

func (s *FarmStrategy) harvestLocked(recipient types.Account) error {
	// A zero-amount deposit forces the farm to pay out pending rewards
	// without touching the position.
	if err := s.farm.Deposit(s.account, s.poolID, sdkmath.ZeroInt()); err != nil {
		return fmt.Errorf("claim farm rewards: %w", err)
	}

	for _, rr := range s.secondaries {
		if err := s.processRewardLocked(rr, recipient); err != nil {
			return err
		}
	}
	if err := s.processRewardLocked(s.output, recipient); err != nil {
		return err
	}
	if err := s.depositIdleLocked(); err != nil {
		return err
	}

	s.lastHarvest = s.clock.Now()
	s.logger.Info().
		Time("at", s.lastHarvest).
		Str("balance", s.Balance().String()).
		Msg("Harvest processed")
	return nil
}

// processRewardLocked charges fees on one reward token's balance and
// compounds the remainder into the deposit LP.
func (s *FarmStrategy) processRewardLocked(rr RewardRoute, recipient types.Account) error {
	bal := s.ledger.BalanceOf(rr.Token, s.account)
	if !bal.IsPositive() {
		return nil
	}
	if err := s.chargeFeesLocked(rr, bal, recipient); err != nil {
		return fmt.Errorf("charge fees on %s: %w", rr.Token, err)
	}
	if err := s.compoundLocked(rr); err != nil {
		return fmt.Errorf("compound %s: %w", rr.Token, err)
	}
	return nil
}

// chargeFeesLocked swaps the fee-proportional slice of the reward balance to
// native and splits it caller / treasury / strategist, in that order.
func (s *FarmStrategy) chargeFeesLocked(rr RewardRoute, bal sdkmath.Int, recipient types.Account) error {
	totalBps := s.fees.Total()
	if totalBps == 0 {
		return nil
	}
	toNative := bal.Mul(sdkmath.NewIntFromUint64(totalBps)).Quo(sdkmath.NewIntFromUint64(types.MaxBasisPoints))
	if !toNative.IsPositive() {
		return nil
	}

	nativeBefore := s.ledger.BalanceOf(s.nativeDenom, s.account)
	if rr.Token != s.nativeDenom {
		if _, err := s.router.SwapExactIn(s.account, toNative, sdkmath.OneInt(), rr.ToNative, s.account, s.deadline()); err != nil {
			return err
		}
	}
	nativeGained := s.ledger.BalanceOf(s.nativeDenom, s.account).Sub(nativeBefore)
	if rr.Token == s.nativeDenom {
		nativeGained = toNative
	}

	total := sdkmath.NewIntFromUint64(totalBps)
	callerCut := nativeGained.Mul(sdkmath.NewIntFromUint64(s.fees.CallerBps)).Quo(total)
	treasuryCut := nativeGained.Mul(sdkmath.NewIntFromUint64(s.fees.TreasuryBps)).Quo(total)
	strategistCut := nativeGained.Sub(callerCut).Sub(treasuryCut)

	if err := s.ledger.Transfer(s.nativeDenom, s.account, recipient, callerCut); err != nil {
		return err
	}
	if err := s.ledger.Transfer(s.nativeDenom, s.account, s.treasury, treasuryCut); err != nil {
		return err
	}
	if err := s.ledger.Transfer(s.nativeDenom, s.account, s.strategist, strategistCut); err != nil {
		return err
	}

	s.logger.Debug().
		Str("token", rr.Token).
		Str("native", nativeGained.String()).
		Str("caller", callerCut.String()).
		Str("treasury", treasuryCut.String()).
		Str("strategist", strategistCut.String()).
		Msg("Harvest fees distributed")
	return nil
}

// compoundLocked converts the remaining reward balance into the two LP
// components and adds liquidity under the min-LP guard.
func (s *FarmStrategy) compoundLocked(rr RewardRoute) error {
	bal := s.ledger.BalanceOf(rr.Token, s.account)
	if !bal.IsPositive() {
		return nil
	}

	half := bal.QuoRaw(2)
	rest := bal.Sub(half)
	if rr.Token != s.lp0Denom && half.IsPositive() {
		if _, err := s.router.SwapExactIn(s.account, half, sdkmath.OneInt(), rr.ToLP0, s.account, s.deadline()); err != nil {
			return err
		}
	}
	if rr.Token != s.lp1Denom && rest.IsPositive() {
		if _, err := s.router.SwapExactIn(s.account, rest, sdkmath.OneInt(), rr.ToLP1, s.account, s.deadline()); err != nil {
			return err
		}
	}

	lp0Bal := s.ledger.BalanceOf(s.lp0Denom, s.account)
	lp1Bal := s.ledger.BalanceOf(s.lp1Denom, s.account)
	if !lp0Bal.IsPositive() || !lp1Bal.IsPositive() {
		return nil
	}
	return s.addLiquidityLocked(lp0Bal, lp1Bal)
}

// addLiquidityLocked adds the component balances to the pool, requiring at
// least the reserve-implied liquidity scaled down by the slippage bound. The
// bound is translated into per-component minimums the router checks before
// moving any funds, so a breach leaves the components idle on the strategy.
func (s *FarmStrategy) addLiquidityLocked(amount0, amount1 sdkmath.Int) error {
	reserve0, reserve1, err := s.router.GetReserves(s.wantDenom)
	if err != nil {
		return err
	}
	supply, err := s.router.LPTotalSupply(s.wantDenom)
	if err != nil {
		return err
	}

	min0 := sdkmath.ZeroInt()
	min1 := sdkmath.ZeroInt()
	if supply.IsPositive() && reserve0.IsPositive() && reserve1.IsPositive() {
		by0 := amount0.Mul(supply).Quo(reserve0)
		by1 := amount1.Mul(supply).Quo(reserve1)
		expected := sdkmath.MinInt(by0, by1)
		keepBps := sdkmath.NewIntFromUint64(types.MaxBasisPoints - s.slippageBps)
		minLiquidity := expected.Mul(keepBps).Quo(sdkmath.NewIntFromUint64(types.MaxBasisPoints))
		if minLiquidity.IsPositive() {
			// Minted liquidity is min(used0*supply/reserve0, used1*supply/reserve1),
			// so component floors of ceil(minLiquidity*reserve/supply) guarantee it.
			min0 = minLiquidity.Mul(reserve0).Add(supply.SubRaw(1)).Quo(supply)
			min1 = minLiquidity.Mul(reserve1).Add(supply.SubRaw(1)).Quo(supply)
		}
	}

	_, _, minted, err := s.router.AddLiquidity(
		s.account, s.lp0Denom, s.lp1Denom,
		amount0, amount1,
		min0, min1,
		s.account, s.deadline(),
	)
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("amount0", amount0.String()).
		Str("amount1", amount1.String()).
		Str("minted", minted.String()).
		Msg("Compounded into LP")
	return nil
}

// Pause stops deposits and revokes router/farm allowances. Owner-only.
func (s *FarmStrategy) Pause(caller types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.owner {
		return fmt.Errorf("%w: pause", types.ErrNotOwner)
	}
	if s.state != stateActive {
		return fmt.Errorf("%w: pause", types.ErrPaused)
	}
	s.revokeAllowances()
	s.state = statePaused
	s.logger.Warn().Msg("Strategy paused")
	return nil
}

// Unpause re-grants allowances and re-deploys any idle balance. Owner-only.
func (s *FarmStrategy) Unpause(caller types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.owner {
		return fmt.Errorf("%w: unpause", types.ErrNotOwner)
	}
	if s.state != statePaused {
		return types.ErrNotPaused
	}
	if err := s.grantAllowances(); err != nil {
		return err
	}
	s.state = stateActive
	s.logger.Info().Msg("Strategy unpaused, redeploying idle funds")
	return s.depositIdleLocked()
}

// Panic pauses and force-withdraws the entire farm position into the
// strategy itself for manual recovery. Owner-only.
func (s *FarmStrategy) Panic(caller types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.owner {
		return fmt.Errorf("%w: panic", types.ErrNotOwner)
	}
	if err := s.farm.EmergencyWithdraw(s.account, s.poolID); err != nil {
		return err
	}
	s.revokeAllowances()
	s.state = statePaused
	s.logger.Error().Uint64("poolId", s.poolID).Msg("Strategy panicked: position force-withdrawn, deposits paused")
	return nil
}

// SetFees replaces the fee split. Rejected if the sum would exceed 100%.
// Owner-only.
func (s *FarmStrategy) SetFees(caller types.Account, fees types.FeeSplit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.owner {
		return fmt.Errorf("%w: set fees", types.ErrNotOwner)
	}
	if err := fees.Validate(); err != nil {
		return err
	}
	s.fees = fees
	return nil
}

// SetSlippage updates the harvest slippage bound. Owner-only.
func (s *FarmStrategy) SetSlippage(caller types.Account, bps uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.owner {
		return fmt.Errorf("%w: set slippage", types.ErrNotOwner)
	}
	if bps >= types.MaxBasisPoints {
		return fmt.Errorf("%w: %d bps", types.ErrInvalidSlippage, bps)
	}
	s.slippageBps = bps
	return nil
}

// --- internal helpers, caller holds the lock ---

func (s *FarmStrategy) depositIdleLocked() error {
	idle := s.ledger.BalanceOf(s.wantDenom, s.account)
	if !idle.IsPositive() {
		return nil
	}
	return s.farm.Deposit(s.account, s.poolID, idle)
}

func (s *FarmStrategy) withdrawAllLocked() (sdkmath.Int, error) {
	staked, err := s.farm.UserInfo(s.poolID, s.account)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if staked.IsPositive() {
		if err := s.farm.Withdraw(s.account, s.poolID, staked); err != nil {
			return sdkmath.Int{}, err
		}
	}
	idle := s.ledger.BalanceOf(s.wantDenom, s.account)
	if idle.IsPositive() {
		if err := s.ledger.Transfer(s.wantDenom, s.account, s.vaultAccount, idle); err != nil {
			return sdkmath.Int{}, err
		}
	}
	return idle, nil
}

// grantAllowances approves the router and farm to pull the tokens the
// harvest cycle moves through them.
func (s *FarmStrategy) grantAllowances() error {
	denoms := s.spendableDenoms()
	for _, denom := range denoms {
		if err := s.ledger.Approve(denom, s.account, s.routerAccount, maxAllowance); err != nil {
			return err
		}
	}
	return s.ledger.Approve(s.wantDenom, s.account, s.farmAccount, maxAllowance)
}

func (s *FarmStrategy) revokeAllowances() {
	zero := sdkmath.ZeroInt()
	for _, denom := range s.spendableDenoms() {
		_ = s.ledger.Approve(denom, s.account, s.routerAccount, zero)
	}
	_ = s.ledger.Approve(s.wantDenom, s.account, s.farmAccount, zero)
}

func (s *FarmStrategy) spendableDenoms() []string {
	seen := map[string]bool{}
	denoms := []string{}
	add := func(d string) {
		if d != "" && !seen[d] {
			seen[d] = true
			denoms = append(denoms, d)
		}
	}
	add(s.output.Token)
	for _, rr := range s.secondaries {
		add(rr.Token)
	}
	add(s.lp0Denom)
	add(s.lp1Denom)
	add(s.wantDenom)
	return denoms
}

func (s *FarmStrategy) deadline() time.Time {
	return s.clock.Now().Add(swapDeadline)
}
