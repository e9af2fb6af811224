/*

ShareVault: pooled deposits of a single asset, proportional claim shares, and
an indirection to exactly one active strategy.

Share issuance rounds down and burn-for-asset rounds up, so the vault never
owes more assets than it holds claims against. Shares live on the asset
ledger as their own denom, which keeps sum(holder balances) == totalShares by
construction and lets the reward farm stake them like any other token.

*/

package vault

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/bayfield-finance/yieldengine/internal/clock"
	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/logger"
	"github.com/bayfield-finance/yieldengine/internal/types"
)

// Strategy is the capability surface the vault requires from a yield
// strategy. The vault depends only on this interface; concrete strategies
// live in internal/strategy.
type Strategy interface {
	// Account is the ledger account holding the strategy's funds.
	Account() types.Account

	// DepositAsset is the denom the strategy deploys.
	DepositAsset() string

	// Paused reports whether the strategy currently refuses deposits.
	Paused() bool

	// Retired reports whether the strategy has been terminally retired.
	Retired() bool

	// Deposit deploys amount of the deposit asset already held by the
	// strategy. Vault-only.
	Deposit(caller types.Account, amount sdkmath.Int) error

	// Withdraw pulls up to amount back to the vault and returns what was
	// actually delivered. Vault-only.
	Withdraw(caller types.Account, amount sdkmath.Int) (sdkmath.Int, error)

	// WithdrawAll empties the strategy back to the vault. Vault-only.
	WithdrawAll(caller types.Account) (sdkmath.Int, error)

	// Retire terminally shuts the strategy down, returning all funds to the
	// vault. Vault-only.
	Retire(caller types.Account) error

	// Balance is the strategy's total deployed plus idle deposit asset.
	Balance() sdkmath.Int
}

// registeredStrategy tags a strategy with its monotonically assigned id.
type registeredStrategy struct {
	id       uint64
	strategy Strategy
}

// ShareVault custodies the deposit asset and mints proportional shares.
type ShareVault struct {
	mu     sync.Mutex
	logger zerolog.Logger

	ledger     *ledger.Ledger
	clock      clock.Clock
	account    types.Account
	owner      types.Account
	assetDenom string
	shareDenom string

	registry []registeredStrategy
	nextID   uint64
	activeID uint64 // 0 while no strategy is active

	paused      bool
	initialized bool
}

// New creates an empty, uninitialized vault. The share denom is registered
// on the ledger as part of construction.
func New(l *ledger.Ledger, clk clock.Clock, account, owner types.Account, assetDenom, shareDenom string) (*ShareVault, error) {
	if err := l.Register(shareDenom); err != nil {
		return nil, err
	}
	v := &ShareVault{
		logger:     logger.GetForComponent("share_vault"),
		ledger:     l,
		clock:      clk,
		account:    account,
		owner:      owner,
		assetDenom: assetDenom,
		shareDenom: shareDenom,
		nextID:     1,
	}
	v.logger.Info().
		Str("asset", assetDenom).
		Str("shares", shareDenom).
		Msg("ShareVault created")
	return v, nil
}

// Account returns the vault's ledger account.
func (v *ShareVault) Account() types.Account { return v.account }

// ShareDenom returns the denom of the vault's claim token.
func (v *ShareVault) ShareDenom() string { return v.shareDenom }

// AssetDenom returns the denom of the vault's deposit asset.
func (v *ShareVault) AssetDenom() string { return v.assetDenom }

// AddStrategy registers a strategy, assigning it the next id. A strategy may
// be registered at most once. Owner-only.
func (v *ShareVault) AddStrategy(caller types.Account, s Strategy) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return 0, fmt.Errorf("%w: add strategy", types.ErrNotOwner)
	}
	for _, reg := range v.registry {
		if reg.strategy == s {
			return 0, types.ErrDuplicateStrategy
		}
	}
	id := v.nextID
	v.nextID++
	v.registry = append(v.registry, registeredStrategy{id: id, strategy: s})

	v.logger.Info().Uint64("strategyId", id).Str("asset", s.DepositAsset()).Msg("Strategy registered")
	return id, nil
}

// Initialize opens the vault for deposits, binding it to the given
// registered strategy. May be called exactly once. Owner-only.
func (v *ShareVault) Initialize(caller types.Account, strategyID uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return fmt.Errorf("%w: initialize", types.ErrNotOwner)
	}
	if v.initialized {
		return types.ErrAlreadyInitialized
	}
	if err := v.activateLocked(strategyID); err != nil {
		return err
	}
	v.initialized = true

	v.logger.Info().Uint64("strategyId", strategyID).Msg("Vault initialized and open for deposits")
	return nil
}

// SetActiveStrategy swaps the active-strategy pointer to another registered
// strategy. Existing funds are first pulled back from the old strategy, then
// redeployed into the new one. Owner-only, blocked while paused.
func (v *ShareVault) SetActiveStrategy(caller types.Account, strategyID uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return fmt.Errorf("%w: set active strategy", types.ErrNotOwner)
	}
	if v.paused {
		return fmt.Errorf("%w: set active strategy", types.ErrPaused)
	}
	if old := v.activeLocked(); old != nil {
		if _, err := old.WithdrawAll(v.account); err != nil {
			return fmt.Errorf("recall from outgoing strategy: %w", err)
		}
	}
	if err := v.activateLocked(strategyID); err != nil {
		return err
	}
	return v.deployIdleLocked()
}

// activateLocked validates and sets the active pointer. Caller holds the lock.
func (v *ShareVault) activateLocked(strategyID uint64) error {
	reg := v.lookupLocked(strategyID)
	if reg == nil {
		return fmt.Errorf("%w: id %d", types.ErrUnknownStrategy, strategyID)
	}
	s := reg.strategy
	if s.Paused() || s.Retired() {
		return fmt.Errorf("%w: strategy %d", types.ErrPaused, strategyID)
	}
	if s.DepositAsset() != v.assetDenom {
		return fmt.Errorf("%w: strategy wants %s, vault holds %s", types.ErrAssetMismatch, s.DepositAsset(), v.assetDenom)
	}
	v.activeID = strategyID
	return nil
}

// RetireStrategy pulls all funds back from the active strategy and clears
// the active pointer. Share count is untouched. Owner-only.
func (v *ShareVault) RetireStrategy(caller types.Account) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return fmt.Errorf("%w: retire strategy", types.ErrNotOwner)
	}
	s := v.activeLocked()
	if s == nil {
		return types.ErrUnknownStrategy
	}
	if err := s.Retire(v.account); err != nil {
		return err
	}
	v.logger.Warn().Uint64("strategyId", v.activeID).Msg("Strategy retired, funds recalled to vault")
	v.activeID = 0
	return nil
}

// Pause blocks deposit/mint/withdraw/redeem and strategy activation. Owner-only.
func (v *ShareVault) Pause(caller types.Account) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return fmt.Errorf("%w: pause", types.ErrNotOwner)
	}
	if v.paused {
		return types.ErrPaused
	}
	v.paused = true
	v.logger.Warn().Msg("Vault paused")
	return nil
}

// Unpause reopens the vault and redeploys any idle balance to the active
// strategy. Owner-only.
func (v *ShareVault) Unpause(caller types.Account) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return fmt.Errorf("%w: unpause", types.ErrNotOwner)
	}
	if !v.paused {
		return types.ErrNotPaused
	}
	v.paused = false
	v.logger.Info().Msg("Vault unpaused")
	return v.deployIdleLocked()
}

// Deposit pulls amount of the asset from the caller, mints proportional
// shares to the receiver (rounded down), and forwards the asset to the
// active strategy.
func (v *ShareVault) Deposit(caller types.Account, amount sdkmath.Int, receiver types.Account) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.entryPreconditionsLocked(amount); err != nil {
		return sdkmath.Int{}, err
	}

	shares := v.convertToSharesLocked(amount)
	if !shares.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: deposit too small for one share", types.ErrZeroAmount)
	}
	if err := v.ledger.TransferFrom(v.assetDenom, v.account, caller, v.account, amount); err != nil {
		return sdkmath.Int{}, err
	}
	if err := v.ledger.Mint(v.shareDenom, receiver, shares); err != nil {
		return sdkmath.Int{}, err
	}
	if err := v.afterDepositLocked(amount); err != nil {
		return sdkmath.Int{}, err
	}

	v.logger.Debug().
		Str("amount", amount.String()).
		Str("shares", shares.String()).
		Msg("Deposit accepted")
	return shares, nil
}

// Mint issues exactly shares to the receiver, pulling the asset amount
// needed (rounded up) from the caller.
func (v *ShareVault) Mint(caller types.Account, shares sdkmath.Int, receiver types.Account) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.entryPreconditionsLocked(shares); err != nil {
		return sdkmath.Int{}, err
	}

	assets := v.convertToAssetsCeilLocked(shares)
	if err := v.ledger.TransferFrom(v.assetDenom, v.account, caller, v.account, assets); err != nil {
		return sdkmath.Int{}, err
	}
	if err := v.ledger.Mint(v.shareDenom, receiver, shares); err != nil {
		return sdkmath.Int{}, err
	}
	if err := v.afterDepositLocked(assets); err != nil {
		return sdkmath.Int{}, err
	}
	return assets, nil
}

// Withdraw burns the owner's shares covering amount (rounded up) and pays
// the asset to the receiver. If the strategy under-delivers, the transferred
// amount degrades to what was actually obtained rather than failing.
func (v *ShareVault) Withdraw(caller types.Account, amount sdkmath.Int, owner, receiver types.Account) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.entryPreconditionsLocked(amount); err != nil {
		return sdkmath.Int{}, err
	}

	shares := v.convertToSharesCeilLocked(amount)
	return v.exitLocked(caller, owner, receiver, shares, amount)
}

// Redeem burns exactly shares from the owner and pays the proportional asset
// amount (rounded down) to the receiver.
func (v *ShareVault) Redeem(caller types.Account, shares sdkmath.Int, owner, receiver types.Account) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.entryPreconditionsLocked(shares); err != nil {
		return sdkmath.Int{}, err
	}

	assets := v.convertToAssetsLocked(shares)
	return v.exitLocked(caller, owner, receiver, shares, assets)
}

// exitLocked burns shares and pays out assets with under-delivery tolerance.
func (v *ShareVault) exitLocked(caller, owner, receiver types.Account, shares, assets sdkmath.Int) (sdkmath.Int, error) {
	if !shares.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: nothing to redeem", types.ErrZeroAmount)
	}
	if bal := v.ledger.BalanceOf(v.shareDenom, owner); bal.LT(shares) {
		return sdkmath.Int{}, fmt.Errorf("%w: need %s, have %s", types.ErrInsufficientShares, shares, bal)
	}
	if caller != owner {
		// Spending someone else's shares requires a share allowance.
		if allowance := v.ledger.Allowance(v.shareDenom, owner, caller); allowance.LT(shares) {
			return sdkmath.Int{}, fmt.Errorf("%w: share allowance %s, need %s", types.ErrInsufficientAllowance, allowance, shares)
		}
		if err := v.ledger.TransferFrom(v.shareDenom, caller, owner, v.account, shares); err != nil {
			return sdkmath.Int{}, err
		}
		if err := v.ledger.Burn(v.shareDenom, v.account, shares); err != nil {
			return sdkmath.Int{}, err
		}
	} else {
		if err := v.ledger.Burn(v.shareDenom, owner, shares); err != nil {
			return sdkmath.Int{}, err
		}
	}

	actual, err := v.beforeWithdrawLocked(assets)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if actual.LT(assets) {
		v.logger.Warn().
			Str("requested", assets.String()).
			Str("delivered", actual.String()).
			Msg("Strategy under-delivered on withdrawal, degrading payout")
	}
	if err := v.ledger.Transfer(v.assetDenom, v.account, receiver, actual); err != nil {
		return sdkmath.Int{}, err
	}
	return actual, nil
}

// TotalAssets returns the vault's idle balance plus the active strategy's
// balance.
func (v *ShareVault) TotalAssets() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAssetsLocked()
}

// TotalShares returns the outstanding share supply.
func (v *ShareVault) TotalShares() sdkmath.Int {
	return v.ledger.TotalSupply(v.shareDenom)
}

// PricePerShare returns totalAssets * SCALE / totalShares, or SCALE when no
// shares are outstanding.
func (v *ShareVault) PricePerShare() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	supply := v.ledger.TotalSupply(v.shareDenom)
	if supply.IsZero() {
		return types.SharePriceScale
	}
	return v.totalAssetsLocked().Mul(types.SharePriceScale).Quo(supply)
}

// ActiveStrategyID returns the id of the active strategy, zero if none.
func (v *ShareVault) ActiveStrategyID() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.activeID
}

// Paused reports whether entry/exit operations are blocked.
func (v *ShareVault) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// Snapshot captures the vault's accounting state for persistence.
func (v *ShareVault) Snapshot() types.VaultSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	supply := v.ledger.TotalSupply(v.shareDenom)
	price := types.SharePriceScale
	if supply.IsPositive() {
		price = v.totalAssetsLocked().Mul(types.SharePriceScale).Quo(supply)
	}
	return types.VaultSnapshot{
		Timestamp:     v.clock.Now(),
		TotalAssets:   v.totalAssetsLocked(),
		TotalShares:   supply,
		PricePerShare: price,
		IdleAssets:    v.ledger.BalanceOf(v.assetDenom, v.account),
		StrategyID:    v.activeID,
		Paused:        v.paused,
	}
}

// --- internal helpers, caller holds the lock ---

func (v *ShareVault) entryPreconditionsLocked(amount sdkmath.Int) error {
	if !v.initialized {
		return types.ErrNotInitialized
	}
	if v.paused {
		return types.ErrPaused
	}
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: %s", types.ErrZeroAmount, amount)
	}
	return nil
}

func (v *ShareVault) totalAssetsLocked() sdkmath.Int {
	total := v.ledger.BalanceOf(v.assetDenom, v.account)
	if s := v.activeLocked(); s != nil {
		total = total.Add(s.Balance())
	}
	return total
}

func (v *ShareVault) convertToSharesLocked(assets sdkmath.Int) sdkmath.Int {
	supply := v.ledger.TotalSupply(v.shareDenom)
	if supply.IsZero() {
		return assets
	}
	total := v.totalAssetsLocked()
	if total.IsZero() {
		// Shares outstanding but no backing left: no amount of assets buys
		// a fair share, so entry and asset-denominated exit are refused.
		return sdkmath.ZeroInt()
	}
	return assets.Mul(supply).Quo(total)
}

func (v *ShareVault) convertToSharesCeilLocked(assets sdkmath.Int) sdkmath.Int {
	supply := v.ledger.TotalSupply(v.shareDenom)
	if supply.IsZero() {
		return assets
	}
	total := v.totalAssetsLocked()
	if total.IsZero() {
		return sdkmath.ZeroInt()
	}
	return assets.Mul(supply).Add(total.SubRaw(1)).Quo(total)
}

func (v *ShareVault) convertToAssetsLocked(shares sdkmath.Int) sdkmath.Int {
	supply := v.ledger.TotalSupply(v.shareDenom)
	if supply.IsZero() {
		return shares
	}
	return shares.Mul(v.totalAssetsLocked()).Quo(supply)
}

func (v *ShareVault) convertToAssetsCeilLocked(shares sdkmath.Int) sdkmath.Int {
	supply := v.ledger.TotalSupply(v.shareDenom)
	if supply.IsZero() {
		return shares
	}
	return shares.Mul(v.totalAssetsLocked()).Add(supply.SubRaw(1)).Quo(supply)
}

// afterDepositLocked forwards freshly deposited assets to the active strategy.
func (v *ShareVault) afterDepositLocked(amount sdkmath.Int) error {
	s := v.activeLocked()
	if s == nil || s.Paused() {
		return nil
	}
	if err := v.ledger.Transfer(v.assetDenom, v.account, s.Account(), amount); err != nil {
		return err
	}
	return s.Deposit(v.account, amount)
}

// beforeWithdrawLocked makes sure the vault holds enough idle balance to pay
// amount, pulling the shortfall from the strategy. Returns what is actually
// payable, which may be less than requested.
func (v *ShareVault) beforeWithdrawLocked(amount sdkmath.Int) (sdkmath.Int, error) {
	idle := v.ledger.BalanceOf(v.assetDenom, v.account)
	if idle.GTE(amount) {
		return amount, nil
	}
	s := v.activeLocked()
	if s == nil {
		return idle, nil
	}
	shortfall := amount.Sub(idle)
	delivered, err := s.Withdraw(v.account, shortfall)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return sdkmath.MinInt(amount, idle.Add(delivered)), nil
}

// deployIdleLocked pushes the vault's idle balance to the active strategy.
func (v *ShareVault) deployIdleLocked() error {
	s := v.activeLocked()
	if s == nil || s.Paused() {
		return nil
	}
	idle := v.ledger.BalanceOf(v.assetDenom, v.account)
	if idle.IsZero() {
		return nil
	}
	return v.afterDepositLocked(idle)
}

func (v *ShareVault) activeLocked() Strategy {
	if reg := v.lookupLocked(v.activeID); reg != nil {
		return reg.strategy
	}
	return nil
}

func (v *ShareVault) lookupLocked(id uint64) *registeredStrategy {
	if id == 0 {
		return nil
	}
	for i := range v.registry {
		if v.registry[i].id == id {
			return &v.registry[i]
		}
	}
	return nil
}
