/*

External yield-farm collaborator. Strategies deposit their LP here and claim
farm rewards from it; the engine only depends on the Farm surface. The
in-memory Chef implementation backs tests and local runs: pending rewards are
credited by the operator (Accrue) and paid out on any deposit or withdrawal,
so a zero-amount deposit forces a claim exactly like the on-chain farms the
strategies were written against.

*/

package chef

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/logger"
	"github.com/bayfield-finance/yieldengine/internal/types"
)

var chefLogger = logger.GetForComponent("external_farm")

// Farm is the external farm surface the strategies depend on.
type Farm interface {
	// Deposit stakes amount of the pool's stake denom. A zero amount only
	// claims pending rewards.
	Deposit(caller types.Account, pid uint64, amount sdkmath.Int) error

	// Withdraw unstakes amount and claims pending rewards.
	Withdraw(caller types.Account, pid uint64, amount sdkmath.Int) error

	// EmergencyWithdraw returns the full stake and forfeits pending rewards.
	EmergencyWithdraw(caller types.Account, pid uint64) error

	// UserInfo returns the caller's staked amount in the pool.
	UserInfo(pid uint64, who types.Account) (sdkmath.Int, error)

	// PendingReward returns the caller's unclaimed rewards in the pool.
	PendingReward(pid uint64, who types.Account) (sdk.Coins, error)
}

type chefPool struct {
	stakeDenom string
	staked     map[types.Account]sdkmath.Int
	pending    map[types.Account]sdk.Coins
}

// Chef is the in-memory Farm implementation.
type Chef struct {
	mu sync.Mutex

	account types.Account
	ledger  *ledger.Ledger
	pools   map[uint64]*chefPool
}

// New builds a chef holding stake and reward funds under account.
func New(l *ledger.Ledger, account types.Account) *Chef {
	return &Chef{
		account: account,
		ledger:  l,
		pools:   make(map[uint64]*chefPool),
	}
}

// AddPool registers a staking pool for stakeDenom under pid.
func (c *Chef) AddPool(pid uint64, stakeDenom string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pools[pid]; ok {
		return fmt.Errorf("%w: pid %d", types.ErrDuplicatePool, pid)
	}
	c.pools[pid] = &chefPool{
		stakeDenom: stakeDenom,
		staked:     make(map[types.Account]sdkmath.Int),
		pending:    make(map[types.Account]sdk.Coins),
	}
	return nil
}

// Accrue credits pending rewards to a staker, minting the reward coins into
// the chef's own account so a later claim is always funded.
func (c *Chef) Accrue(pid uint64, who types.Account, rewards sdk.Coins) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[pid]
	if !ok {
		return fmt.Errorf("%w: pid %d", types.ErrUnknownPool, pid)
	}
	for _, coin := range rewards {
		if err := c.ledger.Mint(coin.Denom, c.account, coin.Amount); err != nil {
			return err
		}
	}
	pool.pending[who] = pool.pending[who].Add(rewards...)
	return nil
}

// Deposit claims pending rewards, then stakes amount (zero stakes nothing).
func (c *Chef) Deposit(caller types.Account, pid uint64, amount sdkmath.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[pid]
	if !ok {
		return fmt.Errorf("%w: pid %d", types.ErrUnknownPool, pid)
	}
	if err := c.payPendingLocked(pool, caller); err != nil {
		return err
	}
	if amount.IsNil() || amount.IsZero() {
		return nil
	}
	if err := c.ledger.TransferFrom(pool.stakeDenom, c.account, caller, c.account, amount); err != nil {
		return err
	}
	pool.staked[caller] = c.stakedLocked(pool, caller).Add(amount)

	chefLogger.Debug().Uint64("pid", pid).Str("amount", amount.String()).Msg("Stake deposited")
	return nil
}

// Withdraw claims pending rewards, then unstakes amount.
func (c *Chef) Withdraw(caller types.Account, pid uint64, amount sdkmath.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[pid]
	if !ok {
		return fmt.Errorf("%w: pid %d", types.ErrUnknownPool, pid)
	}
	if amount.IsNil() {
		amount = sdkmath.ZeroInt()
	}
	staked := c.stakedLocked(pool, caller)
	if staked.LT(amount) {
		return fmt.Errorf("%w: withdraw %s, staked %s", types.ErrInsufficientStake, amount, staked)
	}
	if err := c.payPendingLocked(pool, caller); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	if err := c.ledger.Transfer(pool.stakeDenom, c.account, caller, amount); err != nil {
		return err
	}
	pool.staked[caller] = staked.Sub(amount)
	return nil
}

// EmergencyWithdraw returns the caller's full stake and drops any pending
// rewards. It never fails for lack of reward liquidity.
func (c *Chef) EmergencyWithdraw(caller types.Account, pid uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[pid]
	if !ok {
		return fmt.Errorf("%w: pid %d", types.ErrUnknownPool, pid)
	}
	staked := c.stakedLocked(pool, caller)
	pool.pending[caller] = sdk.NewCoins()
	if staked.IsZero() {
		return nil
	}
	if err := c.ledger.Transfer(pool.stakeDenom, c.account, caller, staked); err != nil {
		return err
	}
	pool.staked[caller] = sdkmath.ZeroInt()

	chefLogger.Warn().Uint64("pid", pid).Str("amount", staked.String()).Msg("Emergency withdrawal executed")
	return nil
}

// UserInfo returns the caller's staked amount.
func (c *Chef) UserInfo(pid uint64, who types.Account) (sdkmath.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[pid]
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: pid %d", types.ErrUnknownPool, pid)
	}
	return c.stakedLocked(pool, who), nil
}

// PendingReward returns the caller's unclaimed rewards.
func (c *Chef) PendingReward(pid uint64, who types.Account) (sdk.Coins, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[pid]
	if !ok {
		return nil, fmt.Errorf("%w: pid %d", types.ErrUnknownPool, pid)
	}
	return pool.pending[who], nil
}

func (c *Chef) payPendingLocked(pool *chefPool, who types.Account) error {
	pending := pool.pending[who]
	for _, coin := range pending {
		if err := c.ledger.Transfer(coin.Denom, c.account, who, coin.Amount); err != nil {
			return err
		}
	}
	pool.pending[who] = sdk.NewCoins()
	return nil
}

func (c *Chef) stakedLocked(pool *chefPool, who types.Account) sdkmath.Int {
	if amount, ok := pool.staked[who]; ok {
		return amount
	}
	return sdkmath.ZeroInt()
}
