/*

In-process fungible-asset ledger. Every component (vault, strategies, reward
farm, exchange) holds balances under its own account here; transfers are the
only way value moves between components.

All operations are all-or-nothing: validation happens before any state is
touched, and the mutex makes each call atomic with respect to every other.

*/

package ledger

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/bayfield-finance/yieldengine/internal/logger"
	"github.com/bayfield-finance/yieldengine/internal/types"
)

var ledgerLogger = logger.GetForComponent("asset_ledger")

// Ledger tracks balances, allowances and total supply per denom.
type Ledger struct {
	mu sync.Mutex

	supplies   map[string]sdkmath.Int
	balances   map[string]map[types.Account]sdkmath.Int
	allowances map[string]map[types.Account]map[types.Account]sdkmath.Int
}

// New returns an empty ledger with no registered denoms.
func New() *Ledger {
	return &Ledger{
		supplies:   make(map[string]sdkmath.Int),
		balances:   make(map[string]map[types.Account]sdkmath.Int),
		allowances: make(map[string]map[types.Account]map[types.Account]sdkmath.Int),
	}
}

// Register adds a new denom with zero supply. A denom may be registered once.
func (l *Ledger) Register(denom string) error {
	if denom == "" {
		return fmt.Errorf("%w: empty denom", types.ErrUnknownDenom)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.supplies[denom]; ok {
		return fmt.Errorf("%w: %s", types.ErrDuplicateDenom, denom)
	}
	l.supplies[denom] = sdkmath.ZeroInt()
	l.balances[denom] = make(map[types.Account]sdkmath.Int)
	l.allowances[denom] = make(map[types.Account]map[types.Account]sdkmath.Int)

	ledgerLogger.Debug().Str("denom", denom).Msg("Registered denom")
	return nil
}

// Mint creates amount of denom and credits it to the recipient.
func (l *Ledger) Mint(denom string, to types.Account, amount sdkmath.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	supply, ok := l.supplies[denom]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownDenom, denom)
	}
	l.supplies[denom] = supply.Add(amount)
	l.balances[denom][to] = l.balanceLocked(denom, to).Add(amount)
	return nil
}

// Burn destroys amount of denom held by from.
func (l *Ledger) Burn(denom string, from types.Account, amount sdkmath.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	supply, ok := l.supplies[denom]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownDenom, denom)
	}
	bal := l.balanceLocked(denom, from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: burn %s %s, balance %s", types.ErrInsufficientBalance, amount, denom, bal)
	}
	l.balances[denom][from] = bal.Sub(amount)
	l.supplies[denom] = supply.Sub(amount)
	return nil
}

// Transfer moves amount of denom from one account to another. A zero amount
// is a no-op so callers never have to special-case empty movements.
func (l *Ledger) Transfer(denom string, from, to types.Account, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: %s", types.ErrZeroAmount, amount)
	}
	if amount.IsZero() || from == to {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.transferLocked(denom, from, to, amount)
}

// TransferFrom moves amount of denom from owner to recipient, drawing down
// the spender's allowance.
func (l *Ledger) TransferFrom(denom string, spender, owner, to types.Account, amount sdkmath.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.supplies[denom]; !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownDenom, denom)
	}

	allowance := l.allowanceLocked(denom, owner, spender)
	if allowance.LT(amount) {
		return fmt.Errorf("%w: spend %s %s, allowance %s", types.ErrInsufficientAllowance, amount, denom, allowance)
	}
	if err := l.transferLocked(denom, owner, to, amount); err != nil {
		return err
	}
	l.allowances[denom][owner][spender] = allowance.Sub(amount)
	return nil
}

// Approve sets the spender's allowance over the owner's balance of denom.
func (l *Ledger) Approve(denom string, owner, spender types.Account, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: %s", types.ErrZeroAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.supplies[denom]; !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownDenom, denom)
	}
	if l.allowances[denom][owner] == nil {
		l.allowances[denom][owner] = make(map[types.Account]sdkmath.Int)
	}
	l.allowances[denom][owner][spender] = amount
	return nil
}

// BalanceOf returns the account's balance of denom (zero for unknown denoms).
func (l *Ledger) BalanceOf(denom string, who types.Account) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(denom, who)
}

// Allowance returns the spender's remaining allowance over the owner's denom.
func (l *Ledger) Allowance(denom string, owner, spender types.Account) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowanceLocked(denom, owner, spender)
}

// TotalSupply returns the outstanding supply of denom.
func (l *Ledger) TotalSupply(denom string) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if supply, ok := l.supplies[denom]; ok {
		return supply
	}
	return sdkmath.ZeroInt()
}

func (l *Ledger) transferLocked(denom string, from, to types.Account, amount sdkmath.Int) error {
	if _, ok := l.supplies[denom]; !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownDenom, denom)
	}
	bal := l.balanceLocked(denom, from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: send %s %s, balance %s", types.ErrInsufficientBalance, amount, denom, bal)
	}
	l.balances[denom][from] = bal.Sub(amount)
	l.balances[denom][to] = l.balanceLocked(denom, to).Add(amount)
	return nil
}

func (l *Ledger) balanceLocked(denom string, who types.Account) sdkmath.Int {
	if bals, ok := l.balances[denom]; ok {
		if bal, ok := bals[who]; ok {
			return bal
		}
	}
	return sdkmath.ZeroInt()
}

func (l *Ledger) allowanceLocked(denom string, owner, spender types.Account) sdkmath.Int {
	if owners, ok := l.allowances[denom]; ok {
		if spenders, ok := owners[owner]; ok {
			if allowance, ok := spenders[spender]; ok {
				return allowance
			}
		}
	}
	return sdkmath.ZeroInt()
}

func validateAmount(amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: %s", types.ErrZeroAmount, amount)
	}
	return nil
}
