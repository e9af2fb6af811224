/*

External swap/liquidity collaborator surface. The engine never computes swap
paths itself; routes arrive pre-computed and only their endpoints are checked
(types.Route.Validate). Strategies talk to whatever implements Router.

*/

package amm

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/types"
)

// Router is the swap/liquidity collaborator the strategies depend on.
type Router interface {
	// GetReserves returns the pair reserves backing lpDenom, in pair order.
	GetReserves(lpDenom string) (sdkmath.Int, sdkmath.Int, error)

	// LPTotalSupply returns the outstanding supply of lpDenom.
	LPTotalSupply(lpDenom string) (sdkmath.Int, error)

	// PairTokens returns the two component denoms of lpDenom, in pair order.
	PairTokens(lpDenom string) (string, string, error)

	// SwapExactIn swaps amountIn of path[0] along path, crediting the output
	// to the recipient. Fails if the final output is below minOut or the
	// deadline has passed. Returns the amounts out of every hop.
	SwapExactIn(from types.Account, amountIn, minOut sdkmath.Int, path types.Route, to types.Account, deadline time.Time) ([]sdkmath.Int, error)

	// AddLiquidity deposits up to amountA/amountB of the pair tokens and
	// mints LP to the recipient. Fails if the amounts actually used fall
	// below minA/minB. Returns (usedA, usedB, liquidityMinted).
	AddLiquidity(from types.Account, tokenA, tokenB string, amountA, amountB, minA, minB sdkmath.Int, to types.Account, deadline time.Time) (sdkmath.Int, sdkmath.Int, sdkmath.Int, error)

	// RemoveLiquidity burns liquidity of lpDenom and returns the pro-rata
	// component amounts to the recipient. Fails below minA/minB.
	RemoveLiquidity(from types.Account, lpDenom string, liquidity, minA, minB sdkmath.Int, to types.Account, deadline time.Time) (sdkmath.Int, sdkmath.Int, error)
}

// Wrapper converts between the chain's native settlement asset and its
// wrapped fungible form.
type Wrapper struct {
	account     types.Account
	ledger      *ledger.Ledger
	nativeDenom string
	wrapDenom   string
}

// NewWrapper builds a wrap/unwrap collaborator over the ledger. Both denoms
// must already be registered.
func NewWrapper(l *ledger.Ledger, account types.Account, nativeDenom, wrapDenom string) *Wrapper {
	return &Wrapper{
		account:     account,
		ledger:      l,
		nativeDenom: nativeDenom,
		wrapDenom:   wrapDenom,
	}
}

// Wrap locks amount of the native denom and mints the wrapped denom 1:1.
func (w *Wrapper) Wrap(from types.Account, amount sdkmath.Int) error {
	if err := w.ledger.Transfer(w.nativeDenom, from, w.account, amount); err != nil {
		return fmt.Errorf("wrap: %w", err)
	}
	return w.ledger.Mint(w.wrapDenom, from, amount)
}

// Unwrap burns amount of the wrapped denom and releases the native denom 1:1.
func (w *Wrapper) Unwrap(from types.Account, amount sdkmath.Int) error {
	if err := w.ledger.Burn(w.wrapDenom, from, amount); err != nil {
		return fmt.Errorf("unwrap: %w", err)
	}
	return w.ledger.Transfer(w.nativeDenom, w.account, from, amount)
}
