/*

Reference constant-product exchange over the asset ledger. It implements the
Router surface the strategies compile against, so the whole harvest cycle can
run end-to-end in-process. Funds are pulled via ledger allowances, mirroring
how an on-chain router would be approved by its callers.

*/

package amm

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/bayfield-finance/yieldengine/internal/clock"
	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/logger"
	"github.com/bayfield-finance/yieldengine/internal/types"
)

var exchangeLogger = logger.GetForComponent("amm_exchange")

// DefaultSwapFeeBps is the per-hop swap fee charged by the exchange.
const DefaultSwapFeeBps = 30

type pair struct {
	token0  string
	token1  string
	lpDenom string
}

// Exchange is an in-memory constant-product AMM.
type Exchange struct {
	mu sync.Mutex

	account    types.Account
	ledger     *ledger.Ledger
	clock      clock.Clock
	swapFeeBps uint64

	pairs map[string]*pair // keyed by lpDenom
}

// NewExchange builds an exchange holding pool reserves under account.
func NewExchange(l *ledger.Ledger, account types.Account, clk clock.Clock) *Exchange {
	return &Exchange{
		account:    account,
		ledger:     l,
		clock:      clk,
		swapFeeBps: DefaultSwapFeeBps,
		pairs:      make(map[string]*pair),
	}
}

// CreatePair registers a new pool for the two tokens and its LP denom. The
// LP denom is registered on the ledger as part of creation.
func (e *Exchange) CreatePair(token0, token1, lpDenom string) error {
	if token0 == token1 {
		return fmt.Errorf("%w: identical pair tokens %s", types.ErrInvalidRoute, token0)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pairs[lpDenom]; ok {
		return fmt.Errorf("%w: %s", types.ErrDuplicateDenom, lpDenom)
	}
	if err := e.ledger.Register(lpDenom); err != nil {
		return err
	}
	e.pairs[lpDenom] = &pair{token0: token0, token1: token1, lpDenom: lpDenom}

	exchangeLogger.Info().Str("lpDenom", lpDenom).Str("token0", token0).Str("token1", token1).Msg("Pair created")
	return nil
}

// GetReserves returns the reserves backing lpDenom, in pair order.
func (e *Exchange) GetReserves(lpDenom string) (sdkmath.Int, sdkmath.Int, error) {
	e.mu.Lock()
	p, ok := e.pairs[lpDenom]
	e.mu.Unlock()
	if !ok {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %s", types.ErrUnknownPool, lpDenom)
	}
	return e.reserve(p, p.token0), e.reserve(p, p.token1), nil
}

// LPTotalSupply returns the outstanding LP supply of lpDenom.
func (e *Exchange) LPTotalSupply(lpDenom string) (sdkmath.Int, error) {
	e.mu.Lock()
	_, ok := e.pairs[lpDenom]
	e.mu.Unlock()
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", types.ErrUnknownPool, lpDenom)
	}
	return e.ledger.TotalSupply(lpDenom), nil
}

// PairTokens returns the component denoms of lpDenom, in pair order.
func (e *Exchange) PairTokens(lpDenom string) (string, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pairs[lpDenom]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", types.ErrUnknownPool, lpDenom)
	}
	return p.token0, p.token1, nil
}

// SwapExactIn swaps along path hop by hop. The whole call is atomic: any
// failed hop leaves no partial effects because validation happens before
// funds move at each step and hops only move funds between the caller and
// the exchange account.
func (e *Exchange) SwapExactIn(from types.Account, amountIn, minOut sdkmath.Int, path types.Route, to types.Account, deadline time.Time) ([]sdkmath.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: path too short", types.ErrInvalidRoute)
	}
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return nil, fmt.Errorf("%w: swap in %s", types.ErrZeroAmount, amountIn)
	}
	if e.clock.Now().After(deadline) {
		return nil, types.ErrDeadlineExceeded
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Dry-run all hops first so a late failure cannot strand intermediate
	// output inside the exchange.
	pairs := make([]*pair, 0, len(path)-1)
	amounts := make([]sdkmath.Int, 0, len(path)-1)
	in := amountIn
	for i := 0; i < len(path)-1; i++ {
		p, err := e.pairFor(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		out, err := e.quote(p, path[i], in)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
		amounts = append(amounts, out)
		in = out
	}

	finalOut := amounts[len(amounts)-1]
	if !minOut.IsNil() && finalOut.LT(minOut) {
		return nil, fmt.Errorf("%w: out %s, min %s", types.ErrSlippageExceeded, finalOut, minOut)
	}

	// Execute the hops. Each hop pulls its input into the pair's pool
	// account and pushes its output toward the next hop (or the recipient).
	hopIn := amountIn
	for i, p := range pairs {
		poolAcct := e.poolAccount(p)
		if i == 0 {
			if err := e.ledger.TransferFrom(path[0], e.account, from, poolAcct, hopIn); err != nil {
				return nil, err
			}
		} else {
			if err := e.ledger.Transfer(path[i], e.account, poolAcct, hopIn); err != nil {
				return nil, err
			}
		}
		dest := e.account
		if i == len(pairs)-1 {
			dest = to
		}
		if err := e.ledger.Transfer(path[i+1], poolAcct, dest, amounts[i]); err != nil {
			return nil, err
		}
		hopIn = amounts[i]
	}

	exchangeLogger.Debug().
		Str("in", amountIn.String()).
		Str("out", finalOut.String()).
		Strs("path", path).
		Msg("Swap executed")

	return amounts, nil
}

// AddLiquidity deposits the pair tokens at the current reserve ratio and
// mints LP to the recipient.
func (e *Exchange) AddLiquidity(from types.Account, tokenA, tokenB string, amountA, amountB, minA, minB sdkmath.Int, to types.Account, deadline time.Time) (sdkmath.Int, sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if e.clock.Now().After(deadline) {
		return zero, zero, zero, types.ErrDeadlineExceeded
	}
	if !amountA.IsPositive() || !amountB.IsPositive() {
		return zero, zero, zero, fmt.Errorf("%w: add liquidity %s/%s", types.ErrZeroAmount, amountA, amountB)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pairFor(tokenA, tokenB)
	if err != nil {
		return zero, zero, zero, err
	}

	reserveA := e.reserve(p, tokenA)
	reserveB := e.reserve(p, tokenB)
	supply := e.ledger.TotalSupply(p.lpDenom)

	usedA, usedB := amountA, amountB
	if supply.IsPositive() {
		// Keep the reserve ratio: scale one side down to match the other.
		optimalB := amountA.Mul(reserveB).Quo(reserveA)
		if optimalB.LTE(amountB) {
			usedB = optimalB
		} else {
			usedA = amountB.Mul(reserveA).Quo(reserveB)
		}
	}
	if usedA.LT(minA) || usedB.LT(minB) {
		return zero, zero, zero, fmt.Errorf("%w: used %s/%s, min %s/%s", types.ErrSlippageExceeded, usedA, usedB, minA, minB)
	}

	var minted sdkmath.Int
	if supply.IsZero() {
		product := sdkmath.LegacyNewDecFromInt(usedA.Mul(usedB))
		root, err := product.ApproxSqrt()
		if err != nil {
			return zero, zero, zero, fmt.Errorf("initial liquidity: %w", err)
		}
		minted = root.TruncateInt()
	} else {
		byA := usedA.Mul(supply).Quo(reserveA)
		byB := usedB.Mul(supply).Quo(reserveB)
		minted = sdkmath.MinInt(byA, byB)
	}
	if !minted.IsPositive() {
		return zero, zero, zero, fmt.Errorf("%w: zero liquidity minted", types.ErrSlippageExceeded)
	}

	poolAcct := e.poolAccount(p)
	if err := e.ledger.TransferFrom(tokenA, e.account, from, poolAcct, usedA); err != nil {
		return zero, zero, zero, err
	}
	if err := e.ledger.TransferFrom(tokenB, e.account, from, poolAcct, usedB); err != nil {
		return zero, zero, zero, err
	}
	if err := e.ledger.Mint(p.lpDenom, to, minted); err != nil {
		return zero, zero, zero, err
	}

	exchangeLogger.Debug().
		Str("lpDenom", p.lpDenom).
		Str("usedA", usedA.String()).
		Str("usedB", usedB.String()).
		Str("minted", minted.String()).
		Msg("Liquidity added")

	return usedA, usedB, minted, nil
}

// RemoveLiquidity burns LP and pays out the pro-rata reserves.
func (e *Exchange) RemoveLiquidity(from types.Account, lpDenom string, liquidity, minA, minB sdkmath.Int, to types.Account, deadline time.Time) (sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if e.clock.Now().After(deadline) {
		return zero, zero, types.ErrDeadlineExceeded
	}
	if liquidity.IsNil() || !liquidity.IsPositive() {
		return zero, zero, fmt.Errorf("%w: remove %s", types.ErrZeroAmount, liquidity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pairs[lpDenom]
	if !ok {
		return zero, zero, fmt.Errorf("%w: %s", types.ErrUnknownPool, lpDenom)
	}

	supply := e.ledger.TotalSupply(lpDenom)
	if supply.IsZero() {
		return zero, zero, fmt.Errorf("%w: pool %s is empty", types.ErrInsufficientBalance, lpDenom)
	}

	amountA := liquidity.Mul(e.reserve(p, p.token0)).Quo(supply)
	amountB := liquidity.Mul(e.reserve(p, p.token1)).Quo(supply)
	if amountA.LT(minA) || amountB.LT(minB) {
		return zero, zero, fmt.Errorf("%w: out %s/%s, min %s/%s", types.ErrSlippageExceeded, amountA, amountB, minA, minB)
	}

	poolAcct := e.poolAccount(p)
	if err := e.ledger.Burn(lpDenom, from, liquidity); err != nil {
		return zero, zero, err
	}
	if err := e.ledger.Transfer(p.token0, poolAcct, to, amountA); err != nil {
		return zero, zero, err
	}
	if err := e.ledger.Transfer(p.token1, poolAcct, to, amountB); err != nil {
		return zero, zero, err
	}

	return amountA, amountB, nil
}

// quote computes the constant-product output for a single hop.
func (e *Exchange) quote(p *pair, tokenIn string, amountIn sdkmath.Int) (sdkmath.Int, error) {
	tokenOut := p.token1
	if tokenIn == p.token1 {
		tokenOut = p.token0
	}
	reserveIn := e.reserve(p, tokenIn)
	reserveOut := e.reserve(p, tokenOut)
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return sdkmath.Int{}, fmt.Errorf("%w: pool %s has no reserves", types.ErrInsufficientBalance, p.lpDenom)
	}

	feeBps := sdkmath.NewIntFromUint64(types.MaxBasisPoints - e.swapFeeBps)
	inWithFee := amountIn.Mul(feeBps)
	numerator := inWithFee.Mul(reserveOut)
	denominator := reserveIn.Mul(sdkmath.NewIntFromUint64(types.MaxBasisPoints)).Add(inWithFee)
	out := numerator.Quo(denominator)
	if !out.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: zero output for %s in", types.ErrSlippageExceeded, amountIn)
	}
	return out, nil
}

// reserve reads a pool-side balance. Each pair keeps its reserves under its
// own sub-account so pairs sharing a component denom stay independent.
func (e *Exchange) reserve(p *pair, denom string) sdkmath.Int {
	return e.ledger.BalanceOf(denom, e.poolAccount(p))
}

func (e *Exchange) poolAccount(p *pair) types.Account {
	return types.Account(string(e.account) + "/" + p.lpDenom)
}

func (e *Exchange) pairFor(tokenA, tokenB string) (*pair, error) {
	for _, p := range e.pairs {
		if (p.token0 == tokenA && p.token1 == tokenB) || (p.token0 == tokenB && p.token1 == tokenA) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no pair for %s/%s", types.ErrUnknownPool, tokenA, tokenB)
}
