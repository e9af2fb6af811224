package amm_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bayfield-finance/yieldengine/internal/amm"
	"github.com/bayfield-finance/yieldengine/internal/clock"
	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/types"
)

const (
	tokenA = "utoka"
	tokenB = "utokb"
	tokenC = "utokc"
	lpAB   = "lp/utoka-utokb"
	lpBC   = "lp/utokb-utokc"
)

var (
	ammAccount = types.Account("amm")
	trader     = types.Account("trader")
	provider   = types.Account("provider")
)

type fixture struct {
	ledger   *ledger.Ledger
	exchange *amm.Exchange
	clock    *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	l := ledger.New()
	for _, denom := range []string{tokenA, tokenB, tokenC} {
		require.NoError(t, l.Register(denom))
	}
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	e := amm.NewExchange(l, ammAccount, clk)
	require.NoError(t, e.CreatePair(tokenA, tokenB, lpAB))
	require.NoError(t, e.CreatePair(tokenB, tokenC, lpBC))

	for _, who := range []types.Account{trader, provider} {
		for _, denom := range []string{tokenA, tokenB, tokenC} {
			require.NoError(t, l.Mint(denom, who, sdkmath.NewInt(10_000_000)))
			require.NoError(t, l.Approve(denom, who, ammAccount, sdkmath.NewInt(10_000_000)))
		}
	}
	return &fixture{ledger: l, exchange: e, clock: clk}
}

func (f *fixture) deadline() time.Time {
	return f.clock.Now().Add(10 * time.Minute)
}

func (f *fixture) seed(t *testing.T, tokenX, tokenY string, amountX, amountY int64) sdkmath.Int {
	t.Helper()
	_, _, minted, err := f.exchange.AddLiquidity(
		provider, tokenX, tokenY,
		sdkmath.NewInt(amountX), sdkmath.NewInt(amountY),
		sdkmath.ZeroInt(), sdkmath.ZeroInt(),
		provider, f.deadline(),
	)
	require.NoError(t, err)
	return minted
}

func TestCreatePairValidation(t *testing.T) {
	f := newFixture(t)

	err := f.exchange.CreatePair(tokenA, tokenA, "lp/self")
	require.ErrorIs(t, err, types.ErrInvalidRoute)

	err = f.exchange.CreatePair(tokenA, tokenC, lpAB)
	require.ErrorIs(t, err, types.ErrDuplicateDenom)
}

func TestInitialLiquidity(t *testing.T) {
	f := newFixture(t)

	minted := f.seed(t, tokenA, tokenB, 1_000_000, 1_000_000)
	assert.True(t, minted.IsPositive())
	// Geometric mean of equal deposits is the deposit itself, up to sqrt
	// approximation error.
	assert.True(t, minted.Sub(sdkmath.NewInt(1_000_000)).Abs().LTE(sdkmath.NewInt(1)),
		"initial mint %s should be ~1000000", minted)

	resA, resB, err := f.exchange.GetReserves(lpAB)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), resA)
	assert.Equal(t, sdkmath.NewInt(1_000_000), resB)

	supply, err := f.exchange.LPTotalSupply(lpAB)
	require.NoError(t, err)
	assert.Equal(t, minted, supply)
	assert.Equal(t, minted, f.ledger.BalanceOf(lpAB, provider))
}

func TestAddLiquidityKeepsRatio(t *testing.T) {
	f := newFixture(t)
	f.seed(t, tokenA, tokenB, 2_000_000, 1_000_000)

	// Offering too much of token B: the exchange must scale B down to the
	// 2:1 reserve ratio instead of accepting the imbalance.
	usedA, usedB, minted, err := f.exchange.AddLiquidity(
		trader, tokenA, tokenB,
		sdkmath.NewInt(200_000), sdkmath.NewInt(500_000),
		sdkmath.ZeroInt(), sdkmath.ZeroInt(),
		trader, f.deadline(),
	)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(200_000), usedA)
	assert.Equal(t, sdkmath.NewInt(100_000), usedB)
	assert.True(t, minted.IsPositive())

	// Unused B stays with the trader.
	assert.Equal(t, sdkmath.NewInt(9_900_000), f.ledger.BalanceOf(tokenB, trader))
}

func TestAddLiquidityMinGuard(t *testing.T) {
	f := newFixture(t)
	f.seed(t, tokenA, tokenB, 2_000_000, 1_000_000)

	_, _, _, err := f.exchange.AddLiquidity(
		trader, tokenA, tokenB,
		sdkmath.NewInt(200_000), sdkmath.NewInt(500_000),
		sdkmath.ZeroInt(), sdkmath.NewInt(400_000), // demands more B than the ratio allows
		trader, f.deadline(),
	)
	require.ErrorIs(t, err, types.ErrSlippageExceeded)
}

func TestSwapExactIn(t *testing.T) {
	f := newFixture(t)
	f.seed(t, tokenA, tokenB, 1_000_000, 1_000_000)

	amounts, err := f.exchange.SwapExactIn(
		trader, sdkmath.NewInt(10_000), sdkmath.ZeroInt(),
		types.Route{tokenA, tokenB}, trader, f.deadline(),
	)
	require.NoError(t, err)
	require.Len(t, amounts, 1)

	// Constant product with a 30 bps fee on 10k in against 1M/1M reserves.
	assert.Equal(t, sdkmath.NewInt(9_871), amounts[0])
	assert.Equal(t, sdkmath.NewInt(10_009_871), f.ledger.BalanceOf(tokenB, trader))
	assert.Equal(t, sdkmath.NewInt(9_990_000), f.ledger.BalanceOf(tokenA, trader))

	resA, resB, err := f.exchange.GetReserves(lpAB)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_010_000), resA)
	assert.Equal(t, sdkmath.NewInt(990_129), resB)
}

func TestSwapMinOutGuard(t *testing.T) {
	f := newFixture(t)
	f.seed(t, tokenA, tokenB, 1_000_000, 1_000_000)

	balBefore := f.ledger.BalanceOf(tokenA, trader)
	_, err := f.exchange.SwapExactIn(
		trader, sdkmath.NewInt(10_000), sdkmath.NewInt(9_872),
		types.Route{tokenA, tokenB}, trader, f.deadline(),
	)
	require.ErrorIs(t, err, types.ErrSlippageExceeded)

	// A rejected swap moves nothing.
	assert.Equal(t, balBefore, f.ledger.BalanceOf(tokenA, trader))
}

func TestSwapMultiHop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, tokenA, tokenB, 1_000_000, 1_000_000)
	f.seed(t, tokenB, tokenC, 1_000_000, 1_000_000)

	balCBefore := f.ledger.BalanceOf(tokenC, trader)
	amounts, err := f.exchange.SwapExactIn(
		trader, sdkmath.NewInt(10_000), sdkmath.ZeroInt(),
		types.Route{tokenA, tokenB, tokenC}, trader, f.deadline(),
	)
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	assert.True(t, amounts[1].LT(amounts[0]), "second hop pays its own fee")
	assert.Equal(t, balCBefore.Add(amounts[1]), f.ledger.BalanceOf(tokenC, trader))
}

func TestSwapDeadline(t *testing.T) {
	f := newFixture(t)
	f.seed(t, tokenA, tokenB, 1_000_000, 1_000_000)

	stale := f.clock.Now().Add(-time.Second)
	_, err := f.exchange.SwapExactIn(
		trader, sdkmath.NewInt(10_000), sdkmath.ZeroInt(),
		types.Route{tokenA, tokenB}, trader, stale,
	)
	require.ErrorIs(t, err, types.ErrDeadlineExceeded)
}

func TestWrapUnwrap(t *testing.T) {
	f := newFixture(t)
	wrapped := "wutoka"
	require.NoError(t, f.ledger.Register(wrapped))
	w := amm.NewWrapper(f.ledger, types.Account("bridge"), tokenA, wrapped)

	require.NoError(t, w.Wrap(trader, sdkmath.NewInt(5_000)))
	assert.Equal(t, sdkmath.NewInt(9_995_000), f.ledger.BalanceOf(tokenA, trader))
	assert.Equal(t, sdkmath.NewInt(5_000), f.ledger.BalanceOf(wrapped, trader))

	require.NoError(t, w.Unwrap(trader, sdkmath.NewInt(5_000)))
	assert.Equal(t, sdkmath.NewInt(10_000_000), f.ledger.BalanceOf(tokenA, trader))
	assert.True(t, sdkmath.ZeroInt().Equal(f.ledger.BalanceOf(wrapped, trader)))

	require.Error(t, w.Unwrap(trader, sdkmath.NewInt(1)))
}

func TestRemoveLiquidity(t *testing.T) {
	f := newFixture(t)
	minted := f.seed(t, tokenA, tokenB, 1_000_000, 4_000_000)

	half := minted.QuoRaw(2)
	outA, outB, err := f.exchange.RemoveLiquidity(
		provider, lpAB, half,
		sdkmath.ZeroInt(), sdkmath.ZeroInt(),
		provider, f.deadline(),
	)
	require.NoError(t, err)
	assert.True(t, outA.IsPositive())
	assert.True(t, outB.IsPositive())
	// Pro-rata payout preserves the 1:4 reserve shape.
	assert.True(t, outB.GT(outA.MulRaw(3)))

	resA, resB, err := f.exchange.GetReserves(lpAB)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000).Sub(outA), resA)
	assert.Equal(t, sdkmath.NewInt(4_000_000).Sub(outB), resB)

	supply, err := f.exchange.LPTotalSupply(lpAB)
	require.NoError(t, err)
	assert.Equal(t, minted.Sub(half), supply)
}
