package keeper_test

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bayfield-finance/yieldengine/internal/amm"
	"github.com/bayfield-finance/yieldengine/internal/chef"
	"github.com/bayfield-finance/yieldengine/internal/clock"
	"github.com/bayfield-finance/yieldengine/internal/keeper"
	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/rewardfarm"
	"github.com/bayfield-finance/yieldengine/internal/strategy"
	"github.com/bayfield-finance/yieldengine/internal/types"
	"github.com/bayfield-finance/yieldengine/internal/vault"
)

const (
	nativeDenom = "unat"
	stableDenom = "ustb"
	rewardDenom = "urew"
	wantDenom   = "lp/unat-ustb"
	routeDenom  = "lp/urew-unat"
	shareDenom  = "yunat"

	chefPoolID  = uint64(0)
	testBackoff = 30 * time.Minute
)

var (
	owner         = types.Account("owner")
	strategist    = types.Account("strategist")
	treasury      = types.Account("treasury")
	team          = types.Account("team")
	investor      = types.Account("investor")
	keeperAccount = types.Account("keeper")
	vaultAccount  = types.Account("vault")
	stratAccount  = types.Account("strat")
	ammAccount    = types.Account("amm")
	chefAccount   = types.Account("chef")
	farmAccount   = types.Account("farm")
	provider      = types.Account("provider")
	depositor     = types.Account("depositor")
)

type fixture struct {
	ledger   *ledger.Ledger
	chef     *chef.Chef
	clock    *clock.Manual
	vault    *vault.ShareVault
	strategy *strategy.FarmStrategy
	keeper   *keeper.Keeper
}

// newFixture assembles the whole engine around a manual clock. With
// seedRouting false the reward/native pool stays empty, so every harvest
// fails at the swap step.
func newFixture(t *testing.T, seedRouting bool) *fixture {
	t.Helper()

	l := ledger.New()
	for _, denom := range []string{nativeDenom, stableDenom, rewardDenom} {
		require.NoError(t, l.Register(denom))
	}
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	e := amm.NewExchange(l, ammAccount, clk)
	require.NoError(t, e.CreatePair(nativeDenom, stableDenom, wantDenom))
	require.NoError(t, e.CreatePair(rewardDenom, nativeDenom, routeDenom))

	deep := sdkmath.NewInt(1_000_000_000)
	for _, denom := range []string{nativeDenom, stableDenom, rewardDenom} {
		require.NoError(t, l.Mint(denom, provider, deep.MulRaw(4)))
		require.NoError(t, l.Approve(denom, provider, ammAccount, deep.MulRaw(4)))
	}
	deadline := clk.Now().Add(time.Hour)
	_, _, _, err := e.AddLiquidity(provider, nativeDenom, stableDenom, deep, deep,
		sdkmath.ZeroInt(), sdkmath.ZeroInt(), provider, deadline)
	require.NoError(t, err)
	if seedRouting {
		_, _, _, err = e.AddLiquidity(provider, rewardDenom, nativeDenom, deep, deep,
			sdkmath.ZeroInt(), sdkmath.ZeroInt(), provider, deadline)
		require.NoError(t, err)
	}

	c := chef.New(l, chefAccount)
	require.NoError(t, c.AddPool(chefPoolID, wantDenom))

	v, err := vault.New(l, clk, vaultAccount, owner, wantDenom, shareDenom)
	require.NoError(t, err)

	s, err := strategy.NewSingleReward(strategy.Config{
		Ledger: l,
		Router: e,
		Farm:   c,
		Clock:  clk,

		Account:       stratAccount,
		VaultAccount:  vaultAccount,
		Owner:         owner,
		Strategist:    strategist,
		Treasury:      treasury,
		RouterAccount: ammAccount,
		FarmAccount:   chefAccount,

		WantDenom:   wantDenom,
		NativeDenom: nativeDenom,
		PoolID:      chefPoolID,

		Output: strategy.RewardRoute{
			Token:    rewardDenom,
			ToNative: types.Route{rewardDenom, nativeDenom},
			ToLP0:    types.Route{rewardDenom, nativeDenom},
			ToLP1:    types.Route{rewardDenom, nativeDenom, stableDenom},
		},

		Fees:        types.FeeSplit{StrategistBps: 100, TreasuryBps: 300, CallerBps: 50},
		SlippageBps: 100,
	})
	require.NoError(t, err)

	strategyID, err := v.AddStrategy(owner, s)
	require.NoError(t, err)
	require.NoError(t, v.Initialize(owner, strategyID))

	farm, err := rewardfarm.New(rewardfarm.Config{
		Ledger:       l,
		Clock:        clk,
		Account:      farmAccount,
		Owner:        owner,
		Treasury:     treasury,
		Team:         team,
		Investor:     investor,
		RewardDenom:  nativeDenom,
		EmissionRate: sdkmath.ZeroInt(),
	})
	require.NoError(t, err)

	k, err := keeper.New(keeper.Config{
		Ledger: l,
		Clock:  clk,
		Vault:  v,
		Farm:   farm,
		Targets: []keeper.Target{{
			ID:          strategyID,
			Strategy:    s,
			FeeAccounts: []types.Account{strategist, treasury, keeperAccount},
		}},
		Account:     keeperAccount,
		NativeDenom: nativeDenom,
		Backoff:     testBackoff,
	})
	require.NoError(t, err)

	require.NoError(t, l.Mint(wantDenom, depositor, sdkmath.NewInt(10_000_000)))
	require.NoError(t, l.Approve(wantDenom, depositor, vaultAccount, sdkmath.NewInt(10_000_000)))

	return &fixture{ledger: l, chef: c, clock: clk, vault: v, strategy: s, keeper: k}
}

func (f *fixture) accrue(t *testing.T, amount int64) {
	t.Helper()
	rewards := sdk.NewCoins(sdk.NewCoin(rewardDenom, sdkmath.NewInt(amount)))
	require.NoError(t, f.chef.Accrue(chefPoolID, stratAccount, rewards))
}

func TestNewValidation(t *testing.T) {
	_, err := keeper.New(keeper.Config{})
	require.Error(t, err)

	f := newFixture(t, true)
	_, err = keeper.New(keeper.Config{
		Ledger: f.ledger, Clock: f.clock, Vault: f.vault,
	})
	require.Error(t, err)
}

func TestRunCycleHarvestsAndPaysFees(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.vault.Deposit(depositor, sdkmath.NewInt(1_000_000), depositor)
	require.NoError(t, err)
	f.accrue(t, 1_000_000)

	balanceBefore := f.strategy.Balance()
	f.keeper.RunCycle(context.Background())

	// The keeper is the harvest caller, so the caller fee lands on its
	// account; the compounded remainder grows the position.
	assert.True(t, f.ledger.BalanceOf(nativeDenom, keeperAccount).IsPositive())
	assert.True(t, f.ledger.BalanceOf(nativeDenom, strategist).IsPositive())
	assert.True(t, f.ledger.BalanceOf(nativeDenom, treasury).IsPositive())
	assert.True(t, f.strategy.Balance().GT(balanceBefore))
	assert.True(t, f.vault.TotalAssets().GT(sdkmath.NewInt(1_000_000)))
}

func TestFailedHarvestTriggersBackoff(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.vault.Deposit(depositor, sdkmath.NewInt(1_000_000), depositor)
	require.NoError(t, err)
	f.accrue(t, 1_000)

	// The swap route has no liquidity: the harvest claims and then fails,
	// leaving the claimed rewards idle on the strategy.
	f.keeper.RunCycle(context.Background())
	assert.Equal(t, sdkmath.NewInt(1_000), f.ledger.BalanceOf(rewardDenom, stratAccount))

	// Inside the backoff window the strategy is not retried.
	f.accrue(t, 1_000)
	f.clock.Advance(time.Minute)
	f.keeper.RunCycle(context.Background())
	assert.Equal(t, sdkmath.NewInt(1_000), f.ledger.BalanceOf(rewardDenom, stratAccount))

	// After the backoff the keeper tries again and claims the second batch.
	f.clock.Advance(testBackoff)
	f.keeper.RunCycle(context.Background())
	assert.Equal(t, sdkmath.NewInt(2_000), f.ledger.BalanceOf(rewardDenom, stratAccount))
}

func TestPausedStrategySkipped(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.vault.Deposit(depositor, sdkmath.NewInt(1_000_000), depositor)
	require.NoError(t, err)
	f.accrue(t, 1_000_000)
	require.NoError(t, f.strategy.Pause(owner))

	f.keeper.RunCycle(context.Background())
	assert.Equal(t, sdkmath.ZeroInt(), f.ledger.BalanceOf(nativeDenom, keeperAccount))
	assert.Equal(t, sdkmath.ZeroInt(), f.ledger.BalanceOf(rewardDenom, stratAccount))
}

func TestRunCycleHonorsCancellation(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.vault.Deposit(depositor, sdkmath.NewInt(1_000_000), depositor)
	require.NoError(t, err)
	f.accrue(t, 1_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.keeper.RunCycle(ctx)
	assert.Equal(t, sdkmath.ZeroInt(), f.ledger.BalanceOf(nativeDenom, keeperAccount))
}
