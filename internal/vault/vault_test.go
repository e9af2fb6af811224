package vault_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bayfield-finance/yieldengine/internal/clock"
	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/types"
	"github.com/bayfield-finance/yieldengine/internal/vault"
)

const (
	assetDenom = "ulp"
	shareDenom = "yshare"
)

var (
	owner        = types.Account("owner")
	vaultAccount = types.Account("vault")
	stratAccount = types.Account("stub-strategy")
	alice        = types.Account("alice")
	bob          = types.Account("bob")
	carol        = types.Account("carol")
)

// stubStrategy holds whatever the vault forwards and pays back on demand.
// With shortchange set it delivers only half of every withdrawal request.
type stubStrategy struct {
	ledger       *ledger.Ledger
	account      types.Account
	vaultAccount types.Account
	denom        string

	paused      bool
	retired     bool
	shortchange bool
}

func (s *stubStrategy) Account() types.Account { return s.account }
func (s *stubStrategy) DepositAsset() string   { return s.denom }
func (s *stubStrategy) Paused() bool           { return s.paused }
func (s *stubStrategy) Retired() bool          { return s.retired }

func (s *stubStrategy) Deposit(caller types.Account, amount sdkmath.Int) error {
	return nil // funds already sit on the strategy account
}

func (s *stubStrategy) Balance() sdkmath.Int {
	return s.ledger.BalanceOf(s.denom, s.account)
}

func (s *stubStrategy) Withdraw(caller types.Account, amount sdkmath.Int) (sdkmath.Int, error) {
	pay := sdkmath.MinInt(amount, s.Balance())
	if s.shortchange {
		pay = pay.QuoRaw(2)
	}
	if pay.IsPositive() {
		if err := s.ledger.Transfer(s.denom, s.account, s.vaultAccount, pay); err != nil {
			return sdkmath.Int{}, err
		}
	}
	return pay, nil
}

func (s *stubStrategy) WithdrawAll(caller types.Account) (sdkmath.Int, error) {
	return s.Withdraw(caller, s.Balance())
}

func (s *stubStrategy) Retire(caller types.Account) error {
	if _, err := s.WithdrawAll(caller); err != nil {
		return err
	}
	s.retired = true
	return nil
}

type fixture struct {
	ledger   *ledger.Ledger
	vault    *vault.ShareVault
	strategy *stubStrategy
	clock    *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	l := ledger.New()
	require.NoError(t, l.Register(assetDenom))
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	v, err := vault.New(l, clk, vaultAccount, owner, assetDenom, shareDenom)
	require.NoError(t, err)

	s := &stubStrategy{ledger: l, account: stratAccount, vaultAccount: vaultAccount, denom: assetDenom}
	id, err := v.AddStrategy(owner, s)
	require.NoError(t, err)
	require.NoError(t, v.Initialize(owner, id))

	for _, who := range []types.Account{alice, bob, carol} {
		require.NoError(t, l.Mint(assetDenom, who, sdkmath.NewInt(1_000_000)))
		require.NoError(t, l.Approve(assetDenom, who, vaultAccount, sdkmath.NewInt(1_000_000)))
	}
	return &fixture{ledger: l, vault: v, strategy: s, clock: clk}
}

// simulateYield drops freshly earned assets onto the strategy, the way a
// successful harvest would.
func (f *fixture) simulateYield(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, f.ledger.Mint(assetDenom, stratAccount, sdkmath.NewInt(amount)))
}

func TestFirstDepositMintsOneToOne(t *testing.T) {
	f := newFixture(t)

	shares, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1000), shares)
	assert.Equal(t, sdkmath.NewInt(1000), f.ledger.BalanceOf(shareDenom, alice))
	assert.Equal(t, types.SharePriceScale, f.vault.PricePerShare())

	// Deposits are forwarded to the strategy, not held idle.
	assert.Equal(t, sdkmath.NewInt(1000), f.strategy.Balance())
	assert.True(t, sdkmath.ZeroInt().Equal(f.ledger.BalanceOf(assetDenom, vaultAccount)))
}

func TestYieldRaisesPriceNotShareCount(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)

	f.simulateYield(t, 500)

	assert.Equal(t, sdkmath.NewInt(1000), f.vault.TotalShares())
	assert.Equal(t, sdkmath.NewInt(1500), f.vault.TotalAssets())
	// 1.5x asset backing per share.
	expected := sdkmath.NewInt(1500).Mul(types.SharePriceScale).Quo(sdkmath.NewInt(1000))
	assert.Equal(t, expected, f.vault.PricePerShare())
}

func TestLateDepositorGetsFewerShares(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)
	f.simulateYield(t, 1000) // price doubles

	shares, err := f.vault.Deposit(bob, sdkmath.NewInt(1000), bob)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(500), shares)

	// Alice's claim is untouched by Bob's entry.
	aliceAssets, err := f.vault.Redeem(alice, sdkmath.NewInt(1000), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(2000), aliceAssets)
}

func TestShareSupplyMatchesHolderBalances(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)
	_, err = f.vault.Deposit(bob, sdkmath.NewInt(300), bob)
	require.NoError(t, err)
	_, err = f.vault.Deposit(carol, sdkmath.NewInt(77), carol)
	require.NoError(t, err)
	_, err = f.vault.Redeem(bob, sdkmath.NewInt(100), bob, bob)
	require.NoError(t, err)

	held := f.ledger.BalanceOf(shareDenom, alice).
		Add(f.ledger.BalanceOf(shareDenom, bob)).
		Add(f.ledger.BalanceOf(shareDenom, carol))
	assert.Equal(t, f.vault.TotalShares(), held)
}

func TestWithdrawBurnsSharesRoundedUp(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)
	f.simulateYield(t, 500) // 1000 shares back 1500 assets

	// Withdrawing 100 assets costs ceil(100*1000/1500) = 67 shares.
	delivered, err := f.vault.Withdraw(alice, sdkmath.NewInt(100), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(100), delivered)
	assert.Equal(t, sdkmath.NewInt(933), f.ledger.BalanceOf(shareDenom, alice))
}

func TestRedeemRoundsAssetsDown(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)
	f.simulateYield(t, 500)

	// 3 shares at 1.5 back 4.5 assets, paid as 4.
	assets, err := f.vault.Redeem(alice, sdkmath.NewInt(3), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(4), assets)
}

func TestDepositTooSmallForOneShare(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(10), alice)
	require.NoError(t, err)
	f.simulateYield(t, 90) // price is now 10x

	// 5 assets buy floor(5*10/100) = 0 shares: rejected, nothing moves.
	balBefore := f.ledger.BalanceOf(assetDenom, bob)
	_, err = f.vault.Deposit(bob, sdkmath.NewInt(5), bob)
	require.ErrorIs(t, err, types.ErrZeroAmount)
	assert.Equal(t, balBefore, f.ledger.BalanceOf(assetDenom, bob))
}

func TestMintPullsAssetsRoundedUp(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)
	f.simulateYield(t, 500)

	// 3 shares at 1.5 cost ceil(4.5) = 5 assets.
	assets, err := f.vault.Mint(bob, sdkmath.NewInt(3), bob)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(5), assets)
	assert.Equal(t, sdkmath.NewInt(3), f.ledger.BalanceOf(shareDenom, bob))
}

func TestUnderDeliveryDegradesWithoutError(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)
	f.strategy.shortchange = true

	delivered, err := f.vault.Withdraw(alice, sdkmath.NewInt(1000), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(500), delivered)
	// The full share cost was still burned.
	assert.True(t, sdkmath.ZeroInt().Equal(f.ledger.BalanceOf(shareDenom, alice)))
}

func TestThirdPartyRedeemNeedsShareAllowance(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)

	_, err = f.vault.Redeem(bob, sdkmath.NewInt(100), alice, bob)
	require.ErrorIs(t, err, types.ErrInsufficientAllowance)

	require.NoError(t, f.ledger.Approve(shareDenom, alice, bob, sdkmath.NewInt(100)))
	assets, err := f.vault.Redeem(bob, sdkmath.NewInt(100), alice, bob)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(100), assets)
	assert.Equal(t, sdkmath.NewInt(900), f.ledger.BalanceOf(shareDenom, alice))
	assert.True(t, sdkmath.ZeroInt().Equal(f.ledger.Allowance(shareDenom, alice, bob)))
}

func TestPauseBlocksEntryAndExit(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)

	require.ErrorIs(t, f.vault.Pause(alice), types.ErrNotOwner)
	require.NoError(t, f.vault.Pause(owner))

	_, err = f.vault.Deposit(bob, sdkmath.NewInt(100), bob)
	require.ErrorIs(t, err, types.ErrPaused)
	_, err = f.vault.Redeem(alice, sdkmath.NewInt(100), alice, alice)
	require.ErrorIs(t, err, types.ErrPaused)

	require.NoError(t, f.vault.Unpause(owner))
	_, err = f.vault.Deposit(bob, sdkmath.NewInt(100), bob)
	require.NoError(t, err)
}

func TestDepositBeforeInitialize(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Register(assetDenom))
	v, err := vault.New(l, clock.System{}, vaultAccount, owner, assetDenom, shareDenom)
	require.NoError(t, err)

	require.NoError(t, l.Mint(assetDenom, alice, sdkmath.NewInt(100)))
	require.NoError(t, l.Approve(assetDenom, alice, vaultAccount, sdkmath.NewInt(100)))

	_, err = v.Deposit(alice, sdkmath.NewInt(100), alice)
	require.ErrorIs(t, err, types.ErrNotInitialized)

	require.ErrorIs(t, v.Initialize(alice, 1), types.ErrNotOwner)
	_, err = v.AddStrategy(owner, &stubStrategy{ledger: l, account: stratAccount, vaultAccount: vaultAccount, denom: assetDenom})
	require.NoError(t, err)
	require.NoError(t, v.Initialize(owner, 1))
	require.ErrorIs(t, v.Initialize(owner, 1), types.ErrAlreadyInitialized)
}

func TestSwitchStrategyMovesFunds(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)

	next := &stubStrategy{
		ledger:       f.ledger,
		account:      types.Account("stub-strategy-2"),
		vaultAccount: vaultAccount,
		denom:        assetDenom,
	}
	id, err := f.vault.AddStrategy(owner, next)
	require.NoError(t, err)
	require.NoError(t, f.vault.SetActiveStrategy(owner, id))

	assert.True(t, sdkmath.ZeroInt().Equal(f.strategy.Balance()))
	assert.Equal(t, sdkmath.NewInt(1000), next.Balance())
	assert.Equal(t, id, f.vault.ActiveStrategyID())
	// Depositor claims ride through the switch untouched.
	assert.Equal(t, sdkmath.NewInt(1000), f.vault.TotalAssets())
}

func TestRetireStrategyRecallsFunds(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)

	require.NoError(t, f.vault.RetireStrategy(owner))
	assert.True(t, f.strategy.retired)
	assert.Equal(t, uint64(0), f.vault.ActiveStrategyID())
	assert.Equal(t, sdkmath.NewInt(1000), f.ledger.BalanceOf(assetDenom, vaultAccount))

	// Withdrawals still work from the idle balance.
	delivered, err := f.vault.Withdraw(alice, sdkmath.NewInt(400), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(400), delivered)
}

func TestDuplicateStrategyRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.AddStrategy(owner, f.strategy)
	require.ErrorIs(t, err, types.ErrDuplicateStrategy)
}

func TestSnapshotReflectsState(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)
	f.simulateYield(t, 200)

	snap := f.vault.Snapshot()
	assert.Equal(t, sdkmath.NewInt(1200), snap.TotalAssets)
	assert.Equal(t, sdkmath.NewInt(1000), snap.TotalShares)
	assert.True(t, sdkmath.ZeroInt().Equal(snap.IdleAssets))
	assert.False(t, snap.Paused)
	assert.True(t, snap.Timestamp.Equal(f.clock.Now()))

	f.clock.Advance(time.Hour)
	assert.True(t, f.vault.Snapshot().Timestamp.After(snap.Timestamp))
}

func TestExitBeyondShareBalanceFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)
	assetsBefore := f.ledger.BalanceOf(assetDenom, alice)

	_, err = f.vault.Redeem(alice, sdkmath.NewInt(1001), alice, alice)
	require.ErrorIs(t, err, types.ErrInsufficientShares)

	// Withdrawing more assets than the shares cover fails the same way.
	_, err = f.vault.Withdraw(alice, sdkmath.NewInt(1001), alice, alice)
	require.ErrorIs(t, err, types.ErrInsufficientShares)

	// A rejected exit moves nothing.
	assert.Equal(t, sdkmath.NewInt(1000), f.ledger.BalanceOf(shareDenom, alice))
	assert.Equal(t, assetsBefore, f.ledger.BalanceOf(assetDenom, alice))
	assert.Equal(t, sdkmath.NewInt(1000), f.vault.TotalAssets())
	assert.Equal(t, sdkmath.NewInt(1000), f.vault.TotalShares())
}

func TestDepositRedeemRoundTrip(t *testing.T) {
	f := newFixture(t)

	// Put the vault at an uneven share price first.
	_, err := f.vault.Deposit(bob, sdkmath.NewInt(1000), bob)
	require.NoError(t, err)
	f.simulateYield(t, 500)

	// 300 assets at 1.5 buy exactly 200 shares; the round trip is lossless.
	shares, err := f.vault.Deposit(alice, sdkmath.NewInt(300), alice)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(200), shares)
	returned, err := f.vault.Redeem(alice, shares, alice, alice)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(300), returned)

	// An amount that truncates on entry loses at most one unit and never gains.
	shares, err = f.vault.Deposit(alice, sdkmath.NewInt(301), alice)
	require.NoError(t, err)
	returned, err = f.vault.Redeem(alice, shares, alice, alice)
	require.NoError(t, err)
	assert.True(t, returned.LTE(sdkmath.NewInt(301)))
	assert.True(t, returned.GTE(sdkmath.NewInt(300)))
}

func TestTotalLossRejectsEntryAndExit(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(alice, sdkmath.NewInt(1000), alice)
	require.NoError(t, err)
	// The strategy loses everything while shares stay outstanding.
	require.NoError(t, f.ledger.Burn(assetDenom, stratAccount, sdkmath.NewInt(1000)))
	require.Equal(t, sdkmath.ZeroInt(), f.vault.TotalAssets())

	_, err = f.vault.Deposit(bob, sdkmath.NewInt(100), bob)
	require.ErrorIs(t, err, types.ErrZeroAmount)
	_, err = f.vault.Withdraw(alice, sdkmath.NewInt(100), alice, alice)
	require.ErrorIs(t, err, types.ErrZeroAmount)

	// Worthless shares still redeem, for nothing.
	returned, err := f.vault.Redeem(alice, sdkmath.NewInt(1000), alice, alice)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.ZeroInt(), returned)
	assert.True(t, sdkmath.ZeroInt().Equal(f.vault.TotalShares()))
}
