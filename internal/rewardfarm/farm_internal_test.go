package rewardfarm

import (
	"fmt"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bayfield-finance/yieldengine/internal/clock"
	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/types"
)

func TestQueriesDoNotCreateUserRecords(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Register("urwd"))
	require.NoError(t, l.Register("ustk"))
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	f, err := New(Config{
		Ledger:       l,
		Clock:        clk,
		Account:      types.Account("farm"),
		Owner:        types.Account("owner"),
		Treasury:     types.Account("treasury"),
		Team:         types.Account("team"),
		Investor:     types.Account("investor"),
		RewardDenom:  "urwd",
		EmissionRate: sdkmath.NewInt(1000),
	})
	require.NoError(t, err)
	pid, err := f.AddPool(types.Account("owner"), "ustk", 100, 0, 0, nil)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		who := types.Account(fmt.Sprintf("stranger-%d", i))
		pending, err := f.PendingReward(pid, who)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.ZeroInt(), pending)
		staked, err := f.StakedAmount(pid, who)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.ZeroInt(), staked)
		readyAt, err := f.HarvestReadyAt(pid, who)
		require.NoError(t, err)
		assert.True(t, readyAt.IsZero())
	}
	assert.Empty(t, f.users[pid])
}
