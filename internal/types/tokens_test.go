package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bayfield-finance/yieldengine/internal/types"
)

func TestRouteValidate(t *testing.T) {
	route := types.Route{"urew", "unat", "ustb"}
	require.NoError(t, route.Validate("urew", "ustb"))

	require.ErrorIs(t, route.Validate("unat", "ustb"), types.ErrInvalidRoute)
	require.ErrorIs(t, route.Validate("urew", "unat"), types.ErrInvalidRoute)
	require.ErrorIs(t, types.Route{"urew"}.Validate("urew", "urew"), types.ErrInvalidRoute)
	require.ErrorIs(t, types.Route(nil).Validate("urew", "ustb"), types.ErrInvalidRoute)
}

func TestFeeSplit(t *testing.T) {
	split := types.FeeSplit{StrategistBps: 112, TreasuryBps: 288, CallerBps: 50}
	assert.Equal(t, uint64(450), split.Total())
	require.NoError(t, split.Validate())

	full := types.FeeSplit{StrategistBps: types.MaxBasisPoints}
	require.NoError(t, full.Validate())

	over := types.FeeSplit{StrategistBps: types.MaxBasisPoints, CallerBps: 1}
	require.ErrorIs(t, over.Validate(), types.ErrInvalidFee)
}

func TestEmissionSplit(t *testing.T) {
	split := types.EmissionSplit{TeamPercent: 10, TreasuryPercent: 10, InvestorPercent: 5}
	assert.Equal(t, uint64(25), split.Total())
	assert.Equal(t, uint64(75), split.PoolPercent())
	require.NoError(t, split.Validate())

	require.NoError(t, types.EmissionSplit{}.Validate())
	require.ErrorIs(t, types.EmissionSplit{TeamPercent: 101}.Validate(), types.ErrInvalidFee)
}
