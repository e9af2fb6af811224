/*

Core identity types shared by every component: accounts, denoms, swap routes
and fee splits. Amount math everywhere uses cosmossdk.io/math so the engine
never touches floating point on a balance-affecting path.

*/

package types

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Account identifies a balance holder on the ledger. Components (vault,
// strategies, farm) hold balances under their own account.
type Account string

// MaxBasisPoints is the denominator for all basis-point fee math.
const MaxBasisPoints = uint64(10_000)

// SharePriceScale is the fixed-point scale for vault share prices: a price of
// exactly 1.0 is reported as 1e18.
var SharePriceScale = sdkmath.NewIntWithDecimal(1, 18)

// RewardPrecision is the fixed-point scale of the farm's reward-per-share
// accumulator (the masterchef convention of 1e12).
var RewardPrecision = sdkmath.NewIntWithDecimal(1, 12)

// Route is an ordered token path for the external swap router. Routes are
// computed off-process; the engine only checks the endpoints.
type Route []string

// Validate checks that the route starts at from and ends at to.
func (r Route) Validate(from, to string) error {
	if len(r) < 2 {
		return fmt.Errorf("%w: route needs at least two hops, got %d", ErrInvalidRoute, len(r))
	}
	if r[0] != from {
		return fmt.Errorf("%w: route starts at %s, want %s", ErrInvalidRoute, r[0], from)
	}
	if r[len(r)-1] != to {
		return fmt.Errorf("%w: route ends at %s, want %s", ErrInvalidRoute, r[len(r)-1], to)
	}
	return nil
}

// FeeSplit is the strategy's three-way harvest fee in basis points.
type FeeSplit struct {
	StrategistBps uint64 `json:"strategist_bps"`
	TreasuryBps   uint64 `json:"treasury_bps"`
	CallerBps     uint64 `json:"caller_bps"`
}

// Total returns the combined fee in basis points.
func (f FeeSplit) Total() uint64 {
	return f.StrategistBps + f.TreasuryBps + f.CallerBps
}

// Validate rejects any split whose sum exceeds 100%.
func (f FeeSplit) Validate() error {
	if f.Total() > MaxBasisPoints {
		return fmt.Errorf("%w: %d bps", ErrInvalidFee, f.Total())
	}
	return nil
}

// EmissionSplit divides each reward emission tick between the protocol
// parties, in whole percent. The pool's stakers receive the remainder.
type EmissionSplit struct {
	TeamPercent     uint64 `json:"team_percent"`
	TreasuryPercent uint64 `json:"treasury_percent"`
	InvestorPercent uint64 `json:"investor_percent"`
}

// Total returns the combined non-pool percentage.
func (e EmissionSplit) Total() uint64 {
	return e.TeamPercent + e.TreasuryPercent + e.InvestorPercent
}

// PoolPercent returns the stakers' percentage of each emission tick.
func (e EmissionSplit) PoolPercent() uint64 {
	return 100 - e.Total()
}

// Validate rejects any split whose sum exceeds 100%.
func (e EmissionSplit) Validate() error {
	if e.Total() > 100 {
		return fmt.Errorf("%w: emission split totals %d%%", ErrInvalidFee, e.Total())
	}
	return nil
}
