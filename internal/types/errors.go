/*

Shared error taxonomy for the engine. Every public entry point fails with one
of these sentinels (usually wrapped with additional context), so callers and
tests can classify failures with errors.Is.

*/

package types

import "errors"

// Authorization errors
var (
	ErrUnauthorized = errors.New("caller is not authorized for this operation")
	ErrNotVault     = errors.New("caller is not the bound vault")
	ErrNotOwner     = errors.New("caller is not the owner")
)

// State errors
var (
	ErrPaused             = errors.New("component is paused")
	ErrNotPaused          = errors.New("component is not paused")
	ErrNotInitialized     = errors.New("vault is not initialized")
	ErrAlreadyInitialized = errors.New("vault is already initialized")
	ErrStrategyRetired    = errors.New("strategy is retired")
	ErrDuplicateStrategy  = errors.New("strategy is already registered")
	ErrUnknownStrategy    = errors.New("strategy is not registered")
	ErrAssetMismatch      = errors.New("strategy deposit asset does not match vault asset")
	ErrUnknownPool        = errors.New("pool does not exist")
	ErrDuplicatePool      = errors.New("pool already exists for this stake asset")
)

// Amount errors
var (
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientShares    = errors.New("insufficient share balance")
	ErrInsufficientStake     = errors.New("insufficient staked amount")
)

// Route / configuration errors
var (
	ErrInvalidRoute    = errors.New("swap route endpoints do not match required tokens")
	ErrInvalidFee      = errors.New("fee configuration exceeds the allowed maximum")
	ErrInvalidSlippage = errors.New("slippage parameter is out of bounds")
	ErrTooManyRewarder = errors.New("too many secondary rewarders attached")
)

// Market errors
var (
	ErrSlippageExceeded = errors.New("realized output is below the declared minimum")
	ErrDeadlineExceeded = errors.New("operation deadline has passed")
)

// Ledger errors
var (
	ErrUnknownDenom   = errors.New("denom is not registered in the ledger")
	ErrDuplicateDenom = errors.New("denom is already registered in the ledger")
)
