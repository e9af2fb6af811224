package main

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/bayfield-finance/yieldengine/internal/amm"
	"github.com/bayfield-finance/yieldengine/internal/chef"
	"github.com/bayfield-finance/yieldengine/internal/clock"
	"github.com/bayfield-finance/yieldengine/internal/config"
	"github.com/bayfield-finance/yieldengine/internal/keeper"
	"github.com/bayfield-finance/yieldengine/internal/ledger"
	"github.com/bayfield-finance/yieldengine/internal/logger"
	"github.com/bayfield-finance/yieldengine/internal/rewardfarm"
	"github.com/bayfield-finance/yieldengine/internal/state"
	"github.com/bayfield-finance/yieldengine/internal/strategy"
	"github.com/bayfield-finance/yieldengine/internal/types"
	"github.com/bayfield-finance/yieldengine/internal/vault"
	"github.com/bayfield-finance/yieldengine/internal/web"
)

// Deployment topology for this engine instance. Denoms and pool wiring are
// fixed per deployment; economic parameters move at runtime via the admin
// operations.
const (
	NativeDenom = "ubay"
	StableDenom = "uusdc"
	RewardDenom = "uext"

	WantDenom    = "lp/ubay-uusdc"
	RoutingDenom = "lp/uext-ubay"
	ShareDenom   = "ybay"

	ChefPoolID = uint64(0)
)

var (
	OwnerAccount      = types.Account("engine-owner")
	TreasuryAccount   = types.Account("engine-treasury")
	StrategistAccount = types.Account("engine-strategist")
	TeamAccount       = types.Account("engine-team")
	InvestorAccount   = types.Account("engine-investor")
	KeeperAccount     = types.Account("engine-keeper")
	GenesisAccount    = types.Account("engine-genesis")

	AMMAccount      = types.Account("amm-exchange")
	ChefAccount     = types.Account("external-farm")
	VaultAccount    = types.Account("share-vault")
	StrategyAccount = types.Account("farm-strategy")
	FarmAccount     = types.Account("reward-farm")

	// GenesisLiquidity seeds each side of the bootstrap pairs.
	GenesisLiquidity = sdkmath.NewInt(1_000_000_000_000)
)

// main is the entry point for the yield engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(config.LogLevel)
	log.Info().Msg("Yield Engine Starting...")

	// Initialize Database Connection (receipts and snapshots)
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: int(config.DBPort),
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Ledger and Collaborators ---
	clk := clock.System{}
	book := ledger.New()
	for _, denom := range []string{NativeDenom, StableDenom, RewardDenom} {
		if err := book.Register(denom); err != nil {
			log.Fatal().Err(err).Str("denom", denom).Msg("Failed to register denom")
		}
	}

	exchange := amm.NewExchange(book, AMMAccount, clk)
	if err := exchange.CreatePair(NativeDenom, StableDenom, WantDenom); err != nil {
		log.Fatal().Err(err).Msg("Failed to create deposit pair")
	}
	if err := exchange.CreatePair(RewardDenom, NativeDenom, RoutingDenom); err != nil {
		log.Fatal().Err(err).Msg("Failed to create routing pair")
	}
	if err := seedLiquidity(book, exchange, clk); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed bootstrap liquidity")
	}

	externalFarm := chef.New(book, ChefAccount)
	if err := externalFarm.AddPool(ChefPoolID, WantDenom); err != nil {
		log.Fatal().Err(err).Msg("Failed to register external farm pool")
	}

	// --- 3. Vault, Strategy and Reward Farm ---
	shareVault, err := vault.New(book, clk, VaultAccount, OwnerAccount, WantDenom, ShareDenom)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault")
	}

	farmStrategy, err := strategy.NewSingleReward(strategy.Config{
		Ledger: book,
		Router: exchange,
		Farm:   externalFarm,
		Clock:  clk,

		Account:       StrategyAccount,
		VaultAccount:  VaultAccount,
		Owner:         OwnerAccount,
		Strategist:    StrategistAccount,
		Treasury:      TreasuryAccount,
		RouterAccount: AMMAccount,
		FarmAccount:   ChefAccount,

		WantDenom:   WantDenom,
		NativeDenom: NativeDenom,
		PoolID:      ChefPoolID,

		Output: strategy.RewardRoute{
			Token:    RewardDenom,
			ToNative: types.Route{RewardDenom, NativeDenom},
			ToLP0:    types.Route{RewardDenom, NativeDenom},
			ToLP1:    types.Route{RewardDenom, NativeDenom, StableDenom},
		},

		Fees:        config.DefaultHarvestFees,
		SlippageBps: config.DefaultSlippageBps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create farm strategy")
	}

	strategyID, err := shareVault.AddStrategy(OwnerAccount, farmStrategy)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register strategy")
	}
	if err := shareVault.Initialize(OwnerAccount, strategyID); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vault")
	}

	rewardFarm, err := rewardfarm.New(rewardfarm.Config{
		Ledger:       book,
		Clock:        clk,
		Account:      FarmAccount,
		Owner:        OwnerAccount,
		Treasury:     TreasuryAccount,
		Team:         TeamAccount,
		Investor:     InvestorAccount,
		RewardDenom:  NativeDenom,
		EmissionRate: config.DefaultEmissionRate,
		Split:        config.DefaultEmissionSplit,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create reward farm")
	}
	// Vault shares earn the bulk of emissions; a native staking pool takes
	// the rest, with a small deposit fee.
	if _, err := rewardFarm.AddPool(OwnerAccount, ShareDenom, 100, 0, config.DefaultHarvestCooldown, nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to add share staking pool")
	}
	if _, err := rewardFarm.AddPool(OwnerAccount, NativeDenom, 50, 100, config.DefaultHarvestCooldown, nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to add native staking pool")
	}

	// --- 4. Web Server ---
	webServer := web.NewWebServer(config.WebListenAddr, shareVault, rewardFarm)
	go func() {
		log.Info().Str("addr", config.WebListenAddr).Msg("Starting engine dashboard API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Keeper Main Loop ---
	engineKeeper, err := keeper.New(keeper.Config{
		Ledger: book,
		Clock:  clk,
		Vault:  shareVault,
		Farm:   rewardFarm,
		Targets: []keeper.Target{{
			ID:          strategyID,
			Strategy:    farmStrategy,
			FeeAccounts: []types.Account{StrategistAccount, TreasuryAccount, KeeperAccount},
		}},
		Account:     KeeperAccount,
		NativeDenom: NativeDenom,
		Backoff:     config.DefaultKeeperBackoff,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper")
	}

	log.Info().Str("interval", config.KeeperInterval().String()).Msg("Starting keeper main loop")
	engineKeeper.RunLoop(context.Background(), config.KeeperInterval())
}

// seedLiquidity mints the genesis allocation and opens both pairs so swap
// routes are quotable from the first cycle.
func seedLiquidity(book *ledger.Ledger, exchange *amm.Exchange, clk clock.Clock) error {
	for _, denom := range []string{NativeDenom, StableDenom, RewardDenom} {
		if err := book.Mint(denom, GenesisAccount, GenesisLiquidity.MulRaw(2)); err != nil {
			return err
		}
		if err := book.Approve(denom, GenesisAccount, AMMAccount, GenesisLiquidity.MulRaw(2)); err != nil {
			return err
		}
	}

	deadline := clk.Now().Add(10 * time.Minute)
	if _, _, _, err := exchange.AddLiquidity(
		GenesisAccount, NativeDenom, StableDenom,
		GenesisLiquidity, GenesisLiquidity,
		sdkmath.ZeroInt(), sdkmath.ZeroInt(),
		GenesisAccount, deadline,
	); err != nil {
		return err
	}
	_, _, _, err := exchange.AddLiquidity(
		GenesisAccount, RewardDenom, NativeDenom,
		GenesisLiquidity, GenesisLiquidity,
		sdkmath.ZeroInt(), sdkmath.ZeroInt(),
		GenesisAccount, deadline,
	)
	return err
}
