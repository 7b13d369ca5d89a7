package cmd

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/arbetrix/arbbot/arbitrage"
	"github.com/arbetrix/arbbot/config"
	"github.com/arbetrix/arbbot/contract"
	"github.com/arbetrix/arbbot/dex"
	"github.com/arbetrix/arbbot/events"
	"github.com/arbetrix/arbbot/gas"
	"github.com/arbetrix/arbbot/pricing"
	"github.com/arbetrix/arbbot/scanner"
	"github.com/arbetrix/arbbot/utils"
	"github.com/arbetrix/arbbot/utils/metrics"
	umath "github.com/arbetrix/arbbot/utils/math"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the continuous arbitrage scan loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()

		if err := config.LoadEnv(); err != nil {
			log.Debug("no .env file loaded", zap.Error(err))
		}
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		client, err := ethclient.Dial(cfg.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("failed to connect to RPC endpoint: %w", err)
		}
		defer client.Close()

		registry, err := buildRegistry(client, cfg, log)
		if err != nil {
			return err
		}

		promReg := prometheus.NewRegistry()
		scanMetrics := metrics.NewScanMetrics("arbbot", promReg)

		agg := pricing.NewAggregator(registry, log)
		agg.SetFailureHook(func(venue string) {
			scanMetrics.VenueQuoteFailures.WithLabelValues(venue).Inc()
		})
		search := arbitrage.NewSearcher(registry, log)

		executor, err := contract.NewExecutor(client, contract.ExecutorConfig{
			ContractAddress: common.HexToAddress(cfg.SettlementContract),
			AavePool:        common.HexToAddress(cfg.AavePool),
			GasLimit:        cfg.SettlementGasLimit,
			ChainID:         new(big.Int).SetUint64(cfg.ChainID),
			DryRun:          cfg.DryRun,
		}, cfg.PrivateKey, promReg, log)
		if err != nil {
			return fmt.Errorf("failed to create settlement executor: %w", err)
		}

		estimator := gas.NewEstimator(client, time.Second, log)

		pairs, err := buildPairSpecs(cfg)
		if err != nil {
			return err
		}
		venues, err := cfg.DexVenues()
		if err != nil {
			return err
		}

		sc := scanner.New(scanner.Config{
			Venues:        venues,
			Pairs:         pairs,
			Interval:      cfg.ScanInterval(),
			Tolerance:     cfg.Risk.PriceTolerance,
			SlippageBps:   cfg.Risk.SlippageBps,
			MinProfit:     cfg.Risk.MinProfit,
			FlashFeeBips:  cfg.Risk.FlashFeeBips,
			AaveFeeBips:   cfg.Risk.AaveFeeBips,
			GasLimit:      cfg.SettlementGasLimit,
			WrappedNative: cfg.WrappedNative,
		}, agg, search, executor, estimator, scanMetrics, log)

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return sc.Run(ctx) })
		g.Go(func() error { return estimator.Run(ctx) })
		g.Go(func() error { return metrics.Serve(ctx, cfg.MetricsAddr, promReg, log) })

		pools := eventPools(cfg)
		if cfg.WSEndpoint != "" && len(pools) > 0 {
			wsClient, err := ethclient.Dial(cfg.WSEndpoint)
			if err != nil {
				return fmt.Errorf("failed to connect to WS endpoint: %w", err)
			}
			defer wsClient.Close()

			sub, err := events.NewSubscriber(wsClient, pools, func(events.Event) {
				sc.RequestScan()
			}, log)
			if err != nil {
				return fmt.Errorf("failed to create event subscriber: %w", err)
			}
			g.Go(func() error { return sub.Run(ctx) })
		} else {
			log.Info("event-driven re-scans disabled, timer only")
		}

		log.Info("scan loop started",
			zap.Duration("interval", cfg.ScanInterval()),
			zap.Int("venues", len(venues)),
			zap.Int("pairs", len(pairs)),
			zap.Bool("dry_run", cfg.DryRun))

		err = g.Wait()
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

// buildRegistry wires the per-kind quote providers behind a shared RPC rate
// limiter.
func buildRegistry(caller dex.ContractCaller, cfg *config.Config, log *zap.Logger) (*dex.Registry, error) {
	limiter := rate.NewLimiter(rate.Limit(cfg.RPCRateLimit.RequestsPerSecond), cfg.RPCRateLimit.BurstSize)

	cp, err := dex.NewConstantProductProvider(caller, limiter, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create constant product provider: %w", err)
	}
	cl, err := dex.NewConcentratedLiquidityProvider(caller, limiter, cfg.Risk.MaxSlippagePct, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create concentrated liquidity provider: %w", err)
	}

	registry := dex.NewRegistry()
	registry.Register(dex.KindConstantProduct, cp)
	registry.Register(dex.KindConcentratedLiquidity, cl)
	return registry, nil
}

// buildPairSpecs expands every configured pair into its two borrow
// orientations with raw trial amounts.
func buildPairSpecs(cfg *config.Config) ([]scanner.PairSpec, error) {
	specs := make([]scanner.PairSpec, 0, 2*len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		base, err := cfg.Token(p.Base)
		if err != nil {
			return nil, err
		}
		quote, err := cfg.Token(p.Quote)
		if err != nil {
			return nil, err
		}

		amountIn, err := umath.ParseUnits(p.Amount, base.Decimals)
		if err != nil {
			return nil, fmt.Errorf("pair %s/%s: invalid amount: %w", p.Base, p.Quote, err)
		}
		reverseIn, err := umath.ParseUnits(p.QuoteAmount, quote.Decimals)
		if err != nil {
			return nil, fmt.Errorf("pair %s/%s: invalid quote_amount: %w", p.Base, p.Quote, err)
		}

		specs = append(specs,
			scanner.PairSpec{Base: base, Quote: quote, AmountIn: amountIn, Direction: arbitrage.DirectionAtoB},
			scanner.PairSpec{Base: quote, Quote: base, AmountIn: reverseIn, Direction: arbitrage.DirectionBtoA},
		)
	}
	return specs, nil
}

func eventPools(cfg *config.Config) []events.Pool {
	var pools []events.Pool
	for _, p := range cfg.Pairs {
		symbol := p.Base + "/" + p.Quote
		for venue, addr := range p.Pools {
			pools = append(pools, events.Pool{
				Venue:   venue,
				Pair:    symbol,
				Address: common.HexToAddress(addr),
			})
		}
	}
	return pools
}
