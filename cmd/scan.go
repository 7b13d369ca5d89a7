package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arbetrix/arbbot/arbitrage"
	"github.com/arbetrix/arbbot/config"
	"github.com/arbetrix/arbbot/pricing"
	"github.com/arbetrix/arbbot/utils"
	umath "github.com/arbetrix/arbbot/utils/math"
)

// scanCmd runs one aggregation and search pass and reports what it finds
// without touching the settlement contract. Useful for config verification.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan and print the result without settling",
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

		pairs, err := buildPairSpecs(cfg)
		if err != nil {
			return err
		}
		venues, err := cfg.DexVenues()
		if err != nil {
			return err
		}

		agg := pricing.NewAggregator(registry, log)
		search := arbitrage.NewSearcher(registry, log)

		ctx := cmd.Context()
		requests := make([]pricing.PairRequest, 0, len(pairs))
		for _, spec := range pairs {
			requests = append(requests, pricing.PairRequest{
				Base:     spec.Base,
				Quote:    spec.Quote,
				AmountIn: spec.AmountIn,
			})
		}

		list, err := agg.Aggregate(ctx, requests, venues)
		if err != nil {
			return fmt.Errorf("aggregation failed: %w", err)
		}

		for _, entry := range list.Entries {
			for _, q := range entry.Results {
				log.Info("quote",
					zap.String("pair", entry.Key.Base+"/"+entry.Key.Quote),
					zap.String("venue", q.Venue),
					zap.Float64("price", q.Price))
			}
		}

		var opportunities []*arbitrage.Opportunity
		for _, spec := range pairs {
			entry := list.Entry(spec.Key())
			if entry == nil {
				continue
			}
			opp, err := search.SearchPair(ctx, entry, spec.Base, spec.Quote, venues, spec.Direction)
			if err != nil {
				log.Warn("search failed",
					zap.String("base", spec.Base.Symbol),
					zap.String("quote", spec.Quote.Symbol),
					zap.Error(err))
				continue
			}
			opportunities = append(opportunities, opp)
		}

		best := arbitrage.Best(opportunities)
		if best == nil {
			log.Info("no arbitrage found in either direction")
			return nil
		}

		log.Info("best opportunity",
			zap.String("direction", best.Direction.String()),
			zap.String("borrow", best.BorrowToken.Symbol),
			zap.String("buy_venue", best.BuyVenue.Name),
			zap.String("sell_venue", best.SellVenue.Name),
			zap.String("amount_in", umath.FormatUnits(best.AmountIn, best.BorrowToken.Decimals)),
			zap.String("expected_out", umath.FormatUnits(best.ExpectedOut, best.BorrowToken.Decimals)),
			zap.String("profit", umath.FormatUnits(best.Profit(), best.BorrowToken.Decimals)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
