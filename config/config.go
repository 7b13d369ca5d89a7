package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/arbetrix/arbbot/dex"
)

// Defaults applied by Load when the file omits a value.
const (
	DefaultScanIntervalMs   = 3000
	DefaultPriceTolerance   = 0.001
	DefaultMaxSlippagePct   = 0.5
	DefaultSlippageBps      = 30
	DefaultFlashFeeBips     = 30
	DefaultAaveFeeBips      = 5
	DefaultRPCRateLimit     = 20.0
	DefaultRPCRateBurst     = 40
	DefaultSettlementGasCap = 2_000_000
)

type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

type VenueConfig struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"` // "constant_product" or "concentrated_liquidity"
	Router   string   `yaml:"router"`
	Quoter   string   `yaml:"quoter,omitempty"`
	FeeTiers []uint32 `yaml:"fee_tiers,omitempty"`
}

type PairConfig struct {
	Base  string `yaml:"base"`
	Quote string `yaml:"quote"`
	// Amount is the trial borrow size for the base->quote direction, in
	// human units of the base token. QuoteAmount is the trial size for the
	// reversed direction, in human units of the quote token.
	Amount      string `yaml:"amount"`
	QuoteAmount string `yaml:"quote_amount"`
	// Pools maps venue name to the pool address whose liquidity events
	// should trigger a re-scan. Optional per venue.
	Pools map[string]string `yaml:"pools,omitempty"`
}

type RiskConfig struct {
	MaxSlippagePct float64 `yaml:"max_slippage_pct"`
	SlippageBps    int64   `yaml:"slippage_bps"`
	PriceTolerance float64 `yaml:"price_tolerance"`
	MinProfit      string  `yaml:"min_profit"` // human units of the borrow token
	FlashFeeBips   uint16  `yaml:"flash_fee_bips"`
	AaveFeeBips    int64   `yaml:"aave_fee_bips"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type Config struct {
	// Chain and network settings. Endpoints and the signing key come from
	// the environment, everything else from the YAML file.
	ChainID     uint64 `yaml:"chain_id"`
	RPCEndpoint string `yaml:"-"`
	WSEndpoint  string `yaml:"-"`
	PrivateKey  string `yaml:"-"`

	// Settlement surface
	SettlementContract string `yaml:"settlement_contract"`
	AavePool           string `yaml:"aave_pool"`
	SettlementGasLimit uint64 `yaml:"settlement_gas_limit"`
	DryRun             bool   `yaml:"dry_run"`

	// Scan behaviour
	ScanIntervalMs int    `yaml:"scan_interval_ms"`
	MetricsAddr    string `yaml:"metrics_addr"`
	// WrappedNative names the token whose borrow-denominated profits can
	// absorb gas costs directly (e.g. WETH on mainnet). Optional.
	WrappedNative string `yaml:"wrapped_native"`

	Venues       []VenueConfig   `yaml:"venues"`
	Tokens       []TokenConfig   `yaml:"tokens"`
	Pairs        []PairConfig    `yaml:"pairs"`
	Risk         RiskConfig      `yaml:"risk"`
	RPCRateLimit RateLimitConfig `yaml:"rpc_rate_limit"`
}

// LoadConfig reads the YAML config file, merges environment-provided
// secrets, applies defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.RPCEndpoint = os.Getenv(EnvRPCEndpoint)
	cfg.WSEndpoint = os.Getenv(EnvWSEndpoint)
	cfg.PrivateKey = os.Getenv(EnvPrivateKey)

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ScanIntervalMs == 0 {
		c.ScanIntervalMs = DefaultScanIntervalMs
	}
	if c.Risk.PriceTolerance == 0 {
		c.Risk.PriceTolerance = DefaultPriceTolerance
	}
	if c.Risk.MaxSlippagePct == 0 {
		c.Risk.MaxSlippagePct = DefaultMaxSlippagePct
	}
	if c.Risk.SlippageBps == 0 {
		c.Risk.SlippageBps = DefaultSlippageBps
	}
	if c.Risk.FlashFeeBips == 0 {
		c.Risk.FlashFeeBips = DefaultFlashFeeBips
	}
	if c.Risk.AaveFeeBips == 0 {
		c.Risk.AaveFeeBips = DefaultAaveFeeBips
	}
	if c.RPCRateLimit.RequestsPerSecond == 0 {
		c.RPCRateLimit.RequestsPerSecond = DefaultRPCRateLimit
	}
	if c.RPCRateLimit.BurstSize == 0 {
		c.RPCRateLimit.BurstSize = DefaultRPCRateBurst
	}
	if c.SettlementGasLimit == 0 {
		c.SettlementGasLimit = DefaultSettlementGasCap
	}
}

// Validate aggregates every configuration problem instead of stopping at the
// first one.
func (c *Config) Validate() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errors = append(errors, fmt.Sprintf("%s must be set", EnvRPCEndpoint))
	}
	if c.SettlementContract == "" || !common.IsHexAddress(c.SettlementContract) {
		errors = append(errors, "settlement_contract must be a valid address")
	}
	if c.AavePool == "" || !common.IsHexAddress(c.AavePool) {
		errors = append(errors, "aave_pool must be a valid address")
	}
	if len(c.Venues) < 2 {
		errors = append(errors, "at least two venues are required")
	}
	if len(c.Pairs) == 0 {
		errors = append(errors, "at least one pair is required")
	}
	if c.Risk.PriceTolerance < 0 {
		errors = append(errors, "risk.price_tolerance must not be negative")
	}
	if c.Risk.SlippageBps < 0 || c.Risk.SlippageBps >= 10000 {
		errors = append(errors, "risk.slippage_bps must be in [0, 10000)")
	}

	tokens := make(map[string]TokenConfig, len(c.Tokens))
	for _, t := range c.Tokens {
		if t.Symbol == "" {
			errors = append(errors, "token with empty symbol")
			continue
		}
		if !common.IsHexAddress(t.Address) {
			errors = append(errors, fmt.Sprintf("token %s: invalid address %q", t.Symbol, t.Address))
		}
		if _, dup := tokens[t.Symbol]; dup {
			errors = append(errors, fmt.Sprintf("token %s: duplicate symbol", t.Symbol))
		}
		tokens[t.Symbol] = t
	}

	venueNames := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.Name == "" {
			errors = append(errors, "venue with empty name")
			continue
		}
		if venueNames[v.Name] {
			errors = append(errors, fmt.Sprintf("venue %s: duplicate name", v.Name))
		}
		venueNames[v.Name] = true

		kind, err := parseKind(v.Kind)
		if err != nil {
			errors = append(errors, fmt.Sprintf("venue %s: %v", v.Name, err))
			continue
		}
		if !common.IsHexAddress(v.Router) {
			errors = append(errors, fmt.Sprintf("venue %s: invalid router address %q", v.Name, v.Router))
		}
		if kind == dex.KindConcentratedLiquidity {
			if !common.IsHexAddress(v.Quoter) {
				errors = append(errors, fmt.Sprintf("venue %s: concentrated liquidity venue needs a quoter address", v.Name))
			}
			if len(v.FeeTiers) == 0 {
				errors = append(errors, fmt.Sprintf("venue %s: concentrated liquidity venue needs fee tiers", v.Name))
			}
			for _, tier := range v.FeeTiers {
				if tier >= 1<<24 {
					errors = append(errors, fmt.Sprintf("venue %s: fee tier %d exceeds uint24", v.Name, tier))
				}
			}
		}
	}

	// Every pair is scanned in both orientations, so a pair listed again
	// with base and quote swapped collides just like an exact duplicate.
	orientations := make(map[string]int, 2*len(c.Pairs))
	for i, p := range c.Pairs {
		if _, ok := tokens[p.Base]; !ok {
			errors = append(errors, fmt.Sprintf("pair %d: unknown base token %q", i, p.Base))
		}
		if _, ok := tokens[p.Quote]; !ok {
			errors = append(errors, fmt.Sprintf("pair %d: unknown quote token %q", i, p.Quote))
		}
		if p.Base == p.Quote {
			errors = append(errors, fmt.Sprintf("pair %d: base and quote must differ", i))
		} else if j, dup := orientations[p.Base+"/"+p.Quote]; dup {
			errors = append(errors, fmt.Sprintf("pair %d: orientation %s/%s already covered by pair %d", i, p.Base, p.Quote, j))
		} else {
			orientations[p.Base+"/"+p.Quote] = i
			orientations[p.Quote+"/"+p.Base] = i
		}
		if p.Amount == "" {
			errors = append(errors, fmt.Sprintf("pair %d: amount must be specified", i))
		}
		if p.QuoteAmount == "" {
			errors = append(errors, fmt.Sprintf("pair %d: quote_amount must be specified", i))
		}
		for venue, pool := range p.Pools {
			if !venueNames[venue] {
				errors = append(errors, fmt.Sprintf("pair %d: pool for unknown venue %q", i, venue))
			}
			if !common.IsHexAddress(pool) {
				errors = append(errors, fmt.Sprintf("pair %d: invalid pool address %q for venue %s", i, pool, venue))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// ScanInterval returns the configured scan period.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMs) * time.Millisecond
}

// Token resolves a token symbol to its descriptor.
func (c *Config) Token(symbol string) (dex.Token, error) {
	for _, t := range c.Tokens {
		if t.Symbol == symbol {
			return dex.Token{
				Symbol:   t.Symbol,
				Address:  common.HexToAddress(t.Address),
				Decimals: t.Decimals,
			}, nil
		}
	}
	return dex.Token{}, fmt.Errorf("unknown token %q", symbol)
}

// DexVenues converts the venue registry into descriptors, preserving the
// configured order. Iteration order over this slice is the stable order used
// everywhere downstream.
func (c *Config) DexVenues() ([]dex.Venue, error) {
	venues := make([]dex.Venue, 0, len(c.Venues))
	for _, v := range c.Venues {
		kind, err := parseKind(v.Kind)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", v.Name, err)
		}
		venues = append(venues, dex.Venue{
			Name:     v.Name,
			Kind:     kind,
			Router:   common.HexToAddress(v.Router),
			Quoter:   common.HexToAddress(v.Quoter),
			FeeTiers: v.FeeTiers,
		})
	}
	return venues, nil
}

func parseKind(s string) (dex.Kind, error) {
	switch s {
	case "constant_product":
		return dex.KindConstantProduct, nil
	case "concentrated_liquidity":
		return dex.KindConcentratedLiquidity, nil
	default:
		return 0, fmt.Errorf("unknown venue kind %q", s)
	}
}
