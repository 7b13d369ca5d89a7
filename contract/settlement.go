package contract

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Settlement entry point ABI. The contract performs the atomic
// borrow-swap-swap-repay; this side only encodes the call.
const settlementABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "aavePool", "type": "address"},
			{"internalType": "address", "name": "asset", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bytes", "name": "params", "type": "bytes"}
		],
		"name": "aaveFlashArb",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// TxBackend is the transaction-facing subset of ethclient.Client the
// executor needs.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ExecutorConfig configures the settlement executor.
type ExecutorConfig struct {
	ContractAddress common.Address
	AavePool        common.Address
	GasLimit        uint64
	ChainID         *big.Int
	DryRun          bool
}

// Executor submits encoded opportunities to the settlement contract through
// an Aave V3 flash loan.
type Executor struct {
	backend TxBackend
	cfg     ExecutorConfig
	abi     abi.ABI
	key     *ecdsa.PrivateKey
	from    common.Address
	logger  *zap.Logger

	metrics struct {
		submissions prometheus.Counter
		dryRuns     prometheus.Counter
		errors      prometheus.Counter
		latency     prometheus.Histogram
	}
}

// NewExecutor creates a settlement executor. key may be nil only in dry-run
// mode.
func NewExecutor(backend TxBackend, cfg ExecutorConfig, keyHex string, reg prometheus.Registerer, logger *zap.Logger) (*Executor, error) {
	if backend == nil && !cfg.DryRun {
		return nil, fmt.Errorf("tx backend cannot be nil")
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("chain id cannot be nil")
	}
	if cfg.GasLimit == 0 {
		return nil, fmt.Errorf("gas limit cannot be zero")
	}

	parsedABI, err := abi.JSON(strings.NewReader(settlementABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement ABI: %w", err)
	}

	e := &Executor{
		backend: backend,
		cfg:     cfg,
		abi:     parsedABI,
		logger:  logger,
	}

	if keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		e.key = key
		e.from = crypto.PubkeyToAddress(key.PublicKey)
	} else if !cfg.DryRun {
		return nil, fmt.Errorf("private key required outside dry-run mode")
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	e.metrics.submissions = factory.NewCounter(prometheus.CounterOpts{
		Name: "settlement_submissions_total",
		Help: "Total number of settlement transactions submitted",
	})
	e.metrics.dryRuns = factory.NewCounter(prometheus.CounterOpts{
		Name: "settlement_dry_runs_total",
		Help: "Total number of settlements skipped by dry-run mode",
	})
	e.metrics.errors = factory.NewCounter(prometheus.CounterOpts{
		Name: "settlement_errors_total",
		Help: "Total number of settlement submission errors",
	})
	e.metrics.latency = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_latency_seconds",
		Help:    "Latency of settlement submissions",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})

	return e, nil
}

// Execute encodes and submits aaveFlashArb(aavePool, asset, amount, params).
// In dry-run mode the call is logged and no transaction is broadcast.
func (e *Executor) Execute(ctx context.Context, asset common.Address, amount *big.Int, params []byte) (*types.Transaction, error) {
	start := time.Now()
	defer func() {
		e.metrics.latency.Observe(time.Since(start).Seconds())
	}()

	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("borrow amount must be positive")
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("empty settlement params")
	}

	callData, err := e.abi.Pack("aaveFlashArb", e.cfg.AavePool, asset, amount, params)
	if err != nil {
		e.metrics.errors.Inc()
		return nil, fmt.Errorf("failed to pack aaveFlashArb: %w", err)
	}

	if e.cfg.DryRun {
		e.metrics.dryRuns.Inc()
		e.logger.Info("dry run, not broadcasting settlement",
			zap.String("contract", e.cfg.ContractAddress.Hex()),
			zap.String("asset", asset.Hex()),
			zap.String("amount", amount.String()),
			zap.Int("params_bytes", len(params)))
		return nil, nil
	}

	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		e.metrics.errors.Inc()
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		e.metrics.errors.Inc()
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.cfg.ContractAddress,
		Gas:      e.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     callData,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.cfg.ChainID), e.key)
	if err != nil {
		e.metrics.errors.Inc()
		return nil, fmt.Errorf("failed to sign settlement tx: %w", err)
	}

	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		e.metrics.errors.Inc()
		return nil, fmt.Errorf("failed to send settlement tx: %w", err)
	}

	e.metrics.submissions.Inc()
	e.logger.Info("settlement submitted",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()))
	return signed, nil
}
