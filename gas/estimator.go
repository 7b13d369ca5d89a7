package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PriceSource is the gas-price-facing subset of ethclient.Client.
type PriceSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Estimator tracks current gas prices and converts a gas limit into an
// expected transaction cost in wei. The scanner folds that cost into the
// minimum profit floor for opportunities borrowing the wrapped native token.
type Estimator struct {
	source   PriceSource
	logger   *zap.Logger
	interval time.Duration

	mu          sync.RWMutex
	gasPrice    *big.Int
	priorityFee *big.Int
}

// NewEstimator creates a gas estimator refreshing every interval.
func NewEstimator(source PriceSource, interval time.Duration, logger *zap.Logger) *Estimator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Estimator{
		source:   source,
		logger:   logger,
		interval: interval,
	}
}

// Run refreshes prices until the context is cancelled. Failed refreshes keep
// the previous values.
func (e *Estimator) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	if err := e.update(ctx); err != nil {
		e.logger.Warn("initial gas price update failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.update(ctx); err != nil {
				e.logger.Warn("gas price update failed", zap.Error(err))
			}
		}
	}
}

func (e *Estimator) update(ctx context.Context) error {
	gasPrice, err := e.source.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %w", err)
	}
	priorityFee, err := e.source.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("failed to get priority fee: %w", err)
	}

	e.mu.Lock()
	e.gasPrice = gasPrice
	e.priorityFee = priorityFee
	e.mu.Unlock()
	return nil
}

// EstimateGasCost returns the expected cost in wei of a transaction with the
// given gas limit, or an error when no price has been observed yet.
func (e *Estimator) EstimateGasCost(gasLimit uint64) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.gasPrice == nil {
		return nil, fmt.Errorf("no gas price observed yet")
	}

	total := new(big.Int).Set(e.gasPrice)
	if e.priorityFee != nil {
		total.Add(total, e.priorityFee)
	}
	return total.Mul(total, new(big.Int).SetUint64(gasLimit)), nil
}
