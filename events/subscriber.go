package events

import (
	"context"
	"fmt"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// Kind classifies a liquidity pool event.
type Kind string

const (
	KindSwap    Kind = "Swap"
	KindMint    Kind = "Mint"
	KindBurn    Kind = "Burn"
	KindSync    Kind = "Sync"
	KindCollect Kind = "Collect"
)

// topicKinds maps topic0 hashes to event kinds across both pool styles.
// Constant-product and concentrated-liquidity pools emit structurally
// different Swap/Mint/Burn events, so both signatures are listed.
var topicKinds = map[common.Hash]Kind{
	// constant product (Uniswap V2 style)
	crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)")): KindSwap,
	crypto.Keccak256Hash([]byte("Mint(address,uint256,uint256)")):                         KindMint,
	crypto.Keccak256Hash([]byte("Burn(address,uint256,uint256,address)")):                 KindBurn,
	crypto.Keccak256Hash([]byte("Sync(uint112,uint112)")):                                 KindSync,
	// concentrated liquidity (Uniswap V3 style)
	crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)")):    KindSwap,
	crypto.Keccak256Hash([]byte("Mint(address,address,int24,int24,uint128,uint256,uint256)")):    KindMint,
	crypto.Keccak256Hash([]byte("Burn(address,int24,int24,uint128,uint256,uint256)")):            KindBurn,
	crypto.Keccak256Hash([]byte("Collect(address,address,int24,int24,uint128,uint128)")):         KindCollect,
}

// Pool names one monitored pool contract.
type Pool struct {
	Venue   string
	Pair    string
	Address common.Address
}

// Event is one liquidity change delivery.
type Event struct {
	Kind  Kind
	Venue string
	Pair  string
	Log   types.Log
}

// LogSubscriber is the subscription-facing subset of ethclient.Client.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Subscriber watches pool liquidity events (Swap, Mint, Burn, Sync, Collect)
// and invokes the notify callback for each one. Its only downstream effect
// is "request a scan now".
type Subscriber struct {
	client LogSubscriber
	pools  map[common.Address]Pool
	notify func(Event)
	dedupe *lru.Cache
	logger *zap.Logger

	// resubscribe delay after a dropped subscription
	backoff time.Duration
}

func NewSubscriber(client LogSubscriber, pools []Pool, notify func(Event), logger *zap.Logger) (*Subscriber, error) {
	if client == nil {
		return nil, fmt.Errorf("log subscriber cannot be nil")
	}
	if notify == nil {
		return nil, fmt.Errorf("notify callback cannot be nil")
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("no pools to subscribe to")
	}

	// Providers occasionally redeliver logs after reorgs or reconnects.
	cache, err := lru.New(4096)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedupe cache: %w", err)
	}

	byAddr := make(map[common.Address]Pool, len(pools))
	for _, p := range pools {
		byAddr[p.Address] = p
	}

	return &Subscriber{
		client:  client,
		pools:   byAddr,
		notify:  notify,
		dedupe:  cache,
		logger:  logger,
		backoff: 2 * time.Second,
	}, nil
}

// Run subscribes and dispatches until the context is cancelled. A dropped
// subscription is re-established after a short backoff; delivery errors
// never terminate the loop.
func (s *Subscriber) Run(ctx context.Context) error {
	addresses := make([]common.Address, 0, len(s.pools))
	for addr := range s.pools {
		addresses = append(addresses, addr)
	}
	query := ethereum.FilterQuery{Addresses: addresses}

	for {
		if err := s.subscribeOnce(ctx, query); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("log subscription dropped, resubscribing",
				zap.Error(err),
				zap.Duration("backoff", s.backoff))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}
	}
}

func (s *Subscriber) subscribeOnce(ctx context.Context, query ethereum.FilterQuery) error {
	logs := make(chan types.Log, 64)
	sub, err := s.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	s.logger.Info("subscribed to pool events", zap.Int("pools", len(s.pools)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case lg := <-logs:
			s.handleLog(lg)
		}
	}
}

func (s *Subscriber) handleLog(lg types.Log) {
	if len(lg.Topics) == 0 {
		return
	}
	kind, ok := topicKinds[lg.Topics[0]]
	if !ok {
		return
	}
	pool, ok := s.pools[lg.Address]
	if !ok {
		return
	}

	key := fmt.Sprintf("%s-%d", lg.TxHash.Hex(), lg.Index)
	if _, seen := s.dedupe.Get(key); seen {
		return
	}
	s.dedupe.Add(key, struct{}{})

	s.logger.Debug("pool event",
		zap.String("kind", string(kind)),
		zap.String("venue", pool.Venue),
		zap.String("pair", pool.Pair),
		zap.Uint64("block", lg.BlockNumber))

	s.notify(Event{Kind: kind, Venue: pool.Venue, Pair: pool.Pair, Log: lg})
}
