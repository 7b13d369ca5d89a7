package events

import (
	"context"
	"fmt"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubLogSubscriber struct{}

func (stubLogSubscriber) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, fmt.Errorf("not wired in this test")
}

var (
	poolAddr  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	otherAddr = common.HexToAddress("0x00000000000000000000000000000000000000dd")

	v2SwapTopic = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	v3SwapTopic = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
)

func newTestSubscriber(t *testing.T) (*Subscriber, *[]Event) {
	t.Helper()
	var received []Event
	sub, err := NewSubscriber(stubLogSubscriber{}, []Pool{
		{Venue: "alpha", Pair: "USDC/WETH", Address: poolAddr},
	}, func(e Event) { received = append(received, e) }, zap.NewNop())
	require.NoError(t, err)
	return sub, &received
}

func swapLog(addr common.Address, topic common.Hash, txByte byte, index uint) types.Log {
	return types.Log{
		Address: addr,
		Topics:  []common.Hash{topic},
		TxHash:  common.BytesToHash([]byte{txByte}),
		Index:   index,
	}
}

func TestHandleLogDispatchesKnownEvents(t *testing.T) {
	sub, received := newTestSubscriber(t)

	sub.handleLog(swapLog(poolAddr, v2SwapTopic, 0x01, 0))
	sub.handleLog(swapLog(poolAddr, v3SwapTopic, 0x02, 0))

	require.Len(t, *received, 2, "both pool styles' Swap signatures dispatch")
	assert.Equal(t, KindSwap, (*received)[0].Kind)
	assert.Equal(t, "alpha", (*received)[0].Venue)
	assert.Equal(t, "USDC/WETH", (*received)[0].Pair)
}

func TestHandleLogDeduplicatesRedeliveries(t *testing.T) {
	sub, received := newTestSubscriber(t)

	lg := swapLog(poolAddr, v2SwapTopic, 0x01, 3)
	sub.handleLog(lg)
	sub.handleLog(lg)

	assert.Len(t, *received, 1, "a redelivered log fires once")

	// same tx, different log index is a distinct event
	sub.handleLog(swapLog(poolAddr, v2SwapTopic, 0x01, 4))
	assert.Len(t, *received, 2)
}

func TestHandleLogIgnoresUnknownTopicsAndAddresses(t *testing.T) {
	sub, received := newTestSubscriber(t)

	sub.handleLog(swapLog(poolAddr, crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")), 0x01, 0))
	sub.handleLog(swapLog(otherAddr, v2SwapTopic, 0x02, 0))
	sub.handleLog(types.Log{Address: poolAddr})

	assert.Empty(t, *received)
}

func TestNewSubscriberValidation(t *testing.T) {
	pools := []Pool{{Venue: "alpha", Pair: "USDC/WETH", Address: poolAddr}}
	notify := func(Event) {}

	_, err := NewSubscriber(nil, pools, notify, zap.NewNop())
	assert.Error(t, err)

	_, err = NewSubscriber(stubLogSubscriber{}, pools, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewSubscriber(stubLogSubscriber{}, nil, notify, zap.NewNop())
	assert.Error(t, err)
}
