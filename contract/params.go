package contract

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/arbetrix/arbbot/arbitrage"
	"github.com/arbetrix/arbbot/dex"
	umath "github.com/arbetrix/arbbot/utils/math"
)

// DEX type discriminators understood by the settlement contract.
const (
	DexTypeConstantProduct       uint8 = 2
	DexTypeConcentratedLiquidity uint8 = 3
)

// maxUint24 bounds the packed fee field width in concentrated-liquidity
// paths.
const maxUint24 = 1<<24 - 1

// TradeParams is the fixed 11-field tuple consumed by the settlement entry
// point. Field order and widths are a wire contract and must not change
// independently of the contract.
type TradeParams struct {
	DexTypeA       uint8
	RouterA        common.Address
	PathA          []byte
	MinOutA        *big.Int
	DexTypeB       uint8
	RouterB        common.Address
	PathB          []byte
	MinOutB        *big.Int
	ProfitToken    common.Address
	MinProfit      *big.Int
	V2FlashFeeBips uint16
}

var twoLegArguments abi.Arguments

func init() {
	uint8T, _ := abi.NewType("uint8", "", nil)
	addressT, _ := abi.NewType("address", "", nil)
	bytesT, _ := abi.NewType("bytes", "", nil)
	uint256T, _ := abi.NewType("uint256", "", nil)
	uint16T, _ := abi.NewType("uint16", "", nil)

	twoLegArguments = abi.Arguments{
		{Type: uint8T},   // dexTypeA
		{Type: addressT}, // routerA
		{Type: bytesT},   // pathA
		{Type: uint256T}, // minOutA
		{Type: uint8T},   // dexTypeB
		{Type: addressT}, // routerB
		{Type: bytesT},   // pathB
		{Type: uint256T}, // minOutB
		{Type: addressT}, // profitToken
		{Type: uint256T}, // minProfit
		{Type: uint16T},  // v2FlashFeeBips
	}
}

// Encode serializes the params into the ABI layout the settlement contract
// decodes.
func (p *TradeParams) Encode() ([]byte, error) {
	if len(p.PathA) == 0 || len(p.PathB) == 0 {
		return nil, fmt.Errorf("encoding error: empty swap path")
	}
	if p.MinOutA == nil || p.MinOutB == nil || p.MinProfit == nil {
		return nil, fmt.Errorf("encoding error: missing amount field")
	}
	if p.MinOutA.Sign() < 0 || p.MinOutB.Sign() < 0 || p.MinProfit.Sign() < 0 {
		return nil, fmt.Errorf("encoding error: negative amount field")
	}

	encoded, err := twoLegArguments.Pack(
		p.DexTypeA, p.RouterA, p.PathA, p.MinOutA,
		p.DexTypeB, p.RouterB, p.PathB, p.MinOutB,
		p.ProfitToken, p.MinProfit, p.V2FlashFeeBips,
	)
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}
	return encoded, nil
}

// Decode unpacks an encoded blob back into TradeParams. Used by tests to
// verify the wire layout round-trips.
func Decode(blob []byte) (*TradeParams, error) {
	values, err := twoLegArguments.Unpack(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode params: %w", err)
	}
	if len(values) != 11 {
		return nil, fmt.Errorf("expected 11 fields, got %d", len(values))
	}
	return &TradeParams{
		DexTypeA:       values[0].(uint8),
		RouterA:        values[1].(common.Address),
		PathA:          values[2].([]byte),
		MinOutA:        values[3].(*big.Int),
		DexTypeB:       values[4].(uint8),
		RouterB:        values[5].(common.Address),
		PathB:          values[6].([]byte),
		MinOutB:        values[7].(*big.Int),
		ProfitToken:    values[8].(common.Address),
		MinProfit:      values[9].(*big.Int),
		V2FlashFeeBips: values[10].(uint16),
	}, nil
}

var addressSliceArguments abi.Arguments

func init() {
	addressSliceT, _ := abi.NewType("address[]", "", nil)
	addressSliceArguments = abi.Arguments{{Type: addressSliceT}}
}

// EncodeConstantProductPath encodes a hop path as abi.encode(address[]),
// the layout constant-product legs expect.
func EncodeConstantProductPath(path []common.Address) ([]byte, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("encoding error: path needs at least 2 tokens, got %d", len(path))
	}
	encoded, err := addressSliceArguments.Pack(path)
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}
	return encoded, nil
}

// Hop is one token in a concentrated-liquidity path together with the fee
// tier of the pool leading into it. The fee on the first hop is ignored.
type Hop struct {
	Token common.Address
	Fee   uint32
}

// EncodeConcentratedLiquidityPath packs hops as token|fee|token|...|token
// where each fee is a 3-byte big-endian uint24.
func EncodeConcentratedLiquidityPath(hops []Hop) ([]byte, error) {
	if len(hops) < 2 {
		return nil, fmt.Errorf("encoding error: path needs at least 2 tokens, got %d", len(hops))
	}

	packed := make([]byte, 0, len(hops)*23)
	for i, hop := range hops {
		packed = append(packed, hop.Token.Bytes()...)
		if i == len(hops)-1 {
			break
		}
		fee := hops[i+1].Fee
		if fee > maxUint24 {
			return nil, fmt.Errorf("encoding error: fee %d does not fit uint24", fee)
		}
		packed = append(packed, byte(fee>>16), byte(fee>>8), byte(fee))
	}
	return packed, nil
}

// SafetyParams carries the externally supplied routing safety inputs.
type SafetyParams struct {
	SlippageBps  int64    // buffer applied to each leg's expected output
	MinProfit    *big.Int // raw borrow token units
	FlashFeeBips uint16   // for venues requiring an explicit flash fee input
}

// BuildParams assembles the settlement tuple from a winning opportunity.
// Path encoding is selected by each leg venue's kind tag. Invalid shapes are
// hard errors; the opportunity must be discarded, never silently fixed.
func BuildParams(opp *arbitrage.Opportunity, safety SafetyParams) (*TradeParams, error) {
	if opp == nil {
		return nil, fmt.Errorf("encoding error: nil opportunity")
	}

	pathA, dexTypeA, err := encodeLegPath(opp.BuyVenue, opp.BorrowToken, opp.OtherToken, opp.BuyFeeTier)
	if err != nil {
		return nil, fmt.Errorf("buy leg on %s: %w", opp.BuyVenue.Name, err)
	}
	pathB, dexTypeB, err := encodeLegPath(opp.SellVenue, opp.OtherToken, opp.BorrowToken, opp.SellFeeTier)
	if err != nil {
		return nil, fmt.Errorf("sell leg on %s: %w", opp.SellVenue.Name, err)
	}

	return &TradeParams{
		DexTypeA:       dexTypeA,
		RouterA:        opp.BuyVenue.Router,
		PathA:          pathA,
		MinOutA:        umath.ApplyBps(opp.Leg1Out, safety.SlippageBps),
		DexTypeB:       dexTypeB,
		RouterB:        opp.SellVenue.Router,
		PathB:          pathB,
		MinOutB:        umath.ApplyBps(opp.Leg2Out, safety.SlippageBps),
		ProfitToken:    opp.BorrowToken.Address,
		MinProfit:      safety.MinProfit,
		V2FlashFeeBips: safety.FlashFeeBips,
	}, nil
}

func encodeLegPath(venue dex.Venue, tokenIn, tokenOut dex.Token, feeTier uint32) ([]byte, uint8, error) {
	switch venue.Kind {
	case dex.KindConstantProduct:
		path, err := EncodeConstantProductPath([]common.Address{tokenIn.Address, tokenOut.Address})
		return path, DexTypeConstantProduct, err
	case dex.KindConcentratedLiquidity:
		path, err := EncodeConcentratedLiquidityPath([]Hop{
			{Token: tokenIn.Address},
			{Token: tokenOut.Address, Fee: feeTier},
		})
		return path, DexTypeConcentratedLiquidity, err
	default:
		return nil, 0, fmt.Errorf("encoding error: unrecognized venue kind %v", venue.Kind)
	}
}
