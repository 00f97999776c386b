package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const aggregatorV3ABI = `[
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{"name": "roundId", "type": "uint80"},
			{"name": "answer", "type": "int256"},
			{"name": "startedAt", "type": "uint256"},
			{"name": "updatedAt", "type": "uint256"},
			{"name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	aggregatorOnce sync.Once
	aggregatorABI  abi.ABI
	aggregatorErr  error
)

// AggregatorV3ABI returns the parsed Chainlink AggregatorV3Interface subset
// used by ChainlinkSource.
func AggregatorV3ABI() (*abi.ABI, error) {
	aggregatorOnce.Do(func() {
		aggregatorABI, aggregatorErr = abi.JSON(strings.NewReader(aggregatorV3ABI))
	})
	if aggregatorErr != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", aggregatorErr)
	}
	return &aggregatorABI, nil
}

// ChainlinkSource reads an AggregatorV3 feed through any eth_call capable
// client such as *ethclient.Client.
type ChainlinkSource struct {
	caller ethereum.ContractCaller
	feed   common.Address
	abi    *abi.ABI

	mu       sync.Mutex
	decimals *uint8
}

func NewChainlinkSource(caller ethereum.ContractCaller, feed common.Address) (*ChainlinkSource, error) {
	if caller == nil {
		return nil, fmt.Errorf("chainlink source: caller required")
	}
	if feed == (common.Address{}) {
		return nil, fmt.Errorf("chainlink source: feed address required")
	}
	parsed, err := AggregatorV3ABI()
	if err != nil {
		return nil, err
	}
	return &ChainlinkSource{caller: caller, feed: feed, abi: parsed}, nil
}

// Feed returns the aggregator address.
func (c *ChainlinkSource) Feed() common.Address { return c.feed }

func (c *ChainlinkSource) LatestRound(ctx context.Context) (Round, error) {
	decimals, err := c.feedDecimals(ctx)
	if err != nil {
		return Round{}, err
	}
	out, err := c.call(ctx, "latestRoundData")
	if err != nil {
		return Round{}, err
	}
	// latestRoundData returns (uint80 roundId, int256 answer, uint256 startedAt, uint256 updatedAt, uint80 answeredInRound)
	if len(out) != 5 {
		return Round{}, fmt.Errorf("%w: latestRoundData returned %d values", ErrSourceUnavailable, len(out))
	}
	roundID, _ := out[0].(*big.Int)
	answer, _ := out[1].(*big.Int)
	updatedAt, _ := out[3].(*big.Int)
	answeredIn, _ := out[4].(*big.Int)
	if roundID == nil || answer == nil || updatedAt == nil || answeredIn == nil {
		return Round{}, fmt.Errorf("%w: unexpected latestRoundData types", ErrSourceUnavailable)
	}
	round := Round{
		RoundID:         truncateRound(roundID),
		AnsweredInRound: truncateRound(answeredIn),
		Answer:          answer,
		Decimals:        decimals,
	}
	if updatedAt.Sign() > 0 && updatedAt.IsInt64() {
		round.UpdatedAt = time.Unix(updatedAt.Int64(), 0).UTC()
	}
	return round, nil
}

func (c *ChainlinkSource) feedDecimals(ctx context.Context) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decimals != nil {
		return *c.decimals, nil
	}
	out, err := c.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("%w: decimals returned %d values", ErrSourceUnavailable, len(out))
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected decimals type %T", ErrSourceUnavailable, out[0])
	}
	c.decimals = &decimals
	return decimals, nil
}

func (c *ChainlinkSource) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := c.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	feed := c.feed
	raw, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s on %s: %v", ErrSourceUnavailable, method, feed.Hex(), err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpacking %s: %v", ErrSourceUnavailable, method, err)
	}
	return out, nil
}

// Chainlink round ids pack the phase id above bit 64. Only the aggregator
// round counter is compared, which is what answeredInRound staleness needs.
func truncateRound(id *big.Int) uint64 {
	if id.IsUint64() {
		return id.Uint64()
	}
	return new(big.Int).And(id, new(big.Int).SetUint64(^uint64(0))).Uint64()
}
