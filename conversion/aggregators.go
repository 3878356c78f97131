package conversion

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	aggregatorUpdatedTopic = crypto.Keccak256Hash([]byte("AggregatorUpdated(address,address,address)"))
	zeroAddress            = common.Address{}

	addressTripleArgs abi.Arguments
)

func init() {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to build address ABI type: %v", err))
	}
	addressTripleArgs = abi.Arguments{
		{Name: "input", Type: addressType},
		{Name: "output", Type: addressType},
		{Name: "aggregator", Type: addressType},
	}
}

// streamAggregators replays the registry contract's AggregatorUpdated
// events from its creation block to the chain head and folds them into an
// input -> output -> aggregator map. A zero-address aggregator removes the
// edge; an input left edge-less is pruned. Replaying the same stream
// always yields the same map.
func (s *Service) streamAggregators(
	ctx context.Context,
	res *resolver,
) (map[string]map[string]string, error) {
	head, err := s.blockNumber(ctx, res)
	if err != nil {
		return nil, err
	}

	aggregators := make(map[string]map[string]string)
	for start := res.creationBlock; start <= head; start += logRangeChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + logRangeChunk - 1
		if end > head {
			end = head
		}
		logs, err := s.filterAggregatorLogs(ctx, res, start, end)
		if err != nil {
			return nil, err
		}

		for _, entry := range logs {
			input, output, aggregator, ok := s.decodeAggregatorUpdated(entry)
			if !ok {
				continue
			}
			applyAggregatorUpdate(aggregators, input, output, aggregator)
		}
	}
	return aggregators, nil
}

// applyAggregatorUpdate upserts or removes one edge of the aggregator map.
func applyAggregatorUpdate(aggregators map[string]map[string]string, input, output common.Address, aggregator common.Address) {
	in := strings.ToLower(input.Hex())
	out := strings.ToLower(output.Hex())

	if aggregator == zeroAddress {
		if outputs, ok := aggregators[in]; ok {
			delete(outputs, out)
			if len(outputs) == 0 {
				delete(aggregators, in)
			}
		}
		return
	}

	if aggregators[in] == nil {
		aggregators[in] = make(map[string]string)
	}
	aggregators[in][out] = strings.ToLower(aggregator.Hex())
}

func (s *Service) filterAggregatorLogs(
	ctx context.Context,
	res *resolver,
	fromBlock, toBlock uint64,
) ([]ethtypes.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{res.registry},
		Topics:    [][]common.Hash{{aggregatorUpdatedTopic}},
	}

	var logs []ethtypes.Log
	err := s.withRetry(ctx, res.network, "getAggregatorLogs", func() error {
		var err error
		logs, err = res.client.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

func (s *Service) decodeAggregatorUpdated(entry ethtypes.Log) (input, output, aggregator common.Address, ok bool) {
	values, err := addressTripleArgs.Unpack(entry.Data)
	if err != nil || len(values) != 3 {
		s.log.Warn("skipping malformed AggregatorUpdated log", map[string]any{
			"txHash": entry.TxHash.Hex(),
			"error":  fmt.Sprintf("%v", err),
		})
		return common.Address{}, common.Address{}, common.Address{}, false
	}

	input, ok1 := values[0].(common.Address)
	output, ok2 := values[1].(common.Address)
	aggregator, ok3 := values[2].(common.Address)
	if !ok1 || !ok2 || !ok3 {
		return common.Address{}, common.Address{}, common.Address{}, false
	}
	return input, output, aggregator, true
}

// CurrencyAddress maps a currency identifier to the address form the rate
// contracts use: contract addresses pass through, symbols are hashed into
// a synthetic address.
func CurrencyAddress(currency string) common.Address {
	currency = strings.TrimSpace(currency)
	if common.IsHexAddress(currency) {
		return common.HexToAddress(currency)
	}
	hash := crypto.Keccak256([]byte(strings.ToUpper(currency)))
	return common.BytesToAddress(hash[12:])
}
