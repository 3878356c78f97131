package conversion

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/reqnet/types"
)

var (
	getRateSelector []byte
	getRateArgs     abi.Arguments
	getRateReturns  abi.Arguments
)

func init() {
	getRateSelector = crypto.Keccak256([]byte("getRate(address[])"))[:4]

	addressSliceType, err := abi.NewType("address[]", "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to build address[] ABI type: %v", err))
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to build uint256 ABI type: %v", err))
	}
	uint8Type, err := abi.NewType("uint8", "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to build uint8 ABI type: %v", err))
	}

	getRateArgs = abi.Arguments{{Name: "path", Type: addressSliceType}}
	getRateReturns = abi.Arguments{
		{Name: "rate", Type: uint256Type},
		{Name: "oldestTimestamp", Type: uint256Type},
		{Name: "decimals", Type: uint8Type},
	}
}

// GetRate reads the composed rate of a conversion path from the chainlink
// path contract, along with the oldest constituent rate timestamp.
func (s *Service) GetRate(ctx context.Context, network types.Network, path []string) (*types.ConversionRate, error) {
	res, err := s.resolver(network)
	if err != nil {
		return nil, err
	}
	if len(path) < 2 {
		return nil, &types.EngineError{
			Code:    types.ErrNoPathFound,
			Message: "a conversion path needs at least two currencies",
		}
	}

	addresses := make([]common.Address, 0, len(path))
	for _, currency := range path {
		addresses = append(addresses, CurrencyAddress(currency))
	}

	input, err := getRateArgs.Pack(addresses)
	if err != nil {
		return nil, &types.EngineError{
			Code:    types.ErrLedgerAccess,
			Message: fmt.Sprintf("failed to encode getRate call: %v", err),
		}
	}

	msg := ethereum.CallMsg{
		To:   &res.registry,
		Data: append(append([]byte(nil), getRateSelector...), input...),
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var output []byte
	err = s.withRetry(callCtx, network, "getRate", func() error {
		var err error
		output, err = res.client.CallContract(callCtx, msg, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	values, err := getRateReturns.Unpack(output)
	if err != nil || len(values) != 3 {
		return nil, &types.EngineError{
			Code:    types.ErrLedgerAccess,
			Message: fmt.Sprintf("failed to decode getRate result: %v", err),
		}
	}

	rate, _ := values[0].(*big.Int)
	oldest, _ := values[1].(*big.Int)
	decimals, _ := values[2].(uint8)
	if rate == nil || oldest == nil {
		return nil, &types.EngineError{
			Code:    types.ErrLedgerAccess,
			Message: "getRate returned malformed values",
		}
	}

	return &types.ConversionRate{
		Rate:            rate,
		OldestTimestamp: oldest.Int64(),
		Decimals:        decimals,
	}, nil
}

// CheckFreshness enforces the rate-freshness window: if the oldest
// constituent rate of a path is older than the acceptable delta, paying at
// that rate would trust an oracle that may have silently stopped updating.
// maxRateTimespan overrides the engine default when positive (seconds).
func (s *Service) CheckFreshness(rate *types.ConversionRate, maxRateTimespan int64) error {
	delta := s.maxTimestampDelta
	if maxRateTimespan > 0 {
		delta = time.Duration(maxRateTimespan) * time.Second
	}

	age := s.now().Unix() - rate.OldestTimestamp
	if age > int64(delta/time.Second) {
		return &types.EngineError{
			Code:    types.ErrStaleRate,
			Message: fmt.Sprintf("oldest rate is %ds old, acceptable delta is %s", age, delta),
		}
	}
	return nil
}

// Convert prices an amount of the from currency in the to currency: finds
// a path, reads its composed rate, gates on freshness, and scales the
// amount. Arithmetic is integer-only.
func (s *Service) Convert(
	ctx context.Context,
	network types.Network,
	amount *big.Int,
	from, to string,
	maxRateTimespan int64,
) (*big.Int, []string, error) {
	path, err := s.FindPath(ctx, network, from, to)
	if err != nil {
		return nil, nil, err
	}
	if len(path) == 1 {
		return new(big.Int).Set(amount), path, nil
	}

	rate, err := s.GetRate(ctx, network, path)
	if err != nil {
		return nil, nil, err
	}
	if err := s.CheckFreshness(rate, maxRateTimespan); err != nil {
		return nil, nil, err
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(rate.Decimals)), nil)
	converted := new(big.Int).Mul(amount, rate.Rate)
	converted.Quo(converted, scale)

	s.rec.IncCounter("conversion_computed", map[string]string{"network": network.String()})
	return converted, path, nil
}
