// Package payments retrieves and normalizes on-chain payment activity:
// ERC20 transfer logs touching a request's payment or refund address,
// turned into time-ordered payment events.
package payments

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/vitwit/reqnet/types"
)

// LedgerClient is the read-only ledger surface the engine needs. It is
// satisfied by *ethclient.Client; tests substitute a fake.
type LedgerClient interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dial connects to the RPC endpoint of the given client config.
func Dial(ctx context.Context, config types.ClientConfig) (LedgerClient, error) {
	client, err := ethclient.DialContext(ctx, config.RPCUrl)
	if err != nil {
		return nil, &types.EngineError{
			Code:    types.ErrLedgerAccess,
			Message: fmt.Sprintf("failed to dial %s for %s: %v", config.RPCUrl, config.Network, err),
		}
	}
	return client, nil
}
