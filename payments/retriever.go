package payments

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vitwit/reqnet/logger"
	"github.com/vitwit/reqnet/types"
)

// erc20TransferTopic is the topic0 of Transfer(address,address,uint256).
var erc20TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// logRangeChunk bounds the block span of one getLogs call so providers
// with range limits do not reject the query.
const logRangeChunk = 10_000

// Retriever queries one network's ledger for transfer events and
// normalizes them into payment events. It never mutates ledger state.
type Retriever struct {
	client  LedgerClient
	network types.Network
	log     logger.Logger

	retryCount int
	retryDelay time.Duration

	// sem caps concurrent ledger queries issued by one retrieval.
	sem *semaphore.Weighted

	// chain-head polling is throttled; within headDelay the cached
	// value is reused.
	headDelay  time.Duration
	headMu     sync.Mutex
	headCached uint64
	headAt     time.Time

	// block timestamps are immutable once final, so they are cached
	// for the lifetime of the retriever.
	tsMu sync.Mutex
	ts   map[uint64]int64
}

// NewRetriever creates a retriever for one network.
func NewRetriever(client LedgerClient, network types.Network, config types.EngineConfig, log logger.Logger) *Retriever {
	config = config.WithDefaults()
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Retriever{
		client:     client,
		network:    network,
		log:        log,
		retryCount: config.RetryCount,
		retryDelay: config.RetryDelay,
		sem:        semaphore.NewWeighted(config.MaxConcurrency),
		headDelay:  config.LastBlockNumberDelay,
		ts:         make(map[uint64]int64),
	}
}

// Network returns the network this retriever queries.
func (r *Retriever) Network() types.Network {
	return r.network
}

// Close releases the underlying ledger connection.
func (r *Retriever) Close() {
	r.client.Close()
}

// GetEvents returns the transfer events of token into address, normalized
// and ordered by timestamp ascending with a stable log-index tie-break.
// Malformed logs are skipped with a warning; they never abort the
// retrieval. On cancellation partial results are discarded.
func (r *Retriever) GetEvents(
	ctx context.Context,
	token string,
	address string,
	kind types.PaymentEventName,
	fromBlock uint64,
) ([]types.PaymentNetworkEvent, error) {
	head, err := r.lastBlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	var logs []ethtypes.Log
	for start := fromBlock; start <= head; start += logRangeChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + logRangeChunk - 1
		if end > head {
			end = head
		}
		page, err := r.filterTransfers(ctx, token, address, start, end)
		if err != nil {
			return nil, err
		}
		logs = append(logs, page...)
	}

	events, err := r.normalize(ctx, logs, token, kind)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events, nil
}

// filterTransfers fetches one page of Transfer logs of token to address.
func (r *Retriever) filterTransfers(
	ctx context.Context,
	token string,
	address string,
	fromBlock, toBlock uint64,
) ([]ethtypes.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(token)},
		Topics: [][]common.Hash{
			{erc20TransferTopic},
			nil,
			{common.BytesToHash(common.HexToAddress(address).Bytes())},
		},
	}

	var logs []ethtypes.Log
	err := r.withRetry(ctx, "getLogs", func() error {
		var err error
		logs, err = r.client.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// normalize turns raw logs into payment events, resolving block timestamps
// with bounded concurrency.
func (r *Retriever) normalize(
	ctx context.Context,
	logs []ethtypes.Log,
	token string,
	kind types.PaymentEventName,
) ([]types.PaymentNetworkEvent, error) {
	events := make([]types.PaymentNetworkEvent, 0, len(logs))
	for _, entry := range logs {
		event, ok := r.normalizeLog(entry, token, kind)
		if !ok {
			continue
		}
		events = append(events, event)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i := range events {
		if err := r.sem.Acquire(groupCtx, 1); err != nil {
			return nil, err
		}
		i := i
		group.Go(func() error {
			defer r.sem.Release(1)
			ts, err := r.blockTimestamp(groupCtx, events[i].BlockNumber)
			if err != nil {
				return err
			}
			events[i].Timestamp = ts
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return events, nil
}

// normalizeLog converts one Transfer log; malformed logs are skipped with
// a warning.
func (r *Retriever) normalizeLog(entry ethtypes.Log, token string, kind types.PaymentEventName) (types.PaymentNetworkEvent, bool) {
	if len(entry.Topics) != 3 || len(entry.Data) != 32 {
		r.log.Warn("skipping malformed transfer log", map[string]any{
			"network": r.network.String(),
			"txHash":  entry.TxHash.Hex(),
			"topics":  len(entry.Topics),
		})
		return types.PaymentNetworkEvent{}, false
	}

	return types.PaymentNetworkEvent{
		Name:         kind,
		Amount:       new(big.Int).SetBytes(entry.Data),
		From:         common.BytesToAddress(entry.Topics[1].Bytes()).Hex(),
		To:           common.BytesToAddress(entry.Topics[2].Bytes()).Hex(),
		TxHash:       entry.TxHash.Hex(),
		LogIndex:     entry.Index,
		BlockNumber:  entry.BlockNumber,
		TokenAddress: token,
		Network:      r.network,
	}, true
}

// blockTimestamp resolves a block's unix timestamp through the cache.
func (r *Retriever) blockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	r.tsMu.Lock()
	if ts, ok := r.ts[blockNumber]; ok {
		r.tsMu.Unlock()
		return ts, nil
	}
	r.tsMu.Unlock()

	var header *ethtypes.Header
	err := r.withRetry(ctx, "getBlockTimestamp", func() error {
		var err error
		header, err = r.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		return err
	})
	if err != nil {
		return 0, err
	}

	ts := int64(header.Time)
	r.tsMu.Lock()
	r.ts[blockNumber] = ts
	r.tsMu.Unlock()
	return ts, nil
}

// lastBlockNumber returns the chain head, reusing the cached value within
// the configured throttle window.
func (r *Retriever) lastBlockNumber(ctx context.Context) (uint64, error) {
	r.headMu.Lock()
	defer r.headMu.Unlock()

	if !r.headAt.IsZero() && time.Since(r.headAt) < r.headDelay {
		return r.headCached, nil
	}

	var head uint64
	err := r.withRetry(ctx, "blockNumber", func() error {
		var err error
		head, err = r.client.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	r.headCached = head
	r.headAt = time.Now()
	return head, nil
}

// withRetry runs op, retrying transient failures with a fixed delay up to
// the bounded attempt count, then surfaces a ledger-access error.
func (r *Retriever) withRetry(ctx context.Context, operation string, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}

		if lastErr = op(); lastErr == nil {
			return nil
		}
		r.log.Warn("ledger query failed", map[string]any{
			"network":   r.network.String(),
			"operation": operation,
			"attempt":   attempt + 1,
			"error":     lastErr.Error(),
		})
	}

	return &types.EngineError{
		Code:    types.ErrLedgerAccess,
		Message: fmt.Sprintf("%s failed after %d attempts: %v", operation, r.retryCount+1, lastErr),
	}
}
