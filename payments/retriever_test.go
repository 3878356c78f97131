package payments

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/reqnet/types"
)

const (
	testToken   = "0x9FBDa871d559710256a2502A2517b794B482Db40"
	testPayAddr = "0xf17f52151EbEF6C7334FAD080c5704D77216b732"
	testPayer   = "0xC5fdf4076b8F3A5357c5E395ab970B5B54098Fef"
)

// fakeLedger serves canned transfer logs and block headers, applying the
// same range and topic filters a real node would.
type fakeLedger struct {
	mu sync.Mutex

	head  uint64
	logs  []ethtypes.Log
	times map[uint64]uint64

	failFilters int
	filterCalls int
	headCalls   int
}

func (f *fakeLedger) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.filterCalls++
	if f.failFilters > 0 {
		f.failFilters--
		return nil, errors.New("connection reset")
	}

	var out []ethtypes.Log
	for _, entry := range f.logs {
		if entry.BlockNumber < q.FromBlock.Uint64() || entry.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && entry.Address != q.Addresses[0] {
			continue
		}
		if !matchTopics(q.Topics, entry.Topics) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	for i, want := range filter {
		if len(want) == 0 {
			continue
		}
		if i >= len(topics) || topics[i] != want[0] {
			return false
		}
	}
	return true
}

func (f *fakeLedger) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ts, ok := f.times[number.Uint64()]
	if !ok {
		return nil, fmt.Errorf("unknown block %s", number)
	}
	return &ethtypes.Header{Number: new(big.Int).Set(number), Time: ts}, nil
}

func (f *fakeLedger) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	return f.head, nil
}

func (f *fakeLedger) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errors.New("not supported")
}

func (f *fakeLedger) Close() {}

func transferLog(token, from, to string, amount int64, block uint64, index uint) ethtypes.Log {
	return ethtypes.Log{
		Address: common.HexToAddress(token),
		Topics: []common.Hash{
			erc20TransferTopic,
			common.BytesToHash(common.HexToAddress(from).Bytes()),
			common.BytesToHash(common.HexToAddress(to).Bytes()),
		},
		Data:        common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%064x", block*1000+uint64(index))),
		Index:       index,
	}
}

func testConfig() types.EngineConfig {
	return types.EngineConfig{
		RetryCount:           1,
		RetryDelay:           time.Millisecond,
		MaxConcurrency:       2,
		LastBlockNumberDelay: time.Minute,
	}
}

func TestGetEvents_OrderedByTimestamp(t *testing.T) {
	ledger := &fakeLedger{
		head: 30,
		logs: []ethtypes.Log{
			transferLog(testToken, testPayer, testPayAddr, 50, 20, 0),
			transferLog(testToken, testPayer, testPayAddr, 100, 10, 0),
			transferLog(testToken, testPayer, testPayAddr, 30, 10, 3),
		},
		times: map[uint64]uint64{10: 1700000100, 20: 1700000200},
	}
	retriever := NewRetriever(ledger, types.NetworkPrivate, testConfig(), nil)

	events, err := retriever.GetEvents(context.Background(), testToken, testPayAddr, types.PaymentEventPayment, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Timestamp ascending, log index breaking the same-block tie.
	assert.Equal(t, int64(100), events[0].Amount.Int64())
	assert.Equal(t, int64(30), events[1].Amount.Int64())
	assert.Equal(t, int64(50), events[2].Amount.Int64())
	assert.Equal(t, int64(1700000100), events[0].Timestamp)
	assert.Equal(t, int64(1700000200), events[2].Timestamp)
	assert.Equal(t, types.PaymentEventPayment, events[0].Name)
	assert.Equal(t, types.NetworkPrivate, events[0].Network)
}

func TestGetEvents_FiltersByRecipient(t *testing.T) {
	other := "0x821aEa9a577a9b44299B9c15c88cf3087F3b5544"
	ledger := &fakeLedger{
		head: 30,
		logs: []ethtypes.Log{
			transferLog(testToken, testPayer, testPayAddr, 100, 10, 0),
			transferLog(testToken, testPayer, other, 999, 10, 1),
		},
		times: map[uint64]uint64{10: 1700000100},
	}
	retriever := NewRetriever(ledger, types.NetworkPrivate, testConfig(), nil)

	events, err := retriever.GetEvents(context.Background(), testToken, testPayAddr, types.PaymentEventPayment, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(100), events[0].Amount.Int64())
}

func TestGetEvents_SkipsMalformedLog(t *testing.T) {
	malformed := transferLog(testToken, testPayer, testPayAddr, 999, 10, 1)
	malformed.Topics = malformed.Topics[:2]

	ledger := &fakeLedger{
		head: 30,
		logs: []ethtypes.Log{
			transferLog(testToken, testPayer, testPayAddr, 100, 10, 0),
			malformed,
		},
		times: map[uint64]uint64{10: 1700000100},
	}
	// The fake matches on present topics only, so the malformed log
	// reaches normalization and is dropped there.
	retriever := NewRetriever(ledger, types.NetworkPrivate, testConfig(), nil)

	events, err := retriever.GetEvents(context.Background(), testToken, testPayAddr, types.PaymentEventPayment, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(100), events[0].Amount.Int64())
}

func TestGetEvents_PaginatesBlockRanges(t *testing.T) {
	ledger := &fakeLedger{
		head: 25_000,
		logs: []ethtypes.Log{
			transferLog(testToken, testPayer, testPayAddr, 1, 5_000, 0),
			transferLog(testToken, testPayer, testPayAddr, 2, 15_000, 0),
			transferLog(testToken, testPayer, testPayAddr, 3, 24_000, 0),
		},
		times: map[uint64]uint64{5_000: 100, 15_000: 200, 24_000: 300},
	}
	retriever := NewRetriever(ledger, types.NetworkPrivate, testConfig(), nil)

	events, err := retriever.GetEvents(context.Background(), testToken, testPayAddr, types.PaymentEventPayment, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, 3, ledger.filterCalls)
}

func TestGetEvents_RetryThenSucceed(t *testing.T) {
	ledger := &fakeLedger{
		head:        30,
		failFilters: 1,
		logs: []ethtypes.Log{
			transferLog(testToken, testPayer, testPayAddr, 100, 10, 0),
		},
		times: map[uint64]uint64{10: 1700000100},
	}
	retriever := NewRetriever(ledger, types.NetworkPrivate, testConfig(), nil)

	events, err := retriever.GetEvents(context.Background(), testToken, testPayAddr, types.PaymentEventPayment, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 2, ledger.filterCalls)
}

func TestGetEvents_ExhaustedRetriesSurfaceLedgerError(t *testing.T) {
	ledger := &fakeLedger{
		head:        30,
		failFilters: 10,
	}
	retriever := NewRetriever(ledger, types.NetworkPrivate, testConfig(), nil)

	_, err := retriever.GetEvents(context.Background(), testToken, testPayAddr, types.PaymentEventPayment, 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrLedgerAccess, types.ErrorCode(err))
	// RetryCount 1 means two attempts.
	assert.Equal(t, 2, ledger.filterCalls)
}

func TestGetEvents_ChainHeadThrottled(t *testing.T) {
	ledger := &fakeLedger{
		head:  30,
		times: map[uint64]uint64{},
	}
	retriever := NewRetriever(ledger, types.NetworkPrivate, testConfig(), nil)

	ctx := context.Background()
	_, err := retriever.GetEvents(ctx, testToken, testPayAddr, types.PaymentEventPayment, 0)
	require.NoError(t, err)
	_, err = retriever.GetEvents(ctx, testToken, testPayAddr, types.PaymentEventPayment, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, ledger.headCalls)
}

func TestGetEvents_CanceledContext(t *testing.T) {
	ledger := &fakeLedger{head: 30}
	retriever := NewRetriever(ledger, types.NetworkPrivate, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := retriever.GetEvents(ctx, testToken, testPayAddr, types.PaymentEventPayment, 0)
	require.NoError(t, err)

	cancel()
	_, err = retriever.GetEvents(ctx, testToken, testPayAddr, types.PaymentEventPayment, 0)
	require.Error(t, err)
}

func TestNormalizeLog_Amounts(t *testing.T) {
	retriever := NewRetriever(&fakeLedger{}, types.NetworkMainnet, testConfig(), nil)

	entry := transferLog(testToken, testPayer, testPayAddr, 1_000_000, 42, 7)
	event, ok := retriever.normalizeLog(entry, testToken, types.PaymentEventRefund)
	require.True(t, ok)
	assert.Equal(t, int64(1_000_000), event.Amount.Int64())
	assert.Equal(t, common.HexToAddress(testPayer).Hex(), event.From)
	assert.Equal(t, common.HexToAddress(testPayAddr).Hex(), event.To)
	assert.Equal(t, uint64(42), event.BlockNumber)
	assert.Equal(t, uint(7), event.LogIndex)
	assert.Equal(t, types.PaymentEventRefund, event.Name)
}
