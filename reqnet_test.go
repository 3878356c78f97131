package reqnet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/reqnet/request"
	"github.com/vitwit/reqnet/types"
	"github.com/vitwit/reqnet/utils"
)

const (
	testToken     = "0x9FBDa871d559710256a2502A2517b794B482Db40"
	testSalt      = "ea3bc7caf64110ca"
	testRefundTo  = "0x821aEa9a577a9b44299B9c15c88cf3087F3b5544"
	testTimestamp = int64(1700000000)
)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

type fakeLedger struct {
	head  uint64
	logs  []ethtypes.Log
	times map[uint64]uint64
}

func (f *fakeLedger) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	var out []ethtypes.Log
	for _, entry := range f.logs {
		if entry.BlockNumber < q.FromBlock.Uint64() || entry.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && entry.Address != q.Addresses[0] {
			continue
		}
		if len(q.Topics) == 3 && len(q.Topics[2]) > 0 && entry.Topics[2] != q.Topics[2][0] {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (f *fakeLedger) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	ts, ok := f.times[number.Uint64()]
	if !ok {
		return nil, fmt.Errorf("unknown block %s", number)
	}
	return &ethtypes.Header{Number: new(big.Int).Set(number), Time: ts}, nil
}

func (f *fakeLedger) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeLedger) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errors.New("not supported")
}

func (f *fakeLedger) Close() {}

func transferLog(from, to common.Address, amount int64, block uint64, index uint) ethtypes.Log {
	return ethtypes.Log{
		Address: common.HexToAddress(testToken),
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%064x", block*1000+uint64(index))),
		Index:       index,
	}
}

func TestEngine_EndToEnd(t *testing.T) {
	payeeKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	payeeAddr := utils.AddressFromPrivateKey(payeeKey)
	payee := types.Identity{Type: types.IdentityEthereumAddress, Value: payeeAddr.Hex()}

	payerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	payerAddr := utils.AddressFromPrivateKey(payerKey)
	payer := types.Identity{Type: types.IdentityEthereumAddress, Value: payerAddr.Hex()}

	engine := New(&types.EngineConfig{
		RetryCount:           1,
		RetryDelay:           time.Millisecond,
		LastBlockNumberDelay: time.Minute,
	})
	defer engine.Close()

	ledger := &fakeLedger{
		head: 40,
		logs: []ethtypes.Log{
			transferLog(payerAddr, payeeAddr, 100, 10, 0),
			transferLog(payeeAddr, common.HexToAddress(testRefundTo), 30, 20, 0),
			transferLog(payerAddr, payeeAddr, 50, 30, 0),
		},
		times: map[uint64]uint64{10: 1700000100, 20: 1700000200, 30: 1700000300},
	}
	require.NoError(t, engine.AddNetworkClient(types.ClientConfig{
		Network: types.NetworkPrivate,
		RPCUrl:  "http://localhost:8545",
	}, ledger))
	assert.True(t, engine.IsNetworkSupported(types.NetworkPrivate))
	assert.False(t, engine.IsNetworkSupported(types.NetworkMainnet))

	// A request for 150 token units, paid through the fee proxy.
	interpreter, err := engine.Registry().Get(types.ExtensionERC20FeeProxy)
	require.NoError(t, err)
	extAction, err := interpreter.CreateCreationAction(types.ExtensionParameters{
		PaymentAddress: payee.Value,
		RefundAddress:  testRefundTo,
		Salt:           testSalt,
	})
	require.NoError(t, err)

	creation, err := request.NewCreationAction(types.Parameters{
		Currency:       types.Currency{Type: types.CurrencyERC20, Value: testToken, Network: types.NetworkPrivate},
		ExpectedAmount: "150",
		Payee:          &payee,
		Payer:          &payer,
		Nonce:          "1",
	}, []types.ExtensionAction{extAction}, testTimestamp, payeeKey)
	require.NoError(t, err)
	accept, err := request.NewSignedAction(types.ActionAccept, types.Parameters{}, testTimestamp+10, payerKey)
	require.NoError(t, err)

	actions := []types.Action{creation, accept}
	require.NoError(t, engine.QuickValidate(actions))

	derived, err := engine.ApplyActions(nil, actions)
	require.NoError(t, err)
	assert.Equal(t, types.StateAccepted, derived.State)

	balance, err := engine.GetBalance(context.Background(), derived)
	require.NoError(t, err)
	assert.Equal(t, int64(120), balance.Balance.Int64())
	require.Len(t, balance.Events, 3)

	// No conversion extension, so the paid amount is the balance itself.
	paid, err := engine.ComputePaidAmount(context.Background(), derived)
	require.NoError(t, err)
	assert.Equal(t, int64(120), paid.Int64())

	balances, err := engine.BatchGetBalance(context.Background(), []*types.Request{derived, derived})
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, int64(120), balances[1].Balance.Int64())
}

func TestEngine_AddNetworkClientUnknownNetwork(t *testing.T) {
	engine := NewWithDefaults()
	defer engine.Close()

	err := engine.AddNetworkClient(types.ClientConfig{Network: "bogus"}, &fakeLedger{})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedNetwork, types.ErrorCode(err))
}

func TestGetVersion(t *testing.T) {
	info := GetVersion()
	assert.Equal(t, Version, info["library_version"])
	assert.Equal(t, types.ProtocolVersion, info["protocol_version"])
}
