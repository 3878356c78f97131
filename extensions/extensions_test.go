package extensions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/reqnet/types"
)

const (
	testRequestID  = "0x1aa81d95ca20e1f6b5ac9f1efcf51c729ae8e9591ba2b42e67881be05e24e0ff"
	testSalt       = "ea3bc7caf64110ca"
	testPayAddr    = "0xf17f52151EbEF6C7334FAD080c5704D77216b732"
	testRefundAddr = "0xC5fdf4076b8F3A5357c5E395ab970B5B54098Fef"
	testFeeAddr    = "0x821aEa9a577a9b44299B9c15c88cf3087F3b5544"
	daiMainnet     = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
)

var (
	testPayee = types.Identity{Type: types.IdentityEthereumAddress, Value: testPayAddr}
	testPayer = types.Identity{Type: types.IdentityEthereumAddress, Value: testRefundAddr}
)

func testRequest() *types.Request {
	return &types.Request{
		RequestID:      testRequestID,
		Currency:       types.Currency{Type: types.CurrencyISO4217, Value: "EUR"},
		ExpectedAmount: "1000",
		Payee:          &testPayee,
		Payer:          &testPayer,
		State:          types.StateCreated,
	}
}

func mustApply(t *testing.T, interpreter Interpreter,
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction, actor types.Identity,
) map[types.ExtensionID]*types.ExtensionState {
	t.Helper()
	next, err := interpreter.ApplyAction(extensions, extAction, testRequest(), actor, 1700000000)
	require.NoError(t, err)
	return next
}

func TestFeeProxy_CreateAndAddresses(t *testing.T) {
	proxy := NewERC20FeeProxy()

	create, err := proxy.CreateCreationAction(types.ExtensionParameters{Salt: testSalt})
	require.NoError(t, err)
	assert.Equal(t, types.ExtensionERC20FeeProxy, create.ID)
	assert.Equal(t, types.ExtensionActionCreate, create.Action)

	state := mustApply(t, proxy, nil, create, testPayee)
	require.Contains(t, state, types.ExtensionERC20FeeProxy)
	assert.Equal(t, types.ExtensionTypePaymentNetwork, state[types.ExtensionERC20FeeProxy].Type)

	// Payee sets the payment address, which derives the payment reference.
	state = mustApply(t, proxy, state, types.ExtensionAction{
		ID:         proxy.ID(),
		Action:     types.ExtensionActionAddPaymentAddress,
		Parameters: types.ExtensionParameters{PaymentAddress: testPayAddr},
	}, testPayee)
	addr, ok := PaymentAddress(state[proxy.ID()])
	require.True(t, ok)
	assert.Equal(t, testPayAddr, addr)
	ref, ok := PaymentReferenceOf(state[proxy.ID()])
	require.True(t, ok)
	assert.Len(t, ref, 16)

	// Payer sets the refund address.
	state = mustApply(t, proxy, state, types.ExtensionAction{
		ID:         proxy.ID(),
		Action:     types.ExtensionActionAddRefundAddress,
		Parameters: types.ExtensionParameters{RefundAddress: testRefundAddr},
	}, testPayer)
	refund, ok := RefundAddress(state[proxy.ID()])
	require.True(t, ok)
	assert.Equal(t, testRefundAddr, refund)
}

func TestFeeProxy_CreateRequiresSalt(t *testing.T) {
	proxy := NewERC20FeeProxy()
	_, err := proxy.CreateCreationAction(types.ExtensionParameters{PaymentAddress: testPayAddr})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidAction, types.ErrorCode(err))
}

func TestFeeProxy_AddressAuthorization(t *testing.T) {
	proxy := NewERC20FeeProxy()
	create, err := proxy.CreateCreationAction(types.ExtensionParameters{Salt: testSalt})
	require.NoError(t, err)
	state := mustApply(t, proxy, nil, create, testPayee)

	// Payer cannot set the payment address.
	_, err = proxy.ApplyAction(state, types.ExtensionAction{
		ID:         proxy.ID(),
		Action:     types.ExtensionActionAddPaymentAddress,
		Parameters: types.ExtensionParameters{PaymentAddress: testPayAddr},
	}, testRequest(), testPayer, 1700000000)
	assert.Equal(t, types.ErrUnauthorizedAction, types.ErrorCode(err))

	// Payee cannot set the refund address.
	_, err = proxy.ApplyAction(state, types.ExtensionAction{
		ID:         proxy.ID(),
		Action:     types.ExtensionActionAddRefundAddress,
		Parameters: types.ExtensionParameters{RefundAddress: testRefundAddr},
	}, testRequest(), testPayee, 1700000000)
	assert.Equal(t, types.ErrUnauthorizedAction, types.ErrorCode(err))
}

func TestFeeProxy_PaymentAddressSetOnce(t *testing.T) {
	proxy := NewERC20FeeProxy()
	create, err := proxy.CreateCreationAction(types.ExtensionParameters{
		Salt:           testSalt,
		PaymentAddress: testPayAddr,
	})
	require.NoError(t, err)
	state := mustApply(t, proxy, nil, create, testPayee)

	_, err = proxy.ApplyAction(state, types.ExtensionAction{
		ID:         proxy.ID(),
		Action:     types.ExtensionActionAddPaymentAddress,
		Parameters: types.ExtensionParameters{PaymentAddress: testRefundAddr},
	}, testRequest(), testPayee, 1700000000)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidAction, types.ErrorCode(err))
}

func TestFeeProxy_AddFee(t *testing.T) {
	proxy := NewERC20FeeProxy()
	create, err := proxy.CreateCreationAction(types.ExtensionParameters{Salt: testSalt})
	require.NoError(t, err)
	state := mustApply(t, proxy, nil, create, testPayee)

	state = mustApply(t, proxy, state, types.ExtensionAction{
		ID:     proxy.ID(),
		Action: types.ExtensionActionAddFee,
		Parameters: types.ExtensionParameters{
			FeeAddress: testFeeAddr,
			FeeAmount:  "5",
		},
	}, testPayee)
	assert.Equal(t, testFeeAddr, state[proxy.ID()].Values["feeAddress"])
	assert.Equal(t, "5", state[proxy.ID()].Values["feeAmount"])

	// Fee amount without a fee address is rejected at creation too.
	_, err = proxy.CreateCreationAction(types.ExtensionParameters{
		Salt:      testSalt,
		FeeAmount: "5",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidAction, types.ErrorCode(err))
}

func TestFeeProxy_UnknownAction(t *testing.T) {
	proxy := NewERC20FeeProxy()
	create, err := proxy.CreateCreationAction(types.ExtensionParameters{Salt: testSalt})
	require.NoError(t, err)
	state := mustApply(t, proxy, nil, create, testPayee)

	_, err = proxy.ApplyAction(state, types.ExtensionAction{
		ID:     proxy.ID(),
		Action: types.ExtensionActionType("declareReceivedPayment"),
	}, testRequest(), testPayee, 1700000000)
	assert.Equal(t, types.ErrUnknownAction, types.ErrorCode(err))
}

func TestAddressBased_Lifecycle(t *testing.T) {
	pn := NewERC20AddressBased()

	create, err := pn.CreateCreationAction(types.ExtensionParameters{PaymentAddress: testPayAddr})
	require.NoError(t, err)
	state := mustApply(t, pn, nil, create, testPayee)

	addr, ok := PaymentAddress(state[pn.ID()])
	require.True(t, ok)
	assert.Equal(t, testPayAddr, addr)

	// No salt means no payment reference; detection keys on the address.
	_, ok = PaymentReferenceOf(state[pn.ID()])
	assert.False(t, ok)

	state = mustApply(t, pn, state, types.ExtensionAction{
		ID:         pn.ID(),
		Action:     types.ExtensionActionAddRefundAddress,
		Parameters: types.ExtensionParameters{RefundAddress: testRefundAddr},
	}, testPayer)
	refund, ok := RefundAddress(state[pn.ID()])
	require.True(t, ok)
	assert.Equal(t, testRefundAddr, refund)
}

func TestAnyToERC20_CreateValidation(t *testing.T) {
	registry := NewRegistry(types.DefaultCurrencyTables())
	interpreter, err := registry.Get(types.ExtensionAnyToERC20Proxy)
	require.NoError(t, err)

	tests := []struct {
		name     string
		params   types.ExtensionParameters
		wantCode string
	}{
		{
			name: "missing network",
			params: types.ExtensionParameters{
				Salt:           testSalt,
				AcceptedTokens: []string{daiMainnet},
			},
			wantCode: types.ErrInvalidAction,
		},
		{
			name: "network without currency table",
			params: types.ExtensionParameters{
				Salt:           testSalt,
				Network:        types.NetworkFantom,
				AcceptedTokens: []string{daiMainnet},
			},
			wantCode: types.ErrUnsupportedNetwork,
		},
		{
			name: "empty accepted tokens",
			params: types.ExtensionParameters{
				Salt:    testSalt,
				Network: types.NetworkMainnet,
			},
			wantCode: types.ErrInvalidAction,
		},
		{
			name: "token not in table",
			params: types.ExtensionParameters{
				Salt:           testSalt,
				Network:        types.NetworkMainnet,
				AcceptedTokens: []string{testPayAddr},
			},
			wantCode: types.ErrUnsupportedCurrency,
		},
		{
			name: "negative rate timespan",
			params: types.ExtensionParameters{
				Salt:            testSalt,
				Network:         types.NetworkMainnet,
				AcceptedTokens:  []string{daiMainnet},
				MaxRateTimespan: -1,
			},
			wantCode: types.ErrInvalidAction,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := interpreter.CreateCreationAction(tc.params)
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, types.ErrorCode(err))
		})
	}
}

func TestAnyToERC20_CreateStoresConversionValues(t *testing.T) {
	registry := NewRegistry(types.DefaultCurrencyTables())
	interpreter, err := registry.Get(types.ExtensionAnyToERC20Proxy)
	require.NoError(t, err)

	create, err := interpreter.CreateCreationAction(types.ExtensionParameters{
		Salt:            testSalt,
		PaymentAddress:  testPayAddr,
		Network:         types.NetworkMainnet,
		AcceptedTokens:  []string{daiMainnet},
		MaxRateTimespan: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ExtensionAnyToERC20Proxy, create.ID)

	state := mustApply(t, interpreter, nil, create, testPayee)
	pn := state[types.ExtensionAnyToERC20Proxy]

	network, ok := NetworkOf(pn)
	require.True(t, ok)
	assert.Equal(t, types.NetworkMainnet, network)
	assert.Equal(t, []string{daiMainnet}, AcceptedTokens(pn))
	assert.Equal(t, int64(300), MaxRateTimespan(pn))
}

func TestAnyToERC20_RejectsUnsupportedRequestCurrency(t *testing.T) {
	registry := NewRegistry(types.DefaultCurrencyTables())
	interpreter, err := registry.Get(types.ExtensionAnyToERC20Proxy)
	require.NoError(t, err)

	create, err := interpreter.CreateCreationAction(types.ExtensionParameters{
		Salt:           testSalt,
		Network:        types.NetworkMainnet,
		AcceptedTokens: []string{daiMainnet},
	})
	require.NoError(t, err)

	request := testRequest()
	request.Currency = types.Currency{Type: types.CurrencyISO4217, Value: "JPY"}

	_, err = interpreter.ApplyAction(nil, create, request, testPayee, 1700000000)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedCurrency, types.ErrorCode(err))
}

func TestAnyToERC20_Recreate(t *testing.T) {
	registry := NewRegistry(types.DefaultCurrencyTables())
	interpreter, err := registry.Get(types.ExtensionAnyToERC20Proxy)
	require.NoError(t, err)

	create, err := interpreter.CreateCreationAction(types.ExtensionParameters{
		Salt:           testSalt,
		Network:        types.NetworkMainnet,
		AcceptedTokens: []string{daiMainnet},
	})
	require.NoError(t, err)

	state := mustApply(t, interpreter, nil, create, testPayee)
	_, err = interpreter.ApplyAction(state, create, testRequest(), testPayee, 1700000000)
	require.Error(t, err)
	assert.Equal(t, types.ErrExtensionAlreadyExists, types.ErrorCode(err))
}

func TestContentData(t *testing.T) {
	cd := NewContentData()

	create, err := cd.CreateCreationAction(types.ExtensionParameters{
		Content: map[string]any{"reason": "consulting", "dueDate": "2024-02-01"},
	})
	require.NoError(t, err)

	state := mustApply(t, cd, nil, create, testPayee)
	require.Contains(t, state, types.ExtensionContentData)
	assert.Equal(t, types.ExtensionTypeContentData, state[types.ExtensionContentData].Type)

	// Content data is create-only.
	_, err = cd.ApplyAction(state, types.ExtensionAction{
		ID:     cd.ID(),
		Action: types.ExtensionActionAddPaymentAddress,
	}, testRequest(), testPayee, 1700000000)
	assert.Equal(t, types.ErrUnknownAction, types.ErrorCode(err))
}

func TestRegistry_UnknownExtension(t *testing.T) {
	registry := NewRegistry(types.DefaultCurrencyTables())
	_, err := registry.Get(types.ExtensionID("pn-bitcoin-address-based"))
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownExtension, types.ErrorCode(err))
}
