package extensions

import "github.com/vitwit/reqnet/types"

// Accessors for the extension state owned by the built-in payment
// networks. Downstream layers (balance reconciliation, conversion) read
// through these instead of poking at the values map.

// PaymentNetworkExtension returns the request's payment-network extension
// state, if any. At most one payment network is expected per request; the
// first one found in priority order wins.
func PaymentNetworkExtension(request *types.Request) (*types.ExtensionState, bool) {
	for _, id := range []types.ExtensionID{
		types.ExtensionAnyToERC20Proxy,
		types.ExtensionERC20FeeProxy,
		types.ExtensionERC20AddressBased,
	} {
		if state, ok := request.Extensions[id]; ok {
			return state, true
		}
	}
	return nil, false
}

// PaymentAddress returns the payment address recorded on the state.
func PaymentAddress(state *types.ExtensionState) (string, bool) {
	return stringValue(state, keyPaymentAddress)
}

// RefundAddress returns the refund address recorded on the state.
func RefundAddress(state *types.ExtensionState) (string, bool) {
	return stringValue(state, keyRefundAddress)
}

// PaymentReferenceOf returns the derived payment reference, when the
// extension is reference-based and a payment address is set.
func PaymentReferenceOf(state *types.ExtensionState) (string, bool) {
	return stringValue(state, keyPaymentReference)
}

// NetworkOf returns the payment network recorded on the state.
func NetworkOf(state *types.ExtensionState) (types.Network, bool) {
	value, ok := stringValue(state, keyNetwork)
	return types.Network(value), ok
}

// AcceptedTokens returns the accepted ERC20 list of a conversion
// extension, nil otherwise.
func AcceptedTokens(state *types.ExtensionState) []string {
	if state == nil {
		return nil
	}
	tokens, _ := state.Values[keyAcceptedTokens].([]string)
	return tokens
}

// MaxRateTimespan returns the per-request rate-freshness override of a
// conversion extension; zero means the engine default applies.
func MaxRateTimespan(state *types.ExtensionState) int64 {
	if state == nil {
		return 0
	}
	timespan, _ := state.Values[keyMaxRateTimespan].(int64)
	return timespan
}

func stringValue(state *types.ExtensionState, key string) (string, bool) {
	if state == nil {
		return "", false
	}
	value, ok := state.Values[key].(string)
	return value, ok && value != ""
}
