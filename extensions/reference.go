package extensions

import (
	"fmt"

	"github.com/vitwit/reqnet/types"
	"github.com/vitwit/reqnet/utils"
)

// State value keys shared by the reference-based payment networks.
const (
	keyPaymentAddress   = "paymentAddress"
	keyRefundAddress    = "refundAddress"
	keySalt             = "salt"
	keyPaymentReference = "paymentReference"
	keyRefundReference  = "refundReference"
	keyFeeAddress       = "feeAddress"
	keyFeeAmount        = "feeAmount"
	keyNetwork          = "network"
	keyAcceptedTokens   = "acceptedTokens"
	keyMaxRateTimespan  = "maxRateTimespan"
)

// referenceBased is the shared capability module behind the proxy-contract
// payment networks: it owns payment/refund addresses, the salt, and the
// payment-reference derivation. Variants compose it and layer their own
// validation on top instead of overriding it.
type referenceBased struct {
	id      types.ExtensionID
	version string
}

func (b referenceBased) validAddress(address string) bool {
	return utils.IsValidEthereumAddress(address)
}

// creationAction validates the address/salt parameters and builds the
// creation extension action.
func (b referenceBased) creationAction(params types.ExtensionParameters) (types.ExtensionAction, error) {
	if params.Salt == "" {
		return types.ExtensionAction{}, &types.EngineError{
			Code:        types.ErrInvalidAction,
			Message:     "salt is required for reference-based payment networks",
			ExtensionID: b.id,
		}
	}
	if params.PaymentAddress != "" && !b.validAddress(params.PaymentAddress) {
		return types.ExtensionAction{}, b.badAddressError("payment", params.PaymentAddress)
	}
	if params.RefundAddress != "" && !b.validAddress(params.RefundAddress) {
		return types.ExtensionAction{}, b.badAddressError("refund", params.RefundAddress)
	}

	return types.ExtensionAction{
		ID:         b.id,
		Action:     types.ExtensionActionCreate,
		Parameters: params,
		Version:    b.version,
	}, nil
}

// applyCreate folds a creation action into a fresh extension state.
func (b referenceBased) applyCreate(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	request *types.Request,
	actor types.Identity,
	timestamp int64,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	if err := rejectRecreate(extensions, b.id); err != nil {
		return nil, err
	}

	params := extAction.Parameters
	if params.Salt == "" {
		return nil, &types.EngineError{
			Code:        types.ErrInvalidAction,
			Message:     "salt is required for reference-based payment networks",
			ExtensionID: b.id,
		}
	}

	state := &types.ExtensionState{
		ID:      b.id,
		Type:    types.ExtensionTypePaymentNetwork,
		Version: extAction.Version,
		Values:  map[string]any{keySalt: params.Salt},
	}

	if params.PaymentAddress != "" {
		if !b.validAddress(params.PaymentAddress) {
			return nil, b.badAddressError("payment", params.PaymentAddress)
		}
		state.Values[keyPaymentAddress] = params.PaymentAddress
		state.Values[keyPaymentReference] = utils.PaymentReference(request.RequestID, params.Salt, params.PaymentAddress)
	}
	if params.RefundAddress != "" {
		if !b.validAddress(params.RefundAddress) {
			return nil, b.badAddressError("refund", params.RefundAddress)
		}
		state.Values[keyRefundAddress] = params.RefundAddress
		state.Values[keyRefundReference] = utils.PaymentReference(request.RequestID, params.Salt, params.RefundAddress)
	}

	state.Events = append(state.Events, types.ExtensionEvent{
		Name:      types.ExtensionActionCreate,
		Timestamp: timestamp,
		From:      actor,
		Parameters: map[string]any{
			keyPaymentAddress: params.PaymentAddress,
			keyRefundAddress:  params.RefundAddress,
		},
	})

	next := cloneExtensions(extensions)
	next[b.id] = state
	return next, nil
}

// applyAddPaymentAddress sets the payment address. Only the payee may do
// this, and only once.
func (b referenceBased) applyAddPaymentAddress(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	request *types.Request,
	actor types.Identity,
	timestamp int64,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	state, err := requireCreated(extensions, b.id)
	if err != nil {
		return nil, err
	}
	if request.Payee == nil || !request.Payee.Equal(actor) {
		return nil, b.unauthorizedError("addPaymentAddress", "payee")
	}
	if _, ok := state.Values[keyPaymentAddress]; ok {
		return nil, &types.EngineError{
			Code:        types.ErrInvalidAction,
			Message:     "payment address already set",
			ExtensionID: b.id,
		}
	}
	address := extAction.Parameters.PaymentAddress
	if !b.validAddress(address) {
		return nil, b.badAddressError("payment", address)
	}

	next := cloneExtensions(extensions)
	salt, _ := next[b.id].Values[keySalt].(string)
	next[b.id].Values[keyPaymentAddress] = address
	next[b.id].Values[keyPaymentReference] = utils.PaymentReference(request.RequestID, salt, address)
	next[b.id].Events = append(next[b.id].Events, types.ExtensionEvent{
		Name:       types.ExtensionActionAddPaymentAddress,
		Timestamp:  timestamp,
		From:       actor,
		Parameters: map[string]any{keyPaymentAddress: address},
	})
	return next, nil
}

// applyAddRefundAddress sets the refund address. Only the payer may do
// this, and only once.
func (b referenceBased) applyAddRefundAddress(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	request *types.Request,
	actor types.Identity,
	timestamp int64,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	state, err := requireCreated(extensions, b.id)
	if err != nil {
		return nil, err
	}
	if request.Payer == nil || !request.Payer.Equal(actor) {
		return nil, b.unauthorizedError("addRefundAddress", "payer")
	}
	if _, ok := state.Values[keyRefundAddress]; ok {
		return nil, &types.EngineError{
			Code:        types.ErrInvalidAction,
			Message:     "refund address already set",
			ExtensionID: b.id,
		}
	}
	address := extAction.Parameters.RefundAddress
	if !b.validAddress(address) {
		return nil, b.badAddressError("refund", address)
	}

	next := cloneExtensions(extensions)
	salt, _ := next[b.id].Values[keySalt].(string)
	next[b.id].Values[keyRefundAddress] = address
	next[b.id].Values[keyRefundReference] = utils.PaymentReference(request.RequestID, salt, address)
	next[b.id].Events = append(next[b.id].Events, types.ExtensionEvent{
		Name:       types.ExtensionActionAddRefundAddress,
		Timestamp:  timestamp,
		From:       actor,
		Parameters: map[string]any{keyRefundAddress: address},
	})
	return next, nil
}

func (b referenceBased) badAddressError(role, address string) error {
	return &types.EngineError{
		Code:        types.ErrInvalidAction,
		Message:     fmt.Sprintf("invalid %s address: %q", role, address),
		ExtensionID: b.id,
	}
}

func (b referenceBased) unauthorizedError(action, role string) error {
	return &types.EngineError{
		Code:        types.ErrUnauthorizedAction,
		Message:     fmt.Sprintf("%s on %s may only be signed by the %s", action, b.id, role),
		ExtensionID: b.id,
	}
}
