package extensions

import (
	"github.com/vitwit/reqnet/types"
	"github.com/vitwit/reqnet/utils"
)

// ERC20AddressBased detects payments by watching transfers of one token to
// a dedicated payment address. No proxy contract, no salt, no reference.
type ERC20AddressBased struct {
	id      types.ExtensionID
	version string
}

// NewERC20AddressBased creates the address-based ERC20 interpreter.
func NewERC20AddressBased() *ERC20AddressBased {
	return &ERC20AddressBased{
		id:      types.ExtensionERC20AddressBased,
		version: "0.1.0",
	}
}

func (p *ERC20AddressBased) ID() types.ExtensionID {
	return p.id
}

func (p *ERC20AddressBased) IsValidAddress(address string) bool {
	return utils.IsValidEthereumAddress(address)
}

// CreateCreationAction validates addresses and builds the creation action.
func (p *ERC20AddressBased) CreateCreationAction(params types.ExtensionParameters) (types.ExtensionAction, error) {
	if params.PaymentAddress != "" && !p.IsValidAddress(params.PaymentAddress) {
		return types.ExtensionAction{}, p.badAddressError("payment", params.PaymentAddress)
	}
	if params.RefundAddress != "" && !p.IsValidAddress(params.RefundAddress) {
		return types.ExtensionAction{}, p.badAddressError("refund", params.RefundAddress)
	}
	return types.ExtensionAction{
		ID:         p.id,
		Action:     types.ExtensionActionCreate,
		Parameters: params,
		Version:    p.version,
	}, nil
}

// ApplyAction dispatches an address-based extension action.
func (p *ERC20AddressBased) ApplyAction(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	request *types.Request,
	actor types.Identity,
	timestamp int64,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	switch extAction.Action {
	case types.ExtensionActionCreate:
		return p.applyCreate(extensions, extAction, actor, timestamp)
	case types.ExtensionActionAddPaymentAddress:
		return p.applyAddAddress(extensions, extAction, request, actor, timestamp, keyPaymentAddress)
	case types.ExtensionActionAddRefundAddress:
		return p.applyAddAddress(extensions, extAction, request, actor, timestamp, keyRefundAddress)
	default:
		return nil, unknownActionError(p.id, extAction.Action)
	}
}

func (p *ERC20AddressBased) applyCreate(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	actor types.Identity,
	timestamp int64,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	if err := rejectRecreate(extensions, p.id); err != nil {
		return nil, err
	}

	params := extAction.Parameters
	state := &types.ExtensionState{
		ID:      p.id,
		Type:    types.ExtensionTypePaymentNetwork,
		Version: extAction.Version,
		Values:  map[string]any{},
	}
	if params.PaymentAddress != "" {
		if !p.IsValidAddress(params.PaymentAddress) {
			return nil, p.badAddressError("payment", params.PaymentAddress)
		}
		state.Values[keyPaymentAddress] = params.PaymentAddress
	}
	if params.RefundAddress != "" {
		if !p.IsValidAddress(params.RefundAddress) {
			return nil, p.badAddressError("refund", params.RefundAddress)
		}
		state.Values[keyRefundAddress] = params.RefundAddress
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
	next[p.id] = state
	return next, nil
}

func (p *ERC20AddressBased) applyAddAddress(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	request *types.Request,
	actor types.Identity,
	timestamp int64,
	key string,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	state, err := requireCreated(extensions, p.id)
	if err != nil {
		return nil, err
	}

	var address string
	var role *types.Identity
	var roleName string
	if key == keyPaymentAddress {
		address, role, roleName = extAction.Parameters.PaymentAddress, request.Payee, "payee"
	} else {
		address, role, roleName = extAction.Parameters.RefundAddress, request.Payer, "payer"
	}

	if role == nil || !role.Equal(actor) {
		return nil, &types.EngineError{
			Code:        types.ErrUnauthorizedAction,
			Message:     string(extAction.Action) + " on " + string(p.id) + " may only be signed by the " + roleName,
			ExtensionID: p.id,
		}
	}
	if _, ok := state.Values[key]; ok {
		return nil, &types.EngineError{
			Code:        types.ErrInvalidAction,
			Message:     key + " already set",
			ExtensionID: p.id,
		}
	}
	if !p.IsValidAddress(address) {
		return nil, p.badAddressError(key, address)
	}

	next := cloneExtensions(extensions)
	next[p.id].Values[key] = address
	next[p.id].Events = append(next[p.id].Events, types.ExtensionEvent{
		Name:       extAction.Action,
		Timestamp:  timestamp,
		From:       actor,
		Parameters: map[string]any{key: address},
	})
	return next, nil
}

func (p *ERC20AddressBased) badAddressError(role, address string) error {
	return &types.EngineError{
		Code:        types.ErrInvalidAction,
		Message:     "invalid " + role + " address: " + address,
		ExtensionID: p.id,
	}
}
