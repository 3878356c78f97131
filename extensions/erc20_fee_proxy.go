package extensions

import (
	"github.com/vitwit/reqnet/types"
	"github.com/vitwit/reqnet/utils"
)

// ERC20FeeProxy detects payments made through the ERC20 fee-proxy
// contract: reference-based detection plus an optional fee taken on top of
// the paid amount.
type ERC20FeeProxy struct {
	referenceBased
}

// NewERC20FeeProxy creates the fee-proxy interpreter.
func NewERC20FeeProxy() *ERC20FeeProxy {
	return &ERC20FeeProxy{referenceBased{
		id:      types.ExtensionERC20FeeProxy,
		version: "0.2.0",
	}}
}

func (p *ERC20FeeProxy) ID() types.ExtensionID {
	return p.id
}

func (p *ERC20FeeProxy) IsValidAddress(address string) bool {
	return p.validAddress(address)
}

// CreateCreationAction validates address, salt and fee parameters and
// builds the creation extension action.
func (p *ERC20FeeProxy) CreateCreationAction(params types.ExtensionParameters) (types.ExtensionAction, error) {
	action, err := p.creationAction(params)
	if err != nil {
		return types.ExtensionAction{}, err
	}
	if err := p.validateFeeParams(params); err != nil {
		return types.ExtensionAction{}, err
	}
	return action, nil
}

// ApplyAction dispatches a fee-proxy extension action.
func (p *ERC20FeeProxy) ApplyAction(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	request *types.Request,
	actor types.Identity,
	timestamp int64,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	switch extAction.Action {
	case types.ExtensionActionCreate:
		next, err := p.applyCreate(extensions, extAction, request, actor, timestamp)
		if err != nil {
			return nil, err
		}
		return p.setCreationFee(next, extAction, actor)
	case types.ExtensionActionAddPaymentAddress:
		return p.applyAddPaymentAddress(extensions, extAction, request, actor, timestamp)
	case types.ExtensionActionAddRefundAddress:
		return p.applyAddRefundAddress(extensions, extAction, request, actor, timestamp)
	case types.ExtensionActionAddFee:
		return p.applyAddFee(extensions, extAction, request, actor, timestamp)
	default:
		return nil, unknownActionError(p.id, extAction.Action)
	}
}

// setCreationFee stores fee values passed at creation time, after the base
// creation has succeeded.
func (p *ERC20FeeProxy) setCreationFee(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	actor types.Identity,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	params := extAction.Parameters
	if params.FeeAddress == "" && params.FeeAmount == "" {
		return extensions, nil
	}
	if err := p.validateFeeParams(params); err != nil {
		return nil, err
	}
	extensions[p.id].Values[keyFeeAddress] = params.FeeAddress
	extensions[p.id].Values[keyFeeAmount] = params.FeeAmount
	return extensions, nil
}

// validateFeeParams checks that fee address and amount are either both
// absent or both valid.
func (b referenceBased) validateFeeParams(params types.ExtensionParameters) error {
	if params.FeeAddress == "" && params.FeeAmount == "" {
		return nil
	}
	if !b.validAddress(params.FeeAddress) {
		return b.badAddressError("fee", params.FeeAddress)
	}
	if _, err := utils.ValidateAmount(params.FeeAmount); err != nil {
		return &types.EngineError{
			Code:        types.ErrInvalidAction,
			Message:     "invalid fee amount: " + err.Error(),
			ExtensionID: b.id,
		}
	}
	return nil
}

// applyAddFee sets the fee taken by the proxy. Only the payee may do this.
func (b referenceBased) applyAddFee(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	request *types.Request,
	actor types.Identity,
	timestamp int64,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	if _, err := requireCreated(extensions, b.id); err != nil {
		return nil, err
	}
	if request.Payee == nil || !request.Payee.Equal(actor) {
		return nil, b.unauthorizedError("addFee", "payee")
	}
	if err := b.validateFeeParams(extAction.Parameters); err != nil {
		return nil, err
	}
	if extAction.Parameters.FeeAddress == "" {
		return nil, b.badAddressError("fee", "")
	}

	next := cloneExtensions(extensions)
	next[b.id].Values[keyFeeAddress] = extAction.Parameters.FeeAddress
	next[b.id].Values[keyFeeAmount] = extAction.Parameters.FeeAmount
	next[b.id].Events = append(next[b.id].Events, types.ExtensionEvent{
		Name:      types.ExtensionActionAddFee,
		Timestamp: timestamp,
		From:      actor,
		Parameters: map[string]any{
			keyFeeAddress: extAction.Parameters.FeeAddress,
			keyFeeAmount:  extAction.Parameters.FeeAmount,
		},
	})
	return next, nil
}
