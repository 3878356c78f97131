package extensions

import (
	"fmt"

	"github.com/vitwit/reqnet/types"
)

// AnyToERC20Proxy detects payments where a request denominated in one
// currency (fiat, ETH, another token) is paid in an accepted ERC20 through
// the conversion proxy contract. It composes the fee-proxy capability and
// layers currency-support validation on top.
type AnyToERC20Proxy struct {
	referenceBased
	base       *ERC20FeeProxy
	currencies types.CurrencyTables
}

// NewAnyToERC20Proxy creates the conversion-proxy interpreter. Currency
// support is validated against the given tables on every action.
func NewAnyToERC20Proxy(base *ERC20FeeProxy, currencies types.CurrencyTables) *AnyToERC20Proxy {
	return &AnyToERC20Proxy{
		referenceBased: referenceBased{
			id:      types.ExtensionAnyToERC20Proxy,
			version: "0.1.0",
		},
		base:       base,
		currencies: currencies,
	}
}

func (p *AnyToERC20Proxy) ID() types.ExtensionID {
	return p.id
}

func (p *AnyToERC20Proxy) IsValidAddress(address string) bool {
	return p.validAddress(address)
}

// CreateCreationAction validates conversion parameters (network, accepted
// tokens, rate timespan), defers address/fee/salt handling to the
// fee-proxy base, and augments the action with the conversion fields.
func (p *AnyToERC20Proxy) CreateCreationAction(params types.ExtensionParameters) (types.ExtensionAction, error) {
	if err := p.validateConversionParams(params); err != nil {
		return types.ExtensionAction{}, err
	}

	base, err := p.base.CreateCreationAction(params)
	if err != nil {
		return types.ExtensionAction{}, p.rebrand(err)
	}

	base.ID = p.id
	base.Version = p.version
	return base, nil
}

// ApplyAction dispatches a conversion-proxy extension action. The
// request's invoicing currency is re-validated against the supported
// tables on every action, not only creation, so a request outliving a
// table change is caught on its next mutation.
func (p *AnyToERC20Proxy) ApplyAction(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	request *types.Request,
	actor types.Identity,
	timestamp int64,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	network := extAction.Parameters.Network
	if network == "" {
		network = types.DefaultNetwork
	}
	if err := p.validateRequestCurrency(request, network); err != nil {
		return nil, err
	}

	switch extAction.Action {
	case types.ExtensionActionCreate:
		if err := p.validateConversionParams(extAction.Parameters); err != nil {
			return nil, err
		}
		next, err := p.applyCreate(extensions, extAction, request, actor, timestamp)
		if err != nil {
			return nil, err
		}
		next, err = p.setCreationValues(next, extAction)
		if err != nil {
			return nil, err
		}
		return next, nil
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

// setCreationValues stores the conversion-specific state on top of the
// base creation.
func (p *AnyToERC20Proxy) setCreationValues(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	params := extAction.Parameters
	if err := p.validateFeeParams(params); err != nil {
		return nil, err
	}
	values := extensions[p.id].Values
	values[keyNetwork] = string(params.Network)
	values[keyAcceptedTokens] = append([]string(nil), params.AcceptedTokens...)
	values[keyMaxRateTimespan] = params.MaxRateTimespan
	if params.FeeAddress != "" {
		values[keyFeeAddress] = params.FeeAddress
		values[keyFeeAmount] = params.FeeAmount
	}
	return extensions, nil
}

// validateConversionParams checks the network and accepted-token
// parameters of a creation action.
func (p *AnyToERC20Proxy) validateConversionParams(params types.ExtensionParameters) error {
	network := params.Network
	if network == "" {
		return &types.EngineError{
			Code:        types.ErrInvalidAction,
			Message:     "network is required for conversion payment networks",
			ExtensionID: p.id,
		}
	}
	if _, ok := p.currencies[network]; !ok {
		return &types.EngineError{
			Code:        types.ErrUnsupportedNetwork,
			Message:     fmt.Sprintf("network %s has no supported-currency table", network),
			ExtensionID: p.id,
		}
	}
	if len(params.AcceptedTokens) == 0 {
		return &types.EngineError{
			Code:        types.ErrInvalidAction,
			Message:     "acceptedTokens is required and cannot be empty",
			ExtensionID: p.id,
		}
	}
	for _, token := range params.AcceptedTokens {
		if !p.validAddress(token) {
			return &types.EngineError{
				Code:        types.ErrInvalidAction,
				Message:     fmt.Sprintf("accepted token %q is not a valid address", token),
				ExtensionID: p.id,
			}
		}
		if !p.currencies.AcceptsToken(network, token) {
			return &types.EngineError{
				Code:        types.ErrUnsupportedCurrency,
				Message:     fmt.Sprintf("token %s is not an accepted ERC20 on %s", token, network),
				ExtensionID: p.id,
			}
		}
	}
	if params.MaxRateTimespan < 0 {
		return &types.EngineError{
			Code:        types.ErrInvalidAction,
			Message:     "maxRateTimespan cannot be negative",
			ExtensionID: p.id,
		}
	}
	return nil
}

// validateRequestCurrency checks the invoicing currency against the
// supported-currency table for the given network.
func (p *AnyToERC20Proxy) validateRequestCurrency(request *types.Request, network types.Network) error {
	if !p.currencies.Supports(network, request.Currency) {
		return &types.EngineError{
			Code:        types.ErrUnsupportedCurrency,
			Message:     fmt.Sprintf("currency %s (%s) is not supported on %s", request.Currency.Value, request.Currency.Type, network),
			ExtensionID: p.id,
			RequestID:   request.RequestID,
		}
	}
	return nil
}

// rebrand rewrites the extension id on errors bubbled up from the base
// interpreter so callers see the conversion extension in the context.
func (p *AnyToERC20Proxy) rebrand(err error) error {
	if engineErr, ok := err.(*types.EngineError); ok {
		engineErr.ExtensionID = p.id
	}
	return err
}
