package request

import (
	"crypto/ecdsa"

	"github.com/vitwit/reqnet/types"
	"github.com/vitwit/reqnet/utils"
)

// NewCreationAction builds and signs a creation action. The extension
// actions should come from the interpreters' CreateCreationAction so they
// are validated before signing; invalid parameters would otherwise only
// surface at replay time.
func NewCreationAction(
	params types.Parameters,
	extensionsData []types.ExtensionAction,
	timestamp int64,
	privateKey *ecdsa.PrivateKey,
) (types.Action, error) {
	if _, err := utils.ValidateAmount(params.ExpectedAmount); err != nil {
		return types.Action{}, &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: "invalid expected amount: " + err.Error(),
		}
	}

	params.ExtensionsData = append([]types.ExtensionAction(nil), extensionsData...)
	action := types.Action{
		Type:       types.ActionCreate,
		Parameters: params,
		Timestamp:  timestamp,
	}
	return utils.SignAction(action, privateKey)
}

// NewSignedAction builds and signs a non-creation action (accept, cancel,
// addExtensionsData).
func NewSignedAction(
	actionType types.ActionType,
	params types.Parameters,
	timestamp int64,
	privateKey *ecdsa.PrivateKey,
) (types.Action, error) {
	action := types.Action{
		Type:       actionType,
		Parameters: params,
		Timestamp:  timestamp,
	}
	return utils.SignAction(action, privateKey)
}
