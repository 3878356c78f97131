package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/vitwit/reqnet/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ParseAction parses and validates a single signed action from JSON.
func ParseAction(data []byte) (*types.Action, error) {
	var action types.Action

	if err := json.Unmarshal(data, &action); err != nil {
		return nil, &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: fmt.Sprintf("failed to parse action: %v", err),
		}
	}

	if err := validate.Struct(&action); err != nil {
		return nil, &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: fmt.Sprintf("action validation failed: %v", err),
		}
	}

	return &action, nil
}

// ParseActions parses an ordered action list from a JSON array.
func ParseActions(data []byte) ([]types.Action, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: fmt.Sprintf("failed to parse action list: %v", err),
		}
	}

	actions := make([]types.Action, 0, len(raw))
	for i, entry := range raw {
		action, err := ParseAction(entry)
		if err != nil {
			if engineErr, ok := err.(*types.EngineError); ok {
				engineErr.ActionIndex = i
			}
			return nil, err
		}
		actions = append(actions, *action)
	}
	return actions, nil
}

// ValidateClientConfig validates a ledger client configuration.
func ValidateClientConfig(config types.ClientConfig) error {
	if err := validate.Struct(&config); err != nil {
		return &types.EngineError{
			Code:    types.ErrConfig,
			Message: fmt.Sprintf("client config validation failed: %v", err),
		}
	}
	if !config.Network.IsKnown() {
		return &types.EngineError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unknown network: %s", config.Network),
		}
	}
	return nil
}

// SerializeRequest converts a derived request to JSON.
func SerializeRequest(request *types.Request) ([]byte, error) {
	return json.Marshal(request)
}

// SerializeBalance converts a balance result to JSON.
func SerializeBalance(balance *types.Balance) ([]byte, error) {
	return json.Marshal(balance)
}
