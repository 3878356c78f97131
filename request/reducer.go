// Package request implements the action-log reducer: a pure fold from an
// ordered sequence of signed actions to the canonical request aggregate.
// The reducer performs no I/O; replaying the same action list always
// yields the same request.
package request

import (
	"fmt"

	"github.com/vitwit/reqnet/extensions"
	"github.com/vitwit/reqnet/types"
	"github.com/vitwit/reqnet/utils"
)

// Reducer folds actions into request state, delegating extension-specific
// sub-state to the interpreter registry.
type Reducer struct {
	registry *extensions.Registry
}

// NewReducer creates a reducer bound to the given registry.
func NewReducer(registry *extensions.Registry) *Reducer {
	return &Reducer{registry: registry}
}

// ApplyActions folds the ordered action list into a request. With a nil
// initial state the first action must be a creation action. Replay aborts
// on the first invalid action; the returned error identifies the request,
// the action index and, for extension actions, the extension.
func (r *Reducer) ApplyActions(initial *types.Request, actions []types.Action) (*types.Request, error) {
	state := initial.Clone()

	if state == nil && len(actions) == 0 {
		return nil, &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: "cannot derive a request from an empty action list",
		}
	}

	for i, action := range actions {
		next, err := r.applyAction(state, action, i)
		if err != nil {
			return nil, withContext(err, state, i)
		}
		state = next
	}
	return state, nil
}

// QuickValidate checks the structural shape of an action list without
// signature recovery or extension interpretation. Useful as a cheap gate
// before a full replay.
func (r *Reducer) QuickValidate(actions []types.Action) error {
	if len(actions) == 0 {
		return &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: "action list is empty",
		}
	}
	for i, action := range actions {
		if i == 0 && action.Type != types.ActionCreate {
			return &types.EngineError{
				Code:        types.ErrInvalidAction,
				Message:     "first action must be a creation action",
				ActionIndex: i,
			}
		}
		if i > 0 && action.Type == types.ActionCreate {
			return &types.EngineError{
				Code:        types.ErrInvalidAction,
				Message:     "creation action after the first action",
				ActionIndex: i,
			}
		}
		if action.Signature == "" {
			return &types.EngineError{
				Code:        types.ErrInvalidAction,
				Message:     "action is unsigned",
				ActionIndex: i,
			}
		}
		if action.Timestamp <= 0 {
			return &types.EngineError{
				Code:        types.ErrInvalidAction,
				Message:     "action timestamp is missing",
				ActionIndex: i,
			}
		}
	}
	return nil
}

func (r *Reducer) applyAction(state *types.Request, action types.Action, index int) (*types.Request, error) {
	if err := utils.VerifyActionSignature(action); err != nil {
		return nil, err
	}

	if state == nil {
		if action.Type != types.ActionCreate {
			return nil, &types.EngineError{
				Code:    types.ErrInvalidAction,
				Message: fmt.Sprintf("first action must be %s, got %s", types.ActionCreate, action.Type),
			}
		}
		return r.applyCreate(action, index)
	}

	switch action.Type {
	case types.ActionCreate:
		return nil, &types.EngineError{
			Code:      types.ErrInvalidAction,
			Message:   "request already created",
			RequestID: state.RequestID,
		}
	case types.ActionAccept:
		return r.applyAccept(state, action, index)
	case types.ActionCancel:
		return r.applyCancel(state, action, index)
	case types.ActionAddExtensionsData:
		return r.applyExtensionsData(state, action, index)
	default:
		return nil, &types.EngineError{
			Code:    types.ErrUnknownAction,
			Message: fmt.Sprintf("unknown action type: %s", action.Type),
		}
	}
}

// applyCreate constructs the aggregate from a creation action. The request
// id is derived from the action content and never reassigned.
func (r *Reducer) applyCreate(action types.Action, index int) (*types.Request, error) {
	params := action.Parameters

	if params.Payee == nil && params.Payer == nil {
		return nil, &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: "creation requires a payee or a payer",
		}
	}

	// The creator must take one of the two roles; a third party cannot
	// open a request between others.
	isPayee := params.Payee != nil && params.Payee.Equal(action.Actor)
	isPayer := params.Payer != nil && params.Payer.Equal(action.Actor)
	if !isPayee && !isPayer {
		return nil, &types.EngineError{
			Code:    types.ErrUnauthorizedAction,
			Message: "creation must be signed by the payee or the payer",
		}
	}

	if _, err := utils.ValidateAmount(params.ExpectedAmount); err != nil {
		return nil, &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: "invalid expected amount: " + err.Error(),
		}
	}
	if params.Currency.Type == "" || params.Currency.Value == "" {
		return nil, &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: "creation requires an invoicing currency",
		}
	}

	requestID, err := utils.RequestIDFromAction(action)
	if err != nil {
		return nil, err
	}

	state := &types.Request{
		RequestID:      requestID,
		Version:        types.ProtocolVersion,
		State:          types.StateCreated,
		Currency:       params.Currency,
		ExpectedAmount: params.ExpectedAmount,
		Creator:        action.Actor,
		Payee:          params.Payee,
		Payer:          params.Payer,
		Timestamp:      action.Timestamp,
		Extensions:     map[types.ExtensionID]*types.ExtensionState{},
	}

	for _, extAction := range params.ExtensionsData {
		next, err := r.registry.Apply(state.Extensions, extAction, state, action.Actor, action.Timestamp)
		if err != nil {
			return nil, err
		}
		state.Extensions = next
		state.ExtensionsData = append(state.ExtensionsData, extAction)
	}

	state.Events = append(state.Events, types.RequestEvent{
		Name:        types.ActionCreate,
		Actor:       action.Actor,
		Timestamp:   action.Timestamp,
		ActionIndex: index,
	})
	return state, nil
}

// applyAccept transitions created -> accepted. Only the payer accepts.
func (r *Reducer) applyAccept(state *types.Request, action types.Action, index int) (*types.Request, error) {
	if state.Payer == nil || !state.Payer.Equal(action.Actor) {
		return nil, &types.EngineError{
			Code:    types.ErrUnauthorizedAction,
			Message: "accept must be signed by the payer",
		}
	}
	if state.State != types.StateCreated {
		return nil, &types.EngineError{
			Code:    types.ErrInvalidStateTransition,
			Message: fmt.Sprintf("cannot accept a request in state %s", state.State),
		}
	}

	next := state.Clone()
	next.State = types.StateAccepted
	next.Events = append(next.Events, types.RequestEvent{
		Name:        types.ActionAccept,
		Actor:       action.Actor,
		Timestamp:   action.Timestamp,
		ActionIndex: index,
	})
	return next, nil
}

// applyCancel transitions created -> canceled. Either side may cancel
// before acceptance.
func (r *Reducer) applyCancel(state *types.Request, action types.Action, index int) (*types.Request, error) {
	isPayee := state.Payee != nil && state.Payee.Equal(action.Actor)
	isPayer := state.Payer != nil && state.Payer.Equal(action.Actor)
	if !isPayee && !isPayer {
		return nil, &types.EngineError{
			Code:    types.ErrUnauthorizedAction,
			Message: "cancel must be signed by the payee or the payer",
		}
	}
	if state.State != types.StateCreated {
		return nil, &types.EngineError{
			Code:    types.ErrInvalidStateTransition,
			Message: fmt.Sprintf("cannot cancel a request in state %s", state.State),
		}
	}

	next := state.Clone()
	next.State = types.StateCanceled
	next.Events = append(next.Events, types.RequestEvent{
		Name:        types.ActionCancel,
		Actor:       action.Actor,
		Timestamp:   action.Timestamp,
		ActionIndex: index,
	})
	return next, nil
}

// applyExtensionsData delegates each embedded extension action to its
// interpreter. The extensions map is replaced wholesale with the map the
// interpreter returns; prior snapshots are untouched.
func (r *Reducer) applyExtensionsData(state *types.Request, action types.Action, index int) (*types.Request, error) {
	isCreator := state.Creator.Equal(action.Actor)
	isPayee := state.Payee != nil && state.Payee.Equal(action.Actor)
	isPayer := state.Payer != nil && state.Payer.Equal(action.Actor)
	if !isCreator && !isPayee && !isPayer {
		return nil, &types.EngineError{
			Code:    types.ErrUnauthorizedAction,
			Message: "extension data must be signed by the creator, the payee or the payer",
		}
	}
	if len(action.Parameters.ExtensionsData) == 0 {
		return nil, &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: "addExtensionsData carries no extension actions",
		}
	}

	next := state.Clone()
	for _, extAction := range action.Parameters.ExtensionsData {
		updated, err := r.registry.Apply(next.Extensions, extAction, next, action.Actor, action.Timestamp)
		if err != nil {
			return nil, err
		}
		next.Extensions = updated
		next.ExtensionsData = append(next.ExtensionsData, extAction)
	}

	next.Events = append(next.Events, types.RequestEvent{
		Name:        types.ActionAddExtensionsData,
		Actor:       action.Actor,
		Timestamp:   action.Timestamp,
		ActionIndex: index,
	})
	return next, nil
}

// withContext stamps request id and action index onto engine errors so
// callers can pinpoint the offending action.
func withContext(err error, state *types.Request, index int) error {
	engineErr, ok := err.(*types.EngineError)
	if !ok {
		return err
	}
	if engineErr.RequestID == "" && state != nil {
		engineErr.RequestID = state.RequestID
	}
	engineErr.ActionIndex = index
	return engineErr
}
