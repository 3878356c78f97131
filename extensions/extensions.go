// Package extensions implements the extension interpreter registry and the
// built-in payment-network and content-data interpreters. Interpreters are
// stateless; all request-specific state lives in the extensions map they
// return, updated copy-on-write.
package extensions

import (
	"fmt"

	"github.com/vitwit/reqnet/types"
)

// Interpreter is the capability contract every extension variant
// implements. ApplyAction must treat its inputs as read-only and return a
// fresh extensions map.
type Interpreter interface {
	ID() types.ExtensionID

	// CreateCreationAction validates creation parameters and builds the
	// extension action to embed in a request creation action.
	CreateCreationAction(params types.ExtensionParameters) (types.ExtensionAction, error)

	// ApplyAction folds one extension action into the extensions map.
	ApplyAction(
		extensions map[types.ExtensionID]*types.ExtensionState,
		extAction types.ExtensionAction,
		request *types.Request,
		actor types.Identity,
		timestamp int64,
	) (map[types.ExtensionID]*types.ExtensionState, error)

	// IsValidAddress reports whether an address is syntactically valid
	// for the networks this extension pays on.
	IsValidAddress(address string) bool
}

// Registry resolves extension ids to interpreters. The variant set is
// fixed at construction and never mutated afterwards.
type Registry struct {
	interpreters map[types.ExtensionID]Interpreter
	currencies   types.CurrencyTables
}

// NewRegistry builds a registry with all built-in interpreters, validating
// currencies against the given tables.
func NewRegistry(currencies types.CurrencyTables) *Registry {
	r := &Registry{
		interpreters: make(map[types.ExtensionID]Interpreter),
		currencies:   currencies,
	}

	feeProxy := NewERC20FeeProxy()
	r.register(NewContentData())
	r.register(NewERC20AddressBased())
	r.register(feeProxy)
	r.register(NewAnyToERC20Proxy(feeProxy, currencies))
	return r
}

func (r *Registry) register(interpreter Interpreter) {
	r.interpreters[interpreter.ID()] = interpreter
}

// Get returns the interpreter registered under id.
func (r *Registry) Get(id types.ExtensionID) (Interpreter, error) {
	interpreter, ok := r.interpreters[id]
	if !ok {
		return nil, &types.EngineError{
			Code:        types.ErrUnknownExtension,
			Message:     fmt.Sprintf("no interpreter registered for extension %s", id),
			ExtensionID: id,
		}
	}
	return interpreter, nil
}

// Apply resolves the interpreter for the action's extension id and
// delegates to it.
func (r *Registry) Apply(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	request *types.Request,
	actor types.Identity,
	timestamp int64,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	interpreter, err := r.Get(extAction.ID)
	if err != nil {
		return nil, err
	}
	return interpreter.ApplyAction(extensions, extAction, request, actor, timestamp)
}

// cloneExtensions deep-copies an extensions map so appliers never mutate
// state visible through earlier request snapshots.
func cloneExtensions(extensions map[types.ExtensionID]*types.ExtensionState) map[types.ExtensionID]*types.ExtensionState {
	clone := make(map[types.ExtensionID]*types.ExtensionState, len(extensions))
	for id, state := range extensions {
		clone[id] = state.Clone()
	}
	return clone
}

// requireCreated returns the existing state for id or the ordering
// violation error non-create actions must fail with.
func requireCreated(
	extensions map[types.ExtensionID]*types.ExtensionState,
	id types.ExtensionID,
) (*types.ExtensionState, error) {
	state, ok := extensions[id]
	if !ok {
		return nil, &types.EngineError{
			Code:        types.ErrExtensionNotCreated,
			Message:     fmt.Sprintf("extension %s has not been created on this request", id),
			ExtensionID: id,
		}
	}
	return state, nil
}

// rejectRecreate returns the ordering violation error when a create action
// targets an already-created extension.
func rejectRecreate(
	extensions map[types.ExtensionID]*types.ExtensionState,
	id types.ExtensionID,
) error {
	if _, ok := extensions[id]; ok {
		return &types.EngineError{
			Code:        types.ErrExtensionAlreadyExists,
			Message:     fmt.Sprintf("extension %s already exists on this request", id),
			ExtensionID: id,
		}
	}
	return nil
}

func unknownActionError(id types.ExtensionID, action types.ExtensionActionType) error {
	return &types.EngineError{
		Code:        types.ErrUnknownAction,
		Message:     fmt.Sprintf("extension %s does not understand action %s", id, action),
		ExtensionID: id,
	}
}
