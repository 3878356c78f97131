package extensions

import (
	"github.com/vitwit/reqnet/types"
	"github.com/vitwit/reqnet/utils"
)

// ContentData attaches arbitrary invoice content to a request. Create
// only; the content is immutable once attached.
type ContentData struct {
	id      types.ExtensionID
	version string
}

// NewContentData creates the content-data interpreter.
func NewContentData() *ContentData {
	return &ContentData{
		id:      types.ExtensionContentData,
		version: "0.1.0",
	}
}

func (c *ContentData) ID() types.ExtensionID {
	return c.id
}

func (c *ContentData) IsValidAddress(address string) bool {
	return utils.IsValidEthereumAddress(address)
}

// CreateCreationAction builds the creation action carrying the content.
func (c *ContentData) CreateCreationAction(params types.ExtensionParameters) (types.ExtensionAction, error) {
	if len(params.Content) == 0 {
		return types.ExtensionAction{}, &types.EngineError{
			Code:        types.ErrInvalidAction,
			Message:     "content is required for the content-data extension",
			ExtensionID: c.id,
		}
	}
	return types.ExtensionAction{
		ID:         c.id,
		Action:     types.ExtensionActionCreate,
		Parameters: params,
		Version:    c.version,
	}, nil
}

// ApplyAction folds a content-data action. Only create is understood.
func (c *ContentData) ApplyAction(
	extensions map[types.ExtensionID]*types.ExtensionState,
	extAction types.ExtensionAction,
	request *types.Request,
	actor types.Identity,
	timestamp int64,
) (map[types.ExtensionID]*types.ExtensionState, error) {
	if extAction.Action != types.ExtensionActionCreate {
		return nil, unknownActionError(c.id, extAction.Action)
	}
	if err := rejectRecreate(extensions, c.id); err != nil {
		return nil, err
	}
	if len(extAction.Parameters.Content) == 0 {
		return nil, &types.EngineError{
			Code:        types.ErrInvalidAction,
			Message:     "content is required for the content-data extension",
			ExtensionID: c.id,
		}
	}

	content := make(map[string]any, len(extAction.Parameters.Content))
	for k, v := range extAction.Parameters.Content {
		content[k] = v
	}

	next := cloneExtensions(extensions)
	next[c.id] = &types.ExtensionState{
		ID:      c.id,
		Type:    types.ExtensionTypeContentData,
		Version: extAction.Version,
		Values:  map[string]any{"content": content},
		Events: []types.ExtensionEvent{{
			Name:      types.ExtensionActionCreate,
			Timestamp: timestamp,
			From:      actor,
		}},
	}
	return next, nil
}
