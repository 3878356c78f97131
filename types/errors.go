package types

import "errors"

// Error codes returned by the engine. Validation-class codes reject the
// single offending action; ledger-access errors are transient and retried
// before they surface; payment-time codes (stale rate, no path) are never
// retried at this layer.
const (
	ErrInvalidAction          = "INVALID_ACTION"
	ErrUnauthorizedAction     = "UNAUTHORIZED_ACTION"
	ErrInvalidStateTransition = "INVALID_STATE_TRANSITION"
	ErrExtensionAlreadyExists = "EXTENSION_ALREADY_EXISTS"
	ErrExtensionNotCreated    = "EXTENSION_NOT_CREATED"
	ErrUnknownAction          = "UNKNOWN_ACTION"
	ErrUnknownExtension       = "UNKNOWN_EXTENSION"
	ErrUnsupportedNetwork     = "UNSUPPORTED_NETWORK"
	ErrUnsupportedCurrency    = "UNSUPPORTED_CURRENCY"
	ErrNoPathFound            = "NO_PATH_FOUND"
	ErrStaleRate              = "STALE_RATE"
	ErrLedgerAccess           = "LEDGER_ACCESS_ERROR"
	ErrConfig                 = "CONFIG_ERROR"
)

// EngineError is the error type returned by every engine operation. The
// context fields identify exactly which action on which request failed.
type EngineError struct {
	Code        string      `json:"code"`
	Message     string      `json:"message"`
	RequestID   string      `json:"requestId,omitempty"`
	ActionIndex int         `json:"actionIndex,omitempty"`
	ExtensionID ExtensionID `json:"extensionId,omitempty"`
	Data        interface{} `json:"data,omitempty"`
}

func (e *EngineError) Error() string {
	return e.Message
}

// ErrorCode extracts the engine error code from err, unwrapping as needed.
// It returns the empty string for nil or foreign errors.
func ErrorCode(err error) string {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given engine error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
