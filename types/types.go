// Package types defines the shared data model of the request engine:
// signed actions, the canonical request aggregate, extension state and
// normalized on-chain payment events.
package types

import (
	"math/big"
	"strings"
)

// ProtocolVersion is the version stamped on newly created requests.
const ProtocolVersion = "2.0.3"

// ActionType enumerates the top-level actions of the request protocol.
type ActionType string

const (
	ActionCreate            ActionType = "create"
	ActionAccept            ActionType = "accept"
	ActionCancel            ActionType = "cancel"
	ActionAddExtensionsData ActionType = "addExtensionsData"
)

// RequestState represents the lifecycle state of a request.
type RequestState string

const (
	StateCreated  RequestState = "created"
	StateAccepted RequestState = "accepted"
	StateCanceled RequestState = "canceled"
)

// IdentityType tags how an identity value must be interpreted and verified.
type IdentityType string

const (
	// IdentityEthereumAddress identifies an actor by a 20-byte EVM address.
	IdentityEthereumAddress IdentityType = "ethereumAddress"
)

// Identity is a typed actor reference. Ethereum address values are compared
// case-insensitively so checksummed and lowercased forms match.
type Identity struct {
	Type  IdentityType `json:"type" validate:"required"`
	Value string       `json:"value" validate:"required"`
}

// Equal reports whether two identities reference the same actor.
func (i Identity) Equal(other Identity) bool {
	return i.Type == other.Type && strings.EqualFold(i.Value, other.Value)
}

// CurrencyType enumerates the kinds of currency a request can be
// denominated in.
type CurrencyType string

const (
	CurrencyERC20   CurrencyType = "erc20"
	CurrencyETH     CurrencyType = "eth"
	CurrencyISO4217 CurrencyType = "iso4217"
)

// Currency identifies the invoicing currency of a request. Value is a
// contract address for erc20, a symbol otherwise.
type Currency struct {
	Type    CurrencyType `json:"type" validate:"required"`
	Value   string       `json:"value" validate:"required"`
	Network Network      `json:"network,omitempty"`
}

// ExtensionID is the stable identifier of an extension interpreter.
type ExtensionID string

const (
	ExtensionContentData       ExtensionID = "content-data"
	ExtensionERC20AddressBased ExtensionID = "pn-erc20-address-based"
	ExtensionERC20FeeProxy     ExtensionID = "pn-erc20-fee-proxy"
	ExtensionAnyToERC20Proxy   ExtensionID = "pn-any-to-erc20-proxy"
)

// ExtensionType distinguishes payment-network extensions from plain data
// extensions.
type ExtensionType string

const (
	ExtensionTypePaymentNetwork ExtensionType = "payment-network"
	ExtensionTypeContentData    ExtensionType = "content-data"
)

// ExtensionActionType enumerates the actions an extension interpreter
// understands.
type ExtensionActionType string

const (
	ExtensionActionCreate            ExtensionActionType = "create"
	ExtensionActionAddPaymentAddress ExtensionActionType = "addPaymentAddress"
	ExtensionActionAddRefundAddress  ExtensionActionType = "addRefundAddress"
	ExtensionActionAddFee            ExtensionActionType = "addFee"
)

// ExtensionParameters carries the union of parameters the built-in
// extensions accept. Interpreters validate the subset they care about.
type ExtensionParameters struct {
	PaymentAddress  string         `json:"paymentAddress,omitempty"`
	RefundAddress   string         `json:"refundAddress,omitempty"`
	FeeAddress      string         `json:"feeAddress,omitempty"`
	FeeAmount       string         `json:"feeAmount,omitempty"`
	Salt            string         `json:"salt,omitempty"`
	Network         Network        `json:"network,omitempty"`
	AcceptedTokens  []string       `json:"acceptedTokens,omitempty"`
	MaxRateTimespan int64          `json:"maxRateTimespan,omitempty"`
	Content         map[string]any `json:"content,omitempty"`
}

// ExtensionAction is one extension-scoped instruction, either embedded in a
// creation action or delivered through an addExtensionsData action.
type ExtensionAction struct {
	ID         ExtensionID         `json:"id" validate:"required"`
	Action     ExtensionActionType `json:"action" validate:"required"`
	Parameters ExtensionParameters `json:"parameters"`
	Version    string              `json:"version,omitempty"`
}

// Parameters carries the body of a top-level action. Creation actions use
// the currency/amount/role fields; addExtensionsData actions use
// ExtensionsData.
type Parameters struct {
	Currency       Currency          `json:"currency,omitempty"`
	ExpectedAmount string            `json:"expectedAmount,omitempty"`
	Payee          *Identity         `json:"payee,omitempty"`
	Payer          *Identity         `json:"payer,omitempty"`
	Nonce          string            `json:"nonce,omitempty"`
	ExtensionsData []ExtensionAction `json:"extensionsData,omitempty"`
}

// Action is a signed, immutable instruction against a request. The
// signature covers the canonical serialization of the body (type,
// parameters, timestamp) under the Ethereum personal-message scheme.
type Action struct {
	Type       ActionType `json:"type" validate:"required"`
	Parameters Parameters `json:"parameters"`
	Timestamp  int64      `json:"timestamp" validate:"required"`
	Signature  string     `json:"signature,omitempty"`
	Actor      Identity   `json:"actor" validate:"required"`
}

// RequestEvent records one successfully applied action on the aggregate.
type RequestEvent struct {
	Name        ActionType `json:"name"`
	Actor       Identity   `json:"actor"`
	Timestamp   int64      `json:"timestamp"`
	ActionIndex int        `json:"actionIndex"`
}

// ExtensionEvent records one successfully applied extension action.
type ExtensionEvent struct {
	Name       ExtensionActionType `json:"name"`
	Parameters map[string]any      `json:"parameters,omitempty"`
	Timestamp  int64               `json:"timestamp"`
	From       Identity            `json:"from"`
}

// ExtensionState is the per-extension sub-state of a request. It is owned
// exclusively by the extension's interpreter; the reducer treats it as
// opaque.
type ExtensionState struct {
	ID      ExtensionID      `json:"id"`
	Type    ExtensionType    `json:"type"`
	Version string           `json:"version"`
	Values  map[string]any   `json:"values"`
	Events  []ExtensionEvent `json:"events"`
}

// Clone returns a deep copy so copy-on-write updates never leak into
// previously returned snapshots.
func (s *ExtensionState) Clone() *ExtensionState {
	if s == nil {
		return nil
	}
	clone := &ExtensionState{
		ID:      s.ID,
		Type:    s.Type,
		Version: s.Version,
		Values:  make(map[string]any, len(s.Values)),
		Events:  make([]ExtensionEvent, len(s.Events)),
	}
	for k, v := range s.Values {
		clone.Values[k] = v
	}
	copy(clone.Events, s.Events)
	return clone
}

// Request is the canonical aggregate derived by replaying an action log.
type Request struct {
	RequestID      string                          `json:"requestId"`
	Version        string                          `json:"version"`
	State          RequestState                    `json:"state"`
	Currency       Currency                        `json:"currency"`
	ExpectedAmount string                          `json:"expectedAmount"`
	Creator        Identity                        `json:"creator"`
	Payee          *Identity                       `json:"payee,omitempty"`
	Payer          *Identity                       `json:"payer,omitempty"`
	Timestamp      int64                           `json:"timestamp"`
	Extensions     map[ExtensionID]*ExtensionState `json:"extensions"`
	ExtensionsData []ExtensionAction               `json:"extensionsData"`
	Events         []RequestEvent                  `json:"events"`
}

// Clone returns a deep copy of the request. Replays operate on clones so
// callers holding an earlier snapshot never observe later mutations.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Extensions = make(map[ExtensionID]*ExtensionState, len(r.Extensions))
	for id, ext := range r.Extensions {
		clone.Extensions[id] = ext.Clone()
	}
	clone.ExtensionsData = append([]ExtensionAction(nil), r.ExtensionsData...)
	clone.Events = append([]RequestEvent(nil), r.Events...)
	if r.Payee != nil {
		payee := *r.Payee
		clone.Payee = &payee
	}
	if r.Payer != nil {
		payer := *r.Payer
		clone.Payer = &payer
	}
	return &clone
}

// PaymentEventName distinguishes inbound payments from refunds.
type PaymentEventName string

const (
	PaymentEventPayment PaymentEventName = "payment"
	PaymentEventRefund  PaymentEventName = "refund"
)

// PaymentNetworkEvent is one normalized on-chain transfer touching a
// request's payment or refund address. Events are never mutated after
// retrieval.
type PaymentNetworkEvent struct {
	Name         PaymentEventName `json:"name"`
	Amount       *big.Int         `json:"amount"`
	From         string           `json:"from,omitempty"`
	To           string           `json:"to,omitempty"`
	Timestamp    int64            `json:"timestamp"`
	TxHash       string           `json:"txHash"`
	LogIndex     uint             `json:"logIndex"`
	BlockNumber  uint64           `json:"blockNumber"`
	TokenAddress string           `json:"tokenAddress,omitempty"`
	Network      Network          `json:"network"`
}

// Balance is the result of reconciling a request against on-chain
// activity: net amount paid and the merged, time-ordered event list.
type Balance struct {
	Balance *big.Int              `json:"balance"`
	Events  []PaymentNetworkEvent `json:"events"`
}

// ConversionRate is the result of reading an on-chain rate path.
type ConversionRate struct {
	Rate            *big.Int `json:"rate"`
	OldestTimestamp int64    `json:"oldestTimestamp"`
	Decimals        uint8    `json:"decimals"`
}
