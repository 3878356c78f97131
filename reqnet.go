// Package reqnet implements the request state derivation engine: an
// action-log reducer that folds signed actions into a canonical payment
// request, pluggable payment-network extension interpreters, and on-chain
// reconciliation of request balances, including conversion-path resolution
// for multi-currency requests.
package reqnet

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/vitwit/reqnet/balance"
	"github.com/vitwit/reqnet/conversion"
	"github.com/vitwit/reqnet/extensions"
	"github.com/vitwit/reqnet/logger"
	"github.com/vitwit/reqnet/metrics"
	"github.com/vitwit/reqnet/payments"
	"github.com/vitwit/reqnet/request"
	"github.com/vitwit/reqnet/types"
	"github.com/vitwit/reqnet/utils"
)

// Engine is the main entry point wiring the reducer, the balance service
// and the conversion service together. Replay is a pure function of its
// inputs; concurrent calls over different request ids are independent,
// while callers must serialize writes to one request's action log.
type Engine struct {
	registry          *extensions.Registry
	reducer           *request.Reducer
	balanceService    *balance.Service
	conversionService *conversion.Service

	config  types.EngineConfig
	timeout time.Duration
	log     logger.Logger
	rec     metrics.Recorder
}

// New creates an engine with the given configuration.
func New(config *types.EngineConfig, opts ...Option) *Engine {
	cfg := types.EngineConfig{}
	if config != nil {
		cfg = *config
	}
	cfg = cfg.WithDefaults()

	e := &Engine{
		config:  cfg,
		timeout: cfg.DefaultTimeout,
		log:     logger.NoopLogger{},
		rec:     metrics.NoopRecorder{},
	}
	if cfg.LogLevel != "" {
		e.log = logger.NewZapLogger(cfg.LogLevel)
	}
	if cfg.EnableMetrics {
		e.rec = metrics.NewPrometheusRecorder()
	}
	for _, opt := range opts {
		opt(e)
	}

	e.registry = extensions.NewRegistry(cfg.Currencies)
	e.reducer = request.NewReducer(e.registry)
	e.balanceService = balance.NewService(e.timeout, e.log, e.rec)
	e.conversionService = conversion.NewService(cfg, e.log, e.rec)
	return e
}

// NewWithDefaults creates an engine with default configuration.
func NewWithDefaults(opts ...Option) *Engine {
	return New(&types.EngineConfig{}, opts...)
}

// Registry exposes the extension interpreter registry, for building
// creation extension actions.
func (e *Engine) Registry() *extensions.Registry {
	return e.registry
}

// AddNetwork connects a ledger client for the network and wires it into
// balance reconciliation and, when a registry contract is configured,
// conversion path resolution.
func (e *Engine) AddNetwork(config types.ClientConfig) error {
	if err := utils.ValidateClientConfig(config); err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	client, err := payments.Dial(dialCtx, config)
	if err != nil {
		return fmt.Errorf("failed to create ledger client for %s: %w", config.Network, err)
	}
	return e.addNetworkClient(config, client)
}

// AddNetworkClient wires an already-connected ledger client, mainly for
// tests and callers managing their own connections.
func (e *Engine) AddNetworkClient(config types.ClientConfig, client payments.LedgerClient) error {
	if !config.Network.IsKnown() {
		return &types.EngineError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unknown network: %s", config.Network),
		}
	}
	return e.addNetworkClient(config, client)
}

func (e *Engine) addNetworkClient(config types.ClientConfig, client payments.LedgerClient) error {
	retriever := payments.NewRetriever(client, config.Network, e.config, e.log)
	if err := e.balanceService.AddRetriever(retriever); err != nil {
		return err
	}

	if config.ConversionRegistry != "" {
		if err := e.conversionService.AddNetwork(config.Network, client, config.ConversionRegistry, config.CreationBlock); err != nil {
			return err
		}
	}

	e.log.Info("network added", map[string]any{"network": config.Network.String()})
	return nil
}

// ApplyActions folds an ordered action list into the canonical request.
func (e *Engine) ApplyActions(initial *types.Request, actions []types.Action) (*types.Request, error) {
	started := time.Now()
	derived, err := e.reducer.ApplyActions(initial, actions)
	e.rec.ObserveLatency("applyActions", time.Since(started), map[string]string{"network": ""})
	if err != nil {
		e.rec.IncCounter("replay_failed", map[string]string{"network": ""})
		return nil, err
	}
	return derived, nil
}

// QuickValidate checks the structural shape of an action list without
// signature recovery or extension interpretation.
func (e *Engine) QuickValidate(actions []types.Action) error {
	return e.reducer.QuickValidate(actions)
}

// GetBalance reconciles a request against on-chain payment activity.
func (e *Engine) GetBalance(ctx context.Context, req *types.Request) (*types.Balance, error) {
	return e.balanceService.GetBalance(ctx, req)
}

// BatchGetBalance reconciles multiple requests concurrently.
func (e *Engine) BatchGetBalance(ctx context.Context, reqs []*types.Request) ([]*types.Balance, error) {
	return e.balanceService.BatchGetBalance(ctx, reqs)
}

// FindConversionPath returns the shortest conversion path between two
// currencies on a network.
func (e *Engine) FindConversionPath(ctx context.Context, network types.Network, from, to string) ([]string, error) {
	return e.conversionService.FindPath(ctx, network, from, to)
}

// RefreshConversionGraph rebuilds a network's conversion graph from chain
// state and swaps it in atomically.
func (e *Engine) RefreshConversionGraph(ctx context.Context, network types.Network) error {
	_, err := e.conversionService.RefreshGraph(ctx, network)
	return err
}

// ComputePaidAmount expresses a request's on-chain balance in its
// invoicing currency. For conversion payment networks each paid token's
// net subtotal is converted along a rate path, gated by the freshness
// window; for plain payment networks the balance is already in the
// invoicing denomination.
func (e *Engine) ComputePaidAmount(ctx context.Context, req *types.Request) (*big.Int, error) {
	bal, err := e.balanceService.GetBalance(ctx, req)
	if err != nil {
		return nil, err
	}

	state, ok := req.Extensions[types.ExtensionAnyToERC20Proxy]
	if !ok {
		return bal.Balance, nil
	}

	network, _ := extensions.NetworkOf(state)
	if network == "" {
		network = types.DefaultNetwork
	}
	maxRateTimespan := extensions.MaxRateTimespan(state)

	// Net per-token subtotals, then one conversion per token.
	perToken := make(map[string]*big.Int)
	for _, event := range bal.Events {
		subtotal, ok := perToken[event.TokenAddress]
		if !ok {
			subtotal = big.NewInt(0)
			perToken[event.TokenAddress] = subtotal
		}
		if event.Name == types.PaymentEventRefund {
			subtotal.Sub(subtotal, event.Amount)
		} else {
			subtotal.Add(subtotal, event.Amount)
		}
	}

	total := big.NewInt(0)
	for token, subtotal := range perToken {
		if subtotal.Sign() == 0 {
			continue
		}
		converted, _, err := e.conversionService.Convert(ctx, network, subtotal, token, req.Currency.Value, maxRateTimespan)
		if err != nil {
			return nil, err
		}
		total.Add(total, converted)
	}
	return total, nil
}

// IsNetworkSupported checks if a network has a configured ledger client.
func (e *Engine) IsNetworkSupported(network types.Network) bool {
	return e.balanceService.IsNetworkSupported(network)
}

// Close closes all ledger connections.
func (e *Engine) Close() {
	e.balanceService.Close()
}

// Version information
const (
	Version = "1.0.0"
)

// GetVersion returns version information.
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":  Version,
		"protocol_version": types.ProtocolVersion,
		"supported_networks": []string{
			"mainnet", "matic", "fantom", "xdai",
			"sepolia", "private",
		},
		"supported_extensions": []string{
			string(types.ExtensionContentData),
			string(types.ExtensionERC20AddressBased),
			string(types.ExtensionERC20FeeProxy),
			string(types.ExtensionAnyToERC20Proxy),
		},
	}
}
