// Package balance reconstructs how much of a request has actually been
// paid on-chain: payment events minus refund events, merged into one
// time-ordered list.
package balance

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/vitwit/reqnet/extensions"
	"github.com/vitwit/reqnet/logger"
	"github.com/vitwit/reqnet/metrics"
	"github.com/vitwit/reqnet/payments"
	"github.com/vitwit/reqnet/types"
)

// Service computes request balances across the networks it has retrievers
// for.
type Service struct {
	retrievers map[types.Network]*payments.Retriever
	timeout    time.Duration
	log        logger.Logger
	rec        metrics.Recorder
}

// NewService creates a balance service.
func NewService(timeout time.Duration, log logger.Logger, rec metrics.Recorder) *Service {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Service{
		retrievers: make(map[types.Network]*payments.Retriever),
		timeout:    timeout,
		log:        log,
		rec:        rec,
	}
}

// AddRetriever registers the retriever for its network.
func (s *Service) AddRetriever(retriever *payments.Retriever) error {
	network := retriever.Network()
	if !network.IsKnown() {
		return &types.EngineError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unknown network: %s", network),
		}
	}
	s.retrievers[network] = retriever
	return nil
}

// IsNetworkSupported checks if a network has a configured retriever.
func (s *Service) IsNetworkSupported(network types.Network) bool {
	_, ok := s.retrievers[network]
	return ok
}

// Close closes all retriever connections.
func (s *Service) Close() {
	for _, retriever := range s.retrievers {
		retriever.Close()
	}
}

// GetBalance reconciles the request against on-chain transfer activity.
// An absent payment or refund address contributes zero and no events.
// Unsupported networks fail before any ledger query is issued.
func (s *Service) GetBalance(ctx context.Context, request *types.Request) (*types.Balance, error) {
	started := time.Now()
	defer func() {
		s.rec.ObserveLatency("getBalance", time.Since(started), map[string]string{
			"network": string(request.Currency.Network),
		})
	}()

	state, ok := extensions.PaymentNetworkExtension(request)
	if !ok {
		// No payment network: nothing observable on-chain.
		return &types.Balance{Balance: big.NewInt(0)}, nil
	}

	network := s.paymentNetwork(request, state)
	retriever, ok := s.retrievers[network]
	if !ok {
		return nil, &types.EngineError{
			Code:      types.ErrUnsupportedNetwork,
			Message:   fmt.Sprintf("no ledger client configured for network %s", network),
			RequestID: request.RequestID,
		}
	}

	balanceCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tokens := s.detectionTokens(request, state)

	var paymentEvents, refundEvents []types.PaymentNetworkEvent
	if address, ok := extensions.PaymentAddress(state); ok {
		events, err := s.collect(balanceCtx, retriever, tokens, address, types.PaymentEventPayment)
		if err != nil {
			return nil, err
		}
		paymentEvents = events
	}
	if address, ok := extensions.RefundAddress(state); ok {
		events, err := s.collect(balanceCtx, retriever, tokens, address, types.PaymentEventRefund)
		if err != nil {
			return nil, err
		}
		refundEvents = events
	}

	balance := big.NewInt(0)
	for _, event := range paymentEvents {
		balance.Add(balance, event.Amount)
	}
	for _, event := range refundEvents {
		balance.Sub(balance, event.Amount)
	}

	merged := make([]types.PaymentNetworkEvent, 0, len(paymentEvents)+len(refundEvents))
	merged = append(merged, paymentEvents...)
	merged = append(merged, refundEvents...)
	// Stable sort keeps the per-stream order on timestamp ties.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	s.rec.IncCounter("balance_computed", map[string]string{"network": network.String()})
	return &types.Balance{Balance: balance, Events: merged}, nil
}

// BatchGetBalance computes balances for multiple requests concurrently,
// preserving input order in the result slice.
func (s *Service) BatchGetBalance(ctx context.Context, requests []*types.Request) ([]*types.Balance, error) {
	if len(requests) == 0 {
		return nil, &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: "no requests to reconcile",
		}
	}

	type balanceResult struct {
		index   int
		balance *types.Balance
		err     error
	}

	resultChan := make(chan balanceResult, len(requests))
	for i, request := range requests {
		go func(index int, req *types.Request) {
			balance, err := s.GetBalance(ctx, req)
			resultChan <- balanceResult{index: index, balance: balance, err: err}
		}(i, request)
	}

	results := make([]*types.Balance, len(requests))
	var firstErr error
	for range requests {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			results[res.index] = res.balance
			if res.err != nil && firstErr == nil {
				firstErr = res.err
			}
		}
	}
	return results, firstErr
}

// collect retrieves events for each detection token into one list.
func (s *Service) collect(
	ctx context.Context,
	retriever *payments.Retriever,
	tokens []string,
	address string,
	kind types.PaymentEventName,
) ([]types.PaymentNetworkEvent, error) {
	var all []types.PaymentNetworkEvent
	for _, token := range tokens {
		events, err := retriever.GetEvents(ctx, token, address, kind, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	return all, nil
}

// paymentNetwork resolves the network payments are detected on: the
// extension's declared network, falling back to the invoicing currency's
// network, then the default.
func (s *Service) paymentNetwork(request *types.Request, state *types.ExtensionState) types.Network {
	if network, ok := extensions.NetworkOf(state); ok {
		return network
	}
	if request.Currency.Network != "" {
		return request.Currency.Network
	}
	return types.DefaultNetwork
}

// detectionTokens resolves which token contracts to watch: the accepted
// tokens of a conversion extension, or the invoicing ERC20 itself.
func (s *Service) detectionTokens(request *types.Request, state *types.ExtensionState) []string {
	if tokens := extensions.AcceptedTokens(state); len(tokens) > 0 {
		return tokens
	}
	if request.Currency.Type == types.CurrencyERC20 {
		return []string{request.Currency.Value}
	}
	return nil
}
