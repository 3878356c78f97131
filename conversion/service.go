package conversion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/reqnet/logger"
	"github.com/vitwit/reqnet/metrics"
	"github.com/vitwit/reqnet/payments"
	"github.com/vitwit/reqnet/types"
)

// logRangeChunk bounds the block span of one aggregator-log query.
const logRangeChunk = 10_000

// resolver holds the per-network state of the conversion service: the
// ledger client, the aggregator-registry contract, and the cached graph.
type resolver struct {
	network       types.Network
	client        payments.LedgerClient
	registry      common.Address
	creationBlock uint64

	// graph is published rebuild-and-swap: readers load the current
	// pointer, one rebuilder stores a fully built replacement.
	graph atomic.Pointer[Graph]

	headMu     sync.Mutex
	headCached uint64
	headAt     time.Time
}

// Service resolves conversion paths and rates across configured networks.
type Service struct {
	resolvers map[types.Network]*resolver
	timeout   time.Duration

	maxTimestampDelta time.Duration
	headDelay         time.Duration
	retryCount        int
	retryDelay        time.Duration

	log logger.Logger
	rec metrics.Recorder

	// now is swappable for freshness tests.
	now func() time.Time
}

// NewService creates a conversion service from engine configuration.
func NewService(config types.EngineConfig, log logger.Logger, rec metrics.Recorder) *Service {
	config = config.WithDefaults()
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Service{
		resolvers:         make(map[types.Network]*resolver),
		timeout:           config.DefaultTimeout,
		maxTimestampDelta: config.MaxTimestampDeltaAcceptable,
		headDelay:         config.LastBlockNumberDelay,
		retryCount:        config.RetryCount,
		retryDelay:        config.RetryDelay,
		log:               log,
		rec:               rec,
		now:               time.Now,
	}
}

// AddNetwork registers a network's aggregator registry. The ledger client
// is shared with the payments layer; the engine owns its lifecycle.
func (s *Service) AddNetwork(network types.Network, client payments.LedgerClient, registryAddress string, creationBlock uint64) error {
	if !network.IsKnown() {
		return &types.EngineError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unknown network: %s", network),
		}
	}
	if !common.IsHexAddress(registryAddress) {
		return &types.EngineError{
			Code:    types.ErrConfig,
			Message: fmt.Sprintf("invalid aggregator registry address: %q", registryAddress),
		}
	}
	s.resolvers[network] = &resolver{
		network:       network,
		client:        client,
		registry:      common.HexToAddress(registryAddress),
		creationBlock: creationBlock,
	}
	return nil
}

// IsNetworkSupported checks if a network has a configured registry.
func (s *Service) IsNetworkSupported(network types.Network) bool {
	_, ok := s.resolvers[network]
	return ok
}

// ListAggregators rebuilds the aggregator map from the registry's event
// stream.
func (s *Service) ListAggregators(ctx context.Context, network types.Network) (map[string]map[string]string, error) {
	res, err := s.resolver(network)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.streamAggregators(listCtx, res)
}

// RefreshGraph rebuilds the conversion graph from chain state and swaps it
// in atomically. Readers holding the prior graph are unaffected.
func (s *Service) RefreshGraph(ctx context.Context, network types.Network) (*Graph, error) {
	res, err := s.resolver(network)
	if err != nil {
		return nil, err
	}

	aggregators, err := s.ListAggregators(ctx, network)
	if err != nil {
		return nil, err
	}

	graph := BuildGraph(aggregators)
	res.graph.Store(graph)
	s.rec.IncCounter("graph_rebuilt", map[string]string{"network": network.String()})
	return graph, nil
}

// FindPath returns the shortest conversion path between two currencies on
// the network, rebuilding the graph on first use.
func (s *Service) FindPath(ctx context.Context, network types.Network, from, to string) ([]string, error) {
	res, err := s.resolver(network)
	if err != nil {
		return nil, err
	}

	graph := res.graph.Load()
	if graph == nil {
		graph, err = s.RefreshGraph(ctx, network)
		if err != nil {
			return nil, err
		}
	}
	return graph.FindPath(graphKey(graph, from), graphKey(graph, to))
}

// graphKey resolves a caller-supplied currency identifier to the node
// form the graph was built with. Graphs rebuilt from the on-chain stream
// key nodes by address, so symbols fall back to their synthetic address.
func graphKey(graph *Graph, currency string) string {
	if graph.HasNode(currency) {
		return currency
	}
	addr := CurrencyAddress(currency).Hex()
	if graph.HasNode(addr) {
		return addr
	}
	return currency
}

func (s *Service) resolver(network types.Network) (*resolver, error) {
	res, ok := s.resolvers[network]
	if !ok {
		return nil, &types.EngineError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("no aggregator registry configured for network %s", network),
		}
	}
	return res, nil
}

// blockNumber returns the chain head, throttled like the payments layer so
// repeated rebuilds do not hammer the provider.
func (s *Service) blockNumber(ctx context.Context, res *resolver) (uint64, error) {
	res.headMu.Lock()
	defer res.headMu.Unlock()

	if !res.headAt.IsZero() && time.Since(res.headAt) < s.headDelay {
		return res.headCached, nil
	}

	var head uint64
	err := s.withRetry(ctx, res.network, "blockNumber", func() error {
		var err error
		head, err = res.client.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	res.headCached = head
	res.headAt = time.Now()
	return head, nil
}

func (s *Service) withRetry(ctx context.Context, network types.Network, operation string, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}

		if lastErr = op(); lastErr == nil {
			return nil
		}
		s.log.Warn("rate-oracle query failed", map[string]any{
			"network":   network.String(),
			"operation": operation,
			"attempt":   attempt + 1,
			"error":     lastErr.Error(),
		})
	}

	return &types.EngineError{
		Code:    types.ErrLedgerAccess,
		Message: fmt.Sprintf("%s failed after %d attempts: %v", operation, s.retryCount+1, lastErr),
	}
}
