package types

import "time"

// ClientConfig configures ledger access for one network.
type ClientConfig struct {
	Network Network `json:"network" validate:"required"`
	RPCUrl  string  `json:"rpcUrl" validate:"required,url"`
	ChainID string  `json:"chainId,omitempty"`

	// ConversionRegistry is the aggregator-registry contract for
	// conversion payment networks; empty disables path resolution on
	// this network.
	ConversionRegistry string `json:"conversionRegistry,omitempty"`

	// CreationBlock is the registry contract's deployment block, the
	// starting point for AggregatorUpdated event streaming.
	CreationBlock uint64 `json:"creationBlock,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`
}

// EngineConfig contains global configuration for the request engine.
type EngineConfig struct {
	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty"`

	// RetryCount and RetryDelay bound transient ledger-access retries.
	RetryCount int           `json:"retryCount,omitempty"`
	RetryDelay time.Duration `json:"retryDelay,omitempty"`

	// MaxConcurrency caps concurrent ledger queries issued by one
	// retrieval (block timestamp lookups, paginated log fetches).
	MaxConcurrency int64 `json:"maxConcurrency,omitempty"`

	// MaxTimestampDeltaAcceptable is the rate-freshness window: a
	// conversion whose oldest constituent rate is older than this fails
	// with STALE_RATE.
	MaxTimestampDeltaAcceptable time.Duration `json:"maxTimestampDeltaAcceptable,omitempty"`

	// LastBlockNumberDelay throttles chain-head polling; within the
	// window the cached head is reused.
	LastBlockNumberDelay time.Duration `json:"lastBlockNumberDelay,omitempty"`

	LogLevel      string                   `json:"logLevel,omitempty"`
	EnableMetrics bool                     `json:"enableMetrics,omitempty"`
	Clients       map[Network]ClientConfig `json:"clients,omitempty"`

	// Currencies overrides the built-in supported-currency tables.
	Currencies CurrencyTables `json:"currencies,omitempty"`
}

// Defaults used when the corresponding EngineConfig field is zero.
const (
	DefaultTimeout              = 30 * time.Second
	DefaultRetryCount           = 3
	DefaultRetryDelay           = 2 * time.Second
	DefaultMaxConcurrency       = 5
	DefaultMaxTimestampDelta    = 600 * time.Second
	DefaultLastBlockNumberDelay = 10 * time.Second
)

// WithDefaults returns a copy of the config with zero fields replaced by
// the engine defaults.
func (c EngineConfig) WithDefaults() EngineConfig {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.RetryCount <= 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.MaxTimestampDeltaAcceptable <= 0 {
		c.MaxTimestampDeltaAcceptable = DefaultMaxTimestampDelta
	}
	if c.LastBlockNumberDelay <= 0 {
		c.LastBlockNumberDelay = DefaultLastBlockNumberDelay
	}
	if c.Currencies == nil {
		c.Currencies = DefaultCurrencyTables()
	}
	return c
}
