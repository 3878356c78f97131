package types

import "strings"

// Network represents supported EVM networks.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkMatic   Network = "matic"
	NetworkFantom  Network = "fantom"
	NetworkXDai    Network = "xdai"
	NetworkSepolia Network = "sepolia" // testnet
	NetworkPrivate Network = "private" // local dev chain
)

// DefaultNetwork is assumed when an extension action carries no network.
const DefaultNetwork = NetworkMainnet

func (n Network) IsTestnet() bool {
	return n == NetworkSepolia || n == NetworkPrivate
}

func (n Network) String() string {
	return string(n)
}

// IsKnown reports whether the network is one the engine recognizes at all.
func (n Network) IsKnown() bool {
	switch n {
	case NetworkMainnet, NetworkMatic, NetworkFantom, NetworkXDai, NetworkSepolia, NetworkPrivate:
		return true
	}
	return false
}

// CurrencyTables maps a network to the currency values each currency type
// supports there. It is explicit immutable configuration handed to the
// extension registry at construction; nothing in the engine mutates it.
type CurrencyTables map[Network]map[CurrencyType][]string

// Supports reports whether the table accepts the given currency on the
// given network. Comparison is case-insensitive so contract addresses
// match regardless of checksum casing.
func (t CurrencyTables) Supports(network Network, currency Currency) bool {
	byType, ok := t[network]
	if !ok {
		return false
	}
	for _, value := range byType[currency.Type] {
		if strings.EqualFold(value, currency.Value) {
			return true
		}
	}
	return false
}

// AcceptsToken reports whether the table lists the token as an accepted
// ERC20 on the given network.
func (t CurrencyTables) AcceptsToken(network Network, token string) bool {
	return t.Supports(network, Currency{Type: CurrencyERC20, Value: token})
}

// DefaultCurrencyTables returns the built-in per-network supported-currency
// table. Callers needing other tokens pass their own tables instead.
func DefaultCurrencyTables() CurrencyTables {
	return CurrencyTables{
		NetworkMainnet: {
			CurrencyERC20: {
				"0x6b175474e89094c44da98b954eedeac495271d0f", // DAI
				"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", // USDC
				"0xdac17f958d2ee523a2206206994597c13d831ec7", // USDT
			},
			CurrencyISO4217: {"USD", "EUR", "GBP", "CHF"},
			CurrencyETH:     {"ETH"},
		},
		NetworkMatic: {
			CurrencyERC20: {
				"0x8f3cf7ad23cd3cadbd9735aff958023239c6a063", // DAI
				"0x2791bca1f2de4661ed88a30c99a7a9449aa84174", // USDC
			},
			CurrencyISO4217: {"USD", "EUR"},
			CurrencyETH:     {"MATIC"},
		},
		NetworkSepolia: {
			CurrencyERC20: {
				"0x38cf23c52bb4b13f051aec09580a2de845a7fa35", // FAU test token
			},
			CurrencyISO4217: {"USD", "EUR"},
			CurrencyETH:     {"ETH"},
		},
		NetworkPrivate: {
			CurrencyERC20: {
				"0x9fbda871d559710256a2502a2517b794b482db40",
			},
			CurrencyISO4217: {"USD", "EUR"},
			CurrencyETH:     {"ETH"},
		},
	}
}
