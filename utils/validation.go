package utils

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var hexAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsValidEthereumAddress reports whether the string is a syntactically
// valid 20-byte hex address.
func IsValidEthereumAddress(address string) bool {
	return hexAddressRe.MatchString(address) && common.IsHexAddress(address)
}

// ValidateAmount checks that an amount string is a non-negative integer
// quantity of atomic units. Decimal syntax is accepted for parsing but
// fractional atomic units are rejected.
func ValidateAmount(amount string) (*big.Int, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	if dec.Exponent() < 0 && !dec.Equal(dec.Truncate(0)) {
		return nil, fmt.Errorf("amount must be an integer number of atomic units")
	}

	return dec.BigInt(), nil
}

// ValidateTransactionHash checks the shape of an EVM transaction hash.
func ValidateTransactionHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	if len(hash) != 66 || hash[:2] != "0x" {
		return fmt.Errorf("transaction hash must be 0x followed by 64 hex characters")
	}
	for _, c := range hash[2:] {
		if !isHexRune(c) {
			return fmt.Errorf("transaction hash must be valid hex")
		}
	}
	return nil
}

func isHexRune(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
