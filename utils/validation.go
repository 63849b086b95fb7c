package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidateAtomicAmount checks that an amount string is a non-negative base-10
// integer and returns it as a big.Int.
func ValidateAtomicAmount(value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	bigInt := new(big.Int)
	_, success := bigInt.SetString(value, 10)
	if !success {
		return nil, fmt.Errorf("invalid integer amount: %q", value)
	}

	if bigInt.Sign() < 0 {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return bigInt, nil
}

// ValidateUsdAmount checks that an amount string is a valid non-negative
// decimal.
func ValidateUsdAmount(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount cannot be negative")
	}

	return dec, nil
}

// NormalizeAtomicAmount accepts a decimal string or a 0x-prefixed hex string
// and renders it as a base-10 integer string.
func NormalizeAtomicAmount(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty amount")
	}

	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		n := new(big.Int)
		if _, ok := n.SetString(raw[2:], 16); !ok {
			return "", fmt.Errorf("invalid hex amount: %q", raw)
		}
		return n.String(), nil
	}

	n, err := ValidateAtomicAmount(raw)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

// FormatAmountFromAtomic renders an atomic integer string as a decimal using
// the token's precision. Used for the advisory USD estimate.
func FormatAmountFromAtomic(atomic string, decimals int) (decimal.Decimal, error) {
	n, err := ValidateAtomicAmount(atomic)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(n, -int32(decimals)), nil
}

// ValidateTransactionHash validates an EVM transaction hash.
func ValidateTransactionHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	if !strings.HasPrefix(hash, "0x") {
		return fmt.Errorf("EVM transaction hash must start with 0x")
	}
	if len(hash) != 66 {
		return fmt.Errorf("EVM transaction hash must be 66 characters long")
	}
	if !isHexString(hash[2:]) {
		return fmt.Errorf("EVM transaction hash must be valid hex")
	}
	return nil
}

func isHexString(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}
