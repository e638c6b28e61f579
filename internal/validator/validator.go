// Package validator checks on-chain identifiers supplied by operators.
package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidWalletAddress = errors.New("invalid wallet address")
	ErrInvalidTxHash        = errors.New("invalid transaction hash")
)

var (
	walletRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	txHashRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

func ValidateWalletAddress(address string) error {
	if !walletRegex.MatchString(strings.TrimSpace(address)) {
		return ErrInvalidWalletAddress
	}
	return nil
}

func ValidateTxHash(hash string) error {
	if !txHashRegex.MatchString(strings.TrimSpace(hash)) {
		return ErrInvalidTxHash
	}
	return nil
}

// NormalizeTxHash lowercases a valid hash so lookups and unique keys agree.
func NormalizeTxHash(hash string) (string, error) {
	if err := ValidateTxHash(hash); err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(hash)), nil
}
