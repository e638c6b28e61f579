package handlers

import (
	"errors"
	"strings"
	"time"

	"plexledger/internal/models"
	"plexledger/internal/money"
	"plexledger/internal/validator"

	"github.com/shopspring/decimal"
)

var (
	errInvalidAmount = errors.New("invalid amount")
	errInvalidRate   = errors.New("invalid rate")
	errInvalidTime   = errors.New("invalid timestamp, expected RFC3339")
)

// parseAmount accepts decimal strings only so amounts never pass through float64.
func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := money.ParsePositive(raw)
	if err != nil {
		return decimal.Zero, errInvalidAmount
	}
	return amount, nil
}

func parseNonNegative(raw string) (decimal.Decimal, error) {
	amount, err := money.Parse(raw)
	if err != nil || amount.IsNegative() {
		return decimal.Zero, errInvalidAmount
	}
	return amount, nil
}

func parseRate(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || rate.IsNegative() || rate.Exponent() < -4 {
		return decimal.Zero, errInvalidRate
	}
	return rate, nil
}

// parseTime returns fallback for an empty value.
func parseTime(raw string, fallback time.Time) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errInvalidTime
	}
	return t.UTC(), nil
}

func parseHolderRef(kind, id string) (models.HolderRef, error) {
	parsed, err := models.ParseHolderKind(kind)
	if err != nil {
		return models.HolderRef{}, err
	}
	ref := models.HolderRef{Kind: parsed, ID: strings.TrimSpace(id)}
	if err := ref.Validate(); err != nil {
		return models.HolderRef{}, err
	}
	return ref, nil
}

// parseTxHash returns "" for an omitted hash and a lowercased hash otherwise.
func parseTxHash(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return validator.NormalizeTxHash(raw)
}
