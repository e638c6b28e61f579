package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale and IntegerDigits mirror the NUMERIC(26,8) columns.
const (
	Scale         = 8
	IntegerDigits = 18
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
	ErrTooLarge        = errors.New("amount exceeds 18 integer digits")
	ErrNotPositive     = errors.New("amount must be positive")
)

var maxValue = decimal.New(1, IntegerDigits)

func Parse(input string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.ContainsAny(trimmed, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if err := Check(value); err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

func ParsePositive(input string) (decimal.Decimal, error) {
	value, err := Parse(input)
	if err != nil {
		return decimal.Zero, err
	}
	if !value.IsPositive() {
		return decimal.Zero, ErrNotPositive
	}
	return value, nil
}

// Check verifies that value fits the persisted precision without rounding.
func Check(value decimal.Decimal) error {
	if value.Exponent() < -Scale && !value.Equal(value.Truncate(Scale)) {
		return ErrTooManyDecimals
	}
	if value.Abs().GreaterThanOrEqual(maxValue) {
		return ErrTooLarge
	}
	return nil
}

func Format(value decimal.Decimal) string {
	return value.StringFixed(Scale)
}

// FormatShort renders a settlement amount for people, e.g. in notifications.
func FormatShort(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func ValueToDecimal(value any) decimal.Decimal {
	switch v := value.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return v
	case int64:
		return decimal.NewFromInt(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case []byte:
		parsed, _ := decimal.NewFromString(string(v))
		return parsed
	case string:
		parsed, _ := decimal.NewFromString(v)
		return parsed
	default:
		parsed, _ := decimal.NewFromString(fmt.Sprint(v))
		return parsed
	}
}
