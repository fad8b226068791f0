package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Monetary amounts travel through the system as int64 values in the smallest
// currency unit (cents). Parsing and formatting stay in integer arithmetic so
// no float ever touches a price.

// ErrInvalidAmount indicates a malformed decimal amount string.
var ErrInvalidAmount = errors.New("domain: invalid monetary amount")

// BasisPointDenominator is the scale used for fractional rates such as tax.
const BasisPointDenominator = 10_000

// ParseMinorUnits converts a decimal string like "2.99" into minor units (299).
// At most two fraction digits are accepted.
func ParseMinorUnits(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	negative := false
	if strings.HasPrefix(value, "-") {
		negative = true
		value = value[1:]
	}

	wholePart := value
	fracPart := ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		wholePart = value[:idx]
		fracPart = value[idx+1:]
	}
	if wholePart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if len(fracPart) > 2 {
		return 0, fmt.Errorf("%w: more than two fraction digits in %q", ErrInvalidAmount, value)
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	var amount int64
	for _, digits := range []string{wholePart, fracPart} {
		for _, ch := range digits {
			if ch < '0' || ch > '9' {
				return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
			}
			if amount > (1<<62)/10 {
				return 0, fmt.Errorf("%w: overflow in %q", ErrInvalidAmount, value)
			}
			amount = amount*10 + int64(ch-'0')
		}
	}
	if negative {
		amount = -amount
	}
	return amount, nil
}

// FormatMinorUnits renders minor units as a decimal string, e.g. 299 -> "2.99".
func FormatMinorUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

// ApplyBasisPoints multiplies an amount by a rate expressed in basis points,
// rounding half up. A rate of 825 means 8.25%.
func ApplyBasisPoints(amount, rate int64) int64 {
	if amount == 0 || rate == 0 {
		return 0
	}
	product := amount * rate
	half := int64(BasisPointDenominator / 2)
	if product >= 0 {
		return (product + half) / BasisPointDenominator
	}
	return (product - half) / BasisPointDenominator
}

// ClampNonNegative floors an amount at zero. Discounts larger than the amount
// they apply to zero the result instead of going negative.
func ClampNonNegative(amount int64) int64 {
	if amount < 0 {
		return 0
	}
	return amount
}

// MultiplyQuantity computes quantity * unit price, guarding against overflow.
func MultiplyQuantity(unitPrice, quantity int64) (int64, error) {
	if quantity == 0 || unitPrice == 0 {
		return 0, nil
	}
	total := unitPrice * quantity
	if total/quantity != unitPrice {
		return 0, fmt.Errorf("%w: quantity %d times unit price %d overflows", ErrInvalidAmount, quantity, unitPrice)
	}
	return total, nil
}
