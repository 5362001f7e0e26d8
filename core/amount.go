package core

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// AmountDecimals is the number of fractional digits between a display unit and a base unit.
const AmountDecimals int32 = 9

// Amount is a plaintext quantity of collateral in base units.
type Amount uint64

var maxAmount = decimalFromUint64(^uint64(0))

func decimalFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// ParseAmount converts a decimal display value such as "0.15" into base units.
// Values with more than AmountDecimals fractional digits, negative values and values that do
// not fit in 64 bits are rejected.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("invalid amount %q: negative", s)
	}

	base := d.Shift(AmountDecimals)
	if !base.Equal(base.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimal places", s, AmountDecimals)
	}
	if base.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("invalid amount %q: overflows", s)
	}
	return Amount(base.BigInt().Uint64()), nil
}

// Decimal returns the amount in display units.
func (a Amount) Decimal() decimal.Decimal {
	return decimalFromUint64(uint64(a)).Shift(-AmountDecimals)
}

// String formats the amount in display units with trailing zeros removed.
func (a Amount) String() string {
	return a.Decimal().String()
}

// MarshalText encodes the amount in display units, so JSON carries decimal strings.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a display-unit decimal string.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// DepositMeetsMinimum returns true if the deposit meets or exceeds the minimum bid.
func DepositMeetsMinimum(deposit, minimum Amount) bool {
	return deposit >= minimum
}
