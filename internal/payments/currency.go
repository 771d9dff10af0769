package payments

import (
	"fmt"
	"strings"
)

// Gateway amount bounds, expressed in the gateway's own unit for the
// currency (major units for zero-decimal currencies, minor units otherwise).
const (
	minGatewayAmount int64 = 1
	maxGatewayAmount int64 = 99_999_999
)

// zeroDecimalCurrencies have no minor unit: the gateway expects whole major
// units for these. Multiplying an XOF amount by 100 would overcharge 100x.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {},
	"CLP": {},
	"DJF": {},
	"GNF": {},
	"JPY": {},
	"KMF": {},
	"KRW": {},
	"MGA": {},
	"PYG": {},
	"RWF": {},
	"UGX": {},
	"VND": {},
	"VUV": {},
	"XAF": {},
	"XOF": {},
	"XPF": {},
}

// IsZeroDecimalCurrency reports whether the currency has no minor unit.
func IsZeroDecimalCurrency(currency string) bool {
	_, ok := zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))]
	return ok
}

// GatewayAmount converts an amount held in hundredths of the major unit into
// the gateway's unit convention for the currency. Zero-decimal currencies
// are sent as whole major units, everything else as minor units (which our
// hundredths representation already is).
func GatewayAmount(amount int64, currency string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: amount must be non-negative, got %d", ErrInvalidAmount, amount)
	}
	if !IsZeroDecimalCurrency(currency) {
		return amount, nil
	}
	if amount%100 != 0 {
		return 0, fmt.Errorf("%w: %s has no minor unit, amount %d is not a whole major unit", ErrInvalidAmount, strings.ToUpper(strings.TrimSpace(currency)), amount)
	}
	return amount / 100, nil
}

// ValidateAmount enforces the gateway bounds before an intent is attempted,
// so violations surface as a domain error distinguishable from a
// gateway-side rejection.
func ValidateAmount(amount int64, currency string) error {
	gatewayAmount, err := GatewayAmount(amount, currency)
	if err != nil {
		return err
	}
	if gatewayAmount < minGatewayAmount {
		return fmt.Errorf("%w: amount below gateway minimum of %d", ErrInvalidAmount, minGatewayAmount)
	}
	if gatewayAmount > maxGatewayAmount {
		return fmt.Errorf("%w: amount above gateway maximum of %d", ErrInvalidAmount, maxGatewayAmount)
	}
	return nil
}
