package domain

import (
	"errors"
	"fmt"
)

// DefaultCommissionRateBps is the marketplace cut applied when no rate is
// configured: 500 basis points (5%).
const DefaultCommissionRateBps int64 = 500

const maxCommissionRateBps int64 = 10_000

// ErrInvalidCommissionInput indicates an amount or rate outside the
// supported range.
var ErrInvalidCommissionInput = errors.New("commission: invalid input")

// SplitCommission divides an amount into the marketplace commission and the
// seller's net amount. The rate is expressed in basis points and the
// commission is rounded half-up on the money grid, so that
// commission + net == amount holds exactly for every input.
func SplitCommission(amount Money, rateBps int64) (commission Money, net Money, err error) {
	if amount < 0 {
		return 0, 0, fmt.Errorf("%w: amount must be non-negative, got %d", ErrInvalidCommissionInput, amount)
	}
	if rateBps < 0 || rateBps > maxCommissionRateBps {
		return 0, 0, fmt.Errorf("%w: rate must be between 0 and %d basis points, got %d", ErrInvalidCommissionInput, maxCommissionRateBps, rateBps)
	}

	commission = (amount*rateBps + maxCommissionRateBps/2) / maxCommissionRateBps
	net = amount - commission
	return commission, net, nil
}
