// Package precision implements the fixed-point flooring required by spec
// section 4.D: every amount and price placed on the wire must respect the
// exchange's step/tick grid, derived via decimal arithmetic rather than raw
// floats, so that the exchange never rejects an order for precision reasons.
package precision

import "github.com/shopspring/decimal"

// FloorToStep floors x down to the nearest multiple of step. A zero or
// negative step is treated as "no discretization" and returns x unchanged.
func FloorToStep(x, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return x
	}
	if x.Sign() <= 0 {
		return decimal.Zero
	}
	units := x.Div(step).Floor()
	return units.Mul(step)
}

// FloorAmount floors a base-asset amount to lotStep. Idempotent:
// FloorAmount(FloorAmount(x, step), step) == FloorAmount(x, step).
func FloorAmount(x, lotStep decimal.Decimal) decimal.Decimal {
	return FloorToStep(x, lotStep)
}

// FloorPrice floors a quote-asset price to tickSize. Idempotent for the same
// reason as FloorAmount.
func FloorPrice(x, tickSize decimal.Decimal) decimal.Decimal {
	return FloorToStep(x, tickSize)
}

// DecimalsForStep reports how many fractional digits a step size like
// "0.00010000" implies, for formatting purposes (e.g. exchange filter
// strings that carry trailing zeros).
func DecimalsForStep(step decimal.Decimal) int32 {
	if step.IsZero() {
		return 0
	}
	exp := step.Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}
