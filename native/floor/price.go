// Package floor computes the worst-case liquidation price of the collateral
// asset: the average price obtained if every unit held outside the pricing
// pool were sold into it at once, net of swap fees and a recovery bounty.
package floor

import (
	"github.com/holiman/uint256"

	"floorlend/native/fixed"
)

const (
	// BountyBps is the haircut reserved for whoever triggers a recovery.
	BountyBps uint64 = 50
	// MinFinalReserve is the smallest post-dump floor-asset reserve for which a
	// price is reported.
	MinFinalReserve uint64 = 1_000_000_000
)

// Price returns the Unit-scaled floor price for a pool holding x units of the
// floor asset and y units of the quote asset, given the asset's circulating
// supply and the pool's current swap fee. It never fails: degenerate or
// overflowing inputs yield zero, which callers must treat as "no borrowing
// power".
func Price(x, y, supply *uint256.Int, feeBps uint64) *uint256.Int {
	x, y, supply = fixed.Clone(x), fixed.Clone(y), fixed.Clone(supply)
	if supply.IsZero() || x.IsZero() {
		return fixed.Zero()
	}
	if feeBps > fixed.BasisPoints {
		feeBps = fixed.BasisPoints
	}

	if !x.Lt(supply) {
		spot, err := fixed.DivUnit(y, x, fixed.Down)
		if err != nil {
			return fixed.Zero()
		}
		return applyBounty(spot)
	}

	k, err := fixed.Mul(x, y)
	if err != nil {
		return fixed.Zero()
	}
	external := new(uint256.Int).Sub(supply, x)
	effective, err := fixed.ApplyBps(external, fixed.BasisPoints-feeBps)
	if err != nil {
		return fixed.Zero()
	}
	xFinal, err := fixed.Add(x, effective)
	if err != nil {
		return fixed.Zero()
	}
	if xFinal.Lt(uint256.NewInt(MinFinalReserve)) {
		return fixed.Zero()
	}

	// The numerator is a plain 256-bit product; reserves close to the 2^112
	// bound overflow here and the price fails closed.
	scaled, err := fixed.Mul(k, fixed.Unit())
	if err != nil {
		return fixed.Zero()
	}
	gross := new(uint256.Int).Div(scaled, xFinal)
	gross.Div(gross, xFinal)
	return applyBounty(gross)
}

// Spot returns the Unit-scaled marginal price y/x, or zero when x is zero.
func Spot(x, y *uint256.Int) *uint256.Int {
	if fixed.IsZero(x) {
		return fixed.Zero()
	}
	spot, err := fixed.DivUnit(y, x, fixed.Down)
	if err != nil {
		return fixed.Zero()
	}
	return spot
}

func applyBounty(price *uint256.Int) *uint256.Int {
	out, err := fixed.ApplyBps(price, fixed.BasisPoints-BountyBps)
	if err != nil {
		return fixed.Zero()
	}
	return out
}
