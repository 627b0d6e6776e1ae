package lending

import (
	"github.com/holiman/uint256"

	"floorlend/native/fixed"
)

// liveDebt scales the recorded principal by the index growth since the
// snapshot, rounding against the borrower.
func liveDebt(pos *Position, index *uint256.Int) (*uint256.Int, error) {
	if pos == nil || fixed.IsZero(pos.DebtPrincipal) {
		return fixed.Zero(), nil
	}
	if fixed.IsZero(pos.DebtIndex) {
		return fixed.Clone(pos.DebtPrincipal), nil
	}
	return fixed.MulDiv(pos.DebtPrincipal, index, pos.DebtIndex, fixed.Up)
}

// valueAt returns amount * price / Unit rounded down.
func valueAt(amount, price *uint256.Int) (*uint256.Int, error) {
	return fixed.MulUnit(amount, price, fixed.Down)
}

func toShares(v *VaultState, assets *uint256.Int, rounding fixed.Rounding) (*uint256.Int, error) {
	if fixed.IsZero(v.TotalShares) {
		return fixed.Clone(assets), nil
	}
	if fixed.IsZero(v.TotalAssets) {
		return nil, ErrInsolvent
	}
	return fixed.MulDiv(assets, v.TotalShares, v.TotalAssets, rounding)
}

func toAssets(v *VaultState, shares *uint256.Int, rounding fixed.Rounding) (*uint256.Int, error) {
	if fixed.IsZero(v.TotalShares) {
		return fixed.Clone(shares), nil
	}
	return fixed.MulDiv(shares, v.TotalAssets, v.TotalShares, rounding)
}
