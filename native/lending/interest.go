package lending

import (
	"github.com/holiman/uint256"

	"floorlend/native/fixed"
)

// SecondsPerYear is the accrual year used to annualise borrow rates.
const SecondsPerYear uint64 = 31_536_000

// InterestModel encapsulates the parameters that shape how interest rates react
// to vault utilisation. All fields are Unit-scaled ratios.
type InterestModel struct {
	// BaseRate is the borrow APR applied when utilisation is zero.
	BaseRate *uint256.Int
	// Slope is the APR increase per unit of utilisation up to the kink.
	Slope *uint256.Int
	// Kink is the utilisation where the slope steepens.
	Kink *uint256.Int
	// Multiplier scales Slope for utilisation above the kink.
	Multiplier *uint256.Int
}

// DefaultInterestModel returns base 2%, slope 5%, kink 80% and a 3x multiplier.
func DefaultInterestModel() *InterestModel {
	return &InterestModel{
		BaseRate:   uint256.NewInt(20_000_000_000_000_000),
		Slope:      uint256.NewInt(50_000_000_000_000_000),
		Kink:       uint256.NewInt(800_000_000_000_000_000),
		Multiplier: uint256.NewInt(3_000_000_000_000_000_000),
	}
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate:   fixed.Clone(m.BaseRate),
		Slope:      fixed.Clone(m.Slope),
		Kink:       fixed.Clone(m.Kink),
		Multiplier: fixed.Clone(m.Multiplier),
	}
}

// Validate rejects a kink above 100% utilisation.
func (m *InterestModel) Validate() error {
	if m == nil {
		return errInvalidModel
	}
	if fixed.Clone(m.Kink).Gt(fixed.Unit()) {
		return errInvalidModel
	}
	return nil
}

// Utilisation computes U = totalBorrows / totalAssets. When no liquidity
// exists the utilisation is defined as zero.
func Utilisation(totalBorrows, totalAssets *uint256.Int) *uint256.Int {
	if fixed.IsZero(totalBorrows) || fixed.IsZero(totalAssets) {
		return fixed.Zero()
	}
	u, err := fixed.DivUnit(totalBorrows, totalAssets, fixed.Down)
	if err != nil {
		return fixed.Zero()
	}
	return u
}

// BorrowRate derives the annual borrow rate for the given aggregates.
func (m *InterestModel) BorrowRate(totalBorrows, totalAssets *uint256.Int) (*uint256.Int, error) {
	if m == nil {
		return fixed.Zero(), nil
	}
	base := fixed.Clone(m.BaseRate)
	if fixed.IsZero(totalAssets) {
		return base, nil
	}
	u := Utilisation(totalBorrows, totalAssets)
	kink := fixed.Clone(m.Kink)
	if !u.Gt(kink) {
		linear, err := fixed.MulUnit(u, m.Slope, fixed.Down)
		if err != nil {
			return nil, err
		}
		return fixed.Add(base, linear)
	}
	atKink, err := fixed.MulUnit(kink, m.Slope, fixed.Down)
	if err != nil {
		return nil, err
	}
	steep, err := fixed.MulUnit(m.Slope, m.Multiplier, fixed.Down)
	if err != nil {
		return nil, err
	}
	excess, err := fixed.MulUnit(new(uint256.Int).Sub(u, kink), steep, fixed.Down)
	if err != nil {
		return nil, err
	}
	rate, err := fixed.Add(base, atKink)
	if err != nil {
		return nil, err
	}
	return fixed.Add(rate, excess)
}

// accrualFactor returns rate * elapsed / SecondsPerYear as a Unit-scaled
// simple-interest factor.
func accrualFactor(rate *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	return fixed.MulDiv(rate, uint256.NewInt(elapsed), uint256.NewInt(SecondsPerYear), fixed.Down)
}
