// Package fixed provides checked unsigned fixed-point arithmetic on 256-bit
// integers. Amounts and prices are scaled by Unit (1e18).
package fixed

import (
	"errors"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("fixed: arithmetic overflow")
	ErrUnderflow      = errors.New("fixed: arithmetic underflow")
	ErrDivisionByZero = errors.New("fixed: division by zero")
	ErrNegative       = errors.New("fixed: negative value")
	ErrInvalidNumber  = errors.New("fixed: invalid decimal number")
)

// Rounding selects the direction applied to the remainder of a division.
type Rounding uint8

const (
	Down Rounding = iota
	Up
)

// BasisPoints is the denominator used for every bps-scaled parameter.
const BasisPoints uint64 = 10_000

const unitDecimals = 18

var (
	unit       = uint256.NewInt(1_000_000_000_000_000_000)
	maxReserve = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 112), uint256.NewInt(1))
	bpsDenom   = uint256.NewInt(BasisPoints)
)

// Unit returns a fresh copy of the 1e18 scaling factor.
func Unit() *uint256.Int { return new(uint256.Int).Set(unit) }

// MaxReserve returns the largest reserve balance a pool may hold (2^112 - 1).
func MaxReserve() *uint256.Int { return new(uint256.Int).Set(maxReserve) }

// Zero returns a new zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Clone returns a copy of v, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *uint256.Int) bool { return v == nil || v.IsZero() }

// Add returns x + y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(Clone(x), Clone(y))
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns x - y or ErrUnderflow.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(Clone(x), Clone(y))
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// SaturatingSub returns x - y, or zero when y exceeds x.
func SaturatingSub(x, y *uint256.Int) *uint256.Int {
	z, underflow := new(uint256.Int).SubOverflow(Clone(x), Clone(y))
	if underflow {
		return new(uint256.Int)
	}
	return z
}

// Mul returns x * y or ErrOverflow.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(Clone(x), Clone(y))
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulDiv returns x * y / d with a 512-bit intermediate product. The result is
// rounded in the requested direction and must fit in 256 bits.
func MulDiv(x, y, d *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if IsZero(d) {
		return nil, ErrDivisionByZero
	}
	x, y = Clone(x), Clone(y)
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	if rounding == Up && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		return Add(z, uint256.NewInt(1))
	}
	return z, nil
}

// Div returns x / d rounded in the requested direction.
func Div(x, d *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if IsZero(d) {
		return nil, ErrDivisionByZero
	}
	x = Clone(x)
	q := new(uint256.Int).Div(x, d)
	if rounding == Up && !new(uint256.Int).Mod(x, d).IsZero() {
		return Add(q, uint256.NewInt(1))
	}
	return q, nil
}

// MulUnit returns x * y / Unit, the product of two Unit-scaled values.
func MulUnit(x, y *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	return MulDiv(x, y, unit, rounding)
}

// DivUnit returns x * Unit / y, the quotient of two Unit-scaled values.
func DivUnit(x, y *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	return MulDiv(x, unit, y, rounding)
}

// ApplyBps returns x * bps / 10000 rounded down. bps values above 10000 are
// rejected with ErrOverflow.
func ApplyBps(x *uint256.Int, bps uint64) (*uint256.Int, error) {
	if bps > BasisPoints {
		return nil, ErrOverflow
	}
	return MulDiv(x, uint256.NewInt(bps), bpsDenom, Down)
}

// Min returns a copy of the smaller of x and y.
func Min(x, y *uint256.Int) *uint256.Int {
	x, y = Clone(x), Clone(y)
	if x.Lt(y) {
		return x
	}
	return y
}

// Sqrt returns floor(sqrt(x)).
func Sqrt(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(Clone(x))
}

// FromBig converts a non-negative big integer, rejecting values that do not fit.
func FromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegative
	}
	z, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// ToBig converts v to a big integer, treating nil as zero.
func ToBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

// ParseUnits parses a human decimal such as "12.5" into a Unit-scaled integer.
// At most 18 fractional digits are accepted.
func ParseUnits(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	whole, frac, hasFrac := strings.Cut(trimmed, ".")
	if whole == "" && (!hasFrac || frac == "") {
		return nil, ErrInvalidNumber
	}
	if len(frac) > unitDecimals {
		return nil, ErrInvalidNumber
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", unitDecimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, ErrInvalidNumber
		}
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, ErrInvalidNumber
	}
	return FromBig(v)
}

// FormatUnits renders a Unit-scaled integer as a decimal string without
// trailing zeros in the fractional part.
func FormatUnits(v *uint256.Int) string {
	b := ToBig(v)
	q, r := new(big.Int).QuoRem(b, unit.ToBig(), new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := r.String()
	frac = strings.Repeat("0", unitDecimals-len(frac)) + frac
	return q.String() + "." + strings.TrimRight(frac, "0")
}
