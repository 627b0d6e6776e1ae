package amm

import (
	"errors"

	"github.com/holiman/uint256"

	"floorlend/native/fixed"
)

var (
	errNilState              = errors.New("pool engine: state not configured")
	ErrNotInitialised        = errors.New("pool engine: pool not initialised")
	ErrAlreadyInitialised    = errors.New("pool engine: pool already initialised")
	ErrInvalidAmount         = errors.New("pool engine: exactly one positive output amount required")
	ErrInsufficientInput     = errors.New("pool engine: insufficient input amount")
	ErrInsufficientOutput    = errors.New("pool engine: insufficient output amount")
	ErrInsufficientLiquidity = errors.New("pool engine: insufficient liquidity")
	ErrSlippage              = errors.New("pool engine: output below minimum")
	ErrRestrictedTransfer    = errors.New("pool engine: liquidity shares are restricted")
	ErrInsufficientShares    = errors.New("pool engine: insufficient liquidity shares")
	ErrInvariant             = errors.New("pool engine: reserve product invariant violated")
	ErrInvalidFeeSchedule    = errors.New("pool engine: invalid fee schedule")
	ErrInvalidReserves       = errors.New("pool engine: invalid reserves")
)

// Side identifies one of the two pool assets.
type Side uint8

const (
	// SideFloor is the collateral asset whose floor price the pool defines.
	SideFloor Side = iota
	// SideQuote is the asset loans are denominated in.
	SideQuote
)

func (s Side) String() string {
	if s == SideFloor {
		return "floor"
	}
	return "quote"
}

// PoolState is the persisted record of the pricing pool.
type PoolState struct {
	ReserveFloor   *uint256.Int
	ReserveQuote   *uint256.Int
	FeeStartBps    uint64
	FeeEndBps      uint64
	FeeDecayTarget *uint256.Int
	InitialSupply  *uint256.Int
	// KLast is the reserve product recorded at the last fee collection.
	KLast       *uint256.Int
	TotalShares *uint256.Int
}

// Clone returns a deep copy of the pool record.
func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	return &PoolState{
		ReserveFloor:   fixed.Clone(p.ReserveFloor),
		ReserveQuote:   fixed.Clone(p.ReserveQuote),
		FeeStartBps:    p.FeeStartBps,
		FeeEndBps:      p.FeeEndBps,
		FeeDecayTarget: fixed.Clone(p.FeeDecayTarget),
		InitialSupply:  fixed.Clone(p.InitialSupply),
		KLast:          fixed.Clone(p.KLast),
		TotalShares:    fixed.Clone(p.TotalShares),
	}
}

// Product returns ReserveFloor * ReserveQuote.
func (p *PoolState) Product() (*uint256.Int, error) {
	return fixed.Mul(p.ReserveFloor, p.ReserveQuote)
}

func (p *PoolState) reserves(in Side) (reserveIn, reserveOut *uint256.Int) {
	if in == SideFloor {
		return fixed.Clone(p.ReserveFloor), fixed.Clone(p.ReserveQuote)
	}
	return fixed.Clone(p.ReserveQuote), fixed.Clone(p.ReserveFloor)
}

func (p *PoolState) setReserves(in Side, reserveIn, reserveOut *uint256.Int) {
	if in == SideFloor {
		p.ReserveFloor, p.ReserveQuote = reserveIn, reserveOut
		return
	}
	p.ReserveQuote, p.ReserveFloor = reserveIn, reserveOut
}

// Genesis seeds a new pool. The pool account must already hold both reserves.
type Genesis struct {
	ReserveFloor   *uint256.Int
	ReserveQuote   *uint256.Int
	FeeStartBps    uint64
	FeeEndBps      uint64
	FeeDecayTarget *uint256.Int
}

// Validate checks the fee schedule and reserve bounds.
func (g Genesis) Validate() error {
	if g.FeeStartBps >= fixed.BasisPoints || g.FeeEndBps > g.FeeStartBps {
		return ErrInvalidFeeSchedule
	}
	max := fixed.MaxReserve()
	if fixed.IsZero(g.ReserveFloor) || fixed.IsZero(g.ReserveQuote) {
		return ErrInvalidReserves
	}
	if g.ReserveFloor.Gt(max) || g.ReserveQuote.Gt(max) {
		return ErrInvalidReserves
	}
	return nil
}

// SwapResult describes an executed swap.
type SwapResult struct {
	In        Side
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	FeeBps    uint64
}

// Redemption describes the reserves paid out for redeemed shares.
type Redemption struct {
	Shares      *uint256.Int
	FloorAmount *uint256.Int
	QuoteAmount *uint256.Int
}
