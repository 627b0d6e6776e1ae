package amm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "floorlend/native/common"
	"floorlend/native/fixed"
)

var (
	bps    = uint256.NewInt(fixed.BasisPoints)
	bpsSq  = uint256.NewInt(fixed.BasisPoints * fixed.BasisPoints)
	oneWei = uint256.NewInt(1)
)

// Swap sends exactly one of amountOut0 (floor asset) or amountOut1 (quote
// asset) to recipient and pulls the input required by the fee-adjusted
// constant-product invariant from caller.
func (p *Pool) Swap(caller common.Address, amountOut0, amountOut1 *uint256.Int, recipient common.Address) (*SwapResult, error) {
	if err := nativecommon.Guard(p.pauses, nativecommon.ModulePool); err != nil {
		return nil, err
	}
	release, err := p.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if fixed.IsZero(amountOut0) == fixed.IsZero(amountOut1) {
		return nil, ErrInvalidAmount
	}
	in, amountOut := SideQuote, fixed.Clone(amountOut0)
	if fixed.IsZero(amountOut0) {
		in, amountOut = SideFloor, fixed.Clone(amountOut1)
	}

	pool, err := p.load()
	if err != nil {
		return nil, err
	}
	fee, err := currentFeeBps(pool, p.floorAsset.TotalSupply())
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := pool.reserves(in)
	if !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	amountIn, err := amountInFor(amountOut, reserveIn, reserveOut, fee)
	if err != nil {
		return nil, err
	}
	if p.asset(in).BalanceOf(caller).Lt(amountIn) {
		return nil, fmt.Errorf("%w: requires %s", ErrInsufficientInput, amountIn)
	}
	return p.settle(pool, in, amountIn, amountOut, fee, caller, recipient)
}

// SwapExactIn sells amountIn of the given side and sends at least minOut of the
// other asset to recipient.
func (p *Pool) SwapExactIn(caller common.Address, in Side, amountIn, minOut *uint256.Int, recipient common.Address) (*SwapResult, error) {
	if err := nativecommon.Guard(p.pauses, nativecommon.ModulePool); err != nil {
		return nil, err
	}
	release, err := p.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if fixed.IsZero(amountIn) {
		return nil, ErrInsufficientInput
	}
	pool, err := p.load()
	if err != nil {
		return nil, err
	}
	fee, err := currentFeeBps(pool, p.floorAsset.TotalSupply())
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := pool.reserves(in)
	amountOut, err := amountOutFor(amountIn, reserveIn, reserveOut, fee)
	if err != nil {
		return nil, err
	}
	if amountOut.IsZero() {
		return nil, ErrInsufficientOutput
	}
	if amountOut.Lt(fixed.Clone(minOut)) {
		return nil, ErrSlippage
	}
	return p.settle(pool, in, fixed.Clone(amountIn), amountOut, fee, caller, recipient)
}

// QuoteExactIn returns the output a SwapExactIn call would currently produce.
func (p *Pool) QuoteExactIn(in Side, amountIn *uint256.Int) (*uint256.Int, error) {
	pool, err := p.load()
	if err != nil {
		return nil, err
	}
	fee, err := currentFeeBps(pool, p.floorAsset.TotalSupply())
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := pool.reserves(in)
	return amountOutFor(amountIn, reserveIn, reserveOut, fee)
}

// QuoteExactOut returns the input required to receive amountOut of the side
// opposite to in.
func (p *Pool) QuoteExactOut(in Side, amountOut *uint256.Int) (*uint256.Int, error) {
	pool, err := p.load()
	if err != nil {
		return nil, err
	}
	fee, err := currentFeeBps(pool, p.floorAsset.TotalSupply())
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := pool.reserves(in)
	if !fixed.Clone(amountOut).Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	return amountInFor(amountOut, reserveIn, reserveOut, fee)
}

// settle books the new reserves and then moves the tokens.
func (p *Pool) settle(pool *PoolState, in Side, amountIn, amountOut *uint256.Int, fee uint64, caller, recipient common.Address) (*SwapResult, error) {
	reserveIn, reserveOut := pool.reserves(in)
	newIn, err := fixed.Add(reserveIn, amountIn)
	if err != nil {
		return nil, err
	}
	if newIn.Gt(fixed.MaxReserve()) {
		return nil, fmt.Errorf("%w: %s reserve exceeds bound", fixed.ErrOverflow, in)
	}
	newOut, err := fixed.Sub(reserveOut, amountOut)
	if err != nil {
		return nil, ErrInsufficientLiquidity
	}
	if err := checkInvariant(reserveIn, reserveOut, newIn, newOut, amountIn, fee); err != nil {
		return nil, err
	}

	before, err := pool.Product()
	if err != nil {
		return nil, err
	}
	pool.setReserves(in, newIn, newOut)
	after, err := pool.Product()
	if err != nil {
		return nil, err
	}
	if after.Lt(before) {
		return nil, ErrInvariant
	}
	if err := p.state.PutPool(pool); err != nil {
		return nil, err
	}

	out := SideQuote
	if in == SideQuote {
		out = SideFloor
	}
	if err := p.asset(in).Transfer(caller, p.address, amountIn); err != nil {
		return nil, err
	}
	if err := p.asset(out).Transfer(p.address, recipient, amountOut); err != nil {
		return nil, err
	}

	result := &SwapResult{In: in, AmountIn: amountIn, AmountOut: amountOut, FeeBps: fee}
	p.emit(swappedEvent(caller, recipient, result, pool, p.now()))
	return result, nil
}

// amountInFor returns rIn*out*10000 / ((rOut-out)*(10000-fee)) + 1.
func amountInFor(amountOut, reserveIn, reserveOut *uint256.Int, fee uint64) (*uint256.Int, error) {
	if fixed.IsZero(amountOut) {
		return nil, ErrInvalidAmount
	}
	if fixed.IsZero(reserveIn) || !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	numerator, err := fixed.Mul(reserveIn, amountOut)
	if err != nil {
		return nil, err
	}
	if numerator, err = fixed.Mul(numerator, bps); err != nil {
		return nil, err
	}
	remaining := new(uint256.Int).Sub(reserveOut, amountOut)
	denominator, err := fixed.Mul(remaining, uint256.NewInt(fixed.BasisPoints-fee))
	if err != nil {
		return nil, err
	}
	quotient, err := fixed.Div(numerator, denominator, fixed.Down)
	if err != nil {
		return nil, err
	}
	return fixed.Add(quotient, oneWei)
}

// amountOutFor returns rOut*in*(10000-fee) / (rIn*10000 + in*(10000-fee)).
func amountOutFor(amountIn, reserveIn, reserveOut *uint256.Int, fee uint64) (*uint256.Int, error) {
	if fixed.IsZero(amountIn) {
		return fixed.Zero(), nil
	}
	if fixed.IsZero(reserveIn) || fixed.IsZero(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee, err := fixed.Mul(amountIn, uint256.NewInt(fixed.BasisPoints-fee))
	if err != nil {
		return nil, err
	}
	scaledReserve, err := fixed.Mul(reserveIn, bps)
	if err != nil {
		return nil, err
	}
	denominator, err := fixed.Add(scaledReserve, inWithFee)
	if err != nil {
		return nil, err
	}
	return fixed.MulDiv(inWithFee, reserveOut, denominator, fixed.Down)
}

// checkInvariant enforces
// (newIn*10000 - amountIn*fee) * newOut*10000 >= reserveIn*reserveOut*10000^2.
func checkInvariant(reserveIn, reserveOut, newIn, newOut, amountIn *uint256.Int, fee uint64) error {
	scaledIn, err := fixed.Mul(newIn, bps)
	if err != nil {
		return err
	}
	feePaid, err := fixed.Mul(amountIn, uint256.NewInt(fee))
	if err != nil {
		return err
	}
	adjustedIn, err := fixed.Sub(scaledIn, feePaid)
	if err != nil {
		return ErrInsufficientInput
	}
	adjustedOut, err := fixed.Mul(newOut, bps)
	if err != nil {
		return err
	}
	lhs, err := fixed.Mul(adjustedIn, adjustedOut)
	if err != nil {
		return err
	}
	k, err := fixed.Mul(reserveIn, reserveOut)
	if err != nil {
		return err
	}
	rhs, err := fixed.Mul(k, bpsSq)
	if err != nil {
		return err
	}
	if lhs.Lt(rhs) {
		return ErrInsufficientInput
	}
	return nil
}
