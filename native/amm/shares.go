package amm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "floorlend/native/common"
	"floorlend/native/fixed"
)

// SharesOf returns the liquidity shares held by addr.
func (p *Pool) SharesOf(addr common.Address) (*uint256.Int, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	shares, err := p.state.GetShares(addr)
	if err != nil {
		return nil, err
	}
	return fixed.Clone(shares), nil
}

func (p *Pool) mayHold(addr common.Address) bool {
	return addr == p.feeHolder || addr == p.address
}

// TransferShares moves liquidity shares between the fee holder and the pool.
// Any other sender, recipient or caller is rejected.
func (p *Pool) TransferShares(caller, to common.Address, amount *uint256.Int) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	if caller != p.feeHolder || !p.mayHold(to) {
		return ErrRestrictedTransfer
	}
	if fixed.IsZero(amount) || caller == to {
		return nil
	}
	fromShares, err := p.state.GetShares(caller)
	if err != nil {
		return err
	}
	remaining, err := fixed.Sub(fromShares, amount)
	if err != nil {
		return ErrInsufficientShares
	}
	toShares, err := p.state.GetShares(to)
	if err != nil {
		return err
	}
	credited, err := fixed.Add(toShares, amount)
	if err != nil {
		return err
	}
	if err := p.state.PutShares(caller, remaining); err != nil {
		return err
	}
	return p.state.PutShares(to, credited)
}

// MintFeeGrowth converts reserve-product growth since the last collection into
// shares for the fee holder and advances the high-water mark. It is
// permissionless and returns zero when there is no growth.
func (p *Pool) MintFeeGrowth() (*uint256.Int, error) {
	if err := nativecommon.Guard(p.pauses, nativecommon.ModulePool); err != nil {
		return nil, err
	}
	release, err := p.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	pool, err := p.load()
	if err != nil {
		return nil, err
	}
	k, err := pool.Product()
	if err != nil {
		return nil, err
	}
	if !fixed.Clone(pool.KLast).Lt(k) {
		return fixed.Zero(), nil
	}
	rootK := fixed.Sqrt(k)
	rootKLast := fixed.Sqrt(pool.KLast)
	minted := fixed.Zero()
	if !rootKLast.IsZero() && rootKLast.Lt(rootK) {
		growth := new(uint256.Int).Sub(rootK, rootKLast)
		if minted, err = fixed.MulDiv(pool.TotalShares, growth, rootKLast, fixed.Down); err != nil {
			return nil, err
		}
	}
	pool.KLast = k
	if minted.IsZero() {
		return minted, p.state.PutPool(pool)
	}
	if pool.TotalShares, err = fixed.Add(pool.TotalShares, minted); err != nil {
		return nil, err
	}
	held, err := p.state.GetShares(p.feeHolder)
	if err != nil {
		return nil, err
	}
	held, err = fixed.Add(held, minted)
	if err != nil {
		return nil, err
	}
	if err := p.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := p.state.PutShares(p.feeHolder, held); err != nil {
		return nil, err
	}
	return minted, nil
}

// Redeem burns shares held by the fee holder and pays the proportional reserves
// to recipient. This is the only path that lowers the reserve product; the
// high-water mark follows it down.
func (p *Pool) Redeem(caller common.Address, shares *uint256.Int, recipient common.Address) (*Redemption, error) {
	if err := nativecommon.Guard(p.pauses, nativecommon.ModulePool); err != nil {
		return nil, err
	}
	if caller != p.feeHolder {
		return nil, ErrRestrictedTransfer
	}
	release, err := p.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if fixed.IsZero(shares) {
		return nil, ErrInsufficientShares
	}
	pool, err := p.load()
	if err != nil {
		return nil, err
	}
	held, err := p.state.GetShares(caller)
	if err != nil {
		return nil, err
	}
	remaining, err := fixed.Sub(held, shares)
	if err != nil {
		return nil, ErrInsufficientShares
	}
	floorOut, err := fixed.MulDiv(shares, pool.ReserveFloor, pool.TotalShares, fixed.Down)
	if err != nil {
		return nil, err
	}
	quoteOut, err := fixed.MulDiv(shares, pool.ReserveQuote, pool.TotalShares, fixed.Down)
	if err != nil {
		return nil, err
	}
	pool.ReserveFloor = new(uint256.Int).Sub(pool.ReserveFloor, floorOut)
	pool.ReserveQuote = new(uint256.Int).Sub(pool.ReserveQuote, quoteOut)
	pool.TotalShares = new(uint256.Int).Sub(pool.TotalShares, shares)
	if pool.KLast, err = pool.Product(); err != nil {
		return nil, err
	}
	if err := p.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := p.state.PutShares(caller, remaining); err != nil {
		return nil, err
	}
	if err := p.floorAsset.Transfer(p.address, recipient, floorOut); err != nil {
		return nil, err
	}
	if err := p.quoteAsset.Transfer(p.address, recipient, quoteOut); err != nil {
		return nil, err
	}
	return &Redemption{Shares: fixed.Clone(shares), FloorAmount: floorOut, QuoteAmount: quoteOut}, nil
}
