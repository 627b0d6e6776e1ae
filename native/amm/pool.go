// Package amm implements the constant-product pricing pool that quotes the
// collateral asset against the quote asset and anchors its floor price.
package amm

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"floorlend/core/events"
	"floorlend/core/types"
	nativecommon "floorlend/native/common"
	"floorlend/native/fixed"
	"floorlend/native/floor"
	"floorlend/native/token"
)

type engineState interface {
	GetPool() (*PoolState, error)
	PutPool(pool *PoolState) error
	GetShares(addr common.Address) (*uint256.Int, error)
	PutShares(addr common.Address, amount *uint256.Int) error
}

// Pool executes swaps against the shared pool record. Reserves are held by the
// pool's own account in the two asset ledgers.
type Pool struct {
	state      engineState
	address    common.Address
	feeHolder  common.Address
	floorAsset token.Asset
	quoteAsset token.Asset
	pauses     nativecommon.PauseView
	emitter    events.Emitter
	nowFn      func() int64
	lock       nativecommon.Lock
}

// NewPool constructs a pool engine. feeHolder is the only external identity
// allowed to hold liquidity shares.
func NewPool(address, feeHolder common.Address, floorAsset, quoteAsset token.Asset) *Pool {
	return &Pool{
		address:    address,
		feeHolder:  feeHolder,
		floorAsset: floorAsset,
		quoteAsset: quoteAsset,
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (p *Pool) SetState(state engineState) { p.state = state }

func (p *Pool) SetPauses(view nativecommon.PauseView) {
	if p == nil {
		return
	}
	p.pauses = view
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (p *Pool) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

// SetNowFunc overrides the time source stamped on events.
func (p *Pool) SetNowFunc(now func() int64) {
	if now == nil {
		p.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	p.nowFn = now
}

// Address returns the account holding the pool reserves.
func (p *Pool) Address() common.Address { return p.address }

// FeeHolder returns the designated liquidity-share holder.
func (p *Pool) FeeHolder() common.Address { return p.feeHolder }

func (p *Pool) emit(evt *types.Event) {
	if p.emitter == nil || evt == nil {
		return
	}
	p.emitter.Emit(events.Wrap(evt))
}

func (p *Pool) now() int64 {
	if p.nowFn == nil {
		return time.Now().Unix()
	}
	return p.nowFn()
}

func (p *Pool) load() (*PoolState, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	pool, err := p.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil || fixed.IsZero(pool.TotalShares) {
		return nil, ErrNotInitialised
	}
	return pool, nil
}

func (p *Pool) asset(side Side) token.Asset {
	if side == SideFloor {
		return p.floorAsset
	}
	return p.quoteAsset
}

// Initialize records the genesis reserves and fee schedule. The collateral
// supply snapshot taken here drives fee decay. Liquidity shares equal to
// sqrt(x*y) are minted to the pool itself and can never be withdrawn.
func (p *Pool) Initialize(g Genesis) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	if err := g.Validate(); err != nil {
		return err
	}
	existing, err := p.state.GetPool()
	if err != nil {
		return err
	}
	if existing != nil && !fixed.IsZero(existing.TotalShares) {
		return ErrAlreadyInitialised
	}
	if p.floorAsset.BalanceOf(p.address).Lt(g.ReserveFloor) || p.quoteAsset.BalanceOf(p.address).Lt(g.ReserveQuote) {
		return fmt.Errorf("%w: pool account does not hold the genesis reserves", ErrInvalidReserves)
	}
	k, err := fixed.Mul(g.ReserveFloor, g.ReserveQuote)
	if err != nil {
		return err
	}
	shares := fixed.Sqrt(k)
	pool := &PoolState{
		ReserveFloor:   fixed.Clone(g.ReserveFloor),
		ReserveQuote:   fixed.Clone(g.ReserveQuote),
		FeeStartBps:    g.FeeStartBps,
		FeeEndBps:      g.FeeEndBps,
		FeeDecayTarget: fixed.Clone(g.FeeDecayTarget),
		InitialSupply:  p.floorAsset.TotalSupply(),
		KLast:          k,
		TotalShares:    shares,
	}
	if err := p.state.PutPool(pool); err != nil {
		return err
	}
	return p.state.PutShares(p.address, shares)
}

// CurrentFeeBps returns the swap fee, decaying linearly from the start fee to
// the end fee as cumulative burns of the collateral asset approach the target.
func (p *Pool) CurrentFeeBps() (uint64, error) {
	pool, err := p.load()
	if err != nil {
		return 0, err
	}
	return currentFeeBps(pool, p.floorAsset.TotalSupply())
}

func currentFeeBps(pool *PoolState, supply *uint256.Int) (uint64, error) {
	burned := fixed.SaturatingSub(pool.InitialSupply, supply)
	if fixed.IsZero(pool.FeeDecayTarget) || !burned.Lt(pool.FeeDecayTarget) {
		return pool.FeeEndBps, nil
	}
	span := uint256.NewInt(pool.FeeStartBps - pool.FeeEndBps)
	decay, err := fixed.MulDiv(span, burned, pool.FeeDecayTarget, fixed.Down)
	if err != nil {
		return 0, err
	}
	return pool.FeeStartBps - decay.Uint64(), nil
}

// GetReserves returns the floor-asset and quote-asset reserves.
func (p *Pool) GetReserves() (*uint256.Int, *uint256.Int, error) {
	pool, err := p.load()
	if err != nil {
		return nil, nil, err
	}
	return fixed.Clone(pool.ReserveFloor), fixed.Clone(pool.ReserveQuote), nil
}

// ReserveProduct returns the live reserve product.
func (p *Pool) ReserveProduct() (*uint256.Int, error) {
	pool, err := p.load()
	if err != nil {
		return nil, err
	}
	return pool.Product()
}

// State returns a copy of the pool record.
func (p *Pool) State() (*PoolState, error) {
	pool, err := p.load()
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// SpotPrice returns the Unit-scaled marginal price of the floor asset.
func (p *Pool) SpotPrice() (*uint256.Int, error) {
	pool, err := p.load()
	if err != nil {
		return nil, err
	}
	return floor.Spot(pool.ReserveFloor, pool.ReserveQuote), nil
}

// FloorPrice evaluates the floor price against live reserves, the collateral
// asset's circulating supply and the current fee.
func (p *Pool) FloorPrice() (*uint256.Int, error) {
	pool, err := p.load()
	if err != nil {
		return nil, err
	}
	supply := p.floorAsset.TotalSupply()
	fee, err := currentFeeBps(pool, supply)
	if err != nil {
		return nil, err
	}
	return floor.Price(pool.ReserveFloor, pool.ReserveQuote, supply, fee), nil
}
