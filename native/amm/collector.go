package amm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"floorlend/native/fixed"
	"floorlend/native/token"
)

// Collection summarises one fee-collection run.
type Collection struct {
	Shares      *uint256.Int
	FloorBurned *uint256.Int
	QuoteRouted *uint256.Int
}

// Collector turns accumulated swap fees into collateral burns: it mints the
// fee growth to the fee holder, redeems the holder's shares, burns the floor
// asset received and routes the quote asset to the treasury. Scheduling is up
// to the caller.
type Collector struct {
	pool       *Pool
	floorAsset token.Burnable
	quoteAsset token.Asset
	treasury   common.Address
}

// NewCollector binds a collector to the pool's fee-holder identity.
func NewCollector(pool *Pool, floorAsset token.Burnable, quoteAsset token.Asset, treasury common.Address) *Collector {
	return &Collector{pool: pool, floorAsset: floorAsset, quoteAsset: quoteAsset, treasury: treasury}
}

// Collect runs the mint, redeem, burn and route sequence. A pool without
// fee growth yields an empty collection.
func (c *Collector) Collect() (*Collection, error) {
	holder := c.pool.FeeHolder()
	if _, err := c.pool.MintFeeGrowth(); err != nil {
		return nil, err
	}
	held, err := c.pool.SharesOf(holder)
	if err != nil {
		return nil, err
	}
	out := &Collection{Shares: fixed.Zero(), FloorBurned: fixed.Zero(), QuoteRouted: fixed.Zero()}
	if held.IsZero() {
		return out, nil
	}
	redeemed, err := c.pool.Redeem(holder, held, holder)
	if err != nil {
		return nil, err
	}
	if err := c.floorAsset.Burn(holder, redeemed.FloorAmount); err != nil {
		return nil, err
	}
	if err := c.quoteAsset.Transfer(holder, c.treasury, redeemed.QuoteAmount); err != nil {
		return nil, err
	}
	out.Shares = redeemed.Shares
	out.FloorBurned = redeemed.FloorAmount
	out.QuoteRouted = redeemed.QuoteAmount
	c.pool.emit(feesCollectedEvent(out, c.treasury, c.pool.now()))
	return out, nil
}
