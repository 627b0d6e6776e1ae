package amm

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"floorlend/core/types"
)

const (
	EventTypePoolSwapped       = "pool.swapped"
	EventTypePoolFeesCollected = "pool.fees.collected"
)

func swappedEvent(caller, recipient common.Address, res *SwapResult, pool *PoolState, ts int64) *types.Event {
	return &types.Event{
		Type: EventTypePoolSwapped,
		Attributes: map[string]string{
			"caller":       caller.Hex(),
			"recipient":    recipient.Hex(),
			"assetIn":      res.In.String(),
			"amountIn":     res.AmountIn.Dec(),
			"amountOut":    res.AmountOut.Dec(),
			"feeBps":       strconv.FormatUint(res.FeeBps, 10),
			"reserveFloor": pool.ReserveFloor.Dec(),
			"reserveQuote": pool.ReserveQuote.Dec(),
			"timestamp":    strconv.FormatInt(ts, 10),
		},
	}
}

func feesCollectedEvent(res *Collection, treasury common.Address, ts int64) *types.Event {
	return &types.Event{
		Type: EventTypePoolFeesCollected,
		Attributes: map[string]string{
			"shares":      res.Shares.Dec(),
			"floorBurned": res.FloorBurned.Dec(),
			"quoteRouted": res.QuoteRouted.Dec(),
			"treasury":    treasury.Hex(),
			"timestamp":   strconv.FormatInt(ts, 10),
		},
	}
}
