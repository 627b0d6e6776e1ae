package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"floorlend/core"
	"floorlend/native/amm"
)

type poolResponse struct {
	ReserveFloor   string `json:"reserve_floor"`
	ReserveQuote   string `json:"reserve_quote"`
	FeeBps         uint64 `json:"fee_bps"`
	SpotPrice      string `json:"spot_price"`
	FloorPrice     string `json:"floor_price"`
	Supply         string `json:"supply"`
	InitialSupply  string `json:"initial_supply"`
	FeeDecayTarget string `json:"fee_decay_target"`
	ReserveProduct string `json:"k_last"`
	TotalShares    string `json:"total_shares"`
	FeeHolder      string `json:"fee_holder"`
	FeeHolderShare string `json:"fee_holder_shares"`
}

func newPoolResponse(v *core.PoolView) poolResponse {
	return poolResponse{
		ReserveFloor:   units(v.ReserveFloor),
		ReserveQuote:   units(v.ReserveQuote),
		FeeBps:         v.FeeBps,
		SpotPrice:      units(v.SpotPrice),
		FloorPrice:     units(v.FloorPrice),
		Supply:         units(v.Supply),
		InitialSupply:  units(v.InitialSupply),
		FeeDecayTarget: units(v.FeeDecayTarget),
		ReserveProduct: raw(v.KLast),
		TotalShares:    units(v.TotalShares),
		FeeHolder:      address(v.FeeHolder),
		FeeHolderShare: units(v.FeeHolderShare),
	}
}

type swapRequest struct {
	AmountFloorOut string `json:"amount_floor_out"`
	AmountQuoteOut string `json:"amount_quote_out"`
	Recipient      string `json:"recipient"`
}

type swapExactInRequest struct {
	Side      string `json:"side"`
	AmountIn  string `json:"amount_in"`
	MinOut    string `json:"min_out"`
	Recipient string `json:"recipient"`
}

type swapResponse struct {
	In        string `json:"in"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	FeeBps    uint64 `json:"fee_bps"`
}

type quoteResponse struct {
	In        string `json:"in"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
}

type collectionResponse struct {
	Shares      string `json:"shares"`
	FloorBurned string `json:"floor_burned"`
	QuoteRouted string `json:"quote_routed"`
}

func (h *handlers) mountPool(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Get("/", h.getPool)
	r.Get("/quote", h.quotePool)
	mutating(r, guard, func(r chi.Router) {
		r.Post("/swap", h.swap)
		r.Post("/swap-exact-in", h.swapExactIn)
		r.Post("/collect-fees", h.collectFees)
	})
}

func (h *handlers) getPool(w http.ResponseWriter, r *http.Request) {
	view, err := h.protocol.Pool()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolResponse(view))
}

func (h *handlers) quotePool(w http.ResponseWriter, r *http.Request) {
	side, err := h.parseSide(r.URL.Query().Get("side"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amountIn, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.protocol.QuoteExactIn(side, amountIn)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{In: side.String(), AmountIn: units(amountIn), AmountOut: units(out)})
}

func (h *handlers) swap(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req swapRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	out0, err := parseOptionalAmount("amount_floor_out", req.AmountFloorOut)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out1, err := parseOptionalAmount("amount_quote_out", req.AmountQuoteOut)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	recipient := from
	if req.Recipient != "" {
		if recipient, err = parseAccount("recipient", req.Recipient); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	res, err := h.protocol.Swap(from, out0, out1, recipient)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapResponse(res))
}

func (h *handlers) swapExactIn(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req swapExactInRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	side, err := h.parseSide(req.Side)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amountIn, err := parseAmount("amount_in", req.AmountIn)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	minOut, err := parseOptionalAmount("min_out", req.MinOut)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	recipient := from
	if req.Recipient != "" {
		if recipient, err = parseAccount("recipient", req.Recipient); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	res, err := h.protocol.SwapExactIn(from, side, amountIn, minOut, recipient)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapResponse(res))
}

func (h *handlers) collectFees(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.protocol.CollectFees(from)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collectionResponse{
		Shares:      units(res.Shares),
		FloorBurned: units(res.FloorBurned),
		QuoteRouted: units(res.QuoteRouted),
	})
}

func newSwapResponse(res *amm.SwapResult) swapResponse {
	return swapResponse{
		In:        res.In.String(),
		AmountIn:  units(res.AmountIn),
		AmountOut: units(res.AmountOut),
		FeeBps:    res.FeeBps,
	}
}
