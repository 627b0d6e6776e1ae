package routes

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"floorlend/core"
	"floorlend/native/lending"
)

type positionResponse struct {
	Status         string `json:"status"`
	Collateral     string `json:"collateral"`
	Debt           string `json:"debt"`
	MaxBorrow      string `json:"max_borrow"`
	Healthy        bool   `json:"healthy"`
	Delinquent     bool   `json:"delinquent"`
	MarkedAt       uint64 `json:"marked_at,omitempty"`
	GraceRemaining uint64 `json:"grace_remaining,omitempty"`
	RecoverableAt  uint64 `json:"recoverable_at,omitempty"`
}

func newPositionResponse(s *lending.AccountState) positionResponse {
	return positionResponse{
		Status:         string(s.Status),
		Collateral:     units(s.Collateral),
		Debt:           units(s.Debt),
		MaxBorrow:      units(s.MaxBorrow),
		Healthy:        s.Healthy,
		Delinquent:     s.Delinquent,
		MarkedAt:       s.MarkedAt,
		GraceRemaining: s.GraceRemaining,
		RecoverableAt:  s.RecoverableAt,
	}
}

type repayResponse struct {
	Repaid string `json:"repaid"`
}

type recoveryResponse struct {
	Account    string `json:"account"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
	Proceeds   string `json:"proceeds"`
	Repaid     string `json:"repaid"`
	Shortfall  string `json:"shortfall"`
	Bounty     string `json:"bounty"`
	Refund     string `json:"refund"`
	Burned     bool   `json:"burned"`
}

type positionsResponse struct {
	Accounts []string `json:"accounts"`
}

type vaultResponse struct {
	TotalAssets  string `json:"total_assets"`
	TotalBorrows string `json:"total_borrows"`
	Cash         string `json:"cash"`
	BorrowIndex  string `json:"borrow_index"`
	BorrowRate   string `json:"borrow_rate"`
	TotalShares  string `json:"total_shares"`
	LastAccrual  uint64 `json:"last_accrual"`
}

func newVaultResponse(v *core.VaultView) vaultResponse {
	return vaultResponse{
		TotalAssets:  units(v.TotalAssets),
		TotalBorrows: units(v.TotalBorrows),
		Cash:         units(v.Cash),
		BorrowIndex:  units(v.BorrowIndex),
		BorrowRate:   units(v.BorrowRate),
		TotalShares:  units(v.TotalShares),
		LastAccrual:  v.LastAccrual,
	}
}

type vaultAssetsRequest struct {
	Assets string `json:"assets"`
}

type vaultSharesRequest struct {
	Shares string `json:"shares"`
}

type vaultMoveResponse struct {
	Assets string `json:"assets"`
	Shares string `json:"shares"`
}

func (h *handlers) mountLedger(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Get("/positions", h.listPositions)
	r.Get("/positions/{address}", h.getPosition)
	mutating(r, guard, func(r chi.Router) {
		r.Post("/deposit", h.amountOp(func(from common.Address, amount *uint256.Int) error {
			return h.protocol.DepositCollateral(from, amount)
		}))
		r.Post("/withdraw", h.amountOp(func(from common.Address, amount *uint256.Int) error {
			return h.protocol.WithdrawCollateral(from, amount)
		}))
		r.Post("/borrow", h.amountOp(func(from common.Address, amount *uint256.Int) error {
			return h.protocol.Borrow(from, amount)
		}))
		r.Post("/repay", h.repay)
		r.Post("/mark", h.markDelinquent)
		r.Post("/recover", h.recoverPosition)
	})
}

func (h *handlers) mountVault(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Get("/", h.getVault)
	r.Get("/preview", h.previewVault)
	mutating(r, guard, func(r chi.Router) {
		r.Post("/deposit", h.vaultByAssets(h.protocol.VaultDeposit))
		r.Post("/withdraw", h.vaultByAssets(h.protocol.VaultWithdraw))
		r.Post("/mint", h.vaultByShares(h.protocol.VaultMint))
		r.Post("/redeem", h.vaultByShares(h.protocol.VaultRedeem))
		r.Post("/accrue", h.accrue)
	})
}

func (h *handlers) listPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.protocol.Positions()
	out := positionsResponse{Accounts: make([]string, 0, len(positions))}
	for _, addr := range positions {
		out.Accounts = append(out.Accounts, address(addr))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAccount("address", chi.URLParam(r, "address"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.protocol.Account(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(view.Position))
}

// amountOp adapts a ledger mutation taking a single amount. The response is
// the caller's position after the operation.
func (h *handlers) amountOp(op func(common.Address, *uint256.Int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := caller(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		var req amountRequest
		if err := h.decode(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if err := op(from, amount); err != nil {
			h.fail(w, r, err)
			return
		}
		h.writePosition(w, r, from)
	}
}

func (h *handlers) writePosition(w http.ResponseWriter, r *http.Request, addr common.Address) {
	view, err := h.protocol.Account(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(view.Position))
}

func (h *handlers) repay(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req amountRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	repaid, err := h.protocol.Repay(from, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, repayResponse{Repaid: units(repaid)})
}

func (h *handlers) markDelinquent(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req accountRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := parseAccount("account", req.Account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.protocol.MarkDelinquent(from, account); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writePosition(w, r, account)
}

func (h *handlers) recoverPosition(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req accountRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := parseAccount("account", req.Account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.protocol.Recover(from, account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryResponse{
		Account:    address(account),
		Collateral: units(res.Collateral),
		Debt:       units(res.Debt),
		Proceeds:   units(res.Proceeds),
		Repaid:     units(res.Repaid),
		Shortfall:  units(res.Shortfall),
		Bounty:     units(res.Bounty),
		Refund:     units(res.Refund),
		Burned:     res.Burned,
	})
}

func (h *handlers) getVault(w http.ResponseWriter, r *http.Request) {
	view, err := h.protocol.Vault()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newVaultResponse(view))
}

// previewVault prices a deposit of ?assets= or a redemption of ?shares= at
// the current exchange rate. Exactly one must be given.
func (h *handlers) previewVault(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rawAssets, rawShares := query.Get("assets"), query.Get("shares")
	if (rawAssets == "") == (rawShares == "") {
		h.fail(w, r, badRequest("exactly one of assets or shares is required"))
		return
	}
	var (
		assets, shares *uint256.Int
		err            error
	)
	if rawAssets != "" {
		if assets, err = parseAmount("assets", rawAssets); err == nil {
			shares, err = h.protocol.PreviewVaultDeposit(assets)
		}
	} else {
		if shares, err = parseAmount("shares", rawShares); err == nil {
			assets, err = h.protocol.PreviewVaultRedeem(shares)
		}
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultMoveResponse{Assets: units(assets), Shares: units(shares)})
}

func (h *handlers) vaultByAssets(op func(common.Address, *uint256.Int) (*uint256.Int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := caller(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		var req vaultAssetsRequest
		if err := h.decode(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		assets, err := parseAmount("assets", req.Assets)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		shares, err := op(from, assets)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, vaultMoveResponse{Assets: units(assets), Shares: units(shares)})
	}
}

func (h *handlers) vaultByShares(op func(common.Address, *uint256.Int) (*uint256.Int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := caller(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		var req vaultSharesRequest
		if err := h.decode(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		shares, err := parseAmount("shares", req.Shares)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		assets, err := op(from, shares)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, vaultMoveResponse{Assets: units(assets), Shares: units(shares)})
	}
}

func (h *handlers) accrue(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.protocol.AccrueInterest(from); err != nil {
		h.fail(w, r, err)
		return
	}
	h.getVault(w, r)
}
