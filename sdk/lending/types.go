package lending

import "time"

// Amounts are decimal strings in whole token units, e.g. "12.5".

// Pool mirrors the pricing pool state.
type Pool struct {
	ReserveFloor   string `json:"reserve_floor"`
	ReserveQuote   string `json:"reserve_quote"`
	FeeBps         uint64 `json:"fee_bps"`
	SpotPrice      string `json:"spot_price"`
	FloorPrice     string `json:"floor_price"`
	Supply         string `json:"supply"`
	InitialSupply  string `json:"initial_supply"`
	FeeDecayTarget string `json:"fee_decay_target"`
	KLast          string `json:"k_last"`
	TotalShares    string `json:"total_shares"`
	FeeHolder      string `json:"fee_holder"`
	FeeHolderShare string `json:"fee_holder_shares"`
}

type Quote struct {
	In        string `json:"in"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
}

type Swap struct {
	In        string `json:"in"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	FeeBps    uint64 `json:"fee_bps"`
}

type Collection struct {
	Shares      string `json:"shares"`
	FloorBurned string `json:"floor_burned"`
	QuoteRouted string `json:"quote_routed"`
}

// Position summarises an account's collateral and debt.
type Position struct {
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

type Recovery struct {
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

type Vault struct {
	TotalAssets  string `json:"total_assets"`
	TotalBorrows string `json:"total_borrows"`
	Cash         string `json:"cash"`
	BorrowIndex  string `json:"borrow_index"`
	BorrowRate   string `json:"borrow_rate"`
	TotalShares  string `json:"total_shares"`
	LastAccrual  uint64 `json:"last_accrual"`
}

type VaultMove struct {
	Assets string `json:"assets"`
	Shares string `json:"shares"`
}

type Account struct {
	Address      string   `json:"address"`
	Hex          string   `json:"hex"`
	FloorBalance string   `json:"floor_balance"`
	QuoteBalance string   `json:"quote_balance"`
	VaultShares  string   `json:"vault_shares"`
	VaultAssets  string   `json:"vault_assets"`
	Position     Position `json:"position"`
}

type Event struct {
	ID         string            `json:"id"`
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
}
