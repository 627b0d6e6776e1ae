package lending

import (
	"github.com/holiman/uint256"

	"floorlend/native/fixed"
)

// VaultState holds the lender pool aggregates. TotalAssets counts idle cash
// plus outstanding borrows, so idle cash is TotalAssets - TotalBorrows.
type VaultState struct {
	TotalAssets  *uint256.Int
	TotalBorrows *uint256.Int
	BorrowIndex  *uint256.Int
	LastAccrual  uint64
	TotalShares  *uint256.Int
}

// Clone returns a deep copy of the vault aggregates.
func (v *VaultState) Clone() *VaultState {
	if v == nil {
		return nil
	}
	return &VaultState{
		TotalAssets:  fixed.Clone(v.TotalAssets),
		TotalBorrows: fixed.Clone(v.TotalBorrows),
		BorrowIndex:  fixed.Clone(v.BorrowIndex),
		LastAccrual:  v.LastAccrual,
		TotalShares:  fixed.Clone(v.TotalShares),
	}
}

// Cash returns the idle balance available for withdrawals and new loans.
func (v *VaultState) Cash() *uint256.Int {
	return fixed.SaturatingSub(v.TotalAssets, v.TotalBorrows)
}

func newVaultState() *VaultState {
	return &VaultState{
		TotalAssets:  fixed.Zero(),
		TotalBorrows: fixed.Zero(),
		BorrowIndex:  fixed.Unit(),
		TotalShares:  fixed.Zero(),
	}
}

// Position is a borrower's collateral and debt record. Live debt is
// DebtPrincipal * borrowIndex / DebtIndex.
type Position struct {
	Collateral    *uint256.Int
	DebtPrincipal *uint256.Int
	DebtIndex     *uint256.Int
	Delinquent    bool
	MarkedAt      uint64
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		Collateral:    fixed.Clone(p.Collateral),
		DebtPrincipal: fixed.Clone(p.DebtPrincipal),
		DebtIndex:     fixed.Clone(p.DebtIndex),
		Delinquent:    p.Delinquent,
		MarkedAt:      p.MarkedAt,
	}
}

// IsEmpty reports whether the position carries no collateral, debt or mark.
func (p *Position) IsEmpty() bool {
	return p == nil || (fixed.IsZero(p.Collateral) && fixed.IsZero(p.DebtPrincipal) && !p.Delinquent)
}

func ensurePosition(p *Position) *Position {
	if p == nil {
		p = &Position{}
	}
	p.Collateral = fixed.Clone(p.Collateral)
	p.DebtPrincipal = fixed.Clone(p.DebtPrincipal)
	p.DebtIndex = fixed.Clone(p.DebtIndex)
	return p
}

// Status classifies a position.
type Status string

const (
	StatusEmpty      Status = "empty"
	StatusHealthy    Status = "healthy"
	StatusDelinquent Status = "delinquent"
)

// AccountState is the read model returned by Ledger.GetAccountState.
type AccountState struct {
	Status         Status
	Collateral     *uint256.Int
	Debt           *uint256.Int
	MaxBorrow      *uint256.Int
	Healthy        bool
	Delinquent     bool
	MarkedAt       uint64
	// GraceRemaining counts down to MarkedAt plus the grace period.
	GraceRemaining uint64
	// RecoverableAt is the first second Recover is accepted.
	RecoverableAt  uint64
}

// RecoveryResult describes the settlement of a recovered position.
type RecoveryResult struct {
	Collateral *uint256.Int
	Debt       *uint256.Int
	Proceeds   *uint256.Int
	Repaid     *uint256.Int
	Shortfall  *uint256.Int
	Bounty     *uint256.Int
	Refund     *uint256.Int
	Burned     bool
}
