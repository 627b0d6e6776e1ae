package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"floorlend/native/amm"
	"floorlend/native/lending"
)

// PoolView is a consistent read of the pricing pool.
type PoolView struct {
	ReserveFloor   *uint256.Int
	ReserveQuote   *uint256.Int
	FeeBps         uint64
	SpotPrice      *uint256.Int
	FloorPrice     *uint256.Int
	Supply         *uint256.Int
	InitialSupply  *uint256.Int
	FeeDecayTarget *uint256.Int
	KLast          *uint256.Int
	TotalShares    *uint256.Int
	FeeHolder      common.Address
	FeeHolderShare *uint256.Int
}

// VaultView is a consistent read of the lender pool with interest projected
// to the protocol clock.
type VaultView struct {
	TotalAssets  *uint256.Int
	TotalBorrows *uint256.Int
	Cash         *uint256.Int
	BorrowIndex  *uint256.Int
	BorrowRate   *uint256.Int
	TotalShares  *uint256.Int
	LastAccrual  uint64
}

// AccountView joins an account's position with its balances and vault shares.
type AccountView struct {
	Address      common.Address
	Position     *lending.AccountState
	FloorBalance *uint256.Int
	QuoteBalance *uint256.Int
	VaultShares  *uint256.Int
	VaultAssets  *uint256.Int
}

func (p *Protocol) Pool() (*PoolView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool, err := p.pool.State()
	if err != nil {
		return nil, err
	}
	fee, err := p.pool.CurrentFeeBps()
	if err != nil {
		return nil, err
	}
	spot, err := p.pool.SpotPrice()
	if err != nil {
		return nil, err
	}
	floorPrice, err := p.pool.FloorPrice()
	if err != nil {
		return nil, err
	}
	held, err := p.pool.SharesOf(p.pool.FeeHolder())
	if err != nil {
		return nil, err
	}
	return &PoolView{
		ReserveFloor:   pool.ReserveFloor,
		ReserveQuote:   pool.ReserveQuote,
		FeeBps:         fee,
		SpotPrice:      spot,
		FloorPrice:     floorPrice,
		Supply:         p.floorToken.TotalSupply(),
		InitialSupply:  pool.InitialSupply,
		FeeDecayTarget: pool.FeeDecayTarget,
		KLast:          pool.KLast,
		TotalShares:    pool.TotalShares,
		FeeHolder:      p.pool.FeeHolder(),
		FeeHolderShare: held,
	}, nil
}

// QuoteExactIn previews the output of selling amountIn of the given side.
func (p *Protocol) QuoteExactIn(in amm.Side, amountIn *uint256.Int) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.QuoteExactIn(in, amountIn)
}

func (p *Protocol) Vault() (*VaultView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	vault, err := p.vault.State()
	if err != nil {
		return nil, err
	}
	rate, err := p.vault.BorrowRate()
	if err != nil {
		return nil, err
	}
	return &VaultView{
		TotalAssets:  vault.TotalAssets,
		TotalBorrows: vault.TotalBorrows,
		Cash:         vault.Cash(),
		BorrowIndex:  vault.BorrowIndex,
		BorrowRate:   rate,
		TotalShares:  vault.TotalShares,
		LastAccrual:  vault.LastAccrual,
	}, nil
}

func (p *Protocol) Account(addr common.Address) (*AccountView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	position, err := p.ledger.GetAccountState(addr)
	if err != nil {
		return nil, err
	}
	shares, err := p.vault.SharesOf(addr)
	if err != nil {
		return nil, err
	}
	assets, err := p.vault.PreviewRedeem(shares)
	if err != nil {
		return nil, err
	}
	return &AccountView{
		Address:      addr,
		Position:     position,
		FloorBalance: p.floorToken.BalanceOf(addr),
		QuoteBalance: p.quoteToken.BalanceOf(addr),
		VaultShares:  shares,
		VaultAssets:  assets,
	}, nil
}

// PreviewVaultDeposit returns the shares a deposit of assets would mint now.
func (p *Protocol) PreviewVaultDeposit(assets *uint256.Int) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vault.PreviewDeposit(assets)
}

// PreviewVaultRedeem returns the assets redeeming shares would pay now.
func (p *Protocol) PreviewVaultRedeem(shares *uint256.Int) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vault.PreviewRedeem(shares)
}

// IsPositionHealthy reports whether the account's collateral at spot covers
// its live debt.
func (p *Protocol) IsPositionHealthy(addr common.Address) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.IsPositionHealthy(addr)
}

// Positions lists every account holding a position.
func (p *Protocol) Positions() []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.arena.Positions()
}

// Root returns the state commitment over every live record.
func (p *Protocol) Root() (common.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.arena.Root()
}

// Symbols returns the collateral and quote asset symbols.
func (p *Protocol) Symbols() (string, string) {
	return p.floorToken.Symbol(), p.quoteToken.Symbol()
}

// Now returns the protocol clock.
func (p *Protocol) Now() int64 { return p.clock().Unix() }
