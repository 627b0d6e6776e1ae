package lending

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"floorlend/core/events"
	"floorlend/core/types"
	nativecommon "floorlend/native/common"
	"floorlend/native/fixed"
	"floorlend/native/token"
)

var (
	errNilState              = errors.New("lending engine: state not configured")
	errInvalidModel          = errors.New("lending engine: invalid interest model")
	ErrInvalidAmount         = errors.New("lending engine: amount must be positive")
	ErrZeroShares            = errors.New("lending engine: amount converts to zero shares")
	ErrInsufficientShares    = errors.New("lending engine: insufficient shares")
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient idle liquidity")
	ErrUnauthorized          = errors.New("lending engine: caller not authorised")
	ErrInsolvent             = errors.New("lending engine: vault has no assets backing its shares")
)

type vaultState interface {
	GetVault() (*VaultState, error)
	PutVault(vault *VaultState) error
	GetVaultShares(addr common.Address) (*uint256.Int, error)
	PutVaultShares(addr common.Address, shares *uint256.Int) error
}

// Vault is the pooled-capital lender. Only the configured ledger identity may
// draw loans, repay them or write them off.
type Vault struct {
	state   vaultState
	address common.Address
	ledger  common.Address
	asset   token.Asset
	model   *InterestModel
	pauses  nativecommon.PauseView
	emitter events.Emitter
	nowFn   func() int64
	lock    nativecommon.Lock
}

// NewVault constructs a vault holding asset at address and lending to ledger.
func NewVault(address, ledger common.Address, asset token.Asset, model *InterestModel) *Vault {
	if model == nil {
		model = DefaultInterestModel()
	}
	return &Vault{
		address: address,
		ledger:  ledger,
		asset:   asset,
		model:   model.Clone(),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the vault to the external persistence layer.
func (v *Vault) SetState(state vaultState) { v.state = state }

func (v *Vault) SetPauses(p nativecommon.PauseView) {
	if v == nil {
		return
	}
	v.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (v *Vault) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		v.emitter = events.NoopEmitter{}
		return
	}
	v.emitter = emitter
}

// SetNowFunc overrides the clock used for accrual.
func (v *Vault) SetNowFunc(now func() int64) {
	if now == nil {
		v.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	v.nowFn = now
}

// Address returns the account holding the vault's idle cash.
func (v *Vault) Address() common.Address { return v.address }

// InterestModel returns a copy of the configured rate curve.
func (v *Vault) InterestModel() *InterestModel { return v.model.Clone() }

func (v *Vault) now() uint64 {
	ts := time.Now().Unix()
	if v.nowFn != nil {
		ts = v.nowFn()
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (v *Vault) emit(evt *types.Event) {
	if v.emitter == nil || evt == nil {
		return
	}
	v.emitter.Emit(events.Wrap(evt))
}

func (v *Vault) load() (*VaultState, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	vault, err := v.state.GetVault()
	if err != nil {
		return nil, err
	}
	if vault == nil {
		return newVaultState(), nil
	}
	if fixed.IsZero(vault.BorrowIndex) {
		vault.BorrowIndex = fixed.Unit()
	}
	return vault, nil
}

// project applies interest accrued between LastAccrual and now to a copy of
// the aggregates. The first observation only starts the clock.
func (v *Vault) project(vault *VaultState, now uint64) (*VaultState, *uint256.Int, error) {
	next := vault.Clone()
	interest := fixed.Zero()
	if next.LastAccrual == 0 || now <= next.LastAccrual {
		if next.LastAccrual == 0 {
			next.LastAccrual = now
		}
		return next, interest, nil
	}
	rate, err := v.model.BorrowRate(next.TotalBorrows, next.TotalAssets)
	if err != nil {
		return nil, nil, err
	}
	factor, err := accrualFactor(rate, now-next.LastAccrual)
	if err != nil {
		return nil, nil, err
	}
	if interest, err = fixed.MulUnit(next.TotalBorrows, factor, fixed.Down); err != nil {
		return nil, nil, err
	}
	indexGrowth, err := fixed.MulUnit(next.BorrowIndex, factor, fixed.Down)
	if err != nil {
		return nil, nil, err
	}
	if next.BorrowIndex, err = fixed.Add(next.BorrowIndex, indexGrowth); err != nil {
		return nil, nil, err
	}
	if next.TotalBorrows, err = fixed.Add(next.TotalBorrows, interest); err != nil {
		return nil, nil, err
	}
	if next.TotalAssets, err = fixed.Add(next.TotalAssets, interest); err != nil {
		return nil, nil, err
	}
	next.LastAccrual = now
	return next, interest, nil
}

// accrue loads, compounds and stores the aggregates.
func (v *Vault) accrue() (*VaultState, error) {
	vault, err := v.load()
	if err != nil {
		return nil, err
	}
	now := v.now()
	before := vault.LastAccrual
	next, interest, err := v.project(vault, now)
	if err != nil {
		return nil, err
	}
	if next.LastAccrual == before {
		return next, nil
	}
	if err := v.state.PutVault(next); err != nil {
		return nil, err
	}
	if before != 0 {
		v.emit(accruedEvent(next, interest))
	}
	return next, nil
}

// AccrueInterest compounds the borrow index, borrows and assets up to now.
// Calling it twice within the same second is a no-op.
func (v *Vault) AccrueInterest() (*VaultState, error) {
	vault, err := v.accrue()
	if err != nil {
		return nil, err
	}
	return vault.Clone(), nil
}

// State returns the aggregates projected to the current time without
// persisting them.
func (v *Vault) State() (*VaultState, error) {
	vault, err := v.load()
	if err != nil {
		return nil, err
	}
	next, _, err := v.project(vault, v.now())
	return next, err
}

// ProjectedBorrowIndex returns the borrow index as of now.
func (v *Vault) ProjectedBorrowIndex() (*uint256.Int, error) {
	vault, err := v.State()
	if err != nil {
		return nil, err
	}
	return vault.BorrowIndex, nil
}

// BorrowRate returns the current annual borrow rate, Unit-scaled.
func (v *Vault) BorrowRate() (*uint256.Int, error) {
	vault, err := v.State()
	if err != nil {
		return nil, err
	}
	return v.model.BorrowRate(vault.TotalBorrows, vault.TotalAssets)
}

// TotalAssets returns idle cash plus outstanding borrows as of now.
func (v *Vault) TotalAssets() (*uint256.Int, error) {
	vault, err := v.State()
	if err != nil {
		return nil, err
	}
	return vault.TotalAssets, nil
}

// TotalBorrows returns outstanding borrows including accrued interest.
func (v *Vault) TotalBorrows() (*uint256.Int, error) {
	vault, err := v.State()
	if err != nil {
		return nil, err
	}
	return vault.TotalBorrows, nil
}

// SharesOf returns the vault shares held by addr.
func (v *Vault) SharesOf(addr common.Address) (*uint256.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	shares, err := v.state.GetVaultShares(addr)
	if err != nil {
		return nil, err
	}
	return fixed.Clone(shares), nil
}

// PreviewDeposit returns the shares Deposit would mint for assets.
func (v *Vault) PreviewDeposit(assets *uint256.Int) (*uint256.Int, error) {
	vault, err := v.State()
	if err != nil {
		return nil, err
	}
	return toShares(vault, assets, fixed.Down)
}

// PreviewRedeem returns the assets Redeem would pay for shares.
func (v *Vault) PreviewRedeem(shares *uint256.Int) (*uint256.Int, error) {
	vault, err := v.State()
	if err != nil {
		return nil, err
	}
	return toAssets(vault, shares, fixed.Down)
}

// Deposit pulls assets from caller and mints shares, rounding down.
func (v *Vault) Deposit(caller common.Address, assets *uint256.Int) (*uint256.Int, error) {
	if fixed.IsZero(assets) {
		return nil, ErrInvalidAmount
	}
	return v.enter(caller, func(vault *VaultState) (*uint256.Int, *uint256.Int, error) {
		shares, err := toShares(vault, assets, fixed.Down)
		return fixed.Clone(assets), shares, err
	})
}

// Mint mints exactly shares to caller, pulling the assets they cost rounded up.
func (v *Vault) Mint(caller common.Address, shares *uint256.Int) (*uint256.Int, error) {
	if fixed.IsZero(shares) {
		return nil, ErrInvalidAmount
	}
	var paid *uint256.Int
	_, err := v.enter(caller, func(vault *VaultState) (*uint256.Int, *uint256.Int, error) {
		if !fixed.IsZero(vault.TotalShares) && fixed.IsZero(vault.TotalAssets) {
			return nil, nil, ErrInsolvent
		}
		assets, err := toAssets(vault, shares, fixed.Up)
		paid = assets
		return assets, fixed.Clone(shares), err
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// Withdraw burns the shares worth assets, rounding up, and pays caller.
func (v *Vault) Withdraw(caller common.Address, assets *uint256.Int) (*uint256.Int, error) {
	if fixed.IsZero(assets) {
		return nil, ErrInvalidAmount
	}
	var burned *uint256.Int
	_, err := v.exit(caller, func(vault *VaultState) (*uint256.Int, *uint256.Int, error) {
		shares, err := toShares(vault, assets, fixed.Up)
		burned = shares
		return fixed.Clone(assets), shares, err
	})
	if err != nil {
		return nil, err
	}
	return burned, nil
}

// Redeem burns shares and pays caller their value, rounding down.
func (v *Vault) Redeem(caller common.Address, shares *uint256.Int) (*uint256.Int, error) {
	if fixed.IsZero(shares) {
		return nil, ErrInvalidAmount
	}
	return v.exit(caller, func(vault *VaultState) (*uint256.Int, *uint256.Int, error) {
		assets, err := toAssets(vault, shares, fixed.Down)
		return assets, fixed.Clone(shares), err
	})
}

type conversion func(vault *VaultState) (assets, shares *uint256.Int, err error)

// enter books a deposit and returns the minted shares.
func (v *Vault) enter(caller common.Address, convert conversion) (*uint256.Int, error) {
	if err := nativecommon.Guard(v.pauses, nativecommon.ModuleVault); err != nil {
		return nil, err
	}
	release, err := v.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	vault, err := v.accrue()
	if err != nil {
		return nil, err
	}
	assets, shares, err := convert(vault)
	if err != nil {
		return nil, err
	}
	if fixed.IsZero(shares) {
		return nil, ErrZeroShares
	}
	held, err := v.state.GetVaultShares(caller)
	if err != nil {
		return nil, err
	}
	if held, err = fixed.Add(held, shares); err != nil {
		return nil, err
	}
	if vault.TotalShares, err = fixed.Add(vault.TotalShares, shares); err != nil {
		return nil, err
	}
	if vault.TotalAssets, err = fixed.Add(vault.TotalAssets, assets); err != nil {
		return nil, err
	}
	if err := v.state.PutVault(vault); err != nil {
		return nil, err
	}
	if err := v.state.PutVaultShares(caller, held); err != nil {
		return nil, err
	}
	if err := v.asset.Transfer(caller, v.address, assets); err != nil {
		return nil, err
	}
	v.emit(vaultFlowEvent(EventTypeVaultDeposited, caller, assets, shares))
	return shares, nil
}

// exit books a withdrawal and returns the assets paid.
func (v *Vault) exit(caller common.Address, convert conversion) (*uint256.Int, error) {
	if err := nativecommon.Guard(v.pauses, nativecommon.ModuleVault); err != nil {
		return nil, err
	}
	release, err := v.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	vault, err := v.accrue()
	if err != nil {
		return nil, err
	}
	assets, shares, err := convert(vault)
	if err != nil {
		return nil, err
	}
	if fixed.IsZero(assets) {
		return nil, ErrInvalidAmount
	}
	held, err := v.state.GetVaultShares(caller)
	if err != nil {
		return nil, err
	}
	remaining, err := fixed.Sub(held, shares)
	if err != nil {
		return nil, ErrInsufficientShares
	}
	if vault.Cash().Lt(assets) {
		return nil, ErrInsufficientLiquidity
	}
	vault.TotalShares = new(uint256.Int).Sub(vault.TotalShares, shares)
	vault.TotalAssets = new(uint256.Int).Sub(vault.TotalAssets, assets)
	if err := v.state.PutVault(vault); err != nil {
		return nil, err
	}
	if err := v.state.PutVaultShares(caller, remaining); err != nil {
		return nil, err
	}
	if err := v.asset.Transfer(v.address, caller, assets); err != nil {
		return nil, err
	}
	v.emit(vaultFlowEvent(EventTypeVaultWithdrawn, caller, assets, shares))
	return assets, nil
}

func (v *Vault) authorise(caller common.Address) error {
	if caller != v.ledger {
		return ErrUnauthorized
	}
	return nil
}

// Borrow lends amount of idle cash to recipient on behalf of the ledger.
func (v *Vault) Borrow(caller, recipient common.Address, amount *uint256.Int) error {
	if err := v.authorise(caller); err != nil {
		return err
	}
	release, err := v.lock.Enter()
	if err != nil {
		return err
	}
	defer release()
	if fixed.IsZero(amount) {
		return ErrInvalidAmount
	}
	vault, err := v.accrue()
	if err != nil {
		return err
	}
	if vault.Cash().Lt(amount) {
		return ErrInsufficientLiquidity
	}
	if vault.TotalBorrows, err = fixed.Add(vault.TotalBorrows, amount); err != nil {
		return err
	}
	if err := v.state.PutVault(vault); err != nil {
		return err
	}
	return v.asset.Transfer(v.address, recipient, amount)
}

// Repay pulls amount from payer and retires outstanding borrows. Any excess
// over TotalBorrows, which can only be rounding dust, is kept as assets.
func (v *Vault) Repay(caller, payer common.Address, amount *uint256.Int) error {
	if err := v.authorise(caller); err != nil {
		return err
	}
	release, err := v.lock.Enter()
	if err != nil {
		return err
	}
	defer release()
	if fixed.IsZero(amount) {
		return ErrInvalidAmount
	}
	vault, err := v.accrue()
	if err != nil {
		return err
	}
	retired := fixed.Min(amount, vault.TotalBorrows)
	vault.TotalBorrows = new(uint256.Int).Sub(vault.TotalBorrows, retired)
	if vault.TotalAssets, err = fixed.Add(vault.TotalAssets, new(uint256.Int).Sub(amount, retired)); err != nil {
		return err
	}
	if err := v.state.PutVault(vault); err != nil {
		return err
	}
	return v.asset.Transfer(payer, v.address, amount)
}

// WriteOff absorbs an unrecoverable loss, reducing borrows and assets alike so
// that every share bears it pro rata.
func (v *Vault) WriteOff(caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := v.authorise(caller); err != nil {
		return nil, err
	}
	release, err := v.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	vault, err := v.accrue()
	if err != nil {
		return nil, err
	}
	loss := fixed.Min(amount, vault.TotalBorrows)
	if loss.IsZero() {
		return loss, nil
	}
	vault.TotalBorrows = new(uint256.Int).Sub(vault.TotalBorrows, loss)
	vault.TotalAssets = new(uint256.Int).Sub(vault.TotalAssets, loss)
	if err := v.state.PutVault(vault); err != nil {
		return nil, err
	}
	v.emit(writeOffEvent(loss, vault))
	return loss, nil
}
