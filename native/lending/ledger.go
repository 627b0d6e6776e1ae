package lending

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"floorlend/core/events"
	"floorlend/core/types"
	"floorlend/native/amm"
	nativecommon "floorlend/native/common"
	"floorlend/native/fixed"
	"floorlend/native/token"
)

var (
	ErrOutstandingDebt        = errors.New("lending engine: outstanding debt")
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	ErrExceedsFloorValue      = errors.New("lending engine: borrow exceeds floor value of collateral")
	ErrNoDebt                 = errors.New("lending engine: no outstanding debt to repay")
	ErrAlreadyMarked          = errors.New("lending engine: position already marked delinquent")
	ErrPositionHealthy        = errors.New("lending engine: position is healthy")
	ErrNotMarked              = errors.New("lending engine: position not marked delinquent")
	ErrGracePeriodActive      = errors.New("lending engine: grace period still active")
)

type ledgerState interface {
	GetPosition(addr common.Address) (*Position, error)
	PutPosition(addr common.Address, pos *Position) error
}

// PriceSource is the slice of the pricing pool the ledger depends on.
type PriceSource interface {
	FloorPrice() (*uint256.Int, error)
	SpotPrice() (*uint256.Int, error)
	QuoteExactIn(in amm.Side, amountIn *uint256.Int) (*uint256.Int, error)
	SwapExactIn(caller common.Address, in amm.Side, amountIn, minOut *uint256.Int, recipient common.Address) (*amm.SwapResult, error)
}

// Lender is the slice of the vault the ledger depends on.
type Lender interface {
	AccrueInterest() (*VaultState, error)
	ProjectedBorrowIndex() (*uint256.Int, error)
	Borrow(caller, recipient common.Address, amount *uint256.Int) error
	Repay(caller, payer common.Address, amount *uint256.Int) error
	WriteOff(caller common.Address, amount *uint256.Int) (*uint256.Int, error)
}

// Ledger tracks per-account collateral and debt. Borrowing is capped by the
// floor price while health is judged against the spot price; the two bounds
// are deliberately distinct.
type Ledger struct {
	state      ledgerState
	address    common.Address
	collateral token.Burnable
	quote      token.Asset
	pool       PriceSource
	vault      Lender
	cfg        Config
	pauses     nativecommon.PauseView
	emitter    events.Emitter
	nowFn      func() int64
	lock       nativecommon.Lock
}

// NewLedger constructs a ledger holding collateral at address. Recovery
// proceeds are paid out in quote.
func NewLedger(address common.Address, collateral token.Burnable, quote token.Asset, pool PriceSource, vault Lender, cfg Config) *Ledger {
	return &Ledger{
		address:    address,
		collateral: collateral,
		quote:      quote,
		pool:       pool,
		vault:      vault,
		cfg:        cfg,
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the clock used for delinquency marks.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// Address returns the account holding deposited collateral.
func (l *Ledger) Address() common.Address { return l.address }

func (l *Ledger) now() uint64 {
	ts := time.Now().Unix()
	if l.nowFn != nil {
		ts = l.nowFn()
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (l *Ledger) graceSeconds() uint64 {
	return uint64(l.cfg.GracePeriod / time.Second)
}

func (l *Ledger) emit(evt *types.Event) {
	if l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(events.Wrap(evt))
}

func (l *Ledger) loadPosition(addr common.Address) (*Position, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	pos, err := l.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	return ensurePosition(pos), nil
}

// begin applies the pause guard and reentrancy flag, then accrues vault
// interest so that debt is evaluated at the current index.
func (l *Ledger) begin() (func(), *uint256.Int, error) {
	if err := nativecommon.Guard(l.pauses, nativecommon.ModuleLedger); err != nil {
		return nil, nil, err
	}
	release, err := l.lock.Enter()
	if err != nil {
		return nil, nil, err
	}
	vault, err := l.vault.AccrueInterest()
	if err != nil {
		release()
		return nil, nil, err
	}
	return release, vault.BorrowIndex, nil
}

func (l *Ledger) healthy(pos *Position, index *uint256.Int) (bool, error) {
	debt, err := liveDebt(pos, index)
	if err != nil {
		return false, err
	}
	if debt.IsZero() {
		return true, nil
	}
	spot, err := l.pool.SpotPrice()
	if err != nil {
		return false, err
	}
	value, err := valueAt(pos.Collateral, spot)
	if err != nil {
		return false, err
	}
	return !debt.Gt(value), nil
}

func clearMark(pos *Position) {
	pos.Delinquent = false
	pos.MarkedAt = 0
}

// DepositCollateral moves amount from caller into the ledger. A delinquent
// position whose health is restored has its mark cleared.
func (l *Ledger) DepositCollateral(caller common.Address, amount *uint256.Int) error {
	if fixed.IsZero(amount) {
		return ErrInvalidAmount
	}
	release, index, err := l.begin()
	if err != nil {
		return err
	}
	defer release()

	pos, err := l.loadPosition(caller)
	if err != nil {
		return err
	}
	if pos.Collateral, err = fixed.Add(pos.Collateral, amount); err != nil {
		return err
	}
	if pos.Delinquent {
		ok, err := l.healthy(pos, index)
		if err != nil {
			return err
		}
		if ok {
			clearMark(pos)
		}
	}
	if err := l.state.PutPosition(caller, pos); err != nil {
		return err
	}
	if err := l.collateral.Transfer(caller, l.address, amount); err != nil {
		return err
	}
	l.emit(positionEvent(EventTypeCollateralDeposited, caller, amount, pos))
	return nil
}

// WithdrawCollateral returns collateral to a debt-free caller.
func (l *Ledger) WithdrawCollateral(caller common.Address, amount *uint256.Int) error {
	if fixed.IsZero(amount) {
		return ErrInvalidAmount
	}
	release, _, err := l.begin()
	if err != nil {
		return err
	}
	defer release()

	pos, err := l.loadPosition(caller)
	if err != nil {
		return err
	}
	if !pos.DebtPrincipal.IsZero() {
		return ErrOutstandingDebt
	}
	remaining, err := fixed.Sub(pos.Collateral, amount)
	if err != nil {
		return ErrInsufficientCollateral
	}
	pos.Collateral = remaining
	if err := l.state.PutPosition(caller, pos); err != nil {
		return err
	}
	if err := l.collateral.Transfer(l.address, caller, amount); err != nil {
		return err
	}
	l.emit(positionEvent(EventTypeCollateralWithdrawn, caller, amount, pos))
	return nil
}

// Borrow draws amount from the vault against the floor value of the caller's
// collateral.
func (l *Ledger) Borrow(caller common.Address, amount *uint256.Int) error {
	if fixed.IsZero(amount) {
		return ErrInvalidAmount
	}
	release, index, err := l.begin()
	if err != nil {
		return err
	}
	defer release()

	pos, err := l.loadPosition(caller)
	if err != nil {
		return err
	}
	debt, err := liveDebt(pos, index)
	if err != nil {
		return err
	}
	floorPrice, err := l.pool.FloorPrice()
	if err != nil {
		return err
	}
	maxBorrow, err := valueAt(pos.Collateral, floorPrice)
	if err != nil {
		return err
	}
	next, err := fixed.Add(debt, amount)
	if err != nil {
		return err
	}
	if next.Gt(maxBorrow) {
		return ErrExceedsFloorValue
	}
	pos.DebtPrincipal = next
	pos.DebtIndex = fixed.Clone(index)
	clearMark(pos)
	if err := l.state.PutPosition(caller, pos); err != nil {
		return err
	}
	if err := l.vault.Borrow(l.address, caller, amount); err != nil {
		return err
	}
	l.emit(positionEvent(EventTypeBorrowed, caller, amount, pos))
	return nil
}

// Repay settles up to amount of the caller's live debt and returns the amount
// actually repaid.
func (l *Ledger) Repay(caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if fixed.IsZero(amount) {
		return nil, ErrInvalidAmount
	}
	release, index, err := l.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	pos, err := l.loadPosition(caller)
	if err != nil {
		return nil, err
	}
	debt, err := liveDebt(pos, index)
	if err != nil {
		return nil, err
	}
	if debt.IsZero() {
		return nil, ErrNoDebt
	}
	paid := fixed.Min(amount, debt)
	remaining := new(uint256.Int).Sub(debt, paid)
	if remaining.IsZero() {
		pos.DebtPrincipal = fixed.Zero()
		pos.DebtIndex = fixed.Zero()
		clearMark(pos)
	} else {
		pos.DebtPrincipal = remaining
		pos.DebtIndex = fixed.Clone(index)
	}
	if err := l.state.PutPosition(caller, pos); err != nil {
		return nil, err
	}
	if err := l.vault.Repay(l.address, caller, paid); err != nil {
		return nil, err
	}
	l.emit(positionEvent(EventTypeRepaid, caller, paid, pos))
	return paid, nil
}

// MarkDelinquent starts the grace period for an unhealthy position.
func (l *Ledger) MarkDelinquent(caller, account common.Address) error {
	release, index, err := l.begin()
	if err != nil {
		return err
	}
	defer release()

	pos, err := l.loadPosition(account)
	if err != nil {
		return err
	}
	if pos.Delinquent {
		return ErrAlreadyMarked
	}
	ok, err := l.healthy(pos, index)
	if err != nil {
		return err
	}
	if ok {
		return ErrPositionHealthy
	}
	pos.Delinquent = true
	pos.MarkedAt = l.now()
	if err := l.state.PutPosition(account, pos); err != nil {
		return err
	}
	l.emit(markedEvent(caller, account, pos, l.graceSeconds()))
	return nil
}

// Recover liquidates a delinquent position once its grace period has fully
// elapsed. The collateral is sold through the pool; proceeds repay the vault,
// any shortfall is written off, and any surplus pays the caller a bounty with
// the rest refunded to the account holder.
func (l *Ledger) Recover(caller, account common.Address) (*RecoveryResult, error) {
	release, index, err := l.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	pos, err := l.loadPosition(account)
	if err != nil {
		return nil, err
	}
	if !pos.Delinquent {
		return nil, ErrNotMarked
	}
	if l.now() <= pos.MarkedAt+l.graceSeconds() {
		return nil, ErrGracePeriodActive
	}
	debt, err := liveDebt(pos, index)
	if err != nil {
		return nil, err
	}
	collateral := fixed.Clone(pos.Collateral)
	if err := l.state.PutPosition(account, &Position{}); err != nil {
		return nil, err
	}

	res := &RecoveryResult{
		Collateral: collateral,
		Debt:       debt,
		Proceeds:   fixed.Zero(),
		Repaid:     fixed.Zero(),
		Shortfall:  fixed.Zero(),
		Bounty:     fixed.Zero(),
		Refund:     fixed.Zero(),
	}
	if !collateral.IsZero() {
		quoted, err := l.pool.QuoteExactIn(amm.SideFloor, collateral)
		if err != nil {
			return nil, err
		}
		if quoted.IsZero() {
			if err := l.collateral.Burn(l.address, collateral); err != nil {
				return nil, err
			}
			res.Burned = true
		} else {
			swap, err := l.pool.SwapExactIn(l.address, amm.SideFloor, collateral, quoted, l.address)
			if err != nil {
				return nil, err
			}
			res.Proceeds = swap.AmountOut
		}
	}

	res.Repaid = fixed.Min(res.Proceeds, debt)
	if !res.Repaid.IsZero() {
		if err := l.vault.Repay(l.address, l.address, res.Repaid); err != nil {
			return nil, err
		}
	}
	res.Shortfall = new(uint256.Int).Sub(debt, res.Repaid)
	if !res.Shortfall.IsZero() {
		if _, err := l.vault.WriteOff(l.address, res.Shortfall); err != nil {
			return nil, err
		}
	}
	surplus := new(uint256.Int).Sub(res.Proceeds, res.Repaid)
	if !surplus.IsZero() {
		maxBounty, err := fixed.ApplyBps(res.Proceeds, l.cfg.RecoveryBountyBps)
		if err != nil {
			return nil, err
		}
		res.Bounty = fixed.Min(surplus, maxBounty)
		res.Refund = new(uint256.Int).Sub(surplus, res.Bounty)
		if err := l.quoteTransfer(caller, res.Bounty); err != nil {
			return nil, err
		}
		if err := l.quoteTransfer(account, res.Refund); err != nil {
			return nil, err
		}
	}
	l.emit(recoveredEvent(caller, account, res))
	return res, nil
}

// IsPositionHealthy reports whether live debt is covered by the spot value of
// the collateral.
func (l *Ledger) IsPositionHealthy(account common.Address) (bool, error) {
	pos, err := l.loadPosition(account)
	if err != nil {
		return false, err
	}
	index, err := l.vault.ProjectedBorrowIndex()
	if err != nil {
		return false, err
	}
	return l.healthy(pos, index)
}

// GetAccountState returns the position read model as of now.
func (l *Ledger) GetAccountState(account common.Address) (*AccountState, error) {
	pos, err := l.loadPosition(account)
	if err != nil {
		return nil, err
	}
	index, err := l.vault.ProjectedBorrowIndex()
	if err != nil {
		return nil, err
	}
	debt, err := liveDebt(pos, index)
	if err != nil {
		return nil, err
	}
	ok, err := l.healthy(pos, index)
	if err != nil {
		return nil, err
	}
	floorPrice, err := l.pool.FloorPrice()
	if err != nil {
		return nil, err
	}
	maxBorrow, err := valueAt(pos.Collateral, floorPrice)
	if err != nil {
		return nil, err
	}
	st := &AccountState{
		Status:     StatusHealthy,
		Collateral: fixed.Clone(pos.Collateral),
		Debt:       debt,
		MaxBorrow:  maxBorrow,
		Healthy:    ok,
		Delinquent: pos.Delinquent,
		MarkedAt:   pos.MarkedAt,
	}
	switch {
	case pos.Delinquent:
		st.Status = StatusDelinquent
		deadline := pos.MarkedAt + l.graceSeconds()
		st.RecoverableAt = deadline + 1
		if now := l.now(); now < deadline {
			st.GraceRemaining = deadline - now
		}
	case pos.IsEmpty():
		st.Status = StatusEmpty
	}
	return st, nil
}

// quoteTransfer pays out recovery proceeds held by the ledger.
func (l *Ledger) quoteTransfer(to common.Address, amount *uint256.Int) error {
	if fixed.IsZero(amount) {
		return nil
	}
	return l.quote.Transfer(l.address, to, amount)
}
