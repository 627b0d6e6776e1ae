package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"floorlend/core/events"
	"floorlend/core/state"
	"floorlend/native/amm"
	nativecommon "floorlend/native/common"
	"floorlend/native/lending"
	"floorlend/native/token"
	"floorlend/observability"
	"floorlend/storage"
)

// ErrUnknownAsset is returned when a symbol names neither protocol asset.
var ErrUnknownAsset = errors.New("protocol: unknown asset")

// ProtocolOption customises the protocol instance.
type ProtocolOption func(*Protocol)

// WithLogger sets the structured logger. The component attribute is added.
func WithLogger(logger *slog.Logger) ProtocolOption {
	return func(p *Protocol) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEmitter forwards committed events to emitter.
func WithEmitter(emitter events.Emitter) ProtocolOption {
	return func(p *Protocol) {
		if emitter != nil {
			p.emitter = emitter
		}
	}
}

// WithClock overrides the time source used for accrual, grace periods and
// event timestamps.
func WithClock(clock func() time.Time) ProtocolOption {
	return func(p *Protocol) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m *observability.ProtocolMetrics) ProtocolOption {
	return func(p *Protocol) { p.metrics = m }
}

// Protocol sequences every operation against a single state arena. Calls are
// totally ordered by a mutex; each runs inside an arena snapshot that is
// reverted on failure, so a rejected call leaves no trace in state, in the
// store or on the event stream.
type Protocol struct {
	mu sync.Mutex

	params Params
	arena  *state.Arena
	db     storage.Database

	floorToken *token.Ledger
	quoteToken *token.Ledger
	pool       *amm.Pool
	collector  *amm.Collector
	vault      *lending.Vault
	ledger     *lending.Ledger

	recorder *events.Recorder
	emitter  events.Emitter
	logger   *slog.Logger
	metrics  *observability.ProtocolMetrics
	clock    func() time.Time
}

// NewProtocol loads the arena from db and runs genesis when the store holds no
// pool yet. A nil db keeps state in memory only.
func NewProtocol(db storage.Database, params Params, opts ...ProtocolOption) (*Protocol, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Treasury == (common.Address{}) {
		params.Treasury = TreasuryAddress
	}
	arena, err := state.Load(db)
	if err != nil {
		return nil, err
	}
	p := &Protocol{
		params:   params,
		arena:    arena,
		db:       db,
		recorder: &events.Recorder{},
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		metrics:  observability.Protocol(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "protocol")
	p.wire()

	existing, err := arena.GetPool()
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := p.run("genesis", PoolAddress, p.genesis); err != nil {
			return nil, fmt.Errorf("protocol: genesis: %w", err)
		}
	}
	return p, nil
}

func (p *Protocol) wire() {
	now := func() int64 { return p.clock().Unix() }
	pauses := nativecommon.StaticPauses(p.params.Pauses)

	p.floorToken = token.NewLedger(strings.ToUpper(strings.TrimSpace(p.params.FloorSymbol)), p.params.FloorSupplyCap)
	p.floorToken.SetState(p.arena)
	p.quoteToken = token.NewLedger(strings.ToUpper(strings.TrimSpace(p.params.QuoteSymbol)), nil)
	p.quoteToken.SetState(p.arena)

	p.pool = amm.NewPool(PoolAddress, FeeHolderAddress, p.floorToken, p.quoteToken)
	p.pool.SetState(p.arena)
	p.pool.SetPauses(pauses)
	p.pool.SetEmitter(p.recorder)
	p.pool.SetNowFunc(now)
	p.collector = amm.NewCollector(p.pool, p.floorToken, p.quoteToken, p.params.Treasury)

	p.vault = lending.NewVault(VaultAddress, LedgerAddress, p.quoteToken, p.params.Interest)
	p.vault.SetState(p.arena)
	p.vault.SetPauses(pauses)
	p.vault.SetEmitter(p.recorder)
	p.vault.SetNowFunc(now)

	p.ledger = lending.NewLedger(LedgerAddress, p.floorToken, p.quoteToken, p.pool, p.vault, p.params.Ledger)
	p.ledger.SetState(p.arena)
	p.ledger.SetPauses(pauses)
	p.ledger.SetEmitter(p.recorder)
	p.ledger.SetNowFunc(now)
}

func (p *Protocol) genesis() error {
	for _, alloc := range p.params.Allocations {
		asset, err := p.asset(alloc.Symbol)
		if err != nil {
			return err
		}
		if err := asset.Mint(alloc.Address, alloc.Amount); err != nil {
			return err
		}
	}
	if err := p.floorToken.Mint(PoolAddress, p.params.Pool.ReserveFloor); err != nil {
		return err
	}
	if err := p.quoteToken.Mint(PoolAddress, p.params.Pool.ReserveQuote); err != nil {
		return err
	}
	return p.pool.Initialize(p.params.Pool)
}

func (p *Protocol) asset(symbol string) (*token.Ledger, error) {
	switch strings.ToUpper(strings.TrimSpace(symbol)) {
	case p.floorToken.Symbol():
		return p.floorToken, nil
	case p.quoteToken.Symbol():
		return p.quoteToken, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, symbol)
	}
}

// execute runs fn on behalf of an external caller. Module identities are
// refused before any state is touched.
func (p *Protocol) execute(op string, caller common.Address, fn func() error) error {
	if IsReservedAccount(caller) {
		p.logger.Warn("operation rejected", "op", op, "account", caller.Hex(), "error", ErrReservedAccount)
		return fmt.Errorf("%w: %s", ErrReservedAccount, caller.Hex())
	}
	return p.run(op, caller, fn)
}

// run executes fn as one atomic unit: on error the arena is reverted and
// buffered events are dropped; on success dirty records are flushed and the
// events are published.
func (p *Protocol) run(op string, account common.Address, fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	snapshot := p.arena.Snapshot()
	err := fn()
	if err == nil {
		err = p.arena.Flush(p.db)
	}
	p.metrics.ObserveOperation(op, time.Since(start), err)
	if err != nil {
		p.arena.RevertToSnapshot(snapshot)
		p.recorder.Reset()
		p.logger.Info("operation rejected", "op", op, "account", account.Hex(), "error", err)
		return err
	}
	p.arena.Commit()
	for _, evt := range p.recorder.Drain() {
		observability.Events().RecordEvent(evt.EventType())
		p.emitter.Emit(evt)
	}
	p.publishGauges()
	p.logger.Debug("operation committed", "op", op, "account", account.Hex())
	return nil
}

func (p *Protocol) publishGauges() {
	if p.metrics == nil {
		return
	}
	if pool, err := p.pool.State(); err == nil {
		snap := observability.PoolSnapshot{ReserveFloor: pool.ReserveFloor, ReserveQuote: pool.ReserveQuote}
		snap.FloorPrice, _ = p.pool.FloorPrice()
		snap.SpotPrice, _ = p.pool.SpotPrice()
		snap.FeeBps, _ = p.pool.CurrentFeeBps()
		p.metrics.RecordPool(snap)
	}
	if vault, err := p.vault.State(); err == nil {
		rate, _ := p.vault.BorrowRate()
		p.metrics.RecordVault(vault.TotalAssets, vault.TotalBorrows, rate)
	}
}

// Transfer moves a protocol asset between accounts.
func (p *Protocol) Transfer(caller common.Address, symbol string, to common.Address, amount *uint256.Int) error {
	return p.execute("asset.transfer", caller, func() error {
		asset, err := p.asset(symbol)
		if err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return token.ErrInvalidAmount
		}
		return asset.Transfer(caller, to, amount)
	})
}

// Swap executes an exact-output swap. amountOut0 is paid in the collateral
// asset and amountOut1 in the quote asset.
func (p *Protocol) Swap(caller common.Address, amountOut0, amountOut1 *uint256.Int, recipient common.Address) (*amm.SwapResult, error) {
	var out *amm.SwapResult
	err := p.execute("pool.swap", caller, func() error {
		var err error
		out, err = p.pool.Swap(caller, amountOut0, amountOut1, recipient)
		return err
	})
	return out, err
}

// SwapExactIn sells amountIn of the given side for at least minOut.
func (p *Protocol) SwapExactIn(caller common.Address, in amm.Side, amountIn, minOut *uint256.Int, recipient common.Address) (*amm.SwapResult, error) {
	var out *amm.SwapResult
	err := p.execute("pool.swap_exact_in", caller, func() error {
		var err error
		out, err = p.pool.SwapExactIn(caller, in, amountIn, minOut, recipient)
		return err
	})
	return out, err
}

// CollectFees converts accrued swap fees into collateral burns and routes
// the quote side to the treasury. Anyone may trigger it.
func (p *Protocol) CollectFees(caller common.Address) (*amm.Collection, error) {
	var out *amm.Collection
	err := p.execute("pool.collect_fees", caller, func() error {
		var err error
		out, err = p.collector.Collect()
		return err
	})
	if err == nil {
		p.metrics.RecordCollection(out.FloorBurned)
	}
	return out, err
}

func (p *Protocol) DepositCollateral(caller common.Address, amount *uint256.Int) error {
	return p.execute("ledger.deposit", caller, func() error {
		return p.ledger.DepositCollateral(caller, amount)
	})
}

func (p *Protocol) WithdrawCollateral(caller common.Address, amount *uint256.Int) error {
	return p.execute("ledger.withdraw", caller, func() error {
		return p.ledger.WithdrawCollateral(caller, amount)
	})
}

func (p *Protocol) Borrow(caller common.Address, amount *uint256.Int) error {
	return p.execute("ledger.borrow", caller, func() error {
		return p.ledger.Borrow(caller, amount)
	})
}

// Repay returns the amount actually applied to the caller's debt.
func (p *Protocol) Repay(caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var paid *uint256.Int
	err := p.execute("ledger.repay", caller, func() error {
		var err error
		paid, err = p.ledger.Repay(caller, amount)
		return err
	})
	return paid, err
}

func (p *Protocol) MarkDelinquent(caller, account common.Address) error {
	return p.execute("ledger.mark", caller, func() error {
		return p.ledger.MarkDelinquent(caller, account)
	})
}

func (p *Protocol) Recover(caller, account common.Address) (*lending.RecoveryResult, error) {
	var out *lending.RecoveryResult
	err := p.execute("ledger.recover", caller, func() error {
		var err error
		out, err = p.ledger.Recover(caller, account)
		return err
	})
	if err == nil {
		p.metrics.RecordRecovery(out.Burned, out.Shortfall)
		p.logger.Info("position recovered",
			"op", "ledger.recover",
			"account", account.Hex(),
			"keeper", caller.Hex(),
			"debt", out.Debt.Dec(),
			"shortfall", out.Shortfall.Dec(),
		)
	}
	return out, err
}

// VaultDeposit supplies quote assets and returns the shares minted.
func (p *Protocol) VaultDeposit(caller common.Address, assets *uint256.Int) (*uint256.Int, error) {
	return p.vaultOp("vault.deposit", caller, func() (*uint256.Int, error) { return p.vault.Deposit(caller, assets) })
}

// VaultMint mints exactly shares and returns the assets pulled.
func (p *Protocol) VaultMint(caller common.Address, shares *uint256.Int) (*uint256.Int, error) {
	return p.vaultOp("vault.mint", caller, func() (*uint256.Int, error) { return p.vault.Mint(caller, shares) })
}

// VaultWithdraw pays out assets and returns the shares burned.
func (p *Protocol) VaultWithdraw(caller common.Address, assets *uint256.Int) (*uint256.Int, error) {
	return p.vaultOp("vault.withdraw", caller, func() (*uint256.Int, error) { return p.vault.Withdraw(caller, assets) })
}

// VaultRedeem burns shares and returns the assets paid.
func (p *Protocol) VaultRedeem(caller common.Address, shares *uint256.Int) (*uint256.Int, error) {
	return p.vaultOp("vault.redeem", caller, func() (*uint256.Int, error) { return p.vault.Redeem(caller, shares) })
}

func (p *Protocol) vaultOp(op string, caller common.Address, fn func() (*uint256.Int, error)) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.execute(op, caller, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// AccrueInterest brings the vault aggregates up to the protocol clock.
func (p *Protocol) AccrueInterest(caller common.Address) (*lending.VaultState, error) {
	var out *lending.VaultState
	err := p.execute("vault.accrue", caller, func() error {
		var err error
		out, err = p.vault.AccrueInterest()
		return err
	})
	return out, err
}
