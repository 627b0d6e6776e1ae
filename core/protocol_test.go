package core

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"floorlend/core/events"
	"floorlend/core/state"
	"floorlend/native/amm"
	nativecommon "floorlend/native/common"
	"floorlend/native/lending"
	"floorlend/storage"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
	carol = common.HexToAddress("0xca401")
)

const genesisUnix = 1_700_000_000

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

type testClock struct{ now time.Time }

func newTestClock() *testClock { return &testClock{now: time.Unix(genesisUnix, 0)} }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
func (c *testClock) Unix() uint64            { return uint64(c.now.Unix()) }

type captureEmitter struct{ types []string }

func (c *captureEmitter) Emit(evt events.Event) { c.types = append(c.types, evt.EventType()) }

type fixture struct {
	protocol *Protocol
	db       storage.Database
	clock    *testClock
	events   *captureEmitter
	params   Params
}

func testParams() Params {
	params := DefaultParams()
	params.Allocations = []Allocation{
		{Address: alice, Symbol: "FLR", Amount: units(2_000)},
		{Address: bob, Symbol: "QUOTE", Amount: units(1_000)},
	}
	return params
}

func newFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	f := &fixture{db: storage.NewMemDB(), clock: newTestClock(), events: &captureEmitter{}, params: params}
	p, err := NewProtocol(f.db, params, WithClock(f.clock.Now), WithEmitter(f.events), WithMetrics(nil))
	require.NoError(t, err)
	f.protocol = p
	return f
}

func (f *fixture) floorBalances() *uint256.Int {
	total := new(uint256.Int)
	for _, addr := range []common.Address{alice, bob, carol, PoolAddress, LedgerAddress, VaultAddress, FeeHolderAddress, TreasuryAddress} {
		total.Add(total, f.protocol.floorToken.BalanceOf(addr))
	}
	return total
}

func TestGenesisWithoutExternalSupplyPricesAtDiscountedSpot(t *testing.T) {
	f := newFixture(t, DefaultParams())
	view, err := f.protocol.Pool()
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(10_000_000_000_000_000), view.SpotPrice)
	require.Equal(t, uint256.NewInt(9_950_000_000_000_000), view.FloorPrice)
	require.Equal(t, uint64(300), view.FeeBps)
	require.Equal(t, units(1_000_000), view.Supply)
}

func TestGenesisWithExternalSupplyPricesBelowSpot(t *testing.T) {
	f := newFixture(t, testParams())
	view, err := f.protocol.Pool()
	require.NoError(t, err)
	require.Equal(t, units(1_002_000), view.Supply)
	require.Equal(t, units(1_002_000), view.InitialSupply)
	require.True(t, view.FloorPrice.Sign() > 0)
	require.True(t, view.FloorPrice.Lt(view.SpotPrice))
	require.True(t, view.FeeHolderShare.IsZero())
}

func TestNewProtocolRejectsInvalidParams(t *testing.T) {
	params := testParams()
	params.QuoteSymbol = "flr"
	_, err := NewProtocol(storage.NewMemDB(), params)
	require.ErrorIs(t, err, errInvalidParams)

	params = testParams()
	params.Pauses = map[string]bool{"bridge": true}
	_, err = NewProtocol(storage.NewMemDB(), params)
	require.ErrorIs(t, err, errInvalidParams)
}

func TestFailedOperationLeavesNoTrace(t *testing.T) {
	f := newFixture(t, testParams())
	p := f.protocol
	require.NoError(t, p.DepositCollateral(alice, units(1_000)))
	_, err := p.VaultDeposit(bob, units(100))
	require.NoError(t, err)

	root, err := p.Root()
	require.NoError(t, err)
	emitted := len(f.events.types)

	err = p.Borrow(alice, units(50))
	require.ErrorIs(t, err, lending.ErrExceedsFloorValue)

	after, err := p.Root()
	require.NoError(t, err)
	require.Equal(t, root, after)
	require.Len(t, f.events.types, emitted)

	stored, err := state.Load(f.db)
	require.NoError(t, err)
	storedRoot, err := stored.Root()
	require.NoError(t, err)
	require.Equal(t, root, storedRoot)
}

func TestCommittedEventsAreForwarded(t *testing.T) {
	f := newFixture(t, testParams())
	f.events.types = nil

	require.NoError(t, f.protocol.DepositCollateral(alice, units(10)))
	require.Equal(t, []string{lending.EventTypeCollateralDeposited}, f.events.types)

	require.Error(t, f.protocol.WithdrawCollateral(alice, units(11)))
	require.Len(t, f.events.types, 1)
}

func TestStateSurvivesRestart(t *testing.T) {
	f := newFixture(t, testParams())
	p := f.protocol
	require.NoError(t, p.DepositCollateral(alice, units(1_000)))
	_, err := p.VaultDeposit(bob, units(100))
	require.NoError(t, err)
	require.NoError(t, p.Borrow(alice, units(5)))
	root, err := p.Root()
	require.NoError(t, err)

	restarted, err := NewProtocol(f.db, f.params, WithClock(f.clock.Now), WithMetrics(nil))
	require.NoError(t, err)
	again, err := restarted.Root()
	require.NoError(t, err)
	require.Equal(t, root, again)

	account, err := restarted.Account(alice)
	require.NoError(t, err)
	require.Equal(t, units(1_000), account.Position.Collateral)
	require.Equal(t, units(5), account.Position.Debt)
	require.Equal(t, []common.Address{alice}, restarted.Positions())
}

func TestPausedModuleBlocksMutationsOnly(t *testing.T) {
	params := testParams()
	params.Pauses = map[string]bool{nativecommon.ModuleLedger: true}
	f := newFixture(t, params)

	err := f.protocol.DepositCollateral(alice, units(1))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	_, err = f.protocol.Account(alice)
	require.NoError(t, err)
	_, err = f.protocol.VaultDeposit(bob, units(1))
	require.NoError(t, err)
}

func TestUnknownAssetTransfer(t *testing.T) {
	f := newFixture(t, testParams())
	require.ErrorIs(t, f.protocol.Transfer(alice, "DOGE", bob, units(1)), ErrUnknownAsset)
	require.NoError(t, f.protocol.Transfer(alice, "flr", carol, units(1)))
	require.Equal(t, units(1), f.protocol.floorToken.BalanceOf(carol))
}

func TestModuleAccountsCannotAct(t *testing.T) {
	f := newFixture(t, testParams())
	p := f.protocol
	require.NoError(t, p.DepositCollateral(alice, units(1_000)))
	emitted := len(f.events.types)
	root, err := p.Root()
	require.NoError(t, err)

	require.ErrorIs(t, p.Transfer(LedgerAddress, "FLR", carol, units(1_000)), ErrReservedAccount)
	require.ErrorIs(t, p.Transfer(PoolAddress, "QUOTE", carol, units(5_000)), ErrReservedAccount)
	require.ErrorIs(t, p.Transfer(FeeHolderAddress, "FLR", carol, units(1)), ErrReservedAccount)
	require.ErrorIs(t, p.Transfer(TreasuryAddress, "QUOTE", carol, units(1)), ErrReservedAccount)
	_, err = p.SwapExactIn(PoolAddress, amm.SideFloor, units(10), nil, carol)
	require.ErrorIs(t, err, ErrReservedAccount)
	_, err = p.Swap(LedgerAddress, units(1), nil, carol)
	require.ErrorIs(t, err, ErrReservedAccount)
	_, err = p.VaultDeposit(VaultAddress, units(1))
	require.ErrorIs(t, err, ErrReservedAccount)
	_, err = p.VaultRedeem(VaultAddress, units(1))
	require.ErrorIs(t, err, ErrReservedAccount)
	require.ErrorIs(t, p.DepositCollateral(LedgerAddress, units(1)), ErrReservedAccount)
	require.ErrorIs(t, p.WithdrawCollateral(LedgerAddress, units(1)), ErrReservedAccount)
	require.ErrorIs(t, p.MarkDelinquent(VaultAddress, alice), ErrReservedAccount)

	after, err := p.Root()
	require.NoError(t, err)
	require.Equal(t, root, after)
	require.Len(t, f.events.types, emitted)

	pool, err := p.Pool()
	require.NoError(t, err)
	require.Equal(t, pool.ReserveFloor, p.floorToken.BalanceOf(PoolAddress))
	require.Equal(t, pool.ReserveQuote, p.quoteToken.BalanceOf(PoolAddress))
	require.Equal(t, units(1_000), p.floorToken.BalanceOf(LedgerAddress))
	require.True(t, p.floorToken.BalanceOf(carol).IsZero())

	require.NoError(t, p.WithdrawCollateral(alice, units(1_000)))
	require.Equal(t, units(2_000), p.floorToken.BalanceOf(alice))
}

func TestSwapsFeesAndConservation(t *testing.T) {
	f := newFixture(t, testParams())
	p := f.protocol

	_, err := p.SwapExactIn(alice, amm.SideFloor, units(500), nil, alice)
	require.NoError(t, err)
	quote := p.quoteToken.BalanceOf(alice)
	require.True(t, quote.Sign() > 0)
	_, err = p.SwapExactIn(alice, amm.SideQuote, quote, nil, alice)
	require.NoError(t, err)

	supply := p.floorToken.TotalSupply()
	require.Equal(t, supply, f.floorBalances())

	collected, err := p.CollectFees(carol)
	require.NoError(t, err)
	require.True(t, collected.FloorBurned.Sign() > 0)
	require.True(t, collected.QuoteRouted.Sign() > 0)
	require.Equal(t, collected.QuoteRouted, p.quoteToken.BalanceOf(TreasuryAddress))

	after := p.floorToken.TotalSupply()
	require.Equal(t, new(uint256.Int).Sub(supply, collected.FloorBurned), after)
	require.Equal(t, after, f.floorBalances())

	view, err := p.Pool()
	require.NoError(t, err)
	require.Equal(t, units(1_002_000), view.InitialSupply)
	require.Equal(t, after, view.Supply)
}

func TestRecoveryAgainstLivePool(t *testing.T) {
	f := newFixture(t, testParams())
	p := f.protocol

	require.NoError(t, p.DepositCollateral(alice, units(1_000)))
	_, err := p.VaultDeposit(bob, units(12))
	require.NoError(t, err)

	account, err := p.Account(alice)
	require.NoError(t, err)
	require.NoError(t, p.Borrow(alice, account.Position.MaxBorrow))
	require.ErrorIs(t, p.MarkDelinquent(carol, alice), lending.ErrPositionHealthy)

	f.clock.Advance(365 * 24 * time.Hour)
	healthy, err := p.IsPositionHealthy(alice)
	require.NoError(t, err)
	require.False(t, healthy)

	require.NoError(t, p.MarkDelinquent(carol, alice))
	markedAt := f.clock.Unix()

	f.clock.Advance(72 * time.Hour)
	_, err = p.Recover(carol, alice)
	require.ErrorIs(t, err, lending.ErrGracePeriodActive)

	poolBefore, err := p.Pool()
	require.NoError(t, err)
	supplyBefore := p.floorToken.TotalSupply()

	f.clock.Advance(time.Second)
	result, err := p.Recover(carol, alice)
	require.NoError(t, err)
	require.Equal(t, markedAt+72*3600+1, f.clock.Unix())
	require.Equal(t, units(1_000), result.Collateral)
	require.Equal(t, result.Proceeds, result.Repaid)
	require.True(t, result.Shortfall.Sign() > 0)
	require.True(t, result.Bounty.IsZero())
	require.False(t, result.Burned)

	account, err = p.Account(alice)
	require.NoError(t, err)
	require.Equal(t, lending.StatusEmpty, account.Position.Status)
	require.Empty(t, p.Positions())

	vault, err := p.Vault()
	require.NoError(t, err)
	require.False(t, vault.TotalBorrows.Gt(uint256.NewInt(1_000)))

	poolAfter, err := p.Pool()
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).Add(poolBefore.ReserveFloor, units(1_000)), poolAfter.ReserveFloor)
	require.Equal(t, supplyBefore, p.floorToken.TotalSupply())
	require.Equal(t, supplyBefore, f.floorBalances())
	require.Contains(t, f.events.types, lending.EventTypeRecovered)
}

// spotValue prices amount of collateral at the pool's current marginal price.
func spotValue(t *testing.T, p *Protocol, amount *uint256.Int) *uint256.Int {
	t.Helper()
	view, err := p.Pool()
	require.NoError(t, err)
	return new(uint256.Int).Div(new(uint256.Int).Mul(amount, view.SpotPrice), units(1))
}

func TestFloorBorrowStaysCoveredAtSpotAfterDumps(t *testing.T) {
	params := testParams()
	params.Allocations = append(params.Allocations, Allocation{Address: carol, Symbol: "FLR", Amount: units(200_000)})
	f := newFixture(t, params)
	p := f.protocol

	_, err := p.SwapExactIn(carol, amm.SideFloor, units(200_000), nil, carol)
	require.NoError(t, err)
	require.NoError(t, p.DepositCollateral(alice, units(1_000)))
	_, err = p.VaultDeposit(bob, units(12))
	require.NoError(t, err)

	account, err := p.Account(alice)
	require.NoError(t, err)
	principal := account.Position.MaxBorrow
	require.NoError(t, p.Borrow(alice, principal))
	require.False(t, spotValue(t, p, units(1_000)).Lt(principal))

	// Every other holder sells out.
	_, err = p.SwapExactIn(alice, amm.SideFloor, units(1_000), nil, alice)
	require.NoError(t, err)
	require.False(t, spotValue(t, p, units(1_000)).Lt(principal))

	f.clock.Advance(365 * 24 * time.Hour)
	require.NoError(t, p.MarkDelinquent(bob, alice))
	f.clock.Advance(72*time.Hour + time.Second)
	require.False(t, spotValue(t, p, units(1_000)).Lt(principal))

	before, err := p.Vault()
	require.NoError(t, err)
	result, err := p.Recover(bob, alice)
	require.NoError(t, err)

	// The sale itself pays the swap fee and slippage, so realised proceeds
	// land below the principal. The vault absorbs the gap.
	require.True(t, result.Proceeds.Lt(principal))
	require.Equal(t, result.Proceeds, result.Repaid)
	require.Equal(t, new(uint256.Int).Sub(result.Debt, result.Repaid), result.Shortfall)
	require.True(t, result.Shortfall.Sign() > 0)
	require.Contains(t, f.events.types, lending.EventTypeVaultWrittenOff)

	after, err := p.Vault()
	require.NoError(t, err)
	require.False(t, after.TotalBorrows.Gt(uint256.NewInt(1_000)))
	require.True(t, after.TotalAssets.Lt(before.TotalAssets))
}
