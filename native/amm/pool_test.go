package amm

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"floorlend/core/events"
	nativecommon "floorlend/native/common"
	"floorlend/native/fixed"
	"floorlend/native/token"
)

type mockState struct {
	pool     *PoolState
	shares   map[common.Address]*uint256.Int
	balances map[string]*uint256.Int
	supplies map[string]*uint256.Int
}

func newMockState() *mockState {
	return &mockState{
		shares:   make(map[common.Address]*uint256.Int),
		balances: make(map[string]*uint256.Int),
		supplies: make(map[string]*uint256.Int),
	}
}

func (m *mockState) GetPool() (*PoolState, error) { return m.pool.Clone(), nil }

func (m *mockState) PutPool(pool *PoolState) error {
	m.pool = pool.Clone()
	return nil
}

func (m *mockState) GetShares(addr common.Address) (*uint256.Int, error) {
	return fixed.Clone(m.shares[addr]), nil
}

func (m *mockState) PutShares(addr common.Address, amount *uint256.Int) error {
	m.shares[addr] = fixed.Clone(amount)
	return nil
}

func (m *mockState) TokenBalance(symbol string, addr common.Address) *uint256.Int {
	return m.balances[symbol+addr.Hex()]
}

func (m *mockState) SetTokenBalance(symbol string, addr common.Address, amount *uint256.Int) {
	m.balances[symbol+addr.Hex()] = amount
}

func (m *mockState) TokenSupply(symbol string) *uint256.Int { return m.supplies[symbol] }

func (m *mockState) SetTokenSupply(symbol string, amount *uint256.Int) { m.supplies[symbol] = amount }

type captureEmitter struct{ events []events.Event }

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

var (
	poolAddr  = common.HexToAddress("0x1000")
	feeHolder = common.HexToAddress("0x2000")
	treasury  = common.HexToAddress("0x3000")
	alice     = common.HexToAddress("0xa11ce")
)

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fixed.Unit())
}

type fixture struct {
	state *mockState
	pool  *Pool
	flr   *token.Ledger
	usd   *token.Ledger
}

func newFixture(t *testing.T, g Genesis, aliceFloor, aliceQuote *uint256.Int) *fixture {
	t.Helper()
	st := newMockState()
	flr := token.NewLedger("FLR", nil)
	usd := token.NewLedger("USD", nil)
	flr.SetState(st)
	usd.SetState(st)
	mustMint(t, flr, poolAddr, g.ReserveFloor)
	mustMint(t, usd, poolAddr, g.ReserveQuote)
	mustMint(t, flr, alice, aliceFloor)
	mustMint(t, usd, alice, aliceQuote)
	pool := NewPool(poolAddr, feeHolder, flr, usd)
	pool.SetState(st)
	if err := pool.Initialize(g); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return &fixture{state: st, pool: pool, flr: flr, usd: usd}
}

func mustMint(t *testing.T, l *token.Ledger, to common.Address, amount *uint256.Int) {
	t.Helper()
	if fixed.IsZero(amount) {
		return
	}
	if err := l.Mint(to, amount); err != nil {
		t.Fatalf("mint %s: %v", l.Symbol(), err)
	}
}

func defaultGenesis() Genesis {
	return Genesis{
		ReserveFloor:   units(1_000_000),
		ReserveQuote:   units(10_000),
		FeeStartBps:    300,
		FeeEndBps:      30,
		FeeDecayTarget: units(100_000),
	}
}

func TestCurrentFeeBpsDecaysLinearly(t *testing.T) {
	g := defaultGenesis()
	g.FeeStartBps = 9_900
	g.FeeEndBps = 30
	f := newFixture(t, g, units(500_000), nil)

	fee, err := f.pool.CurrentFeeBps()
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if fee != 9_900 {
		t.Fatalf("expected start fee before burns, got %d", fee)
	}
	if err := f.flr.Burn(alice, units(50_000)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if fee, _ = f.pool.CurrentFeeBps(); fee != 4_965 {
		t.Fatalf("expected 4965 bps at half the decay target, got %d", fee)
	}
	if err := f.flr.Burn(alice, units(50_000)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if fee, _ = f.pool.CurrentFeeBps(); fee != 30 {
		t.Fatalf("expected end fee once the target is reached, got %d", fee)
	}
	if err := f.flr.Burn(alice, units(1)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if fee, _ = f.pool.CurrentFeeBps(); fee != 30 {
		t.Fatalf("fee must stay at the end value past the target, got %d", fee)
	}
}

func TestFloorPriceAtGenesis(t *testing.T) {
	f := newFixture(t, defaultGenesis(), nil, nil)
	spot, err := f.pool.SpotPrice()
	if err != nil {
		t.Fatalf("spot: %v", err)
	}
	got, err := f.pool.FloorPrice()
	if err != nil {
		t.Fatalf("floor: %v", err)
	}
	want := new(uint256.Int).Mul(spot, uint256.NewInt(9_950))
	want.Div(want, uint256.NewInt(10_000))
	if !got.Eq(want) {
		t.Fatalf("expected discounted spot %s, got %s", want, got)
	}
}

func TestFloorPriceRisesWithBurns(t *testing.T) {
	g := defaultGenesis()
	g.FeeStartBps, g.FeeEndBps = 30, 30
	f := newFixture(t, g, units(2_000_000), nil)
	before, err := f.pool.FloorPrice()
	if err != nil {
		t.Fatalf("floor: %v", err)
	}
	if err := f.flr.Burn(alice, units(500_000)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	after, err := f.pool.FloorPrice()
	if err != nil {
		t.Fatalf("floor: %v", err)
	}
	if !before.Lt(after) {
		t.Fatalf("expected floor to rise after burn: before %s after %s", before, after)
	}
}

func TestSwapExactOut(t *testing.T) {
	f := newFixture(t, defaultGenesis(), units(500_000), nil)
	rec := &captureEmitter{}
	f.pool.SetEmitter(rec)

	kBefore, _ := f.pool.ReserveProduct()
	want := units(100)
	quote, err := f.pool.QuoteExactOut(SideFloor, want)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	res, err := f.pool.Swap(alice, nil, want, alice)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !res.AmountIn.Eq(quote) || res.In != SideFloor {
		t.Fatalf("unexpected swap result %+v (quote %s)", res, quote)
	}
	if got := f.usd.BalanceOf(alice); !got.Eq(want) {
		t.Fatalf("expected %s quote received, got %s", want, got)
	}
	spent := new(uint256.Int).Sub(units(500_000), f.flr.BalanceOf(alice))
	if !spent.Eq(quote) {
		t.Fatalf("expected %s floor spent, got %s", quote, spent)
	}
	kAfter, _ := f.pool.ReserveProduct()
	if kAfter.Lt(kBefore) {
		t.Fatalf("reserve product decreased: %s < %s", kAfter, kBefore)
	}
	if len(rec.events) != 1 || rec.events[0].EventType() != EventTypePoolSwapped {
		t.Fatalf("expected one swap event, got %+v", rec.events)
	}
}

func TestSwapRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, defaultGenesis(), units(10), nil)
	if _, err := f.pool.Swap(alice, units(1), units(1), alice); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for two outputs, got %v", err)
	}
	if _, err := f.pool.Swap(alice, nil, nil, alice); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for no output, got %v", err)
	}
	if _, err := f.pool.Swap(alice, nil, units(10_000), alice); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	if _, err := f.pool.Swap(alice, nil, units(100), alice); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("expected insufficient input, got %v", err)
	}
	x, y, _ := f.pool.GetReserves()
	if !x.Eq(units(1_000_000)) || !y.Eq(units(10_000)) {
		t.Fatalf("failed swaps must not touch reserves: %s %s", x, y)
	}
}

func TestSwapExactInSlippageAndBound(t *testing.T) {
	f := newFixture(t, defaultGenesis(), units(500_000), nil)
	quote, err := f.pool.QuoteExactIn(SideFloor, units(1_000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	minOut := new(uint256.Int).AddUint64(quote, 1)
	if _, err := f.pool.SwapExactIn(alice, SideFloor, units(1_000), minOut, alice); !errors.Is(err, ErrSlippage) {
		t.Fatalf("expected slippage error, got %v", err)
	}
	res, err := f.pool.SwapExactIn(alice, SideFloor, units(1_000), quote, alice)
	if err != nil {
		t.Fatalf("swap exact in: %v", err)
	}
	if !res.AmountOut.Eq(quote) {
		t.Fatalf("expected %s out, got %s", quote, res.AmountOut)
	}

	huge := fixed.MaxReserve()
	mustMint(t, f.flr, alice, huge)
	if _, err := f.pool.SwapExactIn(alice, SideFloor, huge, nil, alice); !errors.Is(err, fixed.ErrOverflow) {
		t.Fatalf("expected reserve bound overflow, got %v", err)
	}
}

func TestDonationIsNotCountedInReserves(t *testing.T) {
	f := newFixture(t, defaultGenesis(), units(500_000), nil)
	if err := f.flr.Transfer(alice, poolAddr, units(100_000)); err != nil {
		t.Fatalf("donate: %v", err)
	}
	x, _, _ := f.pool.GetReserves()
	if !x.Eq(units(1_000_000)) {
		t.Fatalf("donation leaked into reserves: %s", x)
	}
	shares, _ := f.pool.SharesOf(alice)
	if !shares.IsZero() {
		t.Fatalf("donor must not receive shares")
	}
}

func TestLiquiditySharesAreRestricted(t *testing.T) {
	f := newFixture(t, defaultGenesis(), units(500_000), nil)
	if err := f.pool.TransferShares(alice, feeHolder, units(1)); !errors.Is(err, ErrRestrictedTransfer) {
		t.Fatalf("expected restricted transfer for outsider, got %v", err)
	}
	if err := f.pool.TransferShares(feeHolder, alice, units(1)); !errors.Is(err, ErrRestrictedTransfer) {
		t.Fatalf("expected restricted transfer to outsider, got %v", err)
	}
	if _, err := f.pool.Redeem(alice, units(1), alice); !errors.Is(err, ErrRestrictedTransfer) {
		t.Fatalf("expected restricted redemption, got %v", err)
	}
	if _, err := f.pool.Redeem(feeHolder, units(1), feeHolder); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("fee holder cannot redeem shares it does not hold, got %v", err)
	}
}

func TestFeeCollectionBurnsCollateral(t *testing.T) {
	g := defaultGenesis()
	g.FeeStartBps, g.FeeEndBps = 100, 100
	f := newFixture(t, g, units(500_000), nil)
	rec := &captureEmitter{}
	f.pool.SetEmitter(rec)

	out, err := f.pool.SwapExactIn(alice, SideFloor, units(200_000), nil, alice)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, err := f.pool.SwapExactIn(alice, SideQuote, out.AmountOut, nil, alice); err != nil {
		t.Fatalf("buy back: %v", err)
	}
	k, _ := f.pool.ReserveProduct()
	if !f.state.pool.KLast.Lt(k) {
		t.Fatalf("expected fee growth above the high-water mark")
	}

	supplyBefore := f.flr.TotalSupply()
	collector := NewCollector(f.pool, f.flr, f.usd, treasury)
	res, err := collector.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if res.Shares.IsZero() || res.FloorBurned.IsZero() || res.QuoteRouted.IsZero() {
		t.Fatalf("expected non-empty collection, got %+v", res)
	}
	wantSupply := new(uint256.Int).Sub(supplyBefore, res.FloorBurned)
	if !f.flr.TotalSupply().Eq(wantSupply) {
		t.Fatalf("expected supply %s, got %s", wantSupply, f.flr.TotalSupply())
	}
	if !f.usd.BalanceOf(treasury).Eq(res.QuoteRouted) {
		t.Fatalf("treasury did not receive routed quote")
	}
	held, _ := f.pool.SharesOf(feeHolder)
	if !held.IsZero() {
		t.Fatalf("fee holder shares must be fully redeemed, got %s", held)
	}
	kAfter, _ := f.pool.ReserveProduct()
	if !f.state.pool.KLast.Eq(kAfter) {
		t.Fatalf("high-water mark must track the post-redemption product")
	}
	last := rec.events[len(rec.events)-1]
	if last.EventType() != EventTypePoolFeesCollected {
		t.Fatalf("expected fee collection event, got %s", last.EventType())
	}

	again, err := collector.Collect()
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if !again.Shares.IsZero() {
		t.Fatalf("expected empty collection without new growth, got %+v", again)
	}
}

func TestPausedPoolRejectsSwaps(t *testing.T) {
	f := newFixture(t, defaultGenesis(), units(10), nil)
	f.pool.SetPauses(nativecommon.StaticPauses{nativecommon.ModulePool: true})
	if _, err := f.pool.Swap(alice, nil, units(1), alice); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if _, err := f.pool.FloorPrice(); err != nil {
		t.Fatalf("views must stay available while paused: %v", err)
	}
}

type reentrantAsset struct {
	token.Asset
	pool *Pool
	err  error
}

func (r *reentrantAsset) Transfer(from, to common.Address, amount *uint256.Int) error {
	if r.err == nil {
		_, r.err = r.pool.Swap(from, nil, uint256.NewInt(1), to)
	}
	return r.Asset.Transfer(from, to, amount)
}

func TestSwapRejectsReentry(t *testing.T) {
	g := defaultGenesis()
	st := newMockState()
	flr := token.NewLedger("FLR", nil)
	usd := token.NewLedger("USD", nil)
	flr.SetState(st)
	usd.SetState(st)
	mustMint(t, flr, poolAddr, g.ReserveFloor)
	mustMint(t, usd, poolAddr, g.ReserveQuote)
	mustMint(t, flr, alice, units(1_000))
	hostile := &reentrantAsset{Asset: flr}
	pool := NewPool(poolAddr, feeHolder, hostile, usd)
	hostile.pool = pool
	pool.SetState(st)
	if err := pool.Initialize(g); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := pool.SwapExactIn(alice, SideFloor, units(10), nil, alice); err != nil {
		t.Fatalf("outer swap: %v", err)
	}
	if !errors.Is(hostile.err, nativecommon.ErrReentrant) {
		t.Fatalf("expected nested swap to fail with reentrancy error, got %v", hostile.err)
	}
}

func TestInitializeRejectsBadSchedule(t *testing.T) {
	g := defaultGenesis()
	g.FeeStartBps, g.FeeEndBps = 10, 20
	st := newMockState()
	pool := NewPool(poolAddr, feeHolder, token.NewLedger("FLR", nil), token.NewLedger("USD", nil))
	pool.SetState(st)
	if err := pool.Initialize(g); !errors.Is(err, ErrInvalidFeeSchedule) {
		t.Fatalf("expected invalid fee schedule, got %v", err)
	}
	f := newFixture(t, defaultGenesis(), nil, nil)
	if err := f.pool.Initialize(defaultGenesis()); !errors.Is(err, ErrAlreadyInitialised) {
		t.Fatalf("expected already initialised, got %v", err)
	}
}
