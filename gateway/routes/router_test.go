package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"floorlend/core"
	"floorlend/crypto"
	"floorlend/gateway/middleware"
	nativecommon "floorlend/native/common"
	"floorlend/native/lending"
	"floorlend/storage"
	"floorlend/storage/journal"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func units18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

type testAPI struct {
	handler  http.Handler
	protocol *core.Protocol
}

func newTestAPI(t *testing.T, mutate func(*core.Params)) *testAPI {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	events, err := journal.Open(journal.DriverSQLite, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	params := core.DefaultParams()
	params.Allocations = []core.Allocation{
		{Address: alice, Symbol: "FLR", Amount: units18(2_000)},
		{Address: bob, Symbol: "QUOTE", Amount: units18(1_000)},
	}
	if mutate != nil {
		mutate(&params)
	}
	protocol, err := core.NewProtocol(storage.NewMemDB(), params,
		core.WithMetrics(nil),
		core.WithEmitter(events),
		core.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	require.NoError(t, err)

	handler, err := New(Config{
		Protocol:      protocol,
		Events:        events,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{}, nil),
	})
	require.NoError(t, err)
	return &testAPI{handler: handler, protocol: protocol}
}

func (a *testAPI) do(t *testing.T, method, path string, as *common.Address, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		var err error
		payload, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("X-Account", crypto.EncodeAddress(*as))
	}
	res := httptest.NewRecorder()
	a.handler.ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	return out
}

func TestPoolViewAndQuote(t *testing.T) {
	api := newTestAPI(t, func(p *core.Params) { p.Allocations = nil })

	res := api.do(t, http.MethodGet, "/v1/pool", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	pool := decodeBody[poolResponse](t, res)
	require.Equal(t, "0.01", pool.SpotPrice)
	require.Equal(t, "0.00995", pool.FloorPrice)
	require.Equal(t, uint64(300), pool.FeeBps)
	require.Equal(t, "1000000", pool.ReserveFloor)

	res = api.do(t, http.MethodGet, "/v1/pool/quote?side=FLR&amount=100", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	quote := decodeBody[quoteResponse](t, res)
	require.Equal(t, "floor", quote.In)
	require.NotEqual(t, "0", quote.AmountOut)

	res = api.do(t, http.MethodGet, "/v1/pool/quote?side=sideways&amount=1", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "invalid_argument", decodeBody[apiError](t, res).Code)
}

func TestLedgerLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)

	res := api.do(t, http.MethodPost, "/v1/ledger/deposit", &alice, amountRequest{Amount: "1000"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	pos := decodeBody[positionResponse](t, res)
	require.Equal(t, "1000", pos.Collateral)
	require.Equal(t, string(lending.StatusHealthy), pos.Status)

	res = api.do(t, http.MethodPost, "/v1/vault/deposit", &bob, vaultAssetsRequest{Assets: "100"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "100", decodeBody[vaultMoveResponse](t, res).Shares)

	res = api.do(t, http.MethodPost, "/v1/ledger/borrow", &alice, amountRequest{Amount: "50"})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	require.Equal(t, "rejected", decodeBody[apiError](t, res).Code)

	res = api.do(t, http.MethodPost, "/v1/ledger/borrow", &alice, amountRequest{Amount: "5"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "5", decodeBody[positionResponse](t, res).Debt)

	res = api.do(t, http.MethodPost, "/v1/ledger/mark", &bob, accountRequest{Account: alice.Hex()})
	require.Equal(t, http.StatusConflict, res.Code)

	res = api.do(t, http.MethodPost, "/v1/ledger/recover", &bob, accountRequest{Account: crypto.EncodeAddress(alice)})
	require.Equal(t, http.StatusConflict, res.Code)

	res = api.do(t, http.MethodGet, "/v1/accounts/"+crypto.EncodeAddress(alice), nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	account := decodeBody[accountResponse](t, res)
	require.Equal(t, "1000", account.FloorBalance)
	require.Equal(t, "5", account.QuoteBalance)
	require.Equal(t, "5", account.Position.Debt)

	res = api.do(t, http.MethodGet, "/v1/ledger/positions", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, []string{crypto.EncodeAddress(alice)}, decodeBody[positionsResponse](t, res).Accounts)

	res = api.do(t, http.MethodPost, "/v1/ledger/repay", &alice, amountRequest{Amount: "5"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "5", decodeBody[repayResponse](t, res).Repaid)

	res = api.do(t, http.MethodGet, "/v1/events?account="+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var types []string
	for _, evt := range decodeBody[eventsResponse](t, res).Events {
		types = append(types, evt.Type)
	}
	require.Equal(t, []string{lending.EventTypeRepaid, lending.EventTypeBorrowed, lending.EventTypeCollateralDeposited}, types)
}

func TestVaultRoutes(t *testing.T) {
	api := newTestAPI(t, nil)

	res := api.do(t, http.MethodPost, "/v1/vault/mint", &bob, vaultSharesRequest{Shares: "40"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "40", decodeBody[vaultMoveResponse](t, res).Assets)

	res = api.do(t, http.MethodGet, "/v1/vault/preview?assets=10", nil, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "10", decodeBody[vaultMoveResponse](t, res).Shares)
	res = api.do(t, http.MethodGet, "/v1/vault/preview?shares=20", nil, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "20", decodeBody[vaultMoveResponse](t, res).Assets)
	for _, query := range []string{"", "?assets=1&shares=1", "?assets=-1"} {
		res = api.do(t, http.MethodGet, "/v1/vault/preview"+query, nil, nil)
		require.Equal(t, http.StatusBadRequest, res.Code, query)
	}

	res = api.do(t, http.MethodPost, "/v1/vault/withdraw", &bob, vaultAssetsRequest{Assets: "10"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = api.do(t, http.MethodPost, "/v1/vault/redeem", &bob, vaultSharesRequest{Shares: "31"})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)

	res = api.do(t, http.MethodPost, "/v1/vault/accrue", &bob, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	vault := decodeBody[vaultResponse](t, res)
	require.Equal(t, "30", vault.TotalAssets)
	require.Equal(t, "30", vault.Cash)
}

func TestSwapAndCollectOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)

	res := api.do(t, http.MethodPost, "/v1/pool/swap-exact-in", &alice, swapExactInRequest{Side: "floor", AmountIn: "500"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	swap := decodeBody[swapResponse](t, res)
	require.Equal(t, "floor", swap.In)
	require.Equal(t, uint64(300), swap.FeeBps)

	res = api.do(t, http.MethodPost, "/v1/pool/swap", &bob, swapRequest{AmountFloorOut: "10"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "quote", decodeBody[swapResponse](t, res).In)

	res = api.do(t, http.MethodPost, "/v1/pool/swap", &bob, swapRequest{})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = api.do(t, http.MethodPost, "/v1/pool/collect-fees", &bob, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	collected := decodeBody[collectionResponse](t, res)
	require.NotEqual(t, "0", collected.FloorBurned)
}

func TestRequestValidation(t *testing.T) {
	api := newTestAPI(t, nil)

	res := api.do(t, http.MethodPost, "/v1/ledger/deposit", nil, amountRequest{Amount: "1"})
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = api.do(t, http.MethodPost, "/v1/ledger/deposit", &alice, `{"amount":"1","extra":true}`)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = api.do(t, http.MethodPost, "/v1/ledger/deposit", &alice, amountRequest{Amount: "1.0000000000000000001"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = api.do(t, http.MethodPost, "/v1/ledger/deposit", &alice, amountRequest{})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = api.do(t, http.MethodPost, "/v1/accounts/transfer", &alice, transferRequest{Symbol: "DOGE", To: bob.Hex(), Amount: "1"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = api.do(t, http.MethodPost, "/v1/accounts/transfer", &alice, transferRequest{Symbol: "flr", To: crypto.EncodeAddress(bob), Amount: "1"})
	require.Equal(t, http.StatusNoContent, res.Code)

	res = api.do(t, http.MethodGet, "/v1/accounts/not-an-address", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = api.do(t, http.MethodGet, "/v1/events?limit=-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestPausedModuleIsUnavailable(t *testing.T) {
	api := newTestAPI(t, func(p *core.Params) {
		p.Pauses = map[string]bool{nativecommon.ModulePool: true}
	})
	res := api.do(t, http.MethodPost, "/v1/pool/swap-exact-in", &alice, swapExactInRequest{Side: "floor", AmountIn: "1"})
	require.Equal(t, http.StatusServiceUnavailable, res.Code)

	res = api.do(t, http.MethodGet, "/v1/pool", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestHealthAndStateRoot(t *testing.T) {
	api := newTestAPI(t, nil)
	res := api.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.NotEmpty(t, res.Header().Get(middleware.RequestIDHeader))

	res = api.do(t, http.MethodGet, "/v1/state", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	root, err := api.protocol.Root()
	require.NoError(t, err)
	require.Equal(t, root.Hex(), decodeBody[stateResponse](t, res).Root)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{lending.ErrGracePeriodActive, http.StatusConflict},
		{lending.ErrExceedsFloorValue, http.StatusUnprocessableEntity},
		{nativecommon.ErrModulePaused, http.StatusServiceUnavailable},
		{core.ErrUnknownAsset, http.StatusBadRequest},
		{errUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", core.ErrReservedAccount), http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", lending.ErrNotMarked), http.StatusConflict},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := statusFor(tc.err)
		require.Equal(t, tc.want, got, tc.err.Error())
	}
}

func TestUnknownServiceRoute(t *testing.T) {
	api := newTestAPI(t, nil)
	_, err := New(Config{Protocol: api.protocol, Routes: []ServiceRoute{{Name: "bridge", Prefix: "/v1/bridge"}}})
	require.Error(t, err)
	_, err = New(Config{})
	require.Error(t, err)
}

func TestEventStreamReplaysThenFollows(t *testing.T) {
	api := newTestAPI(t, nil)
	server := httptest.NewServer(api.handler)
	defer server.Close()

	res := api.do(t, http.MethodPost, "/v1/vault/deposit", &bob, vaultAssetsRequest{Assets: "5"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	target := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/events/stream?type=" + lending.EventTypeVaultDeposited
	conn, _, err := websocket.Dial(ctx, target+"&cursor=0", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var replayed eventResponse
	require.NoError(t, wsjson.Read(ctx, conn, &replayed))
	require.Equal(t, lending.EventTypeVaultDeposited, replayed.Type)
	require.NotZero(t, replayed.Seq)

	res = api.do(t, http.MethodPost, "/v1/vault/deposit", &bob, vaultAssetsRequest{Assets: "7"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var live eventResponse
	require.NoError(t, wsjson.Read(ctx, conn, &live))
	require.Equal(t, lending.EventTypeVaultDeposited, live.Type)
	require.Greater(t, live.Seq, replayed.Seq)

	// Resuming from the last seen seq skips what was already delivered.
	resumed, _, err := websocket.Dial(ctx, fmt.Sprintf("%s&cursor=%d", target, replayed.Seq), nil)
	require.NoError(t, err)
	defer resumed.Close(websocket.StatusNormalClosure, "")
	var next eventResponse
	require.NoError(t, wsjson.Read(ctx, resumed, &next))
	require.Equal(t, live.Seq, next.Seq)
}

func TestEventStreamRejectsBadRequests(t *testing.T) {
	api := newTestAPI(t, nil)
	res := api.do(t, http.MethodGet, "/v1/events/stream?cursor=-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	handler, err := New(Config{Protocol: api.protocol})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events/stream", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
