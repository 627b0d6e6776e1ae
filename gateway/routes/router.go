package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"floorlend/core"
	"floorlend/core/events"
	"floorlend/gateway/middleware"
	"floorlend/native/amm"
	"floorlend/native/lending"
	"floorlend/storage/journal"
)

// Protocol is the subset of the protocol the API serves.
type Protocol interface {
	Transfer(caller common.Address, symbol string, to common.Address, amount *uint256.Int) error
	Swap(caller common.Address, amountOut0, amountOut1 *uint256.Int, recipient common.Address) (*amm.SwapResult, error)
	SwapExactIn(caller common.Address, in amm.Side, amountIn, minOut *uint256.Int, recipient common.Address) (*amm.SwapResult, error)
	CollectFees(caller common.Address) (*amm.Collection, error)
	DepositCollateral(caller common.Address, amount *uint256.Int) error
	WithdrawCollateral(caller common.Address, amount *uint256.Int) error
	Borrow(caller common.Address, amount *uint256.Int) error
	Repay(caller common.Address, amount *uint256.Int) (*uint256.Int, error)
	MarkDelinquent(caller, account common.Address) error
	Recover(caller, account common.Address) (*lending.RecoveryResult, error)
	VaultDeposit(caller common.Address, assets *uint256.Int) (*uint256.Int, error)
	VaultMint(caller common.Address, shares *uint256.Int) (*uint256.Int, error)
	VaultWithdraw(caller common.Address, assets *uint256.Int) (*uint256.Int, error)
	VaultRedeem(caller common.Address, shares *uint256.Int) (*uint256.Int, error)
	AccrueInterest(caller common.Address) (*lending.VaultState, error)

	Pool() (*core.PoolView, error)
	QuoteExactIn(in amm.Side, amountIn *uint256.Int) (*uint256.Int, error)
	Vault() (*core.VaultView, error)
	PreviewVaultDeposit(assets *uint256.Int) (*uint256.Int, error)
	PreviewVaultRedeem(shares *uint256.Int) (*uint256.Int, error)
	Account(addr common.Address) (*core.AccountView, error)
	Positions() []common.Address
	Root() (common.Hash, error)
	Symbols() (string, string)
}

// EventLog lists journaled events and notifies subscribers of new ones.
type EventLog interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Record, error)
	Since(ctx context.Context, after uint64, f journal.Filter) ([]journal.Record, error)
	Subscribe(ctx context.Context) (<-chan events.Event, func())
}

// ServiceRoute groups the endpoints of one protocol module behind shared
// admission policy.
type ServiceRoute struct {
	Name           string
	Prefix         string
	RequireAuth    bool
	RequiredScopes []string
	RateLimitKey   string
}

type Config struct {
	Protocol      Protocol
	Events        EventLog
	Logger        *slog.Logger
	Routes        []ServiceRoute
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	HealthHandler http.Handler
	RequestLimit  int64
}

// DefaultRoutes returns the module groups served by the daemon. Reads are
// public; mutations require a token whose scope names the module.
func DefaultRoutes() []ServiceRoute {
	return []ServiceRoute{
		{Name: "pool", Prefix: "/v1/pool", RequireAuth: true, RequiredScopes: []string{"pool"}, RateLimitKey: "pool"},
		{Name: "ledger", Prefix: "/v1/ledger", RequireAuth: true, RequiredScopes: []string{"ledger"}, RateLimitKey: "ledger"},
		{Name: "vault", Prefix: "/v1/vault", RequireAuth: true, RequiredScopes: []string{"vault"}, RateLimitKey: "vault"},
		{Name: "accounts", Prefix: "/v1/accounts", RequireAuth: true, RequiredScopes: []string{"transfer"}, RateLimitKey: "accounts"},
	}
}

const defaultRequestLimit = 1 << 20 // 1 MiB

func New(cfg Config) (http.Handler, error) {
	if cfg.Protocol == nil {
		return nil, errors.New("routes: protocol required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.RequestLimit
	if limit <= 0 {
		limit = defaultRequestLimit
	}
	h := &handlers{
		protocol: cfg.Protocol,
		events:   cfg.Events,
		logger:   logger,
		limit:    limit,
		origins:  streamOrigins(cfg.CORS.AllowedOrigins),
	}

	routes := cfg.Routes
	if len(routes) == 0 {
		routes = DefaultRoutes()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Get("/healthz", health.ServeHTTP)
	r.Get("/v1/events", h.listEvents)
	r.Get("/v1/events/stream", h.streamEvents)
	r.Get("/v1/state", h.stateRoot)

	for _, route := range routes {
		mount, ok := h.mounts()[route.Name]
		if !ok {
			return nil, errors.New("routes: unknown service route " + route.Name)
		}
		route := route
		r.Route(route.Prefix, func(sr chi.Router) {
			if cfg.RateLimiter != nil && route.RateLimitKey != "" {
				sr.Use(cfg.RateLimiter.Middleware(route.RateLimitKey))
			}
			if obs != nil {
				sr.Use(obs.Middleware(route.Name))
			}
			var guard func(http.Handler) http.Handler
			if cfg.Authenticator != nil && route.RequireAuth {
				guard = cfg.Authenticator.Middleware(route.RequiredScopes...)
			}
			mount(sr, guard)
		})
	}

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}

// mounts maps service route names to the functions registering their
// endpoints. guard wraps mutating endpoints and may be nil.
func (h *handlers) mounts() map[string]func(chi.Router, func(http.Handler) http.Handler) {
	return map[string]func(chi.Router, func(http.Handler) http.Handler){
		"pool":     h.mountPool,
		"ledger":   h.mountLedger,
		"vault":    h.mountVault,
		"accounts": h.mountAccounts,
	}
}

// mutating registers the routes added by fn behind guard.
func mutating(r chi.Router, guard func(http.Handler) http.Handler, fn func(chi.Router)) {
	if guard == nil {
		fn(r)
		return
	}
	r.Group(func(gr chi.Router) {
		gr.Use(guard)
		fn(gr)
	})
}
