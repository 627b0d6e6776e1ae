package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"floorlend/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testCaller = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "floord",
		Audience:   "floorlend",
	}, nil)
}

func callerEcho(t *testing.T, want common.Address) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := CallerFromContext(r.Context())
		if !ok {
			t.Fatalf("expected caller in context")
		}
		if got != want {
			t.Fatalf("caller mismatch: got %s want %s", got.Hex(), want.Hex())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorAcceptsIssuedToken(t *testing.T) {
	auth := newTestAuthenticator()
	token, err := auth.IssueToken(testCaller, []string{"ledger"}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	handler := auth.Middleware("ledger")(callerEcho(t, testCaller))

	req := httptest.NewRequest(http.MethodPost, "/v1/ledger/borrow", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected authorised request, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsMissingScope(t *testing.T) {
	auth := newTestAuthenticator()
	token, err := auth.IssueToken(testCaller, []string{"pool"}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	handler := auth.Middleware("ledger")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/ledger/borrow", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth := newTestAuthenticator()
	other := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "ffffffffffffffffffffffffffffffff", Issuer: "floord", Audience: "floorlend"}, nil)
	forged, err := other.IssueToken(testCaller, nil, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	expiredIssuer := newTestAuthenticator()
	expiredIssuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := expiredIssuer.IssueToken(testCaller, nil, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	wrongAudience := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "floord", Audience: "elsewhere"}, nil)
	misdirected, err := wrongAudience.IssueToken(testCaller, nil, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	cases := map[string]string{
		"missing":  "",
		"garbage":  "Bearer not-a-token",
		"forged":   "Bearer " + forged,
		"expired":  "Bearer " + expired,
		"audience": "Bearer " + misdirected,
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/vault/deposit", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected unauthorized, got %d", name, res.Code)
		}
	}
}

func TestAuthenticatorDisabledUsesAccountHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	handler := auth.Middleware("ledger")(callerEcho(t, testCaller))

	req := httptest.NewRequest(http.MethodPost, "/v1/ledger/deposit", nil)
	req.Header.Set("X-Account", crypto.EncodeAddress(testCaller))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected header caller to pass, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/ledger/deposit", nil)
	req.Header.Set("X-Account", "nope")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for malformed account, got %d", res.Code)
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true}, nil)
	if _, err := auth.IssueToken(testCaller, nil, time.Minute); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestAuthenticatorRefusesReservedAccounts(t *testing.T) {
	module := common.HexToAddress("0x00000000000000000000000000000000000f100d")
	reserved := func(addr common.Address) bool { return addr == module }
	mustNotRun := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	})

	disabled := NewAuthenticator(AuthConfig{Reserved: reserved}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/transfer", nil)
	req.Header.Set("X-Account", crypto.EncodeAddress(module))
	res := httptest.NewRecorder()
	disabled.Middleware("transfer")(mustNotRun).ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden for reserved header, got %d", res.Code)
	}

	guarded := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "floord", Audience: "floorlend", Reserved: reserved}, nil)
	if _, err := guarded.IssueToken(module, nil, time.Minute); !errors.Is(err, ErrReservedSubject) {
		t.Fatalf("expected reserved subject error, got %v", err)
	}
	// A token minted before the account was reserved is still refused.
	token, err := newTestAuthenticator().IssueToken(module, []string{"transfer"}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/v1/transfer", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res = httptest.NewRecorder()
	guarded.Middleware("transfer")(mustNotRun).ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden for reserved subject, got %d", res.Code)
	}
}

func TestCORSEchoesAllowedOrigin(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	req.Header.Set("Origin", "https://app.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("expected origin echo, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/v1/pool", nil)
	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected preflight no content, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow-origin for unlisted origin, got %q", got)
	}
}

func TestRequestIDAssignsAndPropagates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/pool", nil))
	if seen == "" || res.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected generated id to be echoed, got %q / %q", seen, res.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if seen != "trace-123" {
		t.Fatalf("expected supplied id, got %q", seen)
	}
}
