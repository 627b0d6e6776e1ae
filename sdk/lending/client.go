package lending

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client provides typed helpers over the floord HTTP API.
type Client struct {
	base    *url.URL
	http    *http.Client
	token   string
	account string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken authenticates mutating calls with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithAccount names the caller on daemons running without authentication.
func WithAccount(address string) Option {
	return func(c *Client) { c.account = strings.TrimSpace(address) }
}

// New returns a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("lending: base url %q must be absolute", baseURL)
	}
	c := &Client{base: base, http: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lending: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if c == nil {
		return errors.New("lending: nil client")
	}
	target := *c.base
	target.Path = c.base.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.account != "" {
		req.Header.Set("X-Account", c.account)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Code, apiErr.Message = payload.Code, payload.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Pool fetches the pricing pool state.
func (c *Client) Pool(ctx context.Context) (*Pool, error) {
	var out Pool
	if err := c.do(ctx, http.MethodGet, "/v1/pool", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quote prices an exact-input swap of amount paid on side ("floor" or
// "quote") without executing it.
func (c *Client) Quote(ctx context.Context, side, amount string) (*Quote, error) {
	var out Quote
	query := url.Values{"side": {side}, "amount": {amount}}
	if err := c.do(ctx, http.MethodGet, "/v1/pool/quote", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SwapExactIn pays amountIn on side and requires at least minOut back.
// An empty recipient pays the caller.
func (c *Client) SwapExactIn(ctx context.Context, side, amountIn, minOut, recipient string) (*Swap, error) {
	var out Swap
	body := map[string]string{"side": side, "amount_in": amountIn, "min_out": minOut, "recipient": recipient}
	if err := c.do(ctx, http.MethodPost, "/v1/pool/swap-exact-in", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CollectFees settles accrued pool fees.
func (c *Client) CollectFees(ctx context.Context) (*Collection, error) {
	var out Collection
	if err := c.do(ctx, http.MethodPost, "/v1/pool/collect-fees", nil, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Positions lists accounts holding collateral or debt.
func (c *Client) Positions(ctx context.Context) ([]string, error) {
	var out struct {
		Accounts []string `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/ledger/positions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// Position returns the position summary for account.
func (c *Client) Position(ctx context.Context, account string) (*Position, error) {
	var out Position
	if err := c.do(ctx, http.MethodGet, "/v1/ledger/positions/"+url.PathEscape(account), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) positionOp(ctx context.Context, path, amount string) (*Position, error) {
	var out Position
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]string{"amount": amount}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DepositCollateral locks collateral for the caller.
func (c *Client) DepositCollateral(ctx context.Context, amount string) (*Position, error) {
	return c.positionOp(ctx, "/v1/ledger/deposit", amount)
}

// WithdrawCollateral releases collateral back to the caller.
func (c *Client) WithdrawCollateral(ctx context.Context, amount string) (*Position, error) {
	return c.positionOp(ctx, "/v1/ledger/withdraw", amount)
}

// Borrow draws quote from the vault against the caller's collateral.
func (c *Client) Borrow(ctx context.Context, amount string) (*Position, error) {
	return c.positionOp(ctx, "/v1/ledger/borrow", amount)
}

// Repay pays down the caller's debt and returns the amount applied.
func (c *Client) Repay(ctx context.Context, amount string) (string, error) {
	var out struct {
		Repaid string `json:"repaid"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/ledger/repay", nil, map[string]string{"amount": amount}, &out); err != nil {
		return "", err
	}
	return out.Repaid, nil
}

// MarkDelinquent starts the grace period on an unhealthy position.
func (c *Client) MarkDelinquent(ctx context.Context, account string) (*Position, error) {
	var out Position
	if err := c.do(ctx, http.MethodPost, "/v1/ledger/mark", nil, map[string]string{"account": account}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recover settles a position whose grace period has expired.
func (c *Client) Recover(ctx context.Context, account string) (*Recovery, error) {
	var out Recovery
	if err := c.do(ctx, http.MethodPost, "/v1/ledger/recover", nil, map[string]string{"account": account}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Vault fetches the lender pool state.
func (c *Client) Vault(ctx context.Context) (*Vault, error) {
	var out Vault
	if err := c.do(ctx, http.MethodGet, "/v1/vault", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) vaultOp(ctx context.Context, path, field, amount string) (*VaultMove, error) {
	var out VaultMove
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]string{field: amount}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VaultDeposit supplies assets and returns the shares minted.
func (c *Client) VaultDeposit(ctx context.Context, assets string) (*VaultMove, error) {
	return c.vaultOp(ctx, "/v1/vault/deposit", "assets", assets)
}

// VaultWithdraw removes exactly assets, burning the shares required.
func (c *Client) VaultWithdraw(ctx context.Context, assets string) (*VaultMove, error) {
	return c.vaultOp(ctx, "/v1/vault/withdraw", "assets", assets)
}

// VaultMint mints exactly shares, pulling the assets required.
func (c *Client) VaultMint(ctx context.Context, shares string) (*VaultMove, error) {
	return c.vaultOp(ctx, "/v1/vault/mint", "shares", shares)
}

// VaultRedeem burns shares and returns the assets paid out.
func (c *Client) VaultRedeem(ctx context.Context, shares string) (*VaultMove, error) {
	return c.vaultOp(ctx, "/v1/vault/redeem", "shares", shares)
}

// PreviewDeposit returns the shares a deposit of assets would mint now.
func (c *Client) PreviewDeposit(ctx context.Context, assets string) (*VaultMove, error) {
	return c.preview(ctx, url.Values{"assets": {assets}})
}

// PreviewRedeem returns the assets redeeming shares would pay now.
func (c *Client) PreviewRedeem(ctx context.Context, shares string) (*VaultMove, error) {
	return c.preview(ctx, url.Values{"shares": {shares}})
}

func (c *Client) preview(ctx context.Context, query url.Values) (*VaultMove, error) {
	var out VaultMove
	if err := c.do(ctx, http.MethodGet, "/v1/vault/preview", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Account returns balances, vault holdings and the position of address.
func (c *Client) Account(ctx context.Context, address string) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(address), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transfer moves amount of symbol from the caller to to.
func (c *Client) Transfer(ctx context.Context, symbol, to, amount string) error {
	body := map[string]string{"symbol": symbol, "to": to, "amount": amount}
	return c.do(ctx, http.MethodPost, "/v1/accounts/transfer", nil, body, nil)
}

// EventQuery filters Events. Zero values are ignored.
type EventQuery struct {
	Type    string
	Account string
	Limit   int
}

func (q EventQuery) values() url.Values {
	query := url.Values{}
	if q.Type != "" {
		query.Set("type", q.Type)
	}
	if q.Account != "" {
		query.Set("account", q.Account)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	return query
}

// Events lists journaled events, newest first.
func (c *Client) Events(ctx context.Context, q EventQuery) ([]Event, error) {
	query := q.values()
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/events", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// StreamEvents replays the events stored after cursor and then follows new
// ones, calling fn for each. It returns when ctx ends, fn fails or the daemon
// closes the stream. Resume from the Seq of the last event handled.
func (c *Client) StreamEvents(ctx context.Context, q EventQuery, cursor uint64, fn func(Event) error) error {
	target := *c.base
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}
	target.Path = c.base.Path + "/v1/events/stream"
	query := q.values()
	query.Del("limit")
	query.Set("cursor", strconv.FormatUint(cursor, 10))
	target.RawQuery = query.Encode()

	// Dial rejects clients with a timeout; the context bounds the stream.
	hc := *c.http
	hc.Timeout = 0
	conn, _, err := websocket.Dial(ctx, target.String(), &websocket.DialOptions{HTTPClient: &hc})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var evt Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

// StateRoot returns the current state commitment.
func (c *Client) StateRoot(ctx context.Context) (string, error) {
	var out struct {
		Root string `json:"root"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/state", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Root, nil
}
