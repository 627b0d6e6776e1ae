package routes

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"floorlend/crypto"
	"floorlend/gateway/middleware"
	"floorlend/native/amm"
	"floorlend/native/fixed"
)

type handlers struct {
	protocol Protocol
	events   EventLog
	logger   *slog.Logger
	limit    int64
	origins  []string
}

// fail writes err and logs responses the caller cannot act on.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := statusFor(err); status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", middleware.RequestIDFromContext(r.Context()))
	}
	writeError(w, err)
}

// decode reads a JSON body into dst rejecting unknown fields. An empty body
// leaves dst untouched.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, h.limit)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("decode request: %v", err)
	}
	return nil
}

func caller(r *http.Request) (common.Address, error) {
	addr, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return common.Address{}, errUnauthenticated
	}
	return addr, nil
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, badRequest("%s is required", field)
	}
	v, err := fixed.ParseUnits(raw)
	if err != nil {
		return nil, badRequest("%s: %v", field, err)
	}
	return v, nil
}

func parseOptionalAmount(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return fixed.Zero(), nil
	}
	return parseAmount(field, raw)
}

func parseAccount(field, raw string) (common.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, badRequest("%s: %v", field, err)
	}
	return addr, nil
}

// parseSide accepts "floor", "quote" or either asset symbol.
func (h *handlers) parseSide(raw string) (amm.Side, error) {
	floorSymbol, quoteSymbol := h.protocol.Symbols()
	switch v := strings.TrimSpace(raw); {
	case strings.EqualFold(v, "floor"), strings.EqualFold(v, floorSymbol):
		return amm.SideFloor, nil
	case strings.EqualFold(v, "quote"), strings.EqualFold(v, quoteSymbol):
		return amm.SideQuote, nil
	default:
		return 0, badRequest("side must be floor or quote, got %q", raw)
	}
}

func units(v *uint256.Int) string { return fixed.FormatUnits(v) }

// raw renders an unscaled integer.
func raw(v *uint256.Int) string { return fixed.ToBig(v).String() }

func address(a common.Address) string { return crypto.EncodeAddress(a) }

type amountRequest struct {
	Amount string `json:"amount"`
}

type accountRequest struct {
	Account string `json:"account"`
}
