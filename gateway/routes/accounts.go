package routes

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"floorlend/storage/journal"
)

const streamWriteTimeout = 10 * time.Second

type accountResponse struct {
	Address      string           `json:"address"`
	Hex          string           `json:"hex"`
	FloorBalance string           `json:"floor_balance"`
	QuoteBalance string           `json:"quote_balance"`
	VaultShares  string           `json:"vault_shares"`
	VaultAssets  string           `json:"vault_assets"`
	Position     positionResponse `json:"position"`
}

type transferRequest struct {
	Symbol string `json:"symbol"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type eventResponse struct {
	ID         string            `json:"id"`
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
}

type eventsResponse struct {
	Events []eventResponse `json:"events"`
}

type stateResponse struct {
	Root      string `json:"root"`
	Positions int    `json:"positions"`
}

func (h *handlers) mountAccounts(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Get("/{address}", h.getAccount)
	mutating(r, guard, func(r chi.Router) {
		r.Post("/transfer", h.transfer)
	})
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAccount("address", chi.URLParam(r, "address"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.protocol.Account(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Address:      address(addr),
		Hex:          addr.Hex(),
		FloorBalance: units(view.FloorBalance),
		QuoteBalance: units(view.QuoteBalance),
		VaultShares:  units(view.VaultShares),
		VaultAssets:  units(view.VaultAssets),
		Position:     newPositionResponse(view.Position),
	})
}

func (h *handlers) transfer(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req transferRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := parseAccount("to", req.To)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.protocol.Transfer(from, req.Symbol, to, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusOK, eventsResponse{Events: []eventResponse{}})
		return
	}
	filter, err := eventFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.fail(w, r, badRequest("limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}
	records, err := h.events.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := eventsResponse{Events: make([]eventResponse, 0, len(records))}
	for _, rec := range records {
		evt, err := newEventResponse(rec)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out.Events = append(out.Events, evt)
	}
	writeJSON(w, http.StatusOK, out)
}

// streamEvents upgrades to a websocket, replays the journal after ?cursor=
// and then pushes each new record as it is stored. Every message carries its
// seq, which a client passes as the cursor when it reconnects.
func (h *handlers) streamEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.fail(w, r, errEventsDisabled)
		return
	}
	filter, err := eventFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var cursor uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		if cursor, err = strconv.ParseUint(raw, 10, 64); err != nil {
			h.fail(w, r, badRequest("cursor must be an unsigned integer"))
			return
		}
	}
	// The stream outlives the server's request deadlines.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, cursor, filter); err != nil && ctx.Err() == nil {
		if websocket.CloseStatus(err) == -1 {
			h.logger.Warn("event stream failed", "error", err, "cursor", cursor)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *handlers) stream(ctx context.Context, conn *websocket.Conn, cursor uint64, filter journal.Filter) error {
	feed, cancel := h.events.Subscribe(ctx)
	defer cancel()

	filter.Limit = journal.MaxLimit
	for {
		for {
			records, err := h.events.Since(ctx, cursor, filter)
			if err != nil {
				return err
			}
			for _, rec := range records {
				evt, err := newEventResponse(rec)
				if err != nil {
					return err
				}
				writeCtx, cancelWrite := context.WithTimeout(ctx, streamWriteTimeout)
				err = wsjson.Write(writeCtx, conn, evt)
				cancelWrite()
				if err != nil {
					return err
				}
				cursor = rec.Seq
			}
			if len(records) < filter.Limit {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-feed:
			if !ok {
				return ctx.Err()
			}
		}
	}
}

func eventFilter(r *http.Request) (journal.Filter, error) {
	filter := journal.Filter{Type: strings.TrimSpace(r.URL.Query().Get("type"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("account")); raw != "" {
		addr, err := parseAccount("account", raw)
		if err != nil {
			return journal.Filter{}, err
		}
		filter.Account = addr.Hex()
	}
	return filter, nil
}

func newEventResponse(rec journal.Record) (eventResponse, error) {
	attrs, err := rec.Decoded()
	if err != nil {
		return eventResponse{}, err
	}
	return eventResponse{
		ID:         rec.ID.String(),
		Seq:        rec.Seq,
		Type:       rec.Type,
		Attributes: attrs,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// streamOrigins turns the CORS origin list into websocket origin host
// patterns. An empty list accepts any origin.
func streamOrigins(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			origin = u.Host
		}
		if origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (h *handlers) stateRoot(w http.ResponseWriter, r *http.Request) {
	root, err := h.protocol.Root()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Root: root.Hex(), Positions: len(h.protocol.Positions())})
}
