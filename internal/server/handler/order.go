package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	Get(ctx context.Context, id string) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter, opts domain.ListOpts) ([]domain.Order, error)
	Open(ctx context.Context, wallet common.Address) ([]domain.Order, error)
	Cancel(ctx context.Context, wallet common.Address, id string) (domain.Order, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrders returns a wallet's reserving orders, or the stored history when
// a state, token or time filter is given.
// GET /api/orders?wallet=0x...&state=filled,cancelled&src=0x...&dest=0x...&limit=50
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wallet, err := parseWallet(q.Get("wallet"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "wallet query parameter required: "+err.Error())
		return
	}
	filter, err := parseOrderFilter(wallet, q.Get("state"), q.Get("src"), q.Get("dest"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var orders []domain.Order
	if historyQuery(filter, opts) {
		orders, err = h.orders.List(r.Context(), filter, opts)
	} else {
		orders, err = h.orders.Open(r.Context(), wallet)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("wallet", wallet.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// GetOrder returns one stored order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelOrder cancels an open order on behalf of its owner.
// DELETE /api/orders/{id}?wallet=0x...
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	wallet, err := parseWallet(r.URL.Query().Get("wallet"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "wallet query parameter required: "+err.Error())
		return
	}

	o, err := h.orders.Cancel(r.Context(), wallet, id)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: cancel order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func historyQuery(f domain.OrderFilter, opts domain.ListOpts) bool {
	return len(f.States) > 0 || f.Src != (common.Address{}) || f.Dest != (common.Address{}) ||
		opts.Since != nil || opts.Until != nil || opts.Offset > 0
}

func parseOrderFilter(wallet common.Address, states, src, dest string) (domain.OrderFilter, error) {
	f := domain.OrderFilter{Wallet: wallet}
	for _, s := range strings.Split(states, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		state := domain.OrderState(s)
		if !state.Known() {
			return domain.OrderFilter{}, fmt.Errorf("unknown order state %q", s)
		}
		f.States = append(f.States, state)
	}
	for _, tok := range []struct {
		name string
		v    string
		dst  *common.Address
	}{{"src", src, &f.Src}, {"dest", dest, &f.Dest}} {
		if tok.v == "" {
			continue
		}
		if !common.IsHexAddress(tok.v) {
			return domain.OrderFilter{}, fmt.Errorf("%s %q is not an address", tok.name, tok.v)
		}
		*tok.dst = common.HexToAddress(tok.v)
	}
	return f, nil
}
