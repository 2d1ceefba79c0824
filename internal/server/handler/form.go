package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/form"
)

// FormService opens order forms and applies actions to them.
type FormService interface {
	Open(ctx context.Context, wallet common.Address, src, dest string, side domain.OrderSide) (form.State, error)
	Apply(ctx context.Context, st form.State, a form.Action) (form.State, error)
}

// FormHandler serves the order form endpoints. The form lives with the
// client; every request carries the full state and gets the next one back.
type FormHandler struct {
	forms  FormService
	logger *slog.Logger
}

// NewFormHandler creates a FormHandler.
func NewFormHandler(forms FormService, logger *slog.Logger) *FormHandler {
	return &FormHandler{forms: forms, logger: logger}
}

type openFormRequest struct {
	Wallet string           `json:"wallet"`
	Src    string           `json:"src"`
	Dest   string           `json:"dest"`
	Side   domain.OrderSide `json:"side"`
}

type reduceRequest struct {
	State  form.State  `json:"state"`
	Action form.Action `json:"action"`
}

type formResponse struct {
	State form.State `json:"state"`
}

// OpenForm returns a new form seeded with the wallet's cached state.
// POST /api/form
func (h *FormHandler) OpenForm(w http.ResponseWriter, r *http.Request) {
	var req openFormRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wallet, err := parseWallet(req.Wallet)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.forms.Open(r.Context(), wallet, req.Src, req.Dest, req.Side)
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, formResponse{State: st})
}

// Reduce applies one action to the posted form state.
// POST /api/form/reduce
func (h *FormHandler) Reduce(w http.ResponseWriter, r *http.Request) {
	var req reduceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.forms.Apply(r.Context(), req.State, req.Action)
	if err != nil {
		h.logger.DebugContext(r.Context(), "handler: form action refused",
			slog.String("action", string(req.Action.Type)),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, formResponse{State: st})
}
