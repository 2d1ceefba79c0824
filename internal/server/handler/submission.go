package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/form"
	"github.com/alanyoungcy/limitorder/internal/service"
)

// Coordinator runs submission attempts.
type Coordinator interface {
	Submit(ctx context.Context, st form.State) (service.Submission, error)
	Acknowledge(ctx context.Context, wallet common.Address) (service.Submission, error)
	ConversionCompleted(ctx context.Context, wallet common.Address) (service.Submission, error)
	Abandon(ctx context.Context, wallet common.Address) error
	Pending(wallet common.Address) (service.Submission, bool)
}

// SubmissionHandler serves order submission and the endpoints that resume
// or drop a paused attempt.
type SubmissionHandler struct {
	coord  Coordinator
	logger *slog.Logger
}

// NewSubmissionHandler creates a SubmissionHandler.
func NewSubmissionHandler(coord Coordinator, logger *slog.Logger) *SubmissionHandler {
	return &SubmissionHandler{coord: coord, logger: logger}
}

type submitRequest struct {
	State form.State `json:"state"`
}

// Submit starts a submission for the posted form. A paused attempt answers
// 409 with the submission and what the client must confirm.
// POST /api/orders
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := h.coord.Submit(r.Context(), req.State)
	h.respond(w, r, "submit", sub, err)
}

// Acknowledge confirms cancelling the conflicting orders.
// POST /api/submissions/{wallet}/ack
func (h *SubmissionHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	wallet, err := parseWallet(pathParam(r, "wallet"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := h.coord.Acknowledge(r.Context(), wallet)
	h.respond(w, r, "acknowledge", sub, err)
}

// Converted reports that the wrap conversion finished.
// POST /api/submissions/{wallet}/converted
func (h *SubmissionHandler) Converted(w http.ResponseWriter, r *http.Request) {
	wallet, err := parseWallet(pathParam(r, "wallet"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := h.coord.ConversionCompleted(r.Context(), wallet)
	h.respond(w, r, "converted", sub, err)
}

// Pending returns the wallet's current attempt.
// GET /api/submissions/{wallet}
func (h *SubmissionHandler) Pending(w http.ResponseWriter, r *http.Request) {
	wallet, err := parseWallet(pathParam(r, "wallet"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, ok := h.coord.Pending(wallet)
	if !ok {
		writeError(w, http.StatusNotFound, "no submission in progress")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Abandon drops the wallet's paused attempt.
// DELETE /api/submissions/{wallet}
func (h *SubmissionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	wallet, err := parseWallet(pathParam(r, "wallet"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.coord.Abandon(r.Context(), wallet); err != nil {
		writeServiceError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubmissionHandler) respond(w http.ResponseWriter, r *http.Request, op string, sub service.Submission, err error) {
	if err == nil {
		writeJSON(w, http.StatusCreated, sub)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: submission did not complete",
		slog.String("op", op),
		slog.String("stage", string(sub.Stage)),
		slog.String("error", err.Error()),
	)
	if sub.AttemptID == "" {
		writeServiceError(w, err, nil)
		return
	}
	writeServiceError(w, err, &sub)
}
