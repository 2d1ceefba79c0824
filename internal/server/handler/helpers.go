package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/form"
	"github.com/alanyoungcy/limitorder/internal/service"
)

// maxBodyBytes bounds request bodies. A form state with a page of open
// orders stays well under it.
const maxBodyBytes = 1 << 20

// errorResponse is the body of every failed request. Kind is set for
// user-facing errors; the remaining fields carry what a client needs to
// resume a paused submission.
type errorResponse struct {
	Error           string                 `json:"error"`
	Kind            string                 `json:"kind,omitempty"`
	Submission      *service.Submission    `json:"submission,omitempty"`
	Conflicts       []domain.OrderDayGroup `json:"conflicts,omitempty"`
	Shortfall       *domain.Amount         `json:"shortfall,omitempty"`
	EstimatedGasFee string                 `json:"estimated_gas_fee,omitempty"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps err onto a status code and writes it. sub is
// attached when the submission paused rather than failed.
func writeServiceError(w http.ResponseWriter, err error, sub *service.Submission) {
	resp := errorResponse{Error: err.Error(), Submission: sub}
	if kind, ok := domain.ErrorKind(err); ok {
		resp.Kind = kind
	}

	var conflicts domain.ConflictingOrdersError
	if errors.As(err, &conflicts) {
		resp.Conflicts = conflicts.Groups
	}
	var conversion domain.ConversionRequiredError
	if errors.As(err, &conversion) {
		shortfall := conversion.Shortfall
		resp.Shortfall = &shortfall
		if conversion.EstimatedGasFee != nil {
			resp.EstimatedGasFee = conversion.EstimatedGasFee.String()
		}
	}

	writeJSON(w, statusFor(err), resp)
}

// statusFor picks the HTTP status for an error returned by the service
// layer.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoPendingAttempt):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrSubmissionInFlight), errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, form.ErrUnknownAction), errors.Is(err, domain.ErrUnknownToken):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrCancelRefused):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	}

	kind, ok := domain.ErrorKind(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case domain.KindConflictingOrders, domain.KindConversionRequired:
		return http.StatusConflict
	case domain.KindWalletIneligible:
		return http.StatusForbidden
	case domain.KindTransientNetwork:
		return http.StatusServiceUnavailable
	case domain.KindSigning:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until are RFC 3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.ListOpts{}, fmt.Errorf("%s: %w", p.name, err)
		}
		*p.dst = &t
	}
	return opts, nil
}

// parseWallet validates a hex wallet address from a path or query value.
func parseWallet(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("wallet %q is not an address", v)
	}
	return common.HexToAddress(v), nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
