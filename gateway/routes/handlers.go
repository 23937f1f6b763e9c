package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"bookchain/chain"
	"bookchain/gateway/middleware"
)

type handlers struct {
	market     Marketplace
	governance Governance
	health     Health
	logger     *slog.Logger
	timeout    time.Duration
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func (h *handlers) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, h.timeout)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := h.context(r.Context())
		defer cancel()
		if err := h.health(ctx); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listBooks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r.Context())
	defer cancel()
	books, err := h.market.ListBooks(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *handlers) getBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()
	record, err := h.market.Book(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handlers) getRating(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()
	rating, err := h.market.Rating(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()
	info, err := h.market.Account(ctx, addr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()
	entries, err := h.market.History(ctx, addr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) governanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r.Context())
	defer cancel()
	writeJSON(w, http.StatusOK, h.governance.Status(ctx))
}

func (h *handlers) pendingProposals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r.Context())
	defer cancel()
	proposals, err := h.governance.Pending(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (h *handlers) getProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()
	proposal, err := h.governance.Proposal(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (h *handlers) uintParam(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		h.writeBadRequest(w, r, fmt.Errorf("%s %q is not an unsigned integer", name, raw))
		return 0, false
	}
	return id, true
}

func (h *handlers) addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		h.writeBadRequest(w, r, fmt.Errorf("address %q is not a hex address", raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (h *handlers) writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), RequestID: middleware.RequestID(r.Context())})
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error(), Kind: chain.KindOf(err), RequestID: middleware.RequestID(r.Context())}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed",
			slog.String("request_id", resp.RequestID),
			slog.String("path", r.URL.Path),
			slog.String("kind", resp.Kind),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, resp)
}

// statusFor maps chain error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, chain.ErrConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, chain.ErrDataConversion):
		return http.StatusBadGateway
	case errors.Is(err, chain.ErrOperationFailed):
		if reason, reverted := chain.RevertReason(err); reverted && isMissingReason(reason) {
			return http.StatusNotFound
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

var missingMarkers = []string{"does not exist", "not found", "unknown book", "unknown proposal"}

func isMissingReason(reason string) bool {
	lower := strings.ToLower(reason)
	for _, marker := range missingMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
