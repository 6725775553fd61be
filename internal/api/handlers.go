package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/ingestion"
	"github.com/pimarket/reconciler/internal/reconciliation"
	"github.com/pimarket/reconciler/internal/repository"
	"github.com/pimarket/reconciler/internal/wallet"
)

// maxWebhookBody caps a notification body; real payloads are well under 4KB.
const maxWebhookBody = 1 << 20

type reconciler interface {
	ProcessTransfer(ctx context.Context, n domain.TransferNotification) (*reconciliation.Result, error)
	RetryEarning(ctx context.Context, orderID string) (*wallet.EarningResult, error)
}

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	reconciler reconciler
	ingestion  *ingestion.Service
	wallet     *wallet.Service
	txns       *repository.TransactionRepo
	unmatched  *repository.UnmatchedRepo
	orders     *repository.OrderRepo
	logger     *zap.Logger
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func parseBool(s string) *bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &v
}

// --- HandleBankTransfer ---

type webhookResponse struct {
	Success       bool                   `json:"success"`
	Status        reconciliation.Status  `json:"status"`
	Message       string                 `json:"message"`
	OrderID       string                 `json:"order_id,omitempty"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	Reason        domain.UnmatchedReason `json:"reason,omitempty"`
	EarningError  string                 `json:"earning_error,omitempty"`
}

// HandleBankTransfer receives the gateway webhook. Any terminal outcome is
// a 200 so the gateway stops retrying; only a malformed body (400) or a
// failure to persist the outcome (500) is not.
func (h *Handlers) HandleBankTransfer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	n, err := ingestion.ParseNotification(body)
	if err != nil {
		h.logger.Warn("rejected malformed notification", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.reconciler.ProcessTransfer(r.Context(), n)
	if err != nil {
		h.logger.Error("failed to process transfer", zap.Int64("gateway_id", n.GatewayID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not record transfer, please retry")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Success:       true,
		Status:        res.Status,
		Message:       res.Message,
		OrderID:       res.OrderID,
		TransactionID: res.TransactionID,
		Reason:        res.Reason,
		EarningError:  res.EarningError,
	})
}

// --- ImportStatement ---

func (h *Handlers) ImportStatement(w http.ResponseWriter, r *http.Request) {
	// Accept multipart form.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
		return
	}

	result, err := h.ingestion.ImportStatement(r.Context(), data)
	switch {
	case errors.Is(err, domain.ErrMalformedNotification):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
			"partial": result,
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- ListTransactions ---

func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TransactionFilter{
		Processed: parseBool(q.Get("processed")),
		From:      parseTime(q.Get("from")),
		To:        parseTime(q.Get("to")),
		Page:      parseIntDefault(q.Get("page"), 1),
		Limit:     parseIntDefault(q.Get("limit"), 50),
	}

	txns, total, err := h.txns.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"total":        total,
		"page":         filter.Page,
		"limit":        filter.Limit,
	})
}

// --- GetTransaction ---

func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	gatewayID, err := strconv.ParseInt(chi.URLParam(r, "gatewayID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "gateway id must be a number")
		return
	}

	txn, err := h.txns.GetByGatewayID(r.Context(), gatewayID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	audit, err := h.unmatched.GetByGatewayID(r.Context(), gatewayID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": txn,
		"unmatched":   audit,
	})
}

// --- ListUnmatched ---

func (h *Handlers) ListUnmatched(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.UnmatchedFilter{
		Reason: q.Get("reason"),
		From:   parseTime(q.Get("from")),
		To:     parseTime(q.Get("to")),
		Page:   parseIntDefault(q.Get("page"), 1),
		Limit:  parseIntDefault(q.Get("limit"), 50),
	}

	items, total, err := h.unmatched.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	totalAmount, err := h.unmatched.SumAmount(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"unmatched":        items,
		"total":            total,
		"page":             filter.Page,
		"limit":            filter.Limit,
		"total_amount_vnd": totalAmount,
	})
}

// --- GetUnmatchedSummary ---

func (h *Handlers) GetUnmatchedSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.unmatched.GetSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// --- GetOrderPaymentStatus ---

func (h *Handlers) GetOrderPaymentStatus(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":               order.ID,
		"status":                 order.Status,
		"delivery_status":        order.DeliveryStatus,
		"delivery_notes":         order.DeliveryNotes,
		"expected_amount":        order.ExpectedAmount(),
		"payment_verified_at":    order.PaymentVerifiedAt,
		"bank_transaction_id":    order.BankTransactionID,
		"gateway_transaction_id": order.GatewayTransactionID,
		"earning_error":          order.EarningError,
		"earning_failed_at":      order.EarningFailedAt,
	})
}

// --- ListEarningFailures ---

func (h *Handlers) ListEarningFailures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parseIntDefault(q.Get("page"), 1)
	limit := parseIntDefault(q.Get("limit"), 50)

	orders, total, err := h.orders.ListEarningFailures(r.Context(), page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// --- RetryEarning ---

func (h *Handlers) RetryEarning(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	result, err := h.reconciler.RetryEarning(r.Context(), orderID)

	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		return
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, verr.Error())
		return
	case err != nil:
		h.logger.Error("earning retry failed", zap.String("order_id", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- GetWallet ---

func (h *Handlers) GetWallet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parseIntDefault(q.Get("page"), 1)
	limit := parseIntDefault(q.Get("limit"), 50)

	wal, logs, total, err := h.wallet.Wallet(r.Context(), chi.URLParam(r, "sellerID"), page, limit)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"wallet": wal,
		"logs":   logs,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// --- GetDashboard ---

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	processed, unprocessed, err := h.txns.CountByProcessed(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	orderCounts, err := h.orders.CountByStatus(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary, err := h.unmatched.GetSummary(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	matured, err := h.wallet.MaturedPending(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, failedEarnings, err := h.orders.ListEarningFailures(ctx, 1, 1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": map[string]int{
			"total":       processed + unprocessed,
			"processed":   processed,
			"unprocessed": unprocessed,
		},
		"orders": orderCounts,
		"unmatched": map[string]any{
			"total":            summary.TotalCount,
			"total_amount_vnd": summary.TotalAmount,
			"by_reason":        summary.ByReason,
		},
		"earnings_due_for_release": len(matured),
		"earnings_failed":          failedEarnings,
	})
}
