package controller

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sparklean/bookings/internal/domain/transaction"
	"github.com/sparklean/bookings/internal/service"
)

// PaymentController handles payment-related HTTP requests.
type PaymentController struct {
	payments *service.PaymentManager
	refunds  *service.RefundCoordinator
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(
	payments *service.PaymentManager,
	refunds *service.RefundCoordinator,
) *PaymentController {
	return &PaymentController{
		payments: payments,
		refunds:  refunds,
	}
}

// CreateIntent handles POST /api/v1/payments
func (h *PaymentController) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.payments.CreateIntent(r.Context(), service.CreateIntentRequest{
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Provider:       req.Provider,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		OwnerID:        req.OwnerID,
		BookingID:      req.BookingID,
		CustomerEmail:  req.CustomerEmail,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, FromTransaction(resp.Transaction))
}

// Get handles GET /api/v1/payments/{id}
func (h *PaymentController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid transaction id", Code: "invalid_id"})
		return
	}

	tx, err := h.payments.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromTransaction(tx))
}

// GetByReference handles GET /api/v1/payments/reference/{reference}
func (h *PaymentController) GetByReference(w http.ResponseWriter, r *http.Request) {
	tx, err := h.payments.GetByReference(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromTransaction(tx))
}

// List handles GET /api/v1/payments
func (h *PaymentController) List(w http.ResponseWriter, r *http.Request) {
	filter := transaction.ListFilter{}

	if s := r.URL.Query().Get("status"); s != "" {
		status := transaction.Status(s)
		filter.Status = &status
	}
	if s := r.URL.Query().Get("provider"); s != "" {
		prov := transaction.Provider(s)
		filter.Provider = &prov
	}
	if s := r.URL.Query().Get("owner_id"); s != "" {
		filter.OwnerID = &s
	}
	if s := r.URL.Query().Get("booking_id"); s != "" {
		filter.BookingID = &s
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	filter.SortBy = r.URL.Query().Get("sort_by")
	filter.SortOrder = r.URL.Query().Get("sort_order")

	transactions, err := h.payments.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*TransactionResponse, 0, len(transactions))
	for _, tx := range transactions {
		resp = append(resp, FromTransaction(tx))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Refund handles POST /api/v1/payments/{id}/refund
func (h *PaymentController) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid transaction id", Code: "invalid_id"})
		return
	}

	var req RefundRequest
	if r.ContentLength > 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	tx, err := h.refunds.Refund(r.Context(), id, req.AmountMinor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromTransaction(tx))
}

// WebhookController receives provider webhook deliveries.
type WebhookController struct {
	processor *service.WebhookProcessor
}

// NewWebhookController creates a new WebhookController.
func NewWebhookController(processor *service.WebhookProcessor) *WebhookController {
	return &WebhookController{processor: processor}
}

// Receive handles POST /webhooks/{provider}. The raw body is read before any
// parsing because signature verification covers the exact bytes on the wire.
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unable to read body", Code: "invalid_body"})
		return
	}

	result, err := h.processor.Handle(r.Context(), chi.URLParam(r, "provider"), body, r.Header)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Status: result.Outcome})
}
