package controller

import (
	"net/http"
	"strings"

	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/service"
	"github.com/go-chi/chi/v5"
)

// PaymentController handles payment, intent and refund HTTP requests.
type PaymentController struct {
	paymentService *service.PaymentService
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(paymentService *service.PaymentService) *PaymentController {
	return &PaymentController{paymentService: paymentService}
}

// ProcessPayment handles POST /api/v1/payments. Repeating a request with the
// same Idempotency-Key header returns the first result.
func (h *PaymentController) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req ProcessPaymentRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	result, err := h.paymentService.ProcessPayment(r.Context(), req.toDomain(idempotencyKey))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result.Success, http.StatusCreated, FromProcessResult(result))
}

// CreateIntent handles POST /api/v1/intents
func (h *PaymentController) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.paymentService.CreatePaymentIntent(r.Context(), req.toDomain())
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result.Success, http.StatusCreated, FromIntentResult(result))
}

// GetIntent handles GET /api/v1/intents/{id}
func (h *PaymentController) GetIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := h.paymentService.GetIntent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromIntent(intent))
}

// ConfirmIntent handles POST /api/v1/intents/{id}/confirm
func (h *PaymentController) ConfirmIntent(w http.ResponseWriter, r *http.Request) {
	result, err := h.paymentService.ConfirmPaymentIntent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result.Success, http.StatusOK, FromProcessResult(result))
}

// RefundTransaction handles POST /api/v1/transactions/{id}/refunds. An empty
// body refunds the remaining balance.
func (h *PaymentController) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if r.ContentLength != 0 {
		if err := decodeAndValidate(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	result, err := h.paymentService.RefundPayment(r.Context(), payment.RefundRequest{
		TransactionID:     chi.URLParam(r, "id"),
		Amount:            req.Amount,
		Reason:            req.Reason,
		ProviderPaymentID: req.ProviderPaymentID,
		Metadata:          req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result.Success, http.StatusOK, FromRefundResult(result))
}

// GetTransaction handles GET /api/v1/transactions/{id}. The provider is
// consulted and a changed status is stored before responding.
func (h *PaymentController) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.paymentService.GetPaymentStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromTransaction(tx))
}

// ListCustomerTransactions handles GET /api/v1/customers/{id}/transactions
func (h *PaymentController) ListCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.paymentService.GetPaymentHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromTransactions(txs))
}

// ListReservationTransactions handles GET /api/v1/reservations/{id}/transactions
func (h *PaymentController) ListReservationTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.paymentService.GetPaymentHistoryByReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromTransactions(txs))
}
