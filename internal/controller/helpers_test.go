package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		payload      any
		expectedBody string
	}{
		{
			name:         "simple map",
			status:       http.StatusOK,
			payload:      map[string]string{"message": "hello"},
			expectedBody: `{"message":"hello"}`,
		},
		{
			name:         "error response",
			status:       http.StatusBadRequest,
			payload:      ErrorResponse{Error: "bad request", Code: "invalid_input"},
			expectedBody: `{"error":"bad request","code":"invalid_input"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeJSON(w, tt.status, tt.payload)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}

func TestWriteError_ValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewValidationErrors([]string{"amount 50 is below minimum 100", "currency must be JPY"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "validation_error", response.Code)
	assert.Equal(t, []string{"amount 50 is below minimum 100", "currency must be JPY"}, response.Details)
}

func TestWriteError_DomainErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"transaction not found", domainErrors.ErrTransactionNotFound, http.StatusNotFound, "not_found"},
		{"intent not found", fmt.Errorf("intent pi_1: %w", domainErrors.ErrIntentNotFound), http.StatusNotFound, "not_found"},
		{"unsupported provider", domainErrors.ErrUnsupportedProvider, http.StatusUnprocessableEntity, "unsupported_provider"},
		{"not refundable", domainErrors.ErrNotRefundable, http.StatusUnprocessableEntity, "not_refundable"},
		{"refund exceeds amount", domainErrors.ErrRefundExceedsAmount, http.StatusUnprocessableEntity, "refund_exceeds_amount"},
		{"lock held elsewhere", domainErrors.ErrLockAcquisitionFailed, http.StatusConflict, "locked"},
		{"invalid state transition", domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
		{"optimistic lock failed", domainErrors.ErrOptimisticLockFailed, http.StatusConflict, "conflict"},
		{"invalid input", domainErrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{"provider unavailable", domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedCode, response.Code)
		})
	}
}

func TestWriteError_ConcurrencyFailuresShareMessage(t *testing.T) {
	for _, err := range []error{domainErrors.ErrOptimisticLockFailed, domainErrors.ErrLockAcquisitionFailed} {
		w := httptest.NewRecorder()
		writeError(w, err)

		assert.Equal(t, http.StatusConflict, w.Code)
		var response ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "concurrent modification, please retry", response.Error)
	}
}

func TestWriteError_PersistenceErrorWinsOverSentinel(t *testing.T) {
	w := httptest.NewRecorder()
	err := domainErrors.NewPersistenceError("refund_payment", "re_123", domainErrors.ErrRefundExceedsAmount)

	writeError(w, err)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "persistence_error", response.Code)
	assert.Equal(t, "re_123", response.ExternalReferenceID)
}

func TestWriteError_GenericDomainError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewDomainError("custom_error", "custom error message", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "custom_error", response.Code)
	assert.Equal(t, "custom error message", response.Error)
}

func TestWriteError_UnknownError_FallbackToInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("unexpected error"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "internal_error", response.Code)
	assert.Equal(t, "internal server error", response.Error)
}

func TestWriteResult(t *testing.T) {
	w := httptest.NewRecorder()
	writeResult(w, true, http.StatusCreated, map[string]bool{"success": true})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	writeResult(w, false, http.StatusCreated, map[string]bool{"success": false})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.JSONEq(t, `{"success":false}`, w.Body.String())
}

func TestDecodeAndValidate_Success(t *testing.T) {
	body := `{"amount":500,"reason":"late checkout"}`
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))

	var result RefundRequest
	require.NoError(t, decodeAndValidate(httptest.NewRecorder(), req, &result))
	require.NotNil(t, result.Amount)
	assert.Equal(t, int64(500), *result.Amount)
	assert.Equal(t, "late checkout", result.Reason)
}

func TestDecodeAndValidate_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{invalid json}`))

	var result RefundRequest
	err := decodeAndValidate(httptest.NewRecorder(), req, &result)

	var validationErr *domainErrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "body", validationErr.Field)
	assert.Contains(t, validationErr.Message, "invalid JSON")
}

func TestDecodeAndValidate_UnknownField(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"amount":1,"currency":"USD"}`))

	var result RefundRequest
	err := decodeAndValidate(httptest.NewRecorder(), req, &result)
	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
}

func TestDecodeAndValidate_ReportsJSONFieldNames(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"amount":100}`))

	var result ProcessPaymentRequest
	err := decodeAndValidate(httptest.NewRecorder(), req, &result)

	var validationErr *domainErrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Contains(t, validationErr.Details, "reservation_id failed required validation")
	assert.Contains(t, validationErr.Details, "payment_method failed required validation")
}

func TestDecodeAndValidate_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewReader(nil))

	var result ProcessPaymentRequest
	assert.Error(t, decodeAndValidate(httptest.NewRecorder(), req, &result))
}
