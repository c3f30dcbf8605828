package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// breakerReporter is implemented by providers that sit behind a circuit
// breaker.
type breakerReporter interface {
	State() gobreaker.State
}

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrTransactionNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrIntentNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrUnsupportedProvider, http.StatusUnprocessableEntity, "unsupported_provider"},
	{domainErrors.ErrNotRefundable, http.StatusUnprocessableEntity, "not_refundable"},
	{domainErrors.ErrRefundExceedsAmount, http.StatusUnprocessableEntity, "refund_exceeds_amount"},
	{domainErrors.ErrLockAcquisitionFailed, http.StatusConflict, "locked"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrOptimisticLockFailed, http.StatusConflict, "conflict"},
	{domainErrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		resp.Details = validationErr.Details
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	// Checked before the sentinel table: a refund guard tripping after the
	// provider refunded is a persistence problem, not a client error.
	var persistenceErr *domainErrors.PersistenceError
	if errors.As(err, &persistenceErr) {
		log.Error().Err(err).Str("external_reference_id", persistenceErr.ExternalReferenceID).
			Msg("provider succeeded but result was not stored")
		resp.Code = "persistence_error"
		resp.Error = "payment was processed by the provider but could not be recorded"
		resp.ExternalReferenceID = persistenceErr.ExternalReferenceID
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			if m.err == domainErrors.ErrOptimisticLockFailed || m.err == domainErrors.ErrLockAcquisitionFailed {
				resp.Error = "concurrent modification, please retry"
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

// writeResult writes a provider outcome. Unsuccessful outcomes are business
// results and go out as 402 with the same body.
func writeResult(w http.ResponseWriter, success bool, okStatus int, body any) {
	if !success {
		writeJSON(w, http.StatusPaymentRequired, body)
		return
	}
	writeJSON(w, okStatus, body)
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			details := make([]string, 0, len(ve))
			for _, fe := range ve {
				details = append(details, fe.Field()+" failed "+fe.Tag()+" validation")
			}
			return domainErrors.NewValidationErrors(details)
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
