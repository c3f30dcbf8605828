package controller

import (
	"context"
	"io"
	"net/http"

	"github.com/cassiomorais/paycore/internal/infrastructure/observability"
	"github.com/cassiomorais/paycore/internal/providers"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// EventVerifier authenticates a raw webhook body and normalizes it. A nil
// event with a nil error means the event type is not one paycore handles.
type EventVerifier interface {
	Parse(payload []byte, signature string) (*providers.GatewayEvent, error)
}

// EventApplier applies a verified gateway event to stored state.
type EventApplier interface {
	ApplyGatewayEvent(ctx context.Context, ev providers.GatewayEvent) error
}

// WebhookController receives gateway notifications. Each provider has its
// own verifier and signature header.
type WebhookController struct {
	applier   EventApplier
	verifiers map[string]webhookSource
	logger    zerolog.Logger
}

type webhookSource struct {
	verifier        EventVerifier
	signatureHeader string
}

func NewWebhookController(applier EventApplier, logger zerolog.Logger) *WebhookController {
	return &WebhookController{
		applier:   applier,
		verifiers: make(map[string]webhookSource),
		logger:    observability.ComponentLogger(logger, observability.ComponentWebhooks),
	}
}

// Register enables webhooks for provider.
func (h *WebhookController) Register(provider, signatureHeader string, verifier EventVerifier) {
	h.verifiers[provider] = webhookSource{verifier: verifier, signatureHeader: signatureHeader}
}

// Enabled reports whether any provider accepts webhooks.
func (h *WebhookController) Enabled() bool { return len(h.verifiers) > 0 }

// Receive handles POST /api/v1/webhooks/{provider}
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	source, ok := h.verifiers[provider]
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "webhooks not enabled for " + provider, Code: "not_found"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unreadable body", Code: "invalid_body"})
		return
	}

	ev, err := source.verifier.Parse(payload, r.Header.Get(source.signatureHeader))
	if err != nil {
		h.logger.Warn().Err(err).Str("provider", provider).Msg("Rejected webhook")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid signature", Code: "invalid_signature"})
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// Failures are answered with 5xx so the gateway redelivers.
	if err := h.applier.ApplyGatewayEvent(r.Context(), *ev); err != nil {
		h.logger.Error().Err(err).Str("event_id", ev.ID).Str("provider", provider).Msg("Failed to apply webhook")
		writeError(w, err)
		return
	}
	h.logger.Info().Str("event_id", ev.ID).Str("kind", string(ev.Kind)).
		Str("external_reference_id", ev.ExternalReferenceID).Msg("Webhook applied")
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
