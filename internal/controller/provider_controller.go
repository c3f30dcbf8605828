package controller

import (
	"net/http"

	"github.com/cassiomorais/paycore/internal/providers"
)

// ProviderController reports which providers this deployment can use.
type ProviderController struct {
	registry *providers.Registry
}

func NewProviderController(registry *providers.Registry) *ProviderController {
	return &ProviderController{registry: registry}
}

// List handles GET /api/v1/providers
func (h *ProviderController) List(w http.ResponseWriter, r *http.Request) {
	enabled := h.registry.Providers()
	statuses := h.registry.Statuses()

	resp := make([]ProviderResponse, 0, len(statuses))
	for _, s := range statuses {
		resp = append(resp, FromProviderStatus(s, enabled[s.Name]))
	}
	writeJSON(w, http.StatusOK, resp)
}
