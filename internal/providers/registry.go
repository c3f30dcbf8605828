package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Registration describes how to build one provider. Build returns an error
// when the deployment lacks what the provider needs.
type Registration struct {
	Name  string
	Build func() (Provider, error)
}

// ProviderStatus reports whether a provider is usable and why not.
type ProviderStatus struct {
	Name    string
	Enabled bool
	Reason  string
}

// Registry builds the enabled providers once and serves them read-only.
// Disabled providers are absent from the map; looking them up yields
// ErrUnsupportedProvider.
type Registry struct {
	logger        zerolog.Logger
	registrations []Registration

	once      sync.Once
	providers map[string]Provider
	disabled  map[string]string
}

func NewRegistry(logger zerolog.Logger, registrations ...Registration) *Registry {
	return &Registry{
		logger:        observability.ComponentLogger(logger, observability.ComponentRegistry),
		registrations: registrations,
	}
}

func (r *Registry) build() {
	r.once.Do(func() {
		r.providers = make(map[string]Provider, len(r.registrations))
		r.disabled = make(map[string]string)

		for _, reg := range r.registrations {
			p, err := reg.Build()
			if err == nil && p != nil {
				err = p.ValidateConfig()
			}
			if err != nil {
				r.disabled[reg.Name] = disabledReason(err)
				r.logger.Warn().Str("provider", reg.Name).Str("reason", r.disabled[reg.Name]).Msg("Provider disabled")
				continue
			}
			if p == nil {
				r.disabled[reg.Name] = "provider builder returned nothing"
				continue
			}
			r.providers[reg.Name] = p
			r.logger.Info().Str("provider", reg.Name).Msg("Provider enabled")
		}
	})
}

// disabledReason drops the sentinel prefix so the reason reads on its own.
func disabledReason(err error) string {
	return strings.TrimPrefix(err.Error(), domainErrors.ErrProviderNotConfigured.Error()+": ")
}

// Providers returns a copy of the enabled providers keyed by name.
func (r *Registry) Providers() map[string]Provider {
	r.build()
	out := make(map[string]Provider, len(r.providers))
	for name, p := range r.providers {
		out[name] = p
	}
	return out
}

func (r *Registry) IsEnabled(name string) bool {
	r.build()
	_, ok := r.providers[name]
	return ok
}

// DisabledReason returns why a provider is disabled, or "" if it is enabled
// or was never registered.
func (r *Registry) DisabledReason(name string) string {
	r.build()
	return r.disabled[name]
}

// Get returns the enabled provider with the given name.
func (r *Registry) Get(name payment.Provider) (Provider, error) {
	r.build()
	p, ok := r.providers[string(name)]
	if !ok {
		if reason, disabled := r.disabled[string(name)]; disabled {
			return nil, fmt.Errorf("provider %q is disabled (%s): %w", name, reason, domainErrors.ErrUnsupportedProvider)
		}
		return nil, fmt.Errorf("unknown provider %q: %w", name, domainErrors.ErrUnsupportedProvider)
	}
	return p, nil
}

// Statuses lists every registered provider sorted by name.
func (r *Registry) Statuses() []ProviderStatus {
	r.build()
	out := make([]ProviderStatus, 0, len(r.registrations))
	for _, reg := range r.registrations {
		_, enabled := r.providers[reg.Name]
		out = append(out, ProviderStatus{Name: reg.Name, Enabled: enabled, Reason: r.disabled[reg.Name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset drops the cached providers so the next lookup rebuilds them. It must
// not run concurrently with lookups.
func (r *Registry) Reset() {
	r.once = sync.Once{}
	r.providers = nil
	r.disabled = nil
}
