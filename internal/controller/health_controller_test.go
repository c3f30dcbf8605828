package controller

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/cassiomorais/paycore/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticBacklog int

func (b staticBacklog) CountPending(context.Context) (int, error) { return int(b), nil }

func TestHealthEndpoints(t *testing.T) {
	f := setupAPI(t, func(d *RouterDeps) {
		d.Checks = map[string]Check{"database": func(context.Context) error { return nil }}
		d.Outbox = staticBacklog(3)
	})

	live := f.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, live.Code)

	ready := f.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, ready.Code)
	body := decodeBody[map[string]any](t, ready)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, float64(3), body["outbox_pending"])
}

func TestReadiness_FailingDependency(t *testing.T) {
	f := setupAPI(t, func(d *RouterDeps) {
		d.Checks = map[string]Check{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("dial tcp: connection refused") },
		}
	})

	rec := f.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "redis unavailable", body["reason"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := setupAPI(t, func(d *RouterDeps) {
		d.Metrics = observability.NewMetrics("paycore", reg)
		d.Gatherer = reg
	})

	f.do(t, http.MethodGet, "/health", nil)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paycore_http_requests_total")
}
