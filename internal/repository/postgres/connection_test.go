package postgres

import (
	"testing"
	"time"

	"github.com/cassiomorais/paycore/internal/infrastructure/config"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfig_AppliesSettings(t *testing.T) {
	pc, err := poolConfig(&config.DatabaseConfig{
		Host: "db.internal", Port: 5432, User: "paycore", Password: "secret", Database: "paycore", SSLMode: "disable",
		MaxConnections: 40, MinConnections: 4, ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute, HealthCheck: 15 * time.Second, ApplicationName: "paycore-worker",
	})
	require.NoError(t, err)

	assert.Equal(t, int32(40), pc.MaxConns)
	assert.Equal(t, int32(4), pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, 10*time.Minute, pc.MaxConnIdleTime)
	assert.Equal(t, 15*time.Second, pc.HealthCheckPeriod)
	assert.Equal(t, "paycore-worker", pc.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "db.internal", pc.ConnConfig.Host)
}

func TestPoolConfig_ZeroValuesKeepDriverDefaults(t *testing.T) {
	pc, err := poolConfig(&config.DatabaseConfig{Host: "localhost", Port: 5432, Database: "paycore", SSLMode: "disable"})
	require.NoError(t, err)

	assert.Positive(t, pc.MaxConns)
	assert.Positive(t, pc.HealthCheckPeriod)
	assert.NotContains(t, pc.ConnConfig.RuntimeParams, "application_name")
}

func TestIsolationLevel(t *testing.T) {
	tests := []struct {
		name string
		want pgx.TxIsoLevel
	}{
		{"", pgx.ReadCommitted},
		{"read_committed", pgx.ReadCommitted},
		{"repeatable_read", pgx.RepeatableRead},
		{"serializable", pgx.Serializable},
	}
	for _, tt := range tests {
		got, err := IsolationLevel(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := IsolationLevel("snapshot")
	assert.Error(t, err)
}
