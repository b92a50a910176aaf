package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, "memory", cfg.TransportDriver)
	assert.Equal(t, []string{"default"}, cfg.Namespaces)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("QUORUM_APP_ENV", "production")
	t.Setenv("QUORUM_NAMESPACES", "ws-a,ws-b")
	t.Setenv("QUORUM_STORAGE_DRIVER", "redis")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"ws-a", "ws-b"}, cfg.Namespaces)
	assert.Equal(t, "redis", cfg.StorageDriver)
}

func TestTrustedIssuersParsing(t *testing.T) {
	cfg := &Config{Issuers: `{"ws-a":{"pubkey-1":"alice","pubkey-2":"bob"},"ws-b":{}}`}

	issuers, err := cfg.TrustedIssuers()
	require.NoError(t, err)
	assert.Equal(t, "alice", issuers["ws-a"]["pubkey-1"])
	assert.Equal(t, "bob", issuers["ws-a"]["pubkey-2"])
	assert.Empty(t, issuers["ws-b"])
	assert.Nil(t, issuers["ws-c"])
}

func TestTrustedIssuersRejectsMalformed(t *testing.T) {
	cfg := &Config{Issuers: "not-json"}

	_, err := cfg.TrustedIssuers()
	assert.Error(t, err)
}

func TestTrustedIssuersEmpty(t *testing.T) {
	cfg := &Config{}

	issuers, err := cfg.TrustedIssuers()
	require.NoError(t, err)
	assert.Empty(t, issuers)
}
