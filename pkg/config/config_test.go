package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("RTC_APP_ID", "")
	t.Setenv("RTC_DEFAULT_MAX_PARTICIPANTS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8083, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.RTC.CredentialTTL)
	assert.Equal(t, 8, cfg.RTC.DefaultMaxParticipants)
	assert.Empty(t, cfg.RTC.AppID)
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_ShortSecretInProduction(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Environment: "production"},
		JWT:    JWTConfig{Secret: "short"},
		RTC:    RTCConfig{CredentialTTL: time.Hour, DefaultMaxParticipants: 8},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 characters")
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{User: "root", Password: "pw", Host: "db", Port: 26257, Database: "calls", SSLMode: "disable"}
	assert.Equal(t, "postgresql://root:pw@db:26257/calls?sslmode=disable", d.DSN())
}
