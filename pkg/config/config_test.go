package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10, cfg.Results.LockSemesterConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.Analytics.CacheTTL)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOCK_SEMESTER_CONCURRENCY", "40")
	t.Setenv("VERIFICATION_BASE_URL", "https://verify.example.org/r/")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.org, https://b.example.org")
	t.Setenv("RISK_RETRY_DELAY", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 10, cfg.Results.LockSemesterConcurrency)
	assert.Equal(t, "https://verify.example.org/r", cfg.Results.VerificationBaseURL)
	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 2*time.Second, cfg.Risk.RetryDelay)
}
