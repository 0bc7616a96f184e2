package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMap_Defaults(t *testing.T) {
	cfg, err := ParseMap(nil)
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.Model.Provider)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.Model.BaseURL)
	assert.Equal(t, 500, cfg.Model.MaxTokens)
	assert.Equal(t, int64(20), cfg.Gateway.MaxPending)
	assert.Equal(t, int64(5), cfg.Gateway.MaxConcurrent)
	assert.Equal(t, 10*time.Second, cfg.Gateway.AdmissionWait)
	assert.Equal(t, 60*time.Second, cfg.Gateway.ReadTimeout)
	assert.Equal(t, 2*time.Second, cfg.Engine.ResponseDelay)
	assert.Equal(t, 3*time.Second, cfg.Engine.ThinkingDelay)
	assert.Equal(t, 30*time.Second, cfg.Engine.AmbientCooldown)
	assert.Equal(t, time.Minute, cfg.Engine.LoreCooldown)
	assert.True(t, cfg.Engine.ChatEnabled)
	assert.True(t, cfg.Engine.AmbientEnabled)
	assert.Equal(t, "./data", cfg.Server.DataDir)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Empty(t, cfg.Server.OTelEndpoint)
}

func TestParseMap_Overrides(t *testing.T) {
	cfg, err := ParseMap(map[string]string{
		"PROVIDER":         "anthropic",
		"MAX_CONCURRENT":   "2",
		"RESPONSE_DELAY":   "500ms",
		"CHAT_ENABLED":     "false",
		"GENERAL_CONTEXTS": "It is a medieval world., Magic is rare.",
		"LOG_LEVEL":        "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Model.Provider)
	assert.Equal(t, int64(2), cfg.Gateway.MaxConcurrent)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.ResponseDelay)
	assert.False(t, cfg.Engine.ChatEnabled)
	assert.Equal(t, []string{"It is a medieval world.", "Magic is rare."}, cfg.Engine.GeneralContexts)
}

func TestParseMap_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		msg  string
	}{
		{"provider", map[string]string{"PROVIDER": "llama"}, "provider"},
		{"base url", map[string]string{"BASE_URL": "openrouter"}, "base url"},
		{"pending below concurrent", map[string]string{"MAX_PENDING": "2", "MAX_CONCURRENT": "5"}, "max pending"},
		{"log level", map[string]string{"LOG_LEVEL": "loud"}, "log level"},
		{"log format", map[string]string{"LOG_FORMAT": "xml"}, "log format"},
		{"negative delay", map[string]string{"THINKING_DELAY": "-1s"}, "thinking delay"},
		{"unparsable", map[string]string{"MAX_TOKENS": "many"}, "parse env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMap(tt.vars)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("STORYMESH_MODEL=test-model\nSTORYMESH_AMBIENT_STEP=1s\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("STORYMESH_MODEL")
		_ = os.Unsetenv("STORYMESH_AMBIENT_STEP")
	})
	t.Setenv("STORYMESH_HTTP_ADDR", ":9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-model", cfg.Model.Name)
	assert.Equal(t, time.Second, cfg.Engine.AmbientStep)
	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
