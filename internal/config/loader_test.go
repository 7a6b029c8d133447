package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv points HOME at a temp dir and clears credential variables.
func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"LIVETUTOR_AGENT_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		t.Setenv(key, "")
	}
	return home
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		home := isolateEnv(t)
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 8004, cfg.Gateway.Port)
		assert.Equal(t, 256, cfg.Queue.Capacity)
		assert.Equal(t, "block", cfg.Queue.Overflow)
		assert.Equal(t, filepath.Join(home, ".livetutor"), cfg.DataDir)
		assert.Equal(t, filepath.Join(home, ".livetutor", "sessions.db"), cfg.Store.Path)
		assert.Equal(t, filepath.Join(home, ".livetutor", "livetutor.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(home, ".livetutor", "audit.log"), cfg.Logging.AuditFile)
	})

	t.Run("load config from file", func(t *testing.T) {
		isolateEnv(t)
		configPath := filepath.Join(t.TempDir(), "config.json")

		testConfig := `{
			"gateway": {"port": 9100, "idle_timeout": "90s", "allowed_origins": ["https://tutor.example"]},
			"queue": {"capacity": 8, "overflow": "drop"},
			"agent": {"provider": "loopback"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 9100, cfg.Gateway.Port)
		assert.Equal(t, 90*time.Second, cfg.Gateway.IdleTimeout)
		assert.Equal(t, []string{"https://tutor.example"}, cfg.Gateway.AllowedOrigins)
		assert.Equal(t, 8, cfg.Queue.Capacity)
		assert.Equal(t, "drop", cfg.Queue.Overflow)
		assert.Equal(t, "loopback", cfg.Agent.Provider)
		// Untouched keys keep their defaults.
		assert.Equal(t, 20*time.Second, cfg.Gateway.PingInterval)
		assert.Equal(t, "Puck", cfg.Agent.Voice)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		isolateEnv(t)
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"gateway": {"port": 9100}}`), 0644))

		t.Setenv("LIVETUTOR_GATEWAY_PORT", "9200")
		t.Setenv("LIVETUTOR_GATEWAY_MAX_SESSION_DURATION", "45m")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 9200, cfg.Gateway.Port)
		assert.Equal(t, 45*time.Minute, cfg.Gateway.MaxSessionDuration)
	})

	t.Run("api key aliases without a file", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("GOOGLE_API_KEY", "from-google-env")

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, "from-google-env", cfg.Agent.APIKey)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		isolateEnv(t)
		configPath := filepath.Join(t.TempDir(), "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	isolateEnv(t)
	configPath := filepath.Join(t.TempDir(), "nested", "livetutor.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Gateway.Port = 9300
	cfg.Gateway.MaxSessionDuration = time.Hour
	cfg.Agent.APIKey = "saved-key"
	cfg.Queue.Overflow = "fail"

	require.NoError(t, loader.Save(cfg))
	_, err := os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9300, loaded.Gateway.Port)
	assert.Equal(t, time.Hour, loaded.Gateway.MaxSessionDuration)
	assert.Equal(t, "saved-key", loaded.Agent.APIKey)
	assert.Equal(t, "fail", loaded.Queue.Overflow)

	// Saving again overwrites in place.
	cfg.Gateway.Port = 9301
	require.NoError(t, loader.Save(cfg))
	loaded, err = loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9301, loaded.Gateway.Port)
}

func TestLoaderWatch(t *testing.T) {
	isolateEnv(t)
	configPath := filepath.Join(t.TempDir(), "livetutor.json")

	t.Run("requires a loaded file", func(t *testing.T) {
		loader := NewLoader(configPath)
		assert.Error(t, loader.Watch(func(*Config, error) {}))

		_, err := loader.Load()
		require.NoError(t, err)
		assert.Error(t, loader.Watch(func(*Config, error) {}))
	})

	t.Run("reports changes", func(t *testing.T) {
		require.NoError(t, os.WriteFile(configPath, []byte(`{"logging": {"level": "info"}}`), 0644))

		loader := NewLoader(configPath)
		_, err := loader.Load()
		require.NoError(t, err)

		levels := make(chan string, 8)
		require.NoError(t, loader.Watch(func(cfg *Config, err error) {
			if err == nil {
				levels <- cfg.Logging.Level
			}
		}))

		require.NoError(t, os.WriteFile(configPath, []byte(`{"logging": {"level": "debug"}}`), 0644))

		deadline := time.After(5 * time.Second)
		for {
			select {
			case level := <-levels:
				if level == "debug" {
					return
				}
			case <-deadline:
				t.Fatal("config change not observed")
			}
		}
	})
}

func TestGetConfigPathDefault(t *testing.T) {
	home := isolateEnv(t)
	assert.Equal(t, filepath.Join(home, ".livetutor", "livetutor.json"), NewLoader("").GetConfigPath())
}

func TestLoadConvenience(t *testing.T) {
	isolateEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Agent.Provider)
}
