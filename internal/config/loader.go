package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. LIVETUTOR_GATEWAY_PORT.
	EnvPrefix = "LIVETUTOR"

	configDirName  = ".livetutor"
	configFileName = "livetutor.json"
)

// Loader handles configuration loading
type Loader struct {
	configPath string

	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

func (l *Loader) newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	// Provider SDK conventions for the credential.
	_ = v.BindEnv("agent.api_key", EnvPrefix+"_AGENT_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")

	return v
}

// setDefaults registers every key so AutomaticEnv can override keys absent
// from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)

	v.SetDefault("gateway.host", cfg.Gateway.Host)
	v.SetDefault("gateway.port", cfg.Gateway.Port)
	v.SetDefault("gateway.allowed_origins", cfg.Gateway.AllowedOrigins)
	v.SetDefault("gateway.expose_sessions", cfg.Gateway.ExposeSessions)
	v.SetDefault("gateway.read_limit", cfg.Gateway.ReadLimit)
	v.SetDefault("gateway.write_timeout", cfg.Gateway.WriteTimeout)
	v.SetDefault("gateway.ping_interval", cfg.Gateway.PingInterval)
	v.SetDefault("gateway.idle_timeout", cfg.Gateway.IdleTimeout)
	v.SetDefault("gateway.max_session_duration", cfg.Gateway.MaxSessionDuration)
	v.SetDefault("gateway.shutdown_timeout", cfg.Gateway.ShutdownTimeout)

	v.SetDefault("queue.capacity", cfg.Queue.Capacity)
	v.SetDefault("queue.overflow", cfg.Queue.Overflow)

	v.SetDefault("agent.provider", cfg.Agent.Provider)
	v.SetDefault("agent.endpoint", cfg.Agent.Endpoint)
	v.SetDefault("agent.api_key", cfg.Agent.APIKey)
	v.SetDefault("agent.model", cfg.Agent.Model)
	v.SetDefault("agent.voice", cfg.Agent.Voice)
	v.SetDefault("agent.persona_file", cfg.Agent.PersonaFile)
	v.SetDefault("agent.dial_timeout", cfg.Agent.DialTimeout)
	v.SetDefault("agent.setup_timeout", cfg.Agent.SetupTimeout)
	v.SetDefault("agent.max_message_size", cfg.Agent.MaxMessageSize)

	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.app_name", cfg.Store.AppName)
	v.SetDefault("store.retention", cfg.Store.Retention)
	v.SetDefault("store.sweep_schedule", cfg.Store.SweepSchedule)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("logging.audit_file", cfg.Logging.AuditFile)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)
}

// Load reads the config file, if any, and applies environment overrides.
// A missing file yields defaults plus environment.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	v := l.newViper(configPath)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.v = v
	l.mu.Unlock()

	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dir
	}
	if cfg.Store.Path == "" && cfg.Store.Driver == "sqlite" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "sessions.db")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "livetutor.log")
	}
	if cfg.Logging.AuditFile == "" {
		cfg.Logging.AuditFile = filepath.Join(cfg.DataDir, "audit.log")
	}

	return cfg, nil
}

// Watch calls fn with the re-read config whenever the file changes. Load must
// have succeeded against an existing file first.
func (l *Loader) Watch(fn func(*Config, error)) error {
	l.mu.Lock()
	v := l.v
	l.mu.Unlock()

	if v == nil {
		return fmt.Errorf("config not loaded")
	}
	if _, err := os.Stat(l.GetConfigPath()); err != nil {
		return fmt.Errorf("cannot watch config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(decode(v))
	})
	v.WatchConfig()
	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("gateway", cfg.Gateway)
	v.Set("queue", cfg.Queue)
	v.Set("agent", cfg.Agent)
	v.Set("store", cfg.Store)
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to write config file: %w", err)
		}
		if err := v.SafeWriteConfig(); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	dir, err := defaultDataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
