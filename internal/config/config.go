package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Config is the livetutor configuration.
type Config struct {
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`
	Queue   QueueConfig   `json:"queue" mapstructure:"queue"`
	Agent   AgentConfig   `json:"agent" mapstructure:"agent"`
	Store   StoreConfig   `json:"store" mapstructure:"store"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory for the session database, logs and audit trail.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds the client-facing WebSocket server settings.
type GatewayConfig struct {
	Host           string   `json:"host" mapstructure:"host"`
	Port           int      `json:"port" mapstructure:"port"`
	AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	ExposeSessions bool     `json:"expose_sessions" mapstructure:"expose_sessions"`

	ReadLimit    int64         `json:"read_limit" mapstructure:"read_limit"` // bytes per inbound message
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval" mapstructure:"ping_interval"`
	// IdleTimeout also bounds the wait for a pong.
	IdleTimeout        time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	MaxSessionDuration time.Duration `json:"max_session_duration" mapstructure:"max_session_duration"` // 0 = unlimited
	ShutdownTimeout    time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// QueueConfig bounds each connection's request queue.
type QueueConfig struct {
	Capacity int    `json:"capacity" mapstructure:"capacity"`
	Overflow string `json:"overflow" mapstructure:"overflow"` // block, drop, fail
}

// AgentConfig selects and tunes the live agent runtime.
type AgentConfig struct {
	Provider       string        `json:"provider" mapstructure:"provider"` // gemini, loopback
	Endpoint       string        `json:"endpoint" mapstructure:"endpoint"`
	APIKey         string        `json:"api_key" mapstructure:"api_key"`
	Model          string        `json:"model" mapstructure:"model"`
	Voice          string        `json:"voice" mapstructure:"voice"`
	PersonaFile    string        `json:"persona_file" mapstructure:"persona_file"`
	DialTimeout    time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	SetupTimeout   time.Duration `json:"setup_timeout" mapstructure:"setup_timeout"`
	MaxMessageSize int64         `json:"max_message_size" mapstructure:"max_message_size"`
}

// StoreConfig selects the session store and its retention.
type StoreConfig struct {
	Driver        string        `json:"driver" mapstructure:"driver"` // sqlite, memory
	Path          string        `json:"path" mapstructure:"path"`
	AppName       string        `json:"app_name" mapstructure:"app_name"`
	Retention     time.Duration `json:"retention" mapstructure:"retention"`
	SweepSchedule string        `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:               "0.0.0.0",
			Port:               8004,
			AllowedOrigins:     []string{"*"},
			ReadLimit:          4 << 20,
			WriteTimeout:       10 * time.Second,
			PingInterval:       20 * time.Second,
			IdleTimeout:        60 * time.Second,
			MaxSessionDuration: 0,
			ShutdownTimeout:    30 * time.Second,
		},
		Queue: QueueConfig{
			Capacity: 256,
			Overflow: "block",
		},
		Agent: AgentConfig{
			Provider:       "gemini",
			Endpoint:       "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
			Model:          "gemini-2.5-flash-native-audio-preview-12-2025",
			Voice:          "Puck",
			DialTimeout:    15 * time.Second,
			SetupTimeout:   15 * time.Second,
			MaxMessageSize: 16 << 20,
		},
		Store: StoreConfig{
			Driver:        "sqlite",
			AppName:       "ai-educate",
			Retention:     30 * 24 * time.Hour,
			SweepSchedule: "@every 1h",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "livetutor",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation with the API key masked.
func (c *Config) String() string {
	masked := *c
	if masked.Agent.APIKey != "" {
		masked.Agent.APIKey = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
