package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ai-educate/livetutor/pkg/requestqueue"
	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(field, value string, valid []string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %q (must be one of: %s)", field, value, strings.Join(valid, ", "))
}

// ValidatePort validates a listen port. Zero picks a free port.
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("gateway port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateOrigins checks that every allowed origin is "*" or an absolute URL.
func (v *Validator) ValidateOrigins(origins []string) error {
	for _, origin := range origins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid allowed origin: %q", origin)
		}
	}
	return nil
}

// ValidateProvider validates the agent runtime provider.
func (v *Validator) ValidateProvider(provider string) error {
	return oneOf("agent provider", provider, []string{"gemini", "loopback"})
}

// ValidateAPIKey validates a provider credential.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if provider != "gemini" {
		return nil
	}
	if key == "" {
		return fmt.Errorf("gemini API key cannot be empty (set agent.api_key or GOOGLE_API_KEY)")
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return fmt.Errorf("gemini API key contains whitespace")
	}
	return nil
}

// ValidateEndpoint requires a ws or wss URL.
func (v *Validator) ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid agent endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("agent endpoint must use ws or wss, got %q", u.Scheme)
	}
	return nil
}

// ValidateQueue validates request queue bounds.
func (v *Validator) ValidateQueue(q QueueConfig) error {
	if q.Capacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", q.Capacity)
	}
	if _, err := requestqueue.ParseOverflowPolicy(q.Overflow); err != nil {
		return err
	}
	return nil
}

// ValidateStoreDriver validates the session store driver.
func (v *Validator) ValidateStoreDriver(driver string) error {
	return oneOf("store driver", driver, []string{"sqlite", "memory"})
}

// ValidateSchedule validates a cron spec or @every descriptor.
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf("log level", level, []string{"trace", "debug", "info", "warn", "error"})
}

// ValidateSampleRatio validates a tracing sample ratio.
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("tracing sample_ratio must be between 0 and 1, got %g", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(v.ValidatePort(cfg.Gateway.Port))
	add(v.ValidateOrigins(cfg.Gateway.AllowedOrigins))
	if cfg.Gateway.ReadLimit <= 0 {
		add(fmt.Errorf("gateway read_limit must be positive"))
	}
	if cfg.Gateway.IdleTimeout < 0 || cfg.Gateway.MaxSessionDuration < 0 {
		add(fmt.Errorf("gateway timeouts must be >= 0"))
	}
	if cfg.Gateway.IdleTimeout > 0 && cfg.Gateway.PingInterval >= cfg.Gateway.IdleTimeout {
		add(fmt.Errorf("gateway ping_interval (%s) must be shorter than idle_timeout (%s)", cfg.Gateway.PingInterval, cfg.Gateway.IdleTimeout))
	}

	add(v.ValidateQueue(cfg.Queue))

	add(v.ValidateProvider(cfg.Agent.Provider))
	add(v.ValidateAPIKey(cfg.Agent.APIKey, cfg.Agent.Provider))
	add(v.ValidateEndpoint(cfg.Agent.Endpoint))
	if cfg.Agent.Provider == "gemini" && cfg.Agent.Model == "" {
		add(fmt.Errorf("agent model is required for gemini"))
	}

	add(v.ValidateStoreDriver(cfg.Store.Driver))
	add(v.ValidateSchedule(cfg.Store.SweepSchedule))
	if cfg.Store.Retention < 0 {
		add(fmt.Errorf("store retention must be >= 0"))
	}

	add(v.ValidateLogLevel(cfg.Logging.Level))
	add(v.ValidateSampleRatio(cfg.Tracing.SampleRatio))

	return errs
}
