package agent

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Runtime providers.
const (
	ProviderGemini   = "gemini"
	ProviderLoopback = "loopback"
)

// Options selects and configures a runtime provider.
type Options struct {
	Provider string
	Gemini   GeminiConfig
	Logger   *zerolog.Logger
}

// NewConnector creates the Connector for opts.Provider.
func NewConnector(opts Options) (Connector, error) {
	switch opts.Provider {
	case ProviderGemini:
		cfg := opts.Gemini
		if cfg.Logger == nil {
			cfg.Logger = opts.Logger
		}
		return NewGeminiConnector(cfg)
	case ProviderLoopback:
		return NewLoopbackConnector(opts.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported agent provider: %s", opts.Provider)
	}
}
