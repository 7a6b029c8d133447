package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ai-educate/livetutor/internal/config"
	"github.com/ai-educate/livetutor/internal/logger"
	"github.com/ai-educate/livetutor/internal/tracing"
	"github.com/ai-educate/livetutor/pkg/agent"
	"github.com/ai-educate/livetutor/pkg/gateway"
	"github.com/ai-educate/livetutor/pkg/requestqueue"
	"github.com/ai-educate/livetutor/pkg/session"
	"github.com/rs/zerolog"
)

// app owns every long-lived component of a running gateway.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   session.Store
	sweeper *session.Sweeper
	server  *gateway.Server
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
}

func openStore(cfg *config.Config, log zerolog.Logger) (session.Store, error) {
	if cfg.Store.Driver == session.DriverSQLite {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return session.Open(cfg.Store.Driver, cfg.Store.Path, cfg.Store.AppName, &log)
}

func newConnector(cfg *config.Config, log zerolog.Logger) (agent.Connector, error) {
	persona, err := agent.LoadPersona(cfg.Agent.PersonaFile)
	if err != nil {
		return nil, err
	}
	return agent.NewConnector(agent.Options{
		Provider: cfg.Agent.Provider,
		Gemini: agent.GeminiConfig{
			Endpoint:       cfg.Agent.Endpoint,
			APIKey:         cfg.Agent.APIKey,
			Model:          cfg.Agent.Model,
			Voice:          cfg.Agent.Voice,
			Persona:        persona,
			DialTimeout:    cfg.Agent.DialTimeout,
			SetupTimeout:   cfg.Agent.SetupTimeout,
			MaxMessageSize: cfg.Agent.MaxMessageSize,
		},
		Logger: &log,
	})
}

// newApp wires config into the store, sweeper, runtime connector and server.
// Nothing listens until start.
func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	overflow, err := requestqueue.ParseOverflowPolicy(cfg.Queue.Overflow)
	if err != nil {
		return nil, err
	}

	connector, err := newConnector(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent connector: %w", err)
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	sweeper, err := session.NewSweeper(store, cfg.Store.SweepSchedule, cfg.Store.Retention, &log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	handler, err := gateway.NewHandler(gateway.HandlerConfig{
		Resolver:  store,
		Connector: connector,
		Queue: requestqueue.Options{
			Capacity: cfg.Queue.Capacity,
			Overflow: overflow,
		},
		MaxSessionDuration: cfg.Gateway.MaxSessionDuration,
		Logger:             log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	server, err := gateway.NewServer(gateway.Config{
		Host:           cfg.Gateway.Host,
		Port:           cfg.Gateway.Port,
		Handler:        handler,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		Transport: gateway.TransportConfig{
			ReadLimit:    cfg.Gateway.ReadLimit,
			WriteTimeout: cfg.Gateway.WriteTimeout,
			PingInterval: cfg.Gateway.PingInterval,
			IdleTimeout:  cfg.Gateway.IdleTimeout,
		},
		ExposeSessions:  cfg.Gateway.ExposeSessions,
		ShutdownTimeout: cfg.Gateway.ShutdownTimeout,
		Logger:          log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  log.With().Str("component", "app").Logger(),
		store:   store,
		sweeper: sweeper,
		server:  server,
	}, nil
}

func (a *app) start() error {
	if err := a.sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}
	if err := a.server.Start(); err != nil {
		_ = a.sweeper.Stop()
		return err
	}

	a.logger.Info().
		Str("addr", a.server.Addr()).
		Str("provider", a.cfg.Agent.Provider).
		Str("store", a.cfg.Store.Driver).
		Msg("livetutor started")
	return nil
}

// stop drains live sessions before closing the store they resolve against.
func (a *app) stop(ctx context.Context) error {
	var errs []error
	if err := a.server.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := a.sweeper.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("sweeper: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	a.logger.Info().Msg("livetutor stopped")
	return errors.Join(errs...)
}
