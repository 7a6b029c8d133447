package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and prompting on out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	w.println("=== livetutor configuration ===")
	w.println()

	cfg := DefaultConfig()
	validator := NewValidator()

	// Agent runtime
	w.println("Agent runtime:")
	w.println("  gemini   - Gemini Live (default)")
	w.println("  loopback - local echo runtime for development")
	for {
		provider, err := w.ask("Provider", cfg.Agent.Provider)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateProvider(provider); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Agent.Provider = provider
		break
	}

	if cfg.Agent.Provider == "gemini" {
		for {
			key, err := w.ask("Gemini API key", "")
			if err != nil {
				return nil, err
			}
			if err := validator.ValidateAPIKey(key, "gemini"); err != nil {
				w.printf("Error: %v\n", err)
				continue
			}
			cfg.Agent.APIKey = key
			break
		}

		model, err := w.ask("Model", cfg.Agent.Model)
		if err != nil {
			return nil, err
		}
		cfg.Agent.Model = model

		voice, err := w.ask("Voice", cfg.Agent.Voice)
		if err != nil {
			return nil, err
		}
		cfg.Agent.Voice = voice
	}

	w.println()

	// Gateway
	w.println("Gateway:")
	for {
		raw, err := w.ask("Port", strconv.Itoa(cfg.Gateway.Port))
		if err != nil {
			return nil, err
		}
		port, err := strconv.Atoi(raw)
		if err == nil {
			err = validator.ValidatePort(port)
		}
		if err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Gateway.Port = port
		break
	}

	origins, err := w.ask("Allowed origins (comma separated)", strings.Join(cfg.Gateway.AllowedOrigins, ","))
	if err != nil {
		return nil, err
	}
	cfg.Gateway.AllowedOrigins = splitList(origins)
	if err := validator.ValidateOrigins(cfg.Gateway.AllowedOrigins); err != nil {
		w.printf("Warning: %v, allowing all origins\n", err)
		cfg.Gateway.AllowedOrigins = []string{"*"}
	}

	w.println()

	// Log Level
	w.println("Logging:")
	level, err := w.ask("Log level (trace/debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		w.printf("Warning: %v, using default (info)\n", err)
	} else {
		cfg.Logging.Level = level
	}

	w.println()
	w.println("Configuration complete!")

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ask prompts with a default shown in brackets; an empty answer keeps it.
func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		w.printf("%s [%s]: ", prompt, def)
	} else {
		w.printf("%s: ", prompt)
	}
	line, err := w.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (w *Wizard) println(a ...interface{}) {
	fmt.Fprintln(w.out, a...)
}

func (w *Wizard) printf(format string, a ...interface{}) {
	fmt.Fprintf(w.out, format, a...)
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
