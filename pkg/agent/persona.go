package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona is the tutor's voice and standing instruction.
type Persona struct {
	Name         string `json:"name" yaml:"name"`
	Voice        string `json:"voice,omitempty" yaml:"voice,omitempty"`
	LanguageCode string `json:"language_code,omitempty" yaml:"language_code,omitempty"`
	Instruction  string `json:"instruction" yaml:"instruction"`
}

const defaultInstruction = `You are a patient, encouraging tutor speaking with a student in real time.
Help the student understand rather than handing over answers: ask short guiding
questions, break hard ideas into small steps, and check understanding often.
Keep spoken replies brief and conversational. If the student shares their
screen or camera, use what you see to guide them. Gently bring off-topic
conversations back to the material being studied.`

// DefaultPersona is used when no persona file is configured.
func DefaultPersona() Persona {
	return Persona{
		Name:        "tutor",
		Voice:       DefaultVoice,
		Instruction: defaultInstruction,
	}
}

// LoadPersona reads a persona from a YAML or JSON file. Empty fields fall back
// to DefaultPersona.
func LoadPersona(path string) (Persona, error) {
	if path == "" {
		return DefaultPersona(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("failed to read persona file: %w", err)
	}

	var p Persona
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Persona{}, fmt.Errorf("failed to parse YAML persona: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return Persona{}, fmt.Errorf("failed to parse JSON persona: %w", err)
		}
	default:
		return Persona{}, fmt.Errorf("unsupported persona file format: %s (supported: .json, .yaml, .yml)", ext)
	}

	def := DefaultPersona()
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.Voice == "" {
		p.Voice = def.Voice
	}
	if strings.TrimSpace(p.Instruction) == "" {
		p.Instruction = def.Instruction
	}
	return p, nil
}
