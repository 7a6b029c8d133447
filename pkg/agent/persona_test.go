package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPersona(t *testing.T) {
	dir := t.TempDir()

	t.Run("empty path uses default", func(t *testing.T) {
		p, err := LoadPersona("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPersona(), p)
	})

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "persona.yaml")
		require.NoError(t, os.WriteFile(path, []byte("name: maths\nvoice: Kore\nlanguage_code: en-GB\ninstruction: |\n  Teach algebra.\n"), 0600))

		p, err := LoadPersona(path)
		require.NoError(t, err)
		assert.Equal(t, "maths", p.Name)
		assert.Equal(t, "Kore", p.Voice)
		assert.Equal(t, "en-GB", p.LanguageCode)
		assert.Equal(t, "Teach algebra.\n", p.Instruction)
	})

	t.Run("json fills defaults", func(t *testing.T) {
		path := filepath.Join(dir, "persona.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"instruction":"Be brief."}`), 0600))

		p, err := LoadPersona(path)
		require.NoError(t, err)
		assert.Equal(t, "tutor", p.Name)
		assert.Equal(t, DefaultVoice, p.Voice)
		assert.Equal(t, "Be brief.", p.Instruction)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(dir, "persona.toml")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

		_, err := LoadPersona(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPersona(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}
