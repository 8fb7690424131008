package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
similarity_threshold: 0.85
abbreviations:
  REFRIG: refrigerante
  cond: condensado
`), 0o644))

	tun, err := LoadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, 0.85, tun.SimilarityThreshold)
	// Unset fields keep their defaults.
	assert.Equal(t, 20, tun.MaxCandidates)
	assert.Equal(t, "refrigerante", tun.Abbreviations["refrig"])
}

func TestLoadTuning_MissingFileKeepsDefaults(t *testing.T) {
	tun, err := LoadTuning(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, DefaultTuning().SimilarityThreshold, tun.SimilarityThreshold)
	assert.Equal(t, DefaultTuning().MaxCandidates, tun.MaxCandidates)
}

func TestTuning_Expand(t *testing.T) {
	tun := DefaultTuning()
	tun.Abbreviations = map[string]string{"refrig": "refrigerante", "cond": "condensado"}

	assert.Equal(t, "refrigerante coca cola 2l", tun.Expand("refrig coca cola 2l"))
	assert.Equal(t, "leite condensado ninho", tun.Expand("leite cond ninho"))
	// Whole-token matches only.
	assert.Equal(t, "condimento", tun.Expand("condimento"))
}
