package resolver

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tuning holds the matching knobs that operators adjust without a rebuild.
// Abbreviations map receipt shorthand to full words and are applied before
// fuzzy comparison ("REFRIG" -> "refrigerante").
type Tuning struct {
	SimilarityThreshold float64           `yaml:"similarity_threshold"`
	MaxCandidates       int               `yaml:"max_candidates"`
	Abbreviations       map[string]string `yaml:"abbreviations"`
}

// DefaultTuning returns the built-in matching parameters.
func DefaultTuning() Tuning {
	return Tuning{
		SimilarityThreshold: 0.80,
		MaxCandidates:       20,
		Abbreviations:       map[string]string{},
	}
}

// LoadTuning reads a tuning file, falling back to defaults for any field
// left unset.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()

	data, err := os.ReadFile(path)
	if err != nil {
		return t, eris.Wrapf(err, "resolver: read tuning file %s", path)
	}
	var loaded Tuning
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return t, eris.Wrapf(err, "resolver: parse tuning file %s", path)
	}

	if loaded.SimilarityThreshold > 0 {
		t.SimilarityThreshold = loaded.SimilarityThreshold
	}
	if loaded.MaxCandidates > 0 {
		t.MaxCandidates = loaded.MaxCandidates
	}
	for abbr, full := range loaded.Abbreviations {
		t.Abbreviations[strings.ToLower(abbr)] = strings.ToLower(full)
	}
	return t, nil
}

// Expand rewrites known abbreviations in a normalized string, token by token.
func (t Tuning) Expand(normalized string) string {
	if len(t.Abbreviations) == 0 {
		return normalized
	}
	words := strings.Fields(normalized)
	for i, w := range words {
		if full, ok := t.Abbreviations[w]; ok {
			words[i] = full
		}
	}
	return strings.Join(words, " ")
}
