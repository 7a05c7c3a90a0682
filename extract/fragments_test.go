package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360studio/phraseforge/storage"
)

func TestIsLikelyFragment(t *testing.T) {
	complete := []string{
		"Le chat dort.",
		"Il mange bien.",
		"Elle était très heureuse.",
		"Les enfants jouaient dans le jardin.",
		"Nous avons mangé ensemble.",
	}
	for _, s := range complete {
		assert.False(t, IsLikelyFragment(s), "flagged complete sentence: %q", s)
	}

	fragments := []string{
		"",
		"Dans la grande maison",
		"Avec son chapeau rouge",
		"Qui la porte",
		"Parti sans rien dire, fatigué",
		"Soudain, un grand bruit",
	}
	for _, s := range fragments {
		assert.True(t, IsLikelyFragment(s), "missed fragment: %q", s)
	}
}

func TestFragmentRate(t *testing.T) {
	assert.Zero(t, FragmentRate(nil))

	sentences := []storage.Sentence{
		{Normalized: "Le chat dort."},
		{Normalized: "Il mange bien."},
		{Normalized: "Dans la grande maison"},
		{Normalized: "Elle était contente."},
	}
	assert.InDelta(t, 0.25, FragmentRate(sentences), 1e-9)
}
