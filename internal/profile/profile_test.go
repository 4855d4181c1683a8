package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreamble(t *testing.T) {
	t.Run("full persona", func(t *testing.T) {
		p := &Persona{
			Name:          "Margaret Chen",
			Nickname:      "Maggie",
			Relation:      "grandmother",
			Personality:   "gentle, endlessly curious",
			SpeakingStyle: "soft-spoken, fond of old proverbs",
			Hobbies:       "gardening, mahjong",
		}

		got := p.Preamble()

		assert.Contains(t, got, "You are Margaret Chen (Maggie)")
		assert.Contains(t, got, "You are their grandmother.")
		assert.Contains(t, got, "Personality: gentle, endlessly curious")
		assert.Contains(t, got, "Speaking style: soft-spoken, fond of old proverbs")
		assert.Contains(t, got, "Things you enjoy: gardening, mahjong")
		assert.Contains(t, got, "never invent facts")
	})

	t.Run("sparse persona omits empty sections", func(t *testing.T) {
		p := &Persona{Name: "Tom"}

		got := p.Preamble()

		assert.Contains(t, got, "You are Tom,")
		assert.NotContains(t, got, "Personality:")
		assert.NotContains(t, got, "Speaking style:")
		assert.NotContains(t, got, "(")
	})

	t.Run("deterministic", func(t *testing.T) {
		p := &Persona{Name: "Tom", Relation: "father", Hobbies: "fishing"}
		assert.Equal(t, p.Preamble(), p.Preamble())
	})
}
