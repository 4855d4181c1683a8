package compose

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverland-app/neverland/internal/retrieval"
)

func TestCompose(t *testing.T) {
	passages := []retrieval.Passage{
		{ID: "p1", Content: "We planted tomatoes together that spring.", Score: 0.9,
			Metadata: map[string]string{retrieval.MetaDate: "2024-04-12"}},
		{ID: "p2", Content: "You always hummed while washing dishes.", Score: 0.7},
	}
	history := []Message{
		{Role: RoleUser, Text: "good morning"},
		{Role: RoleAssistant, Text: "good morning, dear"},
	}

	t.Run("assembles in order within budget", func(t *testing.T) {
		c := NewComposer(10000)
		got := c.Compose(Input{
			Preamble: "You are Maggie.",
			Passages: passages,
			History:  history,
			UserText: "tell me about the garden",
		})

		assert.True(t, strings.HasPrefix(got.System, "You are Maggie."))
		assert.Contains(t, got.System, "1. We planted tomatoes together that spring. (2024-04-12)")
		assert.Contains(t, got.System, "2. You always hummed while washing dishes.")

		require.Len(t, got.Messages, 3)
		assert.Equal(t, history[0], got.Messages[0])
		assert.Equal(t, history[1], got.Messages[1])
		assert.Equal(t, Message{Role: RoleUser, Text: "tell me about the garden"}, got.Messages[2])

		assert.Equal(t, []string{"p1", "p2"}, got.PassageIDs)
	})

	t.Run("byte identical for identical input", func(t *testing.T) {
		c := NewComposer(10000)
		in := Input{Preamble: "You are Maggie.", Passages: passages, History: history, UserText: "hello"}

		a := c.Compose(in)
		b := c.Compose(in)

		assert.Equal(t, a.System, b.System)
		assert.Equal(t, a.Messages, b.Messages)
		assert.Equal(t, a.PassageIDs, b.PassageIDs)
	})

	t.Run("drops lowest scored passage first", func(t *testing.T) {
		// Budget fits preamble, input, history, and one passage only.
		budget := len("You are Maggie.")/2 +
			len("tell me about the garden")/2 +
			len("good morning")/2 + len("good morning, dear")/2 +
			len(passages[0].Content)/2

		c := NewComposer(budget)
		got := c.Compose(Input{
			Preamble: "You are Maggie.",
			Passages: passages,
			History:  history,
			UserText: "tell me about the garden",
		})

		assert.Equal(t, []string{"p1"}, got.PassageIDs)
		assert.NotContains(t, got.System, "washing dishes")
		assert.Len(t, got.Messages, 3)
	})

	t.Run("drops oldest history after passages", func(t *testing.T) {
		budget := len("You are Maggie.")/2 +
			len("tell me about the garden")/2 +
			len("good morning, dear")/2

		c := NewComposer(budget)
		got := c.Compose(Input{
			Preamble: "You are Maggie.",
			Passages: passages,
			History:  history,
			UserText: "tell me about the garden",
		})

		assert.Empty(t, got.PassageIDs)
		require.Len(t, got.Messages, 2)
		assert.Equal(t, "good morning, dear", got.Messages[0].Text)
		assert.Equal(t, "tell me about the garden", got.Messages[1].Text)
	})

	t.Run("never drops preamble or user input", func(t *testing.T) {
		c := NewComposer(0)
		got := c.Compose(Input{
			Preamble: "You are Maggie.",
			Passages: passages,
			History:  history,
			UserText: "hello",
		})

		assert.Equal(t, "You are Maggie.", got.System)
		require.Len(t, got.Messages, 1)
		assert.Equal(t, "hello", got.Messages[0].Text)
	})

	t.Run("no passages leaves system as bare preamble", func(t *testing.T) {
		c := NewComposer(10000)
		got := c.Compose(Input{Preamble: "You are Maggie.", UserText: "hi"})

		assert.Equal(t, "You are Maggie.", got.System)
		assert.Empty(t, got.PassageIDs)
	})

	t.Run("does not mutate caller slices", func(t *testing.T) {
		c := NewComposer(1)
		in := Input{Preamble: "p", Passages: passages, History: history, UserText: "u"}
		_ = c.Compose(in)

		assert.Len(t, passages, 2)
		assert.Len(t, history, 2)
	})
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 2, estimateTokens("four"))
	assert.Equal(t, 2, estimateTokens("你好嗎猫"))
}
