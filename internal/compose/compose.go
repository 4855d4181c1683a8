// Package compose assembles the model context from persona preamble,
// retrieved passages, conversation history, and the user's input.
//
// Assembly is deterministic: the same input always yields byte-identical
// output, which keeps generation reproducible and testable.
package compose

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/neverland-app/neverland/internal/retrieval"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in the composed context.
type Message struct {
	Role string
	Text string
}

// Input is everything available for one generation.
type Input struct {
	Preamble string
	Passages []retrieval.Passage
	History  []Message
	UserText string
}

// Context is the composed, budget-fitted model input.
type Context struct {
	System   string
	Messages []Message

	// PassageIDs records which passages survived the budget, in the
	// order they were rendered. They become the turn's provenance.
	PassageIDs []string

	// Tokens is the estimated size of the composed context.
	Tokens int
}

// Composer fits inputs into a token budget. When the budget is exceeded it
// drops the lowest-scored passages first, then the oldest history. The
// preamble and the user's input are never dropped.
type Composer struct {
	maxTokens int
}

// NewComposer creates a composer with the given token budget.
func NewComposer(maxTokens int) *Composer {
	return &Composer{maxTokens: maxTokens}
}

// Compose builds the model context. Passages must already be sorted by
// relevance descending; history must be chronological.
func (c *Composer) Compose(in Input) *Context {
	passages := append([]retrieval.Passage(nil), in.Passages...)
	history := append([]Message(nil), in.History...)

	fixed := estimateTokens(in.Preamble) + estimateTokens(in.UserText)

	for {
		total := fixed + passagesTokens(passages) + historyTokens(history)
		if total <= c.maxTokens {
			break
		}
		// Lowest-scored passage goes first; they are sorted descending.
		if len(passages) > 0 {
			passages = passages[:len(passages)-1]
			continue
		}
		if len(history) > 0 {
			history = history[1:]
			continue
		}
		break
	}

	system := in.Preamble
	if len(passages) > 0 {
		system = system + "\n\n" + renderPassages(passages)
	}

	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Text: in.UserText})

	ids := make([]string, 0, len(passages))
	for _, p := range passages {
		ids = append(ids, p.ID)
	}

	return &Context{
		System:     system,
		Messages:   messages,
		PassageIDs: ids,
		Tokens:     estimateTokens(system) + messagesTokens(messages),
	}
}

func renderPassages(passages []retrieval.Passage) string {
	var b strings.Builder
	b.WriteString("Memories you may draw on:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "%d. %s", i+1, p.Content)
		if date := p.Metadata[retrieval.MetaDate]; date != "" {
			fmt.Fprintf(&b, " (%s)", date)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// estimateTokens approximates token count as half the rune count, which
// is close enough for budget enforcement across mixed-language text.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

func passagesTokens(passages []retrieval.Passage) int {
	total := 0
	for _, p := range passages {
		total += estimateTokens(p.Content)
	}
	return total
}

func historyTokens(history []Message) int {
	return messagesTokens(history)
}

func messagesTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m.Text)
	}
	return total
}
