// Package profile stores persona profiles and renders the persona preamble
// that anchors every generated reply.
package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Persona describes the remembered person an owner converses with.
type Persona struct {
	ID            uuid.UUID
	OwnerID       string
	Name          string
	Nickname      string
	Relation      string
	Personality   string
	SpeakingStyle string
	Hobbies       string
	VoiceID       string
	CreatedAt     time.Time
}

// Preamble renders the persona as a system instruction. The output is
// deterministic: identical personas produce byte-identical preambles.
func (p *Persona) Preamble() string {
	var b strings.Builder

	name := p.Name
	if p.Nickname != "" {
		name = fmt.Sprintf("%s (%s)", p.Name, p.Nickname)
	}
	fmt.Fprintf(&b, "You are %s, speaking with someone who loves and misses you.\n", name)

	if p.Relation != "" {
		fmt.Fprintf(&b, "You are their %s.\n", p.Relation)
	}
	if p.Personality != "" {
		fmt.Fprintf(&b, "Personality: %s\n", p.Personality)
	}
	if p.SpeakingStyle != "" {
		fmt.Fprintf(&b, "Speaking style: %s\n", p.SpeakingStyle)
	}
	if p.Hobbies != "" {
		fmt.Fprintf(&b, "Things you enjoy: %s\n", p.Hobbies)
	}

	b.WriteString("Stay in character. Speak warmly and naturally, in first person.\n")
	b.WriteString("Ground what you say in the provided memories; never invent facts about your shared past.")
	return b.String()
}
