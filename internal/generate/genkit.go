package generate

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/neverland-app/neverland/internal/compose"
)

// GenkitModel generates replies through a genkit runtime.
type GenkitModel struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitModel creates a model bound to a genkit model name, for
// example "googleai/gemini-2.5-flash".
func NewGenkitModel(g *genkit.Genkit, modelName string) *GenkitModel {
	return &GenkitModel{g: g, modelName: modelName}
}

// Generate produces the model's reply text.
func (m *GenkitModel) Generate(ctx context.Context, system string, messages []compose.Message) (string, error) {
	msgs := make([]*ai.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case compose.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(msg.Text)))
		default:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(msg.Text)))
		}
	}

	resp, err := genkit.Generate(ctx, m.g,
		ai.WithSystem(system),
		ai.WithMessages(msgs...),
		ai.WithModelName(m.modelName),
	)
	if err != nil {
		return "", fmt.Errorf("generating with %s: %w", m.modelName, err)
	}
	return resp.Text(), nil
}
