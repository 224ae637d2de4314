package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/xpanvictor/tabletalk/internal/config"
	"github.com/xpanvictor/tabletalk/internal/menu"
)

const generatorSystemPrompt = "You help travelers order food abroad. Given selected menu items " +
	"and the customer's dietary notes, write short, polite ordering instructions they can show " +
	"to waitstaff: the dish names in the original language with quantities, the dietary requests " +
	"translated, and a one-line English summary. Use markdown."

type openAIGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator builds the production InstructionGenerator on the chat
// completion API.
func NewOpenAIGenerator(cfg config.ChatConfig) InstructionGenerator {
	return &openAIGenerator{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}
}

// Generate implements InstructionGenerator.
func (g *openAIGenerator) Generate(ctx context.Context, items []menu.Item, notes string) (string, error) {
	var b strings.Builder
	b.WriteString("Selected items:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "- %s (%s), %s / %s\n", it.Name, it.EnglishName, it.Price, it.USDPrice)
	}
	if notes != "" {
		b.WriteString("\nCustomer notes:\n")
		b.WriteString(notes)
	}

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(generatorSystemPrompt),
			openai.UserMessage(b.String()),
		},
		Model: openai.ChatModel(g.model),
	})
	if err != nil {
		return "", fmt.Errorf("instruction completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("instruction completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
