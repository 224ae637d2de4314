package orchestrator

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/xpanvictor/tabletalk/internal/chatlog"
	"github.com/xpanvictor/tabletalk/internal/config"
)

const chatSystemPrompt = "You are a friendly dining companion for travelers. Keep replies " +
	"short and conversational. When asked about restaurants, dishes, or local customs, be " +
	"specific and practical."

// historyWindow caps how many prior messages feed the completion.
const historyWindow = 12

type openAICompleter struct {
	client openai.Client
	model  string
}

// NewOpenAICompleter builds the production ChatCompleter on the chat
// completion API.
func NewOpenAICompleter(cfg config.ChatConfig) ChatCompleter {
	return &openAICompleter{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}
}

// Complete implements ChatCompleter. History already includes the current
// user turn, so it is replayed as-is rather than appended twice.
func (c *openAICompleter) Complete(ctx context.Context, history []chatlog.Message, userText string) (string, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(chatSystemPrompt),
	}
	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	replayed := false
	for _, m := range history[start:] {
		if m.Kind == chatlog.KindExternalQuery {
			continue
		}
		if m.FromUser {
			msgs = append(msgs, openai.UserMessage(m.Text))
			if m.Text == userText {
				replayed = true
			}
		} else {
			msgs = append(msgs, openai.AssistantMessage(m.Text))
		}
	}
	if !replayed {
		msgs = append(msgs, openai.UserMessage(userText))
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(c.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
