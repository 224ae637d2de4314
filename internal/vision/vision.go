// Package vision turns captured images into conversational text: a short
// scene description fed back into the voice session, and structured menu
// extraction for the ordering flow.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xpanvictor/tabletalk/internal/config"
	"github.com/xpanvictor/tabletalk/internal/menu"
	"github.com/xpanvictor/tabletalk/pkg/Logger"
)

// FallbackDescription is surfaced whenever analysis fails; a vision failure
// must never abort the surrounding conversation.
const FallbackDescription = "I couldn't quite make out the image, but it looks interesting! Tell me more about what you're seeing."

// ErrUnexpectedShape marks a completion response matching neither supported
// envelope. Distinct from network failure so schema drift is diagnosable.
var ErrUnexpectedShape = errors.New("completion response has unexpected shape")

const describePrompt = "You are a friendly travel companion. Describe what is in the image " +
	"in under 100 words, in a warm conversational tone, as if chatting with a friend " +
	"who is standing right there."

const menuPrompt = "The image is a restaurant menu. Extract every dish as JSON with this exact shape: " +
	`{"items":[{"name":"<original language>","englishName":"<english translation>","price":"<printed price>","usdPrice":"<approximate USD>"}],"currency":"<ISO code>","exchangeRate":"<rate used>"} ` +
	"Respond with only the JSON."

// Client calls the image/text completion collaborator.
type Client struct {
	cfg    config.VisionConfig
	client *http.Client
	logger *Logger.Logger
}

func NewClient(cfg config.VisionConfig, logger *Logger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type imageContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLPart `json:"image_url,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

// The collaborator answers in one of two envelopes: its native
// completion_message shape, or an OpenAI-compatible choices array.
type nativeEnvelope struct {
	CompletionMessage struct {
		Content struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"completion_message"`
}

type openaiEnvelope struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Describe returns a conversational description of the image. It never
// returns an error: any failure yields the fixed fallback sentence.
func (c *Client) Describe(ctx context.Context, image []byte) string {
	text, err := c.complete(ctx, describePrompt, image)
	if err != nil {
		c.logger.Errorf("image description failed: %v", err)
		return FallbackDescription
	}
	return text
}

// ExtractMenu parses a photographed menu into structured items.
func (c *Client) ExtractMenu(ctx context.Context, image []byte) (menu.Data, error) {
	text, err := c.complete(ctx, menuPrompt, image)
	if err != nil {
		return menu.Data{}, fmt.Errorf("menu extraction: %w", err)
	}

	// Models occasionally wrap JSON in a code fence.
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var data menu.Data
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return menu.Data{}, fmt.Errorf("menu extraction returned unparseable JSON: %w", err)
	}
	data.UpdatedAt = time.Now()
	return data, nil
}

func (c *Client) complete(ctx context.Context, prompt string, image []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(image)
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: []imageContent{
				{Type: "image_url", ImageURL: &imageURLPart{URL: "data:image/jpeg;base64," + encoded}},
			}},
		},
		MaxTokens:   512,
		Temperature: 0.4,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return extractText(respBody, c.logger)
}

// extractText tries the native envelope, then the OpenAI-compatible one, and
// fails typed if neither matches. The raw payload is logged on failure to
// ease schema-drift debugging.
func extractText(raw []byte, logger *Logger.Logger) (string, error) {
	var native nativeEnvelope
	if err := json.Unmarshal(raw, &native); err == nil && native.CompletionMessage.Content.Text != "" {
		return native.CompletionMessage.Content.Text, nil
	}

	var oai openaiEnvelope
	if err := json.Unmarshal(raw, &oai); err == nil && len(oai.Choices) > 0 && oai.Choices[0].Message.Content != "" {
		return oai.Choices[0].Message.Content, nil
	}

	logger.Errorf("completion payload matched no known envelope: %s", string(raw))
	return "", ErrUnexpectedShape
}
