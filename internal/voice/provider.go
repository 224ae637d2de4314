package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/xpanvictor/tabletalk/internal/config"
)

// ProviderClient talks to the realtime voice provider's HTTP surface: minting
// a short-lived session credential and exchanging the SDP offer for an answer.
type ProviderClient struct {
	cfg    config.RealtimeConfig
	client *http.Client
}

func NewProviderClient(cfg config.RealtimeConfig) *ProviderClient {
	return &ProviderClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type sessionRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
}

type sessionResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

// CreateSession mints an ephemeral client secret for one realtime session.
func (p *ProviderClient) CreateSession(ctx context.Context) (string, error) {
	body, err := json.Marshal(sessionRequest{Model: p.cfg.Model, Voice: p.cfg.Voice})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/realtime/sessions", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read session response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("session request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var sr sessionResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", fmt.Errorf("failed to parse session response: %w", err)
	}
	if sr.ClientSecret.Value == "" {
		return "", fmt.Errorf("session response missing client secret")
	}
	return sr.ClientSecret.Value, nil
}

// ExchangeSDP posts the local offer and returns the remote answer. The body
// is raw SDP text on both sides, authenticated with the ephemeral secret.
func (p *ProviderClient) ExchangeSDP(ctx context.Context, offer, clientSecret string) (string, error) {
	url := fmt.Sprintf("%s/realtime?model=%s", p.cfg.BaseURL, p.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("failed to create sdp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+clientSecret)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sdp exchange failed: %w", err)
	}
	defer resp.Body.Close()

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read sdp answer: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("sdp exchange failed with status %d: %s", resp.StatusCode, string(answer))
	}
	return string(answer), nil
}
