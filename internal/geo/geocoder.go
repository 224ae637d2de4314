// Package geo reverse-geocodes device coordinates into place names used to
// localize search queries.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xpanvictor/tabletalk/internal/config"
	"github.com/xpanvictor/tabletalk/pkg/Logger"
)

// Place is one reverse-geocode result.
type Place struct {
	Locality string `json:"locality"`
	Region   string `json:"region"`
	Country  string `json:"country"`
}

// Display renders the place as a single locale string, skipping empty parts.
func (p Place) Display() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.Locality, p.Region, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Client calls the reverse-geocoding collaborator.
type Client struct {
	cfg    config.GeoConfig
	client *http.Client
	logger *Logger.Logger
}

func NewClient(cfg config.GeoConfig, logger *Logger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}
}

// Reverse resolves coordinates to a place.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (Place, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	params.Set("lng", strconv.FormatFloat(lng, 'f', 6, 64))
	if c.cfg.APIKey != "" {
		params.Set("key", c.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("failed to create geocode request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Place{}, fmt.Errorf("failed to read geocode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Place{}, fmt.Errorf("geocode failed with status %d: %s", resp.StatusCode, string(body))
	}

	var place Place
	if err := json.Unmarshal(body, &place); err != nil {
		return Place{}, fmt.Errorf("failed to parse geocode response: %w", err)
	}
	return place, nil
}
