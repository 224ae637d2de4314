// Package search enriches conversational answers with live SERP results.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/xpanvictor/tabletalk/internal/chatlog"
	"github.com/xpanvictor/tabletalk/internal/config"
	"github.com/xpanvictor/tabletalk/internal/intent"
	"github.com/xpanvictor/tabletalk/pkg/Logger"
)

// ApologyText is returned verbatim whenever the search collaborator fails;
// augmentation failures never escape as errors.
const ApologyText = "Sorry, I couldn't look that up right now. Please try again in a moment."

const maxSectionResults = 3

// OrganicResult is one regular search hit.
type OrganicResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// ImmersiveProduct is one shopping result.
type ImmersiveProduct struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	Delivery string `json:"delivery"`
	Source   string `json:"source"`
}

// RelatedSearch is one suggested follow-up query.
type RelatedSearch struct {
	Query string `json:"query"`
}

type serpResponse struct {
	OrganicResults    []OrganicResult    `json:"organicResults"`
	ImmersiveProducts []ImmersiveProduct `json:"immersiveProducts"`
	RelatedSearches   []RelatedSearch    `json:"relatedSearches"`
}

// Result is one finished augmentation: display-ready text plus the untouched
// raw response so renderers can re-derive richer views.
type Result struct {
	DisplayText string
	Payload     json.RawMessage
	QueryType   chatlog.QueryType
}

// Augmenter classifies a query's topic and fetches live results for it.
type Augmenter struct {
	cfg    config.SearchConfig
	client *http.Client
	logger *Logger.Logger

	mu       sync.RWMutex
	location string
}

func NewAugmenter(cfg config.SearchConfig, logger *Logger.Logger) *Augmenter {
	return &Augmenter{
		cfg:      cfg,
		client:   &http.Client{},
		logger:   logger,
		location: cfg.Location,
	}
}

// SetLocation updates the locale used for subsequent queries, e.g. after a
// reverse-geocode of the device position.
func (a *Augmenter) SetLocation(loc string) {
	a.mu.Lock()
	a.location = loc
	a.mu.Unlock()
}

// Augment runs one external query. HTTP and decode failures yield the fixed
// apology with a nil payload; no error crosses this boundary.
func (a *Augmenter) Augment(ctx context.Context, text string) Result {
	qt := intent.QueryTypeOf(text)

	raw, err := a.fetch(ctx, text)
	if err != nil {
		a.logger.Errorf("search failed for %q: %v", text, err)
		return Result{DisplayText: ApologyText, QueryType: qt}
	}

	var resp serpResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		a.logger.Errorf("search response unparseable for %q: %v", text, err)
		return Result{DisplayText: ApologyText, QueryType: qt}
	}

	return Result{
		DisplayText: formatDisplay(resp),
		Payload:     raw,
		QueryType:   qt,
	}
}

func (a *Augmenter) fetch(ctx context.Context, query string) (json.RawMessage, error) {
	a.mu.RLock()
	location := a.location
	a.mu.RUnlock()

	params := url.Values{}
	params.Set("q", query)
	params.Set("location", location)
	params.Set("deviceType", a.cfg.DeviceType)
	params.Set("num", strconv.Itoa(a.cfg.PageSize))
	params.Set("start", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/serp?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed with status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// formatDisplay concatenates, in fixed order, up to three organic results,
// three products, and three related searches; empty sections are omitted.
func formatDisplay(resp serpResponse) string {
	var b strings.Builder

	if len(resp.OrganicResults) > 0 {
		b.WriteString("Here's what I found:\n")
		for i, r := range resp.OrganicResults {
			if i == maxSectionResults {
				break
			}
			fmt.Fprintf(&b, "\n%d. %s\n%s\n%s\n", i+1, r.Title, r.Snippet, r.Link)
		}
	}

	if len(resp.ImmersiveProducts) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Products:\n")
		for i, p := range resp.ImmersiveProducts {
			if i == maxSectionResults {
				break
			}
			fmt.Fprintf(&b, "\n- %s, %s (%s, %s)\n", p.Title, p.Price, p.Delivery, p.Source)
		}
	}

	if len(resp.RelatedSearches) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Related searches:\n")
		for i, r := range resp.RelatedSearches {
			if i == maxSectionResults {
				break
			}
			fmt.Fprintf(&b, "- %s\n", r.Query)
		}
	}

	if b.Len() == 0 {
		return "I couldn't find anything relevant for that."
	}
	return b.String()
}
