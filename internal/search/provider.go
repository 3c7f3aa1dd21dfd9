// Package search provides the internet_search backend used by the tool
// executor. The production provider talks to the Bocha web-search API; a
// disabled provider stands in when no API key is configured so the rest of
// the assistant keeps working.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Result is one ranked search hit.
type Result struct {
	Title   string
	Snippet string
	URL     string
}

// Provider answers a query with up to topK ranked results.
type Provider interface {
	Search(ctx context.Context, query string, topK int) ([]Result, error)
}

const (
	defaultBochaEndpoint = "https://api.bochaai.com/v1/web-search"
	bochaMaxCount        = 50
)

// BochaProvider calls the Bocha web-search JSON API.
type BochaProvider struct {
	// APIKey is the bearer token (required).
	APIKey string

	// Endpoint overrides the API URL. Defaults to the public endpoint.
	Endpoint string

	// HTTPClient can be replaced for testing. Defaults to a client with
	// the provider timeout.
	HTTPClient *http.Client
}

// NewBochaProvider creates a provider with the given key and call timeout.
func NewBochaProvider(apiKey string, timeout time.Duration) *BochaProvider {
	return &BochaProvider{
		APIKey:     apiKey,
		Endpoint:   defaultBochaEndpoint,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type bochaRequest struct {
	Query   string `json:"query"`
	Summary bool   `json:"summary"`
	Count   int    `json:"count"`
}

type bochaResponse struct {
	Data struct {
		WebPages struct {
			Value []struct {
				Name    string `json:"name"`
				URL     string `json:"url"`
				Snippet string `json:"snippet"`
				Summary string `json:"summary"`
			} `json:"value"`
		} `json:"webPages"`
	} `json:"data"`
}

// Search implements Provider.
func (p *BochaProvider) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	normalized := strings.Join(strings.Fields(query), " ")
	if normalized == "" || topK <= 0 {
		return nil, nil
	}

	count := topK
	if count > bochaMaxCount {
		count = bochaMaxCount
	}
	body, err := json.Marshal(bochaRequest{Query: normalized, Summary: true, Count: count})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = defaultBochaEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var parsed bochaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, topK)
	seen := map[string]bool{}
	for _, item := range parsed.Data.WebPages.Value {
		url := strings.TrimSpace(item.URL)
		title := strings.TrimSpace(item.Name)
		if !isValidResultURL(url) || title == "" || seen[url] {
			continue
		}
		snippet := strings.TrimSpace(item.Snippet)
		if snippet == "" {
			snippet = strings.TrimSpace(item.Summary)
		}
		results = append(results, Result{Title: title, Snippet: snippet, URL: url})
		seen[url] = true
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

func isValidResultURL(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Disabled is a Provider that always fails with a configuration hint.
// Used when no search API key is configured.
type Disabled struct{}

// Search implements Provider.
func (Disabled) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	return nil, fmt.Errorf("internet search is not configured (set STEWARD_SEARCH_API_KEY)")
}

// FromConfig selects a provider by name.
func FromConfig(provider, apiKey string, timeout time.Duration) Provider {
	if strings.EqualFold(strings.TrimSpace(provider), "bocha") && strings.TrimSpace(apiKey) != "" {
		return NewBochaProvider(apiKey, timeout)
	}
	return Disabled{}
}
