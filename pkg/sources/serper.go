package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Serper performs Google web searches through the serper.dev API.
// The SERP backend itself is a black box; only the JSON contract matters here.
type Serper struct {
	BaseURL string
	apiKey  string
	client  *http.Client
}

func NewSerper(apiKey string) *Serper {
	return &Serper{
		BaseURL: "https://google.serper.dev",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type serperOrganic struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type serperResponse struct {
	Organic []serperOrganic `json:"organic"`
}

// SearchWeb runs one web search and maps organic results to WebResults.
// Results without a link are dropped since the URL is the dedup key.
func (s *Serper) SearchWeb(ctx context.Context, query string, limit int) ([]WebResult, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("serper api key not configured")
	}
	if limit <= 0 {
		limit = 5
	}

	body, err := json.Marshal(map[string]interface{}{
		"q":   query,
		"num": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned status %d", resp.StatusCode)
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]WebResult, 0, len(parsed.Organic))
	for _, o := range parsed.Organic {
		if o.Link == "" {
			continue
		}
		results = append(results, WebResult{
			URL:     o.Link,
			Title:   o.Title,
			Snippet: o.Snippet,
			Source:  originDomain(o.Link),
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// originDomain extracts the host from a result link, without the www prefix.
func originDomain(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}
