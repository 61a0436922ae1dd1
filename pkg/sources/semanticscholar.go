package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const paperFields = "paperId,title,abstract,authors,year,citationCount,venue,url"

// SemanticScholar queries the Semantic Scholar Graph API. An API key is
// optional; without one the public (rate-limited) tier is used.
type SemanticScholar struct {
	BaseURL string
	apiKey  string
	client  *http.Client
}

func NewSemanticScholar(apiKey string) *SemanticScholar {
	return &SemanticScholar{
		BaseURL: "https://api.semanticscholar.org/graph/v1",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

type s2Author struct {
	Name string `json:"name"`
}

type s2Paper struct {
	PaperID       string     `json:"paperId"`
	Title         string     `json:"title"`
	Abstract      string     `json:"abstract"`
	Venue         string     `json:"venue"`
	Year          int        `json:"year"`
	CitationCount int        `json:"citationCount"`
	URL           string     `json:"url"`
	Authors       []s2Author `json:"authors"`
}

type s2SearchResponse struct {
	Total int       `json:"total"`
	Data  []s2Paper `json:"data"`
}

// SearchPapers runs one relevance-ranked paper search. Records without a
// paperId are dropped since they cannot be deduplicated or fetched later.
func (s *SemanticScholar) SearchPapers(ctx context.Context, query string, limit int) ([]Paper, error) {
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("fields", paperFields)

	endpoint := fmt.Sprintf("%s/paper/search?%s", s.BaseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paper search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paper search returned status %d", resp.StatusCode)
	}

	var parsed s2SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	papers := make([]Paper, 0, len(parsed.Data))
	for _, p := range parsed.Data {
		if p.PaperID == "" {
			continue
		}
		papers = append(papers, toPaper(p))
	}
	return papers, nil
}

// PaperDetails fetches the full record for one paper id.
func (s *SemanticScholar) PaperDetails(ctx context.Context, paperID string) (*Paper, error) {
	if paperID == "" {
		return nil, ErrNotFound
	}

	endpoint := fmt.Sprintf("%s/paper/%s?fields=%s", s.BaseURL, url.PathEscape(paperID), paperFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build details request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paper details failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paper details returned status %d", resp.StatusCode)
	}

	var parsed s2Paper
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode details response: %w", err)
	}
	if parsed.PaperID == "" {
		return nil, ErrNotFound
	}

	paper := toPaper(parsed)
	return &paper, nil
}

func (s *SemanticScholar) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
}

func toPaper(p s2Paper) Paper {
	authors := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		if a.Name != "" {
			authors = append(authors, a.Name)
		}
	}
	return Paper{
		PaperID:       p.PaperID,
		Title:         p.Title,
		Authors:       authors,
		Year:          p.Year,
		CitationCount: p.CitationCount,
		Abstract:      p.Abstract,
		Venue:         p.Venue,
		URL:           p.URL,
	}
}
