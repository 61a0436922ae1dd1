package sources

import "errors"

// ErrNotFound is returned when a paper id does not resolve to a record.
var ErrNotFound = errors.New("paper not found")

// Paper is one academic search record. PaperID is the stable
// deduplication key; Year is 0 when the source does not report one.
type Paper struct {
	PaperID       string   `json:"paperId"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Year          int      `json:"year"`
	CitationCount int      `json:"citationCount"`
	Abstract      string   `json:"abstract,omitempty"`
	Venue         string   `json:"venue,omitempty"`
	URL           string   `json:"url"`
}

// WebResult is one web search record, deduplicated by URL.
type WebResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}
