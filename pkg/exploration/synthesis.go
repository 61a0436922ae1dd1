package exploration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Insight is one synthesized claim tied to the evidence supporting it.
type Insight struct {
	Claim   string `json:"claim"`
	Support string `json:"support,omitempty"`
}

// Content is the structured report of an exploration.
type Content struct {
	Title                string    `json:"title"`
	Summary              string    `json:"summary"`
	KnownFindings        []Insight `json:"knownFindings,omitempty"`
	ActiveDebates        []Insight `json:"activeDebates,omitempty"`
	OpenQuestions        []Insight `json:"openQuestions,omitempty"`
	SuggestedExperiments []string  `json:"suggestedExperiments,omitempty"`
	KeyPaperIds          []string  `json:"keyPaperIds,omitempty"`
	Confidence           float64   `json:"confidence"`
}

const synthesisRetries = 3

// Synthesizer turns a finished research context into structured content with
// a single schema-constrained model call per exploration.
type Synthesizer struct {
	Client *genai.Client
	Model  string
	Logger *slog.Logger
}

func NewSynthesizer(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Synthesizer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{Client: client, Model: model, Logger: logger}, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, rc *ResearchContext, cls Classification) (*Content, error) {
	prompt := synthesisPrompt(rc, cls)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   contentSchema(),
	}

	var lastErr error
	for attempt := 1; attempt <= synthesisRetries; attempt++ {
		if attempt > 1 {
			s.Logger.Warn("Retrying synthesis", "attempt", attempt, "error", lastErr)
			time.Sleep(time.Second * time.Duration(attempt-1))
		}

		resp, err := s.Client.Models.GenerateContent(ctx, s.Model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}, cfg)
		if err != nil {
			lastErr = err
			continue
		}

		raw := responseText(resp)
		if raw == "" {
			lastErr = fmt.Errorf("empty synthesis response")
			continue
		}

		content, err := parseContent(raw, rc)
		if err != nil {
			lastErr = err
			continue
		}
		return content, nil
	}
	return nil, fmt.Errorf("synthesis failed after %d attempts: %w", synthesisRetries, lastErr)
}

func parseContent(raw string, rc *ResearchContext) (*Content, error) {
	var content Content
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return nil, fmt.Errorf("synthesis returned invalid JSON: %w", err)
	}
	if content.Summary == "" {
		return nil, fmt.Errorf("synthesis response is missing a summary")
	}
	if content.Title == "" {
		content.Title = rc.Topic
	}
	if content.Confidence <= 0 && rc.Summary != nil {
		content.Confidence = rc.Summary.Confidence
	}
	return &content, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// summaryContent degrades to the loop's own terminal summary when structured
// synthesis is unavailable or keeps failing.
func summaryContent(rc *ResearchContext) *Content {
	summary := rc.Summary
	if summary == nil {
		summary = &TerminalSummary{}
	}
	return &Content{
		Title:       rc.Topic,
		Summary:     summary.Text,
		KeyPaperIds: summary.KeyPapers,
		Confidence:  summary.Confidence,
	}
}

func contentSchema() *genai.Schema {
	insight := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"claim":   {Type: genai.TypeString},
			"support": {Type: genai.TypeString},
		},
		Required: []string{"claim"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":                {Type: genai.TypeString},
			"summary":              {Type: genai.TypeString},
			"knownFindings":        {Type: genai.TypeArray, Items: insight},
			"activeDebates":        {Type: genai.TypeArray, Items: insight},
			"openQuestions":        {Type: genai.TypeArray, Items: insight},
			"suggestedExperiments": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"keyPaperIds":          {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"confidence":           {Type: genai.TypeNumber},
		},
		Required: []string{"title", "summary", "confidence"},
	}
}
