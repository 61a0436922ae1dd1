package exploration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// ToolCallRequest is one tool call exactly as the model issued it, arguments
// still raw. Parsing and validation happen at execution time.
type ToolCallRequest struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ReasoningTurn is a single model response: free text, tool calls, or both.
type ReasoningTurn struct {
	Text      string
	ToolCalls []ToolCallRequest
}

// ReasoningClient produces the next turn for a conversation given the tool
// catalog. Implementations make exactly one provider call per Converse.
type ReasoningClient interface {
	Converse(ctx context.Context, history []llms.MessageContent, catalog []llms.Tool) (*ReasoningTurn, error)
}

// GoogleReasoner drives the loop with a Gemini model through langchaingo.
type GoogleReasoner struct {
	Model       llms.Model
	Temperature float64
	MaxTokens   int
}

func NewGoogleReasoner(model llms.Model) *GoogleReasoner {
	return &GoogleReasoner{Model: model, Temperature: 0.2, MaxTokens: 4096}
}

func (r *GoogleReasoner) Converse(ctx context.Context, history []llms.MessageContent, catalog []llms.Tool) (*ReasoningTurn, error) {
	opts := []llms.CallOption{
		llms.WithTools(catalog),
		llms.WithTemperature(r.Temperature),
	}
	if r.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(r.MaxTokens))
	}

	resp, err := r.Model.GenerateContent(ctx, history, opts...)
	if err != nil {
		return nil, fmt.Errorf("reasoning call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("reasoning model returned no choices")
	}

	choice := resp.Choices[0]
	turn := &ReasoningTurn{Text: strings.TrimSpace(choice.Content)}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: json.RawMessage(tc.FunctionCall.Arguments),
		})
	}
	return turn, nil
}
