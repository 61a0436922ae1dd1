package tools

import (
	"encoding/json"
	"fmt"
)

// Tool names the reasoning model may invoke. The catalog is fixed; anything
// else is rejected at parse time.
const (
	ToolSearchPapers    = "search_papers"
	ToolSearchWeb       = "search_web"
	ToolGetPaperDetails = "get_paper_details"
	ToolFinishResearch  = "finish_research"
)

// Limits applied to provider-bound invocations.
const (
	MaxPaperLimit     = 20
	DefaultPaperLimit = 10
	MaxWebLimit       = 10
	DefaultWebLimit   = 5
)

// Invocation is one validated tool call. The set of implementations is
// closed: exactly the four research tools, so dispatch is an exhaustive
// type switch instead of a stringly-typed map lookup.
type Invocation interface {
	ToolName() string
}

type SearchPapersCall struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (SearchPapersCall) ToolName() string { return ToolSearchPapers }

type SearchWebCall struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (SearchWebCall) ToolName() string { return ToolSearchWeb }

type PaperDetailsCall struct {
	PaperID string `json:"paperId"`
}

func (PaperDetailsCall) ToolName() string { return ToolGetPaperDetails }

// FinishCall is the loop's termination signal, not a network call. Summary
// and Confidence are required; the rest is optional model guidance.
type FinishCall struct {
	Summary          string   `json:"summary"`
	Confidence       float64  `json:"confidence"`
	KeyPapers        []string `json:"key_papers,omitempty"`
	FrontierDetected bool     `json:"frontier_detected,omitempty"`
	FrontierReason   string   `json:"frontier_reason,omitempty"`
}

func (FinishCall) ToolName() string { return ToolFinishResearch }

// ParseInvocation validates one raw tool call from the reasoning model into
// the closed union. Unknown tool names and missing required fields are
// errors; limits are clamped to their tool's ceiling.
func ParseInvocation(name string, rawArgs json.RawMessage) (Invocation, error) {
	args := map[string]interface{}{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, fmt.Errorf("malformed arguments for %s: %w", name, err)
		}
	}

	switch name {
	case ToolSearchPapers:
		query, err := requiredString(args, "query", name)
		if err != nil {
			return nil, err
		}
		return SearchPapersCall{
			Query: query,
			Limit: clampLimit(optionalInt(args, "limit"), DefaultPaperLimit, MaxPaperLimit),
		}, nil

	case ToolSearchWeb:
		query, err := requiredString(args, "query", name)
		if err != nil {
			return nil, err
		}
		return SearchWebCall{
			Query: query,
			Limit: clampLimit(optionalInt(args, "limit"), DefaultWebLimit, MaxWebLimit),
		}, nil

	case ToolGetPaperDetails:
		paperID, err := requiredString(args, "paperId", name)
		if err != nil {
			return nil, err
		}
		return PaperDetailsCall{PaperID: paperID}, nil

	case ToolFinishResearch:
		summary, err := requiredString(args, "summary", name)
		if err != nil {
			return nil, err
		}
		confidence, ok := numberArg(args, "confidence")
		if !ok {
			return nil, fmt.Errorf("%s requires a numeric confidence", name)
		}
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		return FinishCall{
			Summary:          summary,
			Confidence:       confidence,
			KeyPapers:        stringSliceArg(args, "key_papers"),
			FrontierDetected: boolArg(args, "frontier_detected"),
			FrontierReason:   stringArg(args, "frontier_reason"),
		}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func requiredString(args map[string]interface{}, key, tool string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("%s requires a non-empty %s", tool, key)
	}
	return s, nil
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// numberArg accepts any JSON numeric form; decoded numbers are float64.
func numberArg(args map[string]interface{}, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func boolArg(args map[string]interface{}, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clampLimit(n, fallback, max int) int {
	if n <= 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}

func optionalInt(args map[string]interface{}, key string) int {
	if f, ok := numberArg(args, key); ok {
		return int(f)
	}
	return 0
}
