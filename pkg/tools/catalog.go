package tools

import "github.com/tmc/langchaingo/llms"

// Catalog declares the four research tools for the reasoning model. The
// schemas here must stay in sync with ParseInvocation.
func Catalog() []llms.Tool {
	return []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        ToolSearchPapers,
				Description: "Search academic literature for papers about a topic. Returns titles, authors, years, citation counts and abstracts.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query": map[string]interface{}{
							"type":        "string",
							"description": "The literature search query.",
						},
						"limit": map[string]interface{}{
							"type":        "integer",
							"description": "Maximum number of papers to return (up to 20).",
						},
					},
					"required": []string{"query"},
				},
			},
		},
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        ToolSearchWeb,
				Description: "Search the web for recent articles, news and discussion about a topic.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query": map[string]interface{}{
							"type":        "string",
							"description": "The web search query.",
						},
						"limit": map[string]interface{}{
							"type":        "integer",
							"description": "Maximum number of results to return (up to 10).",
						},
					},
					"required": []string{"query"},
				},
			},
		},
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        ToolGetPaperDetails,
				Description: "Fetch the full record for one paper found earlier, including its abstract.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"paperId": map[string]interface{}{
							"type":        "string",
							"description": "The paperId returned by search_papers.",
						},
					},
					"required": []string{"paperId"},
				},
			},
		},
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        ToolFinishResearch,
				Description: "Signal that enough evidence has been gathered and research is complete.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"summary": map[string]interface{}{
							"type":        "string",
							"description": "Concise summary of what the evidence shows.",
						},
						"confidence": map[string]interface{}{
							"type":        "number",
							"description": "Confidence in the summary, from 0 to 1.",
						},
						"key_papers": map[string]interface{}{
							"type":        "array",
							"items":       map[string]interface{}{"type": "string"},
							"description": "paperIds of the most important papers.",
						},
						"frontier_detected": map[string]interface{}{
							"type":        "boolean",
							"description": "True if this topic sits at the edge of current research.",
						},
						"frontier_reason": map[string]interface{}{
							"type":        "string",
							"description": "Required when frontier_detected is true: why this is a frontier.",
						},
					},
					"required": []string{"summary", "confidence"},
				},
			},
		},
	}
}
