package exploration

import (
	"fmt"
	"sort"

	"github.com/mikeboe/frontier-scout/pkg/sources"
	"github.com/mikeboe/frontier-scout/pkg/tools"
)

// Mode selects how an exploration frames its topic.
type Mode string

const (
	ModeScience    Mode = "science"
	ModeUnknown    Mode = "unknown"
	ModeExperiment Mode = "experiment"
	ModeFreeform   Mode = "freeform"
)

// ParseMode resolves a user-supplied mode string. Empty defaults to science.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeScience, ModeUnknown, ModeExperiment, ModeFreeform:
		return Mode(s), nil
	case "":
		return ModeScience, nil
	default:
		return "", fmt.Errorf("unknown mode: %q", s)
	}
}

// Request describes one exploration to run.
type Request struct {
	Topic         string `json:"topic"`
	Mode          Mode   `json:"mode"`
	PriorContext  string `json:"priorContext,omitempty"`
	MaxIterations int    `json:"maxIterations,omitempty"`
}

// Status is the loop's terminal state. A context is never handed to callers
// while still running.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Abort reasons recorded on forced termination.
const (
	AbortNoToolCalls    = "no-tool-calls"
	AbortLimitReached   = "limit-reached"
	AbortReasoningError = "reasoning-error"
)

// TerminalSummary is the final verdict every loop execution produces, either
// signaled by the model through finish_research or synthesized on abort.
type TerminalSummary struct {
	Text             string   `json:"text"`
	Confidence       float64  `json:"confidence"`
	FrontierDetected bool     `json:"frontierDetected"`
	FrontierReason   string   `json:"frontierReason,omitempty"`
	KeyPapers        []string `json:"keyPapers,omitempty"`
}

// ToolCallRecord is one entry in the append-only audit trail: either the
// invocations and outcomes of an iteration, or a reasoning-client failure.
type ToolCallRecord struct {
	Iteration   int               `json:"iteration"`
	Invocations []ToolCallRequest `json:"invocations,omitempty"`
	Outcomes    []tools.Outcome   `json:"outcomes,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// ResearchContext accumulates everything one loop execution learns. It is
// owned by exactly one invocation for its whole lifetime and is immutable
// once the loop terminates.
type ResearchContext struct {
	Topic          string                       `json:"topic"`
	Mode           Mode                         `json:"mode"`
	PriorContext   string                       `json:"priorContext,omitempty"`
	Papers         map[string]sources.Paper     `json:"collectedPapers"`
	WebResults     map[string]sources.WebResult `json:"collectedWebResults"`
	IterationCount int                          `json:"iterationCount"`
	ToolCallLog    []ToolCallRecord             `json:"toolCallLog"`
	Status         Status                       `json:"status"`
	AbortReason    string                       `json:"abortReason,omitempty"`
	Summary        *TerminalSummary             `json:"summary,omitempty"`
}

func newResearchContext(req Request) *ResearchContext {
	return &ResearchContext{
		Topic:        req.Topic,
		Mode:         req.Mode,
		PriorContext: req.PriorContext,
		Papers:       make(map[string]sources.Paper),
		WebResults:   make(map[string]sources.WebResult),
		Status:       StatusRunning,
	}
}

// AddPapers inserts papers keyed by paperId. The first insertion wins;
// duplicates are no-ops, never overwrites. Returns how many were new.
func (rc *ResearchContext) AddPapers(papers []sources.Paper) int {
	added := 0
	for _, p := range papers {
		if p.PaperID == "" {
			continue
		}
		if _, seen := rc.Papers[p.PaperID]; seen {
			continue
		}
		rc.Papers[p.PaperID] = p
		added++
	}
	return added
}

// AddWebResults inserts results keyed by URL with the same first-wins rule.
func (rc *ResearchContext) AddWebResults(results []sources.WebResult) int {
	added := 0
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		if _, seen := rc.WebResults[r.URL]; seen {
			continue
		}
		rc.WebResults[r.URL] = r
		added++
	}
	return added
}

// HasEvidence reports whether anything has been collected yet.
func (rc *ResearchContext) HasEvidence() bool {
	return len(rc.Papers) > 0 || len(rc.WebResults) > 0
}

// PaperList returns collected papers sorted by citation count, most cited
// first, with title as a stable tiebreak.
func (rc *ResearchContext) PaperList() []sources.Paper {
	papers := make([]sources.Paper, 0, len(rc.Papers))
	for _, p := range rc.Papers {
		papers = append(papers, p)
	}
	sort.Slice(papers, func(i, j int) bool {
		if papers[i].CitationCount != papers[j].CitationCount {
			return papers[i].CitationCount > papers[j].CitationCount
		}
		return papers[i].Title < papers[j].Title
	})
	return papers
}

// WebResultList returns collected web results ordered by URL for stable output.
func (rc *ResearchContext) WebResultList() []sources.WebResult {
	results := make([]sources.WebResult, 0, len(rc.WebResults))
	for _, r := range rc.WebResults {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].URL < results[j].URL })
	return results
}

func (rc *ResearchContext) appendLog(record ToolCallRecord) {
	rc.ToolCallLog = append(rc.ToolCallLog, record)
}

func (rc *ResearchContext) complete(summary TerminalSummary) {
	rc.Status = StatusCompleted
	rc.Summary = &summary
}

func (rc *ResearchContext) abort(reason string, summary TerminalSummary) {
	rc.Status = StatusAborted
	rc.AbortReason = reason
	rc.Summary = &summary
}

// Exploration is the full result handed to callers: synthesized content, the
// evidence-based classification, the raw context and the event trail.
type Exploration struct {
	Topic          string           `json:"topic"`
	Mode           Mode             `json:"mode"`
	Content        *Content         `json:"content"`
	Classification Classification   `json:"classification"`
	Summary        TerminalSummary  `json:"summary"`
	Context        *ResearchContext `json:"context,omitempty"`
	Events         []ProgressEvent  `json:"events,omitempty"`
}
