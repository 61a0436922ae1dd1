package exploration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/frontier-scout/pkg/config"
	"github.com/mikeboe/frontier-scout/pkg/sources"
	"github.com/mikeboe/frontier-scout/pkg/tools"
)

type fakePapers struct {
	searchFn  func(ctx context.Context, query string, limit int) ([]sources.Paper, error)
	detailsFn func(ctx context.Context, paperID string) (*sources.Paper, error)
}

func (f *fakePapers) SearchPapers(ctx context.Context, query string, limit int) ([]sources.Paper, error) {
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(ctx, query, limit)
}

func (f *fakePapers) PaperDetails(ctx context.Context, paperID string) (*sources.Paper, error) {
	if f.detailsFn == nil {
		return nil, sources.ErrNotFound
	}
	return f.detailsFn(ctx, paperID)
}

type fakeWeb struct {
	searchFn func(ctx context.Context, query string, limit int) ([]sources.WebResult, error)
}

func (f *fakeWeb) SearchWeb(ctx context.Context, query string, limit int) ([]sources.WebResult, error) {
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(ctx, query, limit)
}

// scriptedReasoner plays back one canned turn per Converse call, in order.
type scriptedReasoner struct {
	calls int
	turns []func(history []llms.MessageContent) (*ReasoningTurn, error)
}

func (s *scriptedReasoner) Converse(ctx context.Context, history []llms.MessageContent, catalog []llms.Tool) (*ReasoningTurn, error) {
	if s.calls >= len(s.turns) {
		return nil, fmt.Errorf("reasoner called %d times but only %d turns scripted", s.calls+1, len(s.turns))
	}
	fn := s.turns[s.calls]
	s.calls++
	return fn(history)
}

type reasonerFunc func(ctx context.Context, history []llms.MessageContent, catalog []llms.Tool) (*ReasoningTurn, error)

func (f reasonerFunc) Converse(ctx context.Context, history []llms.MessageContent, catalog []llms.Tool) (*ReasoningTurn, error) {
	return f(ctx, history, catalog)
}

func turnOf(calls ...ToolCallRequest) func([]llms.MessageContent) (*ReasoningTurn, error) {
	return func([]llms.MessageContent) (*ReasoningTurn, error) {
		return &ReasoningTurn{ToolCalls: calls}, nil
	}
}

func textTurn(text string) func([]llms.MessageContent) (*ReasoningTurn, error) {
	return func([]llms.MessageContent) (*ReasoningTurn, error) {
		return &ReasoningTurn{Text: text}, nil
	}
}

func errTurn(msg string) func([]llms.MessageContent) (*ReasoningTurn, error) {
	return func([]llms.MessageContent) (*ReasoningTurn, error) {
		return nil, errors.New(msg)
	}
}

func searchPapersReq(id, query string) ToolCallRequest {
	return ToolCallRequest{
		ID:        id,
		Name:      tools.ToolSearchPapers,
		Arguments: json.RawMessage(fmt.Sprintf(`{"query":%q}`, query)),
	}
}

func searchWebReq(id, query string) ToolCallRequest {
	return ToolCallRequest{
		ID:        id,
		Name:      tools.ToolSearchWeb,
		Arguments: json.RawMessage(fmt.Sprintf(`{"query":%q}`, query)),
	}
}

func finishReq(summary string, confidence float64) ToolCallRequest {
	args, _ := json.Marshal(map[string]interface{}{"summary": summary, "confidence": confidence})
	return ToolCallRequest{ID: "finish", Name: tools.ToolFinishResearch, Arguments: args}
}

func newTestEngine(r ReasoningClient, papers tools.PaperSearcher, web tools.WebSearcher) *Engine {
	if papers == nil {
		papers = &fakePapers{}
	}
	if web == nil {
		web = &fakeWeb{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	executor := tools.NewExecutor(papers, web)
	executor.Logger = logger
	return &Engine{Reasoner: r, Executor: executor, Logger: logger}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFallbackConfidence(t *testing.T) {
	h := DefaultHeuristics()

	tests := []struct {
		name   string
		papers int
		want   float64
	}{
		{name: "no papers floors at the base", papers: 0, want: 0.3},
		{name: "each paper adds a step", papers: 4, want: 0.5},
		{name: "ten papers reach the cap exactly", papers: 10, want: 0.8},
		{name: "many papers stay capped", papers: 40, want: 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.FallbackConfidence(tt.papers); !almostEqual(got, tt.want) {
				t.Errorf("FallbackConfidence(%d) = %v, want %v", tt.papers, got, tt.want)
			}
		})
	}
}

// An immediate finish_research terminates after one iteration without any
// provider traffic.
func TestRunCompletesOnImmediateFinish(t *testing.T) {
	var providerCalls int32
	papers := &fakePapers{searchFn: func(context.Context, string, int) ([]sources.Paper, error) {
		atomic.AddInt32(&providerCalls, 1)
		return nil, nil
	}}
	web := &fakeWeb{searchFn: func(context.Context, string, int) ([]sources.WebResult, error) {
		atomic.AddInt32(&providerCalls, 1)
		return nil, nil
	}}
	reasoner := &scriptedReasoner{turns: []func([]llms.MessageContent) (*ReasoningTurn, error){
		turnOf(finishReq("Topic is well understood.", 0.9)),
	}}

	e := newTestEngine(reasoner, papers, web)
	rc, err := e.Run(context.Background(), Request{Topic: "perovskite solar cell stability"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rc.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", rc.Status, StatusCompleted)
	}
	if rc.IterationCount != 1 {
		t.Errorf("iterationCount = %d, want 1", rc.IterationCount)
	}
	if rc.Summary == nil || rc.Summary.Text != "Topic is well understood." {
		t.Errorf("summary = %+v", rc.Summary)
	}
	if !almostEqual(rc.Summary.Confidence, 0.9) {
		t.Errorf("confidence = %v, want 0.9", rc.Summary.Confidence)
	}
	if n := atomic.LoadInt32(&providerCalls); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
	if len(rc.ToolCallLog) != 1 {
		t.Errorf("toolCallLog length = %d, want 1", len(rc.ToolCallLog))
	}
}

// A turn with neither text nor tool calls aborts after exactly one iteration.
func TestRunAbortsWhenModelGoesSilent(t *testing.T) {
	var calls int32
	reasoner := reasonerFunc(func(context.Context, []llms.MessageContent, []llms.Tool) (*ReasoningTurn, error) {
		atomic.AddInt32(&calls, 1)
		return &ReasoningTurn{}, nil
	})

	e := newTestEngine(reasoner, nil, nil)
	rc, err := e.Run(context.Background(), Request{Topic: "anything"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rc.Status != StatusAborted || rc.AbortReason != AbortNoToolCalls {
		t.Errorf("status = %q/%q, want aborted/%s", rc.Status, rc.AbortReason, AbortNoToolCalls)
	}
	if rc.IterationCount != 1 {
		t.Errorf("iterationCount = %d, want 1", rc.IterationCount)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("reasoner calls = %d, want 1", got)
	}
	if !almostEqual(rc.Summary.Confidence, 0.3) {
		t.Errorf("fallback confidence = %v, want 0.3", rc.Summary.Confidence)
	}
	if !rc.Summary.FrontierDetected {
		t.Errorf("fallback with zero papers should flag a possible frontier")
	}
}

func TestRunStopsAtIterationLimit(t *testing.T) {
	var calls int32
	reasoner := reasonerFunc(func(context.Context, []llms.MessageContent, []llms.Tool) (*ReasoningTurn, error) {
		n := atomic.AddInt32(&calls, 1)
		return &ReasoningTurn{ToolCalls: []ToolCallRequest{searchPapersReq(fmt.Sprintf("c%d", n), "same query")}}, nil
	})
	papers := &fakePapers{searchFn: func(context.Context, string, int) ([]sources.Paper, error) {
		return []sources.Paper{{PaperID: "p1", Title: "Only paper", Year: 2024}}, nil
	}}

	e := newTestEngine(reasoner, papers, nil)
	rc, err := e.Run(context.Background(), Request{Topic: "anything", MaxIterations: 3})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rc.Status != StatusAborted || rc.AbortReason != AbortLimitReached {
		t.Errorf("status = %q/%q, want aborted/%s", rc.Status, rc.AbortReason, AbortLimitReached)
	}
	if rc.IterationCount != 3 {
		t.Errorf("iterationCount = %d, want 3", rc.IterationCount)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("reasoner calls = %d, want 3", got)
	}
	if len(rc.Papers) != 1 {
		t.Errorf("papers = %d, want 1 after dedup", len(rc.Papers))
	}
	if !almostEqual(rc.Summary.Confidence, 0.35) {
		t.Errorf("fallback confidence = %v, want 0.35", rc.Summary.Confidence)
	}
}

// Re-discovered papers and URLs keep their first-seen record; nothing is
// overwritten and nothing is double counted.
func TestRunDeduplicatesEvidence(t *testing.T) {
	firstBatch := []sources.Paper{
		{PaperID: "A", Title: "original title", Year: 2024},
		{PaperID: "B", Title: "second paper", Year: 2023},
	}
	secondBatch := []sources.Paper{
		{PaperID: "A", Title: "changed title", Year: 2024},
		{PaperID: "C", Title: "third paper", Year: 2025},
		{PaperID: "", Title: "unkeyed paper"},
	}
	var batch int32
	papers := &fakePapers{searchFn: func(context.Context, string, int) ([]sources.Paper, error) {
		if atomic.AddInt32(&batch, 1) == 1 {
			return firstBatch, nil
		}
		return secondBatch, nil
	}}
	web := &fakeWeb{searchFn: func(context.Context, string, int) ([]sources.WebResult, error) {
		return []sources.WebResult{{URL: "https://example.org/x", Title: "X", Source: "example.org"}}, nil
	}}
	reasoner := &scriptedReasoner{turns: []func([]llms.MessageContent) (*ReasoningTurn, error){
		turnOf(searchPapersReq("c1", "graphene"), searchWebReq("c2", "graphene news")),
		turnOf(searchPapersReq("c3", "graphene applications"), searchWebReq("c4", "graphene news")),
		turnOf(finishReq("done", 0.7)),
	}}

	e := newTestEngine(reasoner, papers, web)
	rc, err := e.Run(context.Background(), Request{Topic: "graphene"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(rc.Papers) != 3 {
		t.Errorf("papers = %d, want 3", len(rc.Papers))
	}
	if got := rc.Papers["A"].Title; got != "original title" {
		t.Errorf("paper A title = %q, want the first-seen record kept", got)
	}
	if len(rc.WebResults) != 1 {
		t.Errorf("web results = %d, want 1", len(rc.WebResults))
	}
	if rc.IterationCount != 3 {
		t.Errorf("iterationCount = %d, want 3", rc.IterationCount)
	}
}

// Plain text with no tool calls is treated as the model's final answer.
func TestRunTextOnlyTurnIsImplicitFinish(t *testing.T) {
	papers := &fakePapers{searchFn: func(context.Context, string, int) ([]sources.Paper, error) {
		return []sources.Paper{
			{PaperID: "p1", Year: 2024}, {PaperID: "p2", Year: 2023},
			{PaperID: "p3", Year: 2022}, {PaperID: "p4", Year: 2021},
		}, nil
	}}
	reasoner := &scriptedReasoner{turns: []func([]llms.MessageContent) (*ReasoningTurn, error){
		turnOf(searchPapersReq("c1", "query")),
		textTurn("The field is nascent; little has been published."),
	}}

	e := newTestEngine(reasoner, papers, nil)
	rc, err := e.Run(context.Background(), Request{Topic: "anything"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rc.Status != StatusCompleted {
		t.Fatalf("status = %q/%q, want completed", rc.Status, rc.AbortReason)
	}
	if rc.Summary.Text != "The field is nascent; little has been published." {
		t.Errorf("summary text = %q", rc.Summary.Text)
	}
	if !almostEqual(rc.Summary.Confidence, 0.5) {
		t.Errorf("confidence = %v, want 0.5 for 4 papers", rc.Summary.Confidence)
	}
	if !rc.Summary.FrontierDetected {
		t.Errorf("4 papers should still flag a possible frontier")
	}
}

func TestRunReasoningFailures(t *testing.T) {
	t.Run("aborts after two failures with no evidence", func(t *testing.T) {
		var calls int32
		reasoner := reasonerFunc(func(context.Context, []llms.MessageContent, []llms.Tool) (*ReasoningTurn, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("model unavailable")
		})

		e := newTestEngine(reasoner, nil, nil)
		rc, err := e.Run(context.Background(), Request{Topic: "anything"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if rc.Status != StatusAborted || rc.AbortReason != AbortReasoningError {
			t.Errorf("status = %q/%q, want aborted/%s", rc.Status, rc.AbortReason, AbortReasoningError)
		}
		if got := atomic.LoadInt32(&calls); got != 2 {
			t.Errorf("reasoner calls = %d, want 2", got)
		}
		if len(rc.ToolCallLog) != 2 || rc.ToolCallLog[0].Error == "" {
			t.Errorf("toolCallLog = %+v, want two error records", rc.ToolCallLog)
		}
	})

	t.Run("a single failure retries on the next iteration", func(t *testing.T) {
		reasoner := &scriptedReasoner{turns: []func([]llms.MessageContent) (*ReasoningTurn, error){
			errTurn("transient"),
			turnOf(finishReq("recovered", 0.6)),
		}}

		e := newTestEngine(reasoner, nil, nil)
		rc, err := e.Run(context.Background(), Request{Topic: "anything"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if rc.Status != StatusCompleted {
			t.Errorf("status = %q/%q, want completed", rc.Status, rc.AbortReason)
		}
		if rc.IterationCount != 2 {
			t.Errorf("iterationCount = %d, want 2", rc.IterationCount)
		}
	})

	t.Run("completes early when evidence already exists", func(t *testing.T) {
		papers := &fakePapers{searchFn: func(context.Context, string, int) ([]sources.Paper, error) {
			return []sources.Paper{{PaperID: "p1", Year: 2024}, {PaperID: "p2", Year: 2023}}, nil
		}}
		reasoner := &scriptedReasoner{turns: []func([]llms.MessageContent) (*ReasoningTurn, error){
			turnOf(searchPapersReq("c1", "query")),
			errTurn("first failure"),
			errTurn("second failure"),
		}}

		e := newTestEngine(reasoner, papers, nil)
		rc, err := e.Run(context.Background(), Request{Topic: "anything"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if rc.Status != StatusCompleted {
			t.Errorf("status = %q/%q, want completed with partial evidence", rc.Status, rc.AbortReason)
		}
		if rc.IterationCount != 3 {
			t.Errorf("iterationCount = %d, want 3", rc.IterationCount)
		}
		if !almostEqual(rc.Summary.Confidence, 0.4) {
			t.Errorf("fallback confidence = %v, want 0.4 for 2 papers", rc.Summary.Confidence)
		}
	})
}

// Malformed invocations become error outcomes in place, fed back to the
// model, while valid invocations in the same batch still run.
func TestRunInvalidInvocationFeedback(t *testing.T) {
	web := &fakeWeb{searchFn: func(context.Context, string, int) ([]sources.WebResult, error) {
		return []sources.WebResult{{URL: "https://example.org/a", Title: "A", Source: "example.org"}}, nil
	}}

	var feedback string
	reasoner := &scriptedReasoner{turns: []func([]llms.MessageContent) (*ReasoningTurn, error){
		turnOf(
			ToolCallRequest{ID: "bad", Name: tools.ToolSearchPapers, Arguments: json.RawMessage(`{}`)},
			searchWebReq("ok", "recent results"),
		),
		func(history []llms.MessageContent) (*ReasoningTurn, error) {
			last := history[len(history)-1]
			if last.Role == llms.ChatMessageTypeTool && len(last.Parts) == 2 {
				if resp, ok := last.Parts[0].(llms.ToolCallResponse); ok {
					feedback = resp.Content
				}
			}
			return &ReasoningTurn{ToolCalls: []ToolCallRequest{finishReq("done", 0.5)}}, nil
		},
	}}

	e := newTestEngine(reasoner, nil, web)
	rc, err := e.Run(context.Background(), Request{Topic: "anything"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rc.Status != StatusCompleted {
		t.Fatalf("status = %q/%q, want completed", rc.Status, rc.AbortReason)
	}
	if len(rc.WebResults) != 1 {
		t.Errorf("web results = %d, want the valid call to have run", len(rc.WebResults))
	}
	record := rc.ToolCallLog[0]
	if record.Outcomes[0].Err == "" || record.Outcomes[1].Err != "" {
		t.Errorf("outcomes = %+v, want an error in slot 0 only", record.Outcomes)
	}
	if !strings.Contains(feedback, "query") {
		t.Errorf("model feedback = %q, want the parse error surfaced", feedback)
	}
}

func TestRunWallClockCap(t *testing.T) {
	var calls int32
	reasoner := reasonerFunc(func(context.Context, []llms.MessageContent, []llms.Tool) (*ReasoningTurn, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		return &ReasoningTurn{ToolCalls: []ToolCallRequest{searchPapersReq("c1", "query")}}, nil
	})

	e := newTestEngine(reasoner, nil, nil)
	e.MaxDuration = 50 * time.Millisecond
	rc, err := e.Run(context.Background(), Request{Topic: "anything"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rc.Status != StatusAborted || rc.AbortReason != AbortLimitReached {
		t.Errorf("status = %q/%q, want aborted/%s", rc.Status, rc.AbortReason, AbortLimitReached)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("reasoner calls = %d, want 1", got)
	}
}

func TestRunWithProgressIgnoresWallClock(t *testing.T) {
	reasoner := &scriptedReasoner{turns: []func([]llms.MessageContent) (*ReasoningTurn, error){
		func([]llms.MessageContent) (*ReasoningTurn, error) {
			time.Sleep(20 * time.Millisecond)
			return &ReasoningTurn{ToolCalls: []ToolCallRequest{searchPapersReq("c1", "query")}}, nil
		},
		turnOf(finishReq("done", 0.5)),
	}}

	e := newTestEngine(reasoner, nil, nil)
	e.MaxDuration = time.Millisecond
	rc, err := e.RunWithProgress(context.Background(), Request{Topic: "anything"}, nil)
	if err != nil {
		t.Fatalf("RunWithProgress() error = %v", err)
	}

	if rc.Status != StatusCompleted {
		t.Errorf("status = %q/%q, want completed despite the elapsed time", rc.Status, rc.AbortReason)
	}
	if rc.IterationCount != 2 {
		t.Errorf("iterationCount = %d, want 2", rc.IterationCount)
	}
}

func TestExploreEventOrdering(t *testing.T) {
	recentYear := time.Now().Year() - 1
	papers := &fakePapers{searchFn: func(context.Context, string, int) ([]sources.Paper, error) {
		batch := make([]sources.Paper, 6)
		for i := range batch {
			batch[i] = sources.Paper{PaperID: fmt.Sprintf("p%d", i), Title: "Paper", Year: recentYear}
		}
		return batch, nil
	}}
	reasoner := &scriptedReasoner{turns: []func([]llms.MessageContent) (*ReasoningTurn, error){
		turnOf(searchPapersReq("c1", "field survey")),
		turnOf(finishReq("well studied", 0.85)),
	}}

	var events []ProgressEvent
	e := newTestEngine(reasoner, papers, nil)
	ex, err := e.Explore(context.Background(), Request{Topic: "field"}, func(ev ProgressEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Explore() error = %v", err)
	}

	wantStages := []Stage{
		StageStarting,
		StageThinking, StageSearching, StageAnalyzing,
		StageThinking,
		StageGenerating, StageComplete,
	}
	if len(events) != len(wantStages) {
		t.Fatalf("event count = %d (%v), want %d", len(events), stagesOf(events), len(wantStages))
	}
	for i, want := range wantStages {
		if events[i].Stage != want {
			t.Errorf("event[%d] = %q, want %q", i, events[i].Stage, want)
		}
	}

	terminal := 0
	for _, ev := range events {
		if ev.Stage == StageComplete || ev.Stage == StageError {
			terminal++
		}
	}
	if terminal != 1 || events[len(events)-1].Stage != StageComplete {
		t.Errorf("want exactly one terminal event, last; got %v", stagesOf(events))
	}

	if ex.Content == nil || ex.Content.Summary != "well studied" {
		t.Errorf("content = %+v, want the loop summary carried over", ex.Content)
	}
	if ex.Classification.ResearchHeat != HeatHot {
		t.Errorf("heat = %q, want %q", ex.Classification.ResearchHeat, HeatHot)
	}
	if ex.Classification.Depth != DepthInvestigated {
		t.Errorf("depth = %q, want %q", ex.Classification.Depth, DepthInvestigated)
	}
	if len(ex.Events) != len(events) {
		t.Errorf("trail length = %d, sink saw %d", len(ex.Events), len(events))
	}
}

func stagesOf(events []ProgressEvent) []Stage {
	stages := make([]Stage, len(events))
	for i, ev := range events {
		stages[i] = ev.Stage
	}
	return stages
}

// A missing credential surfaces as a single terminal error event rather than
// a panic or a silent no-op.
func TestExploreMissingCredential(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(&config.Config{}, logger)

	var events []ProgressEvent
	_, err := e.Explore(context.Background(), Request{Topic: "anything"}, func(ev ProgressEvent) {
		events = append(events, ev)
	})

	if err == nil {
		t.Fatalf("Explore() error = nil, want credential error")
	}
	if len(events) != 1 || events[0].Stage != StageError {
		t.Errorf("events = %v, want a single error event", stagesOf(events))
	}
}

// A panicking progress sink must never take the loop down with it.
func TestExploreSinkPanicIsolated(t *testing.T) {
	reasoner := &scriptedReasoner{turns: []func([]llms.MessageContent) (*ReasoningTurn, error){
		turnOf(finishReq("done", 0.9)),
	}}

	e := newTestEngine(reasoner, nil, nil)
	ex, err := e.Explore(context.Background(), Request{Topic: "anything"}, func(ProgressEvent) {
		panic("sink exploded")
	})
	if err != nil {
		t.Fatalf("Explore() error = %v", err)
	}

	if ex.Summary.Text != "done" {
		t.Errorf("summary = %q, want the exploration to finish", ex.Summary.Text)
	}
	if len(ex.Events) == 0 || ex.Events[len(ex.Events)-1].Stage != StageComplete {
		t.Errorf("trail = %v, want a complete event recorded", stagesOf(ex.Events))
	}
}
