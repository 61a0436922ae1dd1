package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/frontier-scout/pkg/sources"
)

// PaperSearcher is the academic evidence capability the executor dispatches to.
type PaperSearcher interface {
	SearchPapers(ctx context.Context, query string, limit int) ([]sources.Paper, error)
	PaperDetails(ctx context.Context, paperID string) (*sources.Paper, error)
}

// WebSearcher is the web evidence capability.
type WebSearcher interface {
	SearchWeb(ctx context.Context, query string, limit int) ([]sources.WebResult, error)
}

// Outcome is the result of one invocation. Exactly one of Result or Err is
// set; Result holds the typed payload ([]sources.Paper, []sources.WebResult,
// *sources.Paper or *FinishCall depending on the tool).
type Outcome struct {
	Name      string      `json:"name"`
	Result    interface{} `json:"result,omitempty"`
	Err       string      `json:"error,omitempty"`
	ElapsedMs int64       `json:"elapsedMs"`
}

// Executor dispatches invocation batches to the evidence providers. It holds
// no state across calls; a failing call becomes an error outcome and never
// aborts the rest of the batch.
type Executor struct {
	Papers PaperSearcher
	Web    WebSearcher
	Logger *slog.Logger
}

func NewExecutor(papers PaperSearcher, web WebSearcher) *Executor {
	return &Executor{
		Papers: papers,
		Web:    web,
		Logger: slog.Default(),
	}
}

// Execute runs every invocation concurrently and returns outcomes in
// invocation order, regardless of completion order.
func (e *Executor) Execute(ctx context.Context, invocations []Invocation) []Outcome {
	outcomes := make([]Outcome, len(invocations))

	var wg sync.WaitGroup
	for i, inv := range invocations {
		wg.Add(1)
		go func(i int, inv Invocation) {
			defer wg.Done()
			outcomes[i] = e.dispatch(ctx, inv)
		}(i, inv)
	}
	wg.Wait()

	return outcomes
}

// ExecuteBounded behaves like Execute but keeps at most batchSize invocations
// in flight at once, for callers that need a concurrency ceiling.
func (e *Executor) ExecuteBounded(ctx context.Context, invocations []Invocation, batchSize int) []Outcome {
	if batchSize <= 0 {
		batchSize = 3
	}

	outcomes := make([]Outcome, len(invocations))

	var g errgroup.Group
	g.SetLimit(batchSize)
	for i, inv := range invocations {
		g.Go(func() error {
			outcomes[i] = e.dispatch(ctx, inv)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (e *Executor) dispatch(ctx context.Context, inv Invocation) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Name: inv.ToolName(), Err: fmt.Sprintf("tool panicked: %v", r)}
		}
		out.ElapsedMs = time.Since(start).Milliseconds()
	}()

	switch call := inv.(type) {
	case SearchPapersCall:
		papers, err := e.Papers.SearchPapers(ctx, call.Query, call.Limit)
		if err != nil {
			e.Logger.Error("Paper search failed", "query", call.Query, "error", err)
			return Outcome{Name: ToolSearchPapers, Err: err.Error()}
		}
		e.Logger.Info("Paper search succeeded", "query", call.Query, "count", len(papers))
		return Outcome{Name: ToolSearchPapers, Result: papers}

	case SearchWebCall:
		results, err := e.Web.SearchWeb(ctx, call.Query, call.Limit)
		if err != nil {
			e.Logger.Error("Web search failed", "query", call.Query, "error", err)
			return Outcome{Name: ToolSearchWeb, Err: err.Error()}
		}
		e.Logger.Info("Web search succeeded", "query", call.Query, "count", len(results))
		return Outcome{Name: ToolSearchWeb, Result: results}

	case PaperDetailsCall:
		paper, err := e.Papers.PaperDetails(ctx, call.PaperID)
		if err != nil {
			e.Logger.Warn("Paper details failed", "paperId", call.PaperID, "error", err)
			return Outcome{Name: ToolGetPaperDetails, Err: err.Error()}
		}
		return Outcome{Name: ToolGetPaperDetails, Result: paper}

	case FinishCall:
		// Pure pass-through; ParseInvocation already validated the fields.
		return Outcome{Name: ToolFinishResearch, Result: &call}

	default:
		return Outcome{Name: inv.ToolName(), Err: fmt.Sprintf("unsupported invocation type %T", inv)}
	}
}
