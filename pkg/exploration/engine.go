package exploration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/frontier-scout/pkg/clients"
	"github.com/mikeboe/frontier-scout/pkg/config"
	"github.com/mikeboe/frontier-scout/pkg/sources"
	"github.com/mikeboe/frontier-scout/pkg/tools"
)

// Defaults applied when the caller leaves loop bounds unset.
const (
	DefaultMaxIterations = 10
	DefaultMaxDuration   = 2 * time.Minute
)

// Heuristics are the constants behind fallback summaries and the paper-count
// frontier signal. The zero value means "use defaults".
type Heuristics struct {
	FallbackBase     float64
	FallbackPerPaper float64
	FallbackCap      float64
	FrontierPaperMin int
}

func DefaultHeuristics() Heuristics {
	return Heuristics{
		FallbackBase:     0.3,
		FallbackPerPaper: 0.05,
		FallbackCap:      0.8,
		FrontierPaperMin: 5,
	}
}

// FallbackConfidence scores a summary the model never rated itself: a floor
// plus a small credit per collected paper, capped well below certainty.
func (h Heuristics) FallbackConfidence(paperCount int) float64 {
	c := h.FallbackBase + h.FallbackPerPaper*float64(paperCount)
	if c > h.FallbackCap {
		return h.FallbackCap
	}
	return c
}

// Engine runs research explorations. Fields are set once at construction and
// never mutated afterwards, so one Engine serves concurrent explorations.
type Engine struct {
	Reasoner      ReasoningClient
	Executor      *tools.Executor
	Synthesizer   *Synthesizer
	Logger        *slog.Logger
	Heuristics    Heuristics
	MaxIterations int
	MaxDuration   time.Duration
	BatchSize     int

	configErr error
}

// NewEngine wires an engine from configuration. A missing or unusable Google
// credential does not fail construction; it surfaces as a terminal error
// event on the first exploration, so servers can still boot and report it.
func NewEngine(cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		Logger:        logger,
		Heuristics:    DefaultHeuristics(),
		MaxIterations: cfg.MaxIterations,
		MaxDuration:   time.Duration(cfg.MaxDurationMs) * time.Millisecond,
		BatchSize:     cfg.ToolBatchSize,
	}

	papers := sources.NewSemanticScholar(cfg.SemanticScholarApiKey)
	web := sources.NewSerper(cfg.SerperApiKey)
	e.Executor = tools.NewExecutor(papers, web)
	e.Executor.Logger = logger

	if cfg.GoogleApiKey == "" {
		e.configErr = fmt.Errorf("GOOGLE_API_KEY is not set")
		return e
	}

	ctx := context.Background()
	model, err := clients.NewGoogleAI(ctx, cfg.GoogleApiKey, cfg.ReasoningModel)
	if err != nil {
		e.configErr = fmt.Errorf("failed to create reasoning client: %w", err)
		return e
	}
	e.Reasoner = NewGoogleReasoner(model)

	synth, err := NewSynthesizer(ctx, cfg.GoogleApiKey, cfg.SynthesisModel, logger)
	if err != nil {
		e.configErr = fmt.Errorf("failed to create synthesis client: %w", err)
		return e
	}
	e.Synthesizer = synth

	return e
}

// Run executes the research loop to termination without progress events.
// This blocking variant is additionally wall-clock bounded.
func (e *Engine) Run(ctx context.Context, req Request) (*ResearchContext, error) {
	return e.runLoop(ctx, req, newEmitter(nil), true)
}

// RunWithProgress executes the loop streaming progress events to onProgress.
// Only the iteration cap bounds it; a slow consumer never stops research.
func (e *Engine) RunWithProgress(ctx context.Context, req Request, onProgress ProgressFunc) (*ResearchContext, error) {
	return e.runLoop(ctx, req, newEmitter(onProgress), false)
}

// Explore runs the full pipeline: the research loop, the evidence
// classification and the content synthesis. With a nil onProgress the run is
// wall-clock bounded like Run; with a sink it streams like RunWithProgress.
func (e *Engine) Explore(ctx context.Context, req Request, onProgress ProgressFunc) (*Exploration, error) {
	em := newEmitter(onProgress)

	fail := func(err error) (*Exploration, error) {
		em.emit(ProgressEvent{Stage: StageError, Message: err.Error()})
		return nil, err
	}

	if e.configErr != nil {
		return fail(e.configErr)
	}
	if req.Topic == "" {
		return fail(fmt.Errorf("topic is required"))
	}

	em.emit(ProgressEvent{Stage: StageStarting, Message: fmt.Sprintf("Exploring %q", req.Topic)})

	rc, err := e.runLoop(ctx, req, em, onProgress == nil)
	if err != nil {
		return fail(err)
	}

	cls := ClassifyNow(rc.PaperList(), int(rc.Summary.Confidence*100))
	cls = cls.WithModelSignal(rc.Summary.FrontierDetected, rc.Summary.FrontierReason)

	em.emit(ProgressEvent{
		Stage:           StageGenerating,
		Message:         "Synthesizing the exploration report",
		PapersFound:     len(rc.Papers),
		WebResultsFound: len(rc.WebResults),
	})

	var content *Content
	if e.Synthesizer != nil {
		content, err = e.Synthesizer.Synthesize(ctx, rc, cls)
		if err != nil {
			e.logger().Warn("Synthesis failed, falling back to the loop summary", "topic", req.Topic, "error", err)
			content = nil
		}
	}
	if content == nil {
		content = summaryContent(rc)
	}

	em.emit(ProgressEvent{
		Stage:           StageComplete,
		Message:         "Exploration complete",
		Iteration:       rc.IterationCount,
		PapersFound:     len(rc.Papers),
		WebResultsFound: len(rc.WebResults),
	})

	return &Exploration{
		Topic:          rc.Topic,
		Mode:           rc.Mode,
		Content:        content,
		Classification: cls,
		Summary:        *rc.Summary,
		Context:        rc,
		Events:         em.trail,
	}, nil
}

// runLoop is the reasoning loop itself: converse, execute invocations, feed
// outcomes back, repeat until the model finishes or a bound trips.
func (e *Engine) runLoop(ctx context.Context, req Request, em *emitter, wallClock bool) (*ResearchContext, error) {
	if e.configErr != nil {
		return nil, e.configErr
	}
	if e.Reasoner == nil {
		return nil, fmt.Errorf("no reasoning client configured")
	}

	h := e.Heuristics
	if h == (Heuristics{}) {
		h = DefaultHeuristics()
	}
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = e.MaxIterations
	}
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	maxDuration := e.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}

	rc := newResearchContext(req)
	history := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(req.Mode)),
		llms.TextParts(llms.ChatMessageTypeHuman, taskMessage(req.Topic, req.PriorContext)),
	}
	catalog := tools.Catalog()
	start := time.Now()
	consecutiveFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			return rc, err
		}
		if rc.IterationCount >= maxIter {
			rc.abort(AbortLimitReached, e.fallback(rc, h,
				fmt.Sprintf("Research stopped at the %d-iteration limit.", maxIter)))
			break
		}
		if wallClock && time.Since(start) >= maxDuration {
			rc.abort(AbortLimitReached, e.fallback(rc, h,
				fmt.Sprintf("Research stopped after running for %s.", maxDuration)))
			break
		}

		iteration := rc.IterationCount + 1
		rc.IterationCount = iteration

		em.emit(ProgressEvent{
			Stage:     StageThinking,
			Iteration: iteration,
			Message:   "Planning the next research step",
		})

		turn, err := e.Reasoner.Converse(ctx, history, catalog)
		if err != nil {
			consecutiveFailures++
			rc.appendLog(ToolCallRecord{Iteration: iteration, Error: err.Error()})
			e.logger().Warn("Reasoning call failed", "iteration", iteration, "error", err)
			if consecutiveFailures < 2 {
				continue
			}
			if rc.HasEvidence() {
				rc.complete(e.fallback(rc, h,
					"Reasoning stopped after repeated errors; summarizing the evidence collected so far."))
			} else {
				rc.abort(AbortReasoningError, e.fallback(rc, h,
					"Reasoning failed before any evidence was collected."))
			}
			break
		}
		consecutiveFailures = 0

		if len(turn.ToolCalls) == 0 {
			if turn.Text == "" {
				rc.abort(AbortNoToolCalls, e.fallback(rc, h,
					"The model returned neither findings nor further research steps."))
			} else {
				// A plain answer with no tool calls is an implicit finish.
				rc.complete(TerminalSummary{
					Text:             turn.Text,
					Confidence:       h.FallbackConfidence(len(rc.Papers)),
					FrontierDetected: len(rc.Papers) < h.FrontierPaperMin,
				})
			}
			break
		}

		if finish, outcome, ok := e.findFinish(turn); ok {
			rc.appendLog(ToolCallRecord{
				Iteration:   iteration,
				Invocations: turn.ToolCalls,
				Outcomes:    []tools.Outcome{outcome},
			})
			rc.complete(TerminalSummary{
				Text:             finish.Summary,
				Confidence:       finish.Confidence,
				FrontierDetected: finish.FrontierDetected,
				FrontierReason:   finish.FrontierReason,
				KeyPapers:        finish.KeyPapers,
			})
			break
		}

		outcomes := e.executeTurn(ctx, turn, iteration, em)

		newPapers, newWeb := 0, 0
		for _, out := range outcomes {
			if out.Err != "" {
				continue
			}
			switch res := out.Result.(type) {
			case []sources.Paper:
				newPapers += rc.AddPapers(res)
			case *sources.Paper:
				if res != nil {
					newPapers += rc.AddPapers([]sources.Paper{*res})
				}
			case []sources.WebResult:
				newWeb += rc.AddWebResults(res)
			}
		}

		rc.appendLog(ToolCallRecord{
			Iteration:   iteration,
			Invocations: turn.ToolCalls,
			Outcomes:    outcomes,
		})

		history = append(history, assistantTurnMessage(turn), toolResultsMessage(turn.ToolCalls, outcomes))

		em.emit(ProgressEvent{
			Stage:           StageAnalyzing,
			Iteration:       iteration,
			Message:         fmt.Sprintf("Folding in %d new papers and %d new web results", newPapers, newWeb),
			PapersFound:     len(rc.Papers),
			WebResultsFound: len(rc.WebResults),
		})
	}

	e.logger().Info("Research loop finished",
		"topic", rc.Topic,
		"status", rc.Status,
		"abortReason", rc.AbortReason,
		"iterations", rc.IterationCount,
		"papers", len(rc.Papers),
		"webResults", len(rc.WebResults),
	)
	return rc, nil
}

// findFinish returns the first valid finish_research call of a turn. Any
// other invocations issued alongside it are ignored; a malformed finish is
// not terminal and falls through to normal execution, where it becomes an
// error outcome the model sees next iteration.
func (e *Engine) findFinish(turn *ReasoningTurn) (tools.FinishCall, tools.Outcome, bool) {
	for _, call := range turn.ToolCalls {
		if call.Name != tools.ToolFinishResearch {
			continue
		}
		inv, err := tools.ParseInvocation(call.Name, call.Arguments)
		if err != nil {
			return tools.FinishCall{}, tools.Outcome{}, false
		}
		finish := inv.(tools.FinishCall)
		return finish, tools.Outcome{Name: tools.ToolFinishResearch, Result: &finish}, true
	}
	return tools.FinishCall{}, tools.Outcome{}, false
}

// executeTurn parses and dispatches a turn's invocations, keeping outcomes
// aligned with invocation order. Parse failures become error outcomes in
// place; only the valid remainder reaches the executor.
func (e *Engine) executeTurn(ctx context.Context, turn *ReasoningTurn, iteration int, em *emitter) []tools.Outcome {
	outcomes := make([]tools.Outcome, len(turn.ToolCalls))
	var parsed []tools.Invocation
	var parsedIdx []int

	for i, call := range turn.ToolCalls {
		inv, err := tools.ParseInvocation(call.Name, call.Arguments)
		if err != nil {
			outcomes[i] = tools.Outcome{Name: call.Name, Err: err.Error()}
			continue
		}
		stage, msg := invocationEvent(inv)
		em.emit(ProgressEvent{Stage: stage, Iteration: iteration, ToolName: inv.ToolName(), Message: msg})
		parsed = append(parsed, inv)
		parsedIdx = append(parsedIdx, i)
	}

	if len(parsed) == 0 {
		return outcomes
	}

	var executed []tools.Outcome
	if e.BatchSize > 0 {
		executed = e.Executor.ExecuteBounded(ctx, parsed, e.BatchSize)
	} else {
		executed = e.Executor.Execute(ctx, parsed)
	}
	for j, out := range executed {
		outcomes[parsedIdx[j]] = out
	}
	return outcomes
}

func (e *Engine) fallback(rc *ResearchContext, h Heuristics, text string) TerminalSummary {
	return TerminalSummary{
		Text:             text,
		Confidence:       h.FallbackConfidence(len(rc.Papers)),
		FrontierDetected: len(rc.Papers) < h.FrontierPaperMin,
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func invocationEvent(inv tools.Invocation) (Stage, string) {
	switch call := inv.(type) {
	case tools.SearchPapersCall:
		return StageSearching, fmt.Sprintf("Searching literature: %s", call.Query)
	case tools.SearchWebCall:
		return StageSearching, fmt.Sprintf("Searching the web: %s", call.Query)
	case tools.PaperDetailsCall:
		return StageReading, fmt.Sprintf("Reading paper %s", call.PaperID)
	default:
		return StageThinking, inv.ToolName()
	}
}

func assistantTurnMessage(turn *ReasoningTurn) llms.MessageContent {
	var parts []llms.ContentPart
	if turn.Text != "" {
		parts = append(parts, llms.TextContent{Text: turn.Text})
	}
	for _, call := range turn.ToolCalls {
		parts = append(parts, llms.ToolCall{
			ID:   call.ID,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      call.Name,
				Arguments: string(call.Arguments),
			},
		})
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
}

func toolResultsMessage(calls []ToolCallRequest, outcomes []tools.Outcome) llms.MessageContent {
	parts := make([]llms.ContentPart, 0, len(outcomes))
	for i, out := range outcomes {
		parts = append(parts, llms.ToolCallResponse{
			ToolCallID: calls[i].ID,
			Name:       out.Name,
			Content:    outcomePayload(out),
		})
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeTool, Parts: parts}
}

// feedbackAbstractLen bounds abstracts fed back into the conversation so long
// papers do not crowd out the model's context.
const feedbackAbstractLen = 600

func outcomePayload(out tools.Outcome) string {
	if out.Err != "" {
		b, _ := json.Marshal(map[string]string{"error": out.Err})
		return string(b)
	}

	payload := out.Result
	switch res := out.Result.(type) {
	case []sources.Paper:
		payload = trimmedPapers(res)
	case *sources.Paper:
		if res != nil {
			payload = trimmedPapers([]sources.Paper{*res})[0]
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return `{"error":"result could not be encoded"}`
	}
	return string(b)
}

func trimmedPapers(papers []sources.Paper) []sources.Paper {
	trimmed := make([]sources.Paper, len(papers))
	for i, p := range papers {
		p.Abstract = truncate(p.Abstract, feedbackAbstractLen)
		trimmed[i] = p
	}
	return trimmed
}
