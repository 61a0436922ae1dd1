package exploration

// Stage identifies where in its lifecycle an exploration currently is.
type Stage string

const (
	StageStarting   Stage = "starting"
	StageThinking   Stage = "thinking"
	StageSearching  Stage = "searching"
	StageReading    Stage = "reading"
	StageAnalyzing  Stage = "analyzing"
	StageGenerating Stage = "generating"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// ProgressEvent is one observation of the loop's progress. Exactly one
// terminal event (complete or error) closes every event stream. Detail is
// never set by the loop itself; transports may attach a payload to the
// frames they forward.
type ProgressEvent struct {
	Stage           Stage       `json:"stage"`
	Message         string      `json:"message"`
	Iteration       int         `json:"iteration,omitempty"`
	ToolName        string      `json:"toolName,omitempty"`
	PapersFound     int         `json:"papersFound,omitempty"`
	WebResultsFound int         `json:"webResultsFound,omitempty"`
	Detail          interface{} `json:"detail,omitempty"`
}

// ProgressFunc receives progress events. Delivery is fire-and-forget: the
// loop never blocks on, or fails because of, a sink.
type ProgressFunc func(ProgressEvent)

// emitter records the event trail and forwards to an optional sink. A
// panicking sink is swallowed so observation can never break the loop.
type emitter struct {
	sink  ProgressFunc
	trail []ProgressEvent
}

func newEmitter(sink ProgressFunc) *emitter {
	return &emitter{sink: sink}
}

func (em *emitter) emit(ev ProgressEvent) {
	em.trail = append(em.trail, ev)
	if em.sink == nil {
		return
	}
	func() {
		defer func() { _ = recover() }()
		em.sink(ev)
	}()
}
