package exploration

import (
	"fmt"
	"time"

	"github.com/mikeboe/frontier-scout/pkg/sources"
)

// Depth grades how settled a topic is.
type Depth string

const (
	DepthKnown        Depth = "known"
	DepthInvestigated Depth = "investigated"
	DepthDebated      Depth = "debated"
	DepthUnknown      Depth = "unknown"
	DepthFrontier     Depth = "frontier"
)

// Heat grades publication activity.
type Heat string

const (
	HeatHot     Heat = "hot"
	HeatWarm    Heat = "warm"
	HeatCold    Heat = "cold"
	HeatDormant Heat = "dormant"
)

// Classification is the evidence-derived verdict on a topic.
type Classification struct {
	IsFrontier     bool   `json:"isFrontier"`
	FrontierReason string `json:"frontierReason,omitempty"`
	Depth          Depth  `json:"depth"`
	ResearchHeat   Heat   `json:"researchHeat"`
}

// Classify derives a classification from collected papers and a confidence
// score on a 0-100 scale. It is deterministic: same inputs, same verdict.
// Papers with unknown year (zero) never count as recent.
func Classify(papers []sources.Paper, confidence int, currentYear int) Classification {
	recent2 := countSince(papers, currentYear-2)
	recent3 := countSince(papers, currentYear-3)

	cls := Classification{
		ResearchHeat: classifyHeat(len(papers), recent2, recent3),
	}

	if reason, frontier := frontierReason(papers, recent3, currentYear); frontier {
		cls.IsFrontier = true
		cls.FrontierReason = reason
		cls.Depth = DepthFrontier
		return cls
	}

	cls.Depth = classifyDepth(len(papers), recent2, confidence)
	return cls
}

// ClassifyNow is Classify anchored to the current wall-clock year.
func ClassifyNow(papers []sources.Paper, confidence int) Classification {
	return Classify(papers, confidence, time.Now().Year())
}

// WithModelSignal merges the model's own frontier assertion into an
// evidence-based classification. The signal can only upgrade a topic to
// frontier, never clear a frontier the evidence established, and it is
// ignored unless it carries a reason.
func (c Classification) WithModelSignal(asserted bool, reason string) Classification {
	if !asserted || reason == "" || c.IsFrontier {
		return c
	}
	c.IsFrontier = true
	c.FrontierReason = reason
	c.Depth = DepthFrontier
	return c
}

func classifyHeat(total, recent2, recent3 int) Heat {
	switch {
	case recent2 >= 3:
		return HeatHot
	case recent3 >= 2:
		return HeatWarm
	case total > 0:
		return HeatCold
	default:
		return HeatDormant
	}
}

func frontierReason(papers []sources.Paper, recent3, currentYear int) (string, bool) {
	if len(papers) == 0 {
		return "no published research found", true
	}
	if len(papers) <= 2 && recent3 == 0 {
		return fmt.Sprintf("only %d papers found, none from the last 3 years", len(papers)), true
	}
	if newest := newestYear(papers); newest > 0 && currentYear-newest > 5 {
		return fmt.Sprintf("most recent paper is %d years old", currentYear-newest), true
	}
	return "", false
}

func classifyDepth(total, recent2, confidence int) Depth {
	switch {
	case total <= 5 || confidence < 40:
		return DepthUnknown
	case (recent2 >= 3 || confidence < 60) && confidence < 80:
		return DepthDebated
	case confidence < 80:
		return DepthInvestigated
	case total >= 10:
		return DepthKnown
	default:
		return DepthInvestigated
	}
}

func countSince(papers []sources.Paper, year int) int {
	n := 0
	for _, p := range papers {
		if p.Year > 0 && p.Year >= year {
			n++
		}
	}
	return n
}

func newestYear(papers []sources.Paper) int {
	newest := 0
	for _, p := range papers {
		if p.Year > newest {
			newest = p.Year
		}
	}
	return newest
}
