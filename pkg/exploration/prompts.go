package exploration

import (
	"fmt"
	"strings"
)

const systemPromptBase = `You are a research scout. Your job is to map what is known about a topic, how actively it is being studied, and where the edge of current knowledge lies.

Work in small steps. Use search_papers to find peer-reviewed literature, search_web for recent developments the literature has not caught up with, and get_paper_details to inspect a promising result more closely. Issue focused queries; refine them based on what comes back instead of repeating a failed query verbatim.

When you have enough evidence, call finish_research with a concise summary, your confidence between 0 and 1, the key paper ids, and whether the topic sits at a research frontier. Do not keep searching once additional results stop changing your conclusions.`

var modeFramings = map[Mode]string{
	ModeScience:    `Focus on the scientific literature: established results, methods, and how well the findings replicate.`,
	ModeUnknown:    `Focus on what is NOT known: open problems, unexplained observations, and questions the literature raises but does not answer.`,
	ModeExperiment: `Focus on experiments: what has been tried, what the setups were, and what a practitioner could run next to learn something new.`,
	ModeFreeform:   `Follow the topic wherever the evidence leads, combining literature and web sources as needed.`,
}

func systemPrompt(mode Mode) string {
	framing, ok := modeFramings[mode]
	if !ok {
		framing = modeFramings[ModeScience]
	}
	return systemPromptBase + "\n\n" + framing
}

func taskMessage(topic, priorContext string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research topic: %s", topic)
	if priorContext != "" {
		fmt.Fprintf(&sb, "\n\nContext from earlier work:\n%s", priorContext)
	}
	return sb.String()
}

const (
	digestPaperCap    = 25
	digestWebCap      = 15
	digestAbstractLen = 400
)

// evidenceDigest renders the collected evidence for the synthesis call,
// most-cited papers first, truncated so the prompt stays bounded.
func evidenceDigest(rc *ResearchContext) string {
	var sb strings.Builder

	papers := rc.PaperList()
	if len(papers) > digestPaperCap {
		papers = papers[:digestPaperCap]
	}
	if len(papers) > 0 {
		fmt.Fprintf(&sb, "Papers (%d collected):\n", len(rc.Papers))
		for _, p := range papers {
			fmt.Fprintf(&sb, "- [%s] %s", p.PaperID, p.Title)
			if p.Year > 0 {
				fmt.Fprintf(&sb, " (%d)", p.Year)
			}
			if p.Venue != "" {
				fmt.Fprintf(&sb, ", %s", p.Venue)
			}
			fmt.Fprintf(&sb, ", %d citations", p.CitationCount)
			if len(p.Authors) > 0 {
				fmt.Fprintf(&sb, "; authors: %s", strings.Join(p.Authors, ", "))
			}
			sb.WriteString("\n")
			if p.Abstract != "" {
				fmt.Fprintf(&sb, "  %s\n", truncate(p.Abstract, digestAbstractLen))
			}
		}
	} else {
		sb.WriteString("No papers were found.\n")
	}

	web := rc.WebResultList()
	if len(web) > digestWebCap {
		web = web[:digestWebCap]
	}
	if len(web) > 0 {
		fmt.Fprintf(&sb, "\nWeb results (%d collected):\n", len(rc.WebResults))
		for _, r := range web {
			fmt.Fprintf(&sb, "- %s (%s) %s\n", r.Title, r.Source, r.URL)
			if r.Snippet != "" {
				fmt.Fprintf(&sb, "  %s\n", truncate(r.Snippet, digestAbstractLen))
			}
		}
	}

	return sb.String()
}

const synthesisPromptTemplate = `You are writing the final report of a research exploration.

Topic: %s
Mode: %s

Evidence gathered:
%s

Researcher's closing summary (confidence %.2f):
%s

Classification derived from the evidence: depth=%s, research heat=%s, frontier=%t.%s

Write a structured report grounded strictly in the evidence above. Separate what is established (knownFindings) from what is contested (activeDebates) and what remains open (openQuestions); support each claim with the paper or source it rests on. Suggest concrete experiments only when the evidence motivates them. List the paper ids that matter most in keyPaperIds, and set confidence between 0 and 1 to reflect how well the evidence covers the topic.`

func synthesisPrompt(rc *ResearchContext, cls Classification) string {
	frontierNote := ""
	if cls.IsFrontier {
		frontierNote = fmt.Sprintf(" Frontier reason: %s.", cls.FrontierReason)
	}
	summary := rc.Summary
	if summary == nil {
		summary = &TerminalSummary{}
	}
	return fmt.Sprintf(synthesisPromptTemplate,
		rc.Topic,
		rc.Mode,
		evidenceDigest(rc),
		summary.Confidence,
		summary.Text,
		cls.Depth,
		cls.ResearchHeat,
		cls.IsFrontier,
		frontierNote,
	)
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
