package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/frontier-scout/pkg/config"
	"github.com/mikeboe/frontier-scout/pkg/exploration"
)

var (
	topic         string
	modeName      string
	maxIterations int
	jsonOut       bool
)

func main() {
	// Setup structured logging
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist, as long as env vars are set
	}

	rootCmd := &cobra.Command{
		Use:   "frontier-scout",
		Short: "A terminal-based research scout",
		Long:  `frontier-scout explores a research topic with an autonomous tool-calling loop, classifies how settled the field is, and prints a structured report.`,
		Run: func(cmd *cobra.Command, args []string) {

			// Check if topic provided via flags
			topicFlagChanged := cmd.Flags().Changed("topic")

			if !topicFlagChanged {
				// Interactive Mode
				reader := bufio.NewReader(os.Stdin)

				fmt.Fprint(os.Stderr, "Enter research topic: ")
				input, _ := reader.ReadString('\n')
				topic = strings.TrimSpace(input)
				if topic == "" {
					slog.Error("Topic cannot be empty")
					os.Exit(1)
				}
			} else if topic == "" {
				slog.Error("--topic flag provided but empty")
				os.Exit(1)
			}

			mode, err := exploration.ParseMode(modeName)
			if err != nil {
				slog.Error("Invalid mode", "error", err)
				os.Exit(1)
			}

			slog.Info("Starting exploration", "topic", topic, "mode", mode)

			cfg := config.Load()
			engine := exploration.NewEngine(cfg, slog.Default())

			req := exploration.Request{
				Topic:         topic,
				Mode:          mode,
				MaxIterations: maxIterations,
			}

			// Progress goes to stderr so stdout stays clean for the report.
			sink := func(ev exploration.ProgressEvent) {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Stage, ev.Message)
			}

			ex, err := engine.Explore(context.Background(), req, sink)
			if err != nil {
				slog.Error("Exploration failed", "error", err)
				os.Exit(1)
			}

			if jsonOut {
				out, err := json.MarshalIndent(ex, "", "  ")
				if err != nil {
					slog.Error("Failed to encode result", "error", err)
					os.Exit(1)
				}
				fmt.Println(string(out))
				return
			}

			printReport(ex)
		},
	}

	rootCmd.Flags().StringVarP(&topic, "topic", "t", "", "The research topic")
	rootCmd.Flags().StringVarP(&modeName, "mode", "m", "science", "Exploration mode: science, unknown, experiment or freeform")
	rootCmd.Flags().IntVarP(&maxIterations, "max-iterations", "i", 0, "Iteration cap for the research loop (0 uses the default)")
	rootCmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full exploration record as JSON")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func printReport(ex *exploration.Exploration) {
	c := ex.Content
	if c == nil {
		fmt.Println("No content was generated.")
		return
	}

	fmt.Printf("\n%s\n%s\n\n", c.Title, strings.Repeat("=", len(c.Title)))

	if ex.Classification.IsFrontier {
		reason := ex.Classification.FrontierReason
		if reason == "" {
			reason = "evidence is thin"
		}
		fmt.Printf("Research frontier detected: %s\n", reason)
	}
	fmt.Printf("Heat: %s | Depth: %s | Confidence: %.0f%%\n\n",
		ex.Classification.ResearchHeat, ex.Classification.Depth, c.Confidence*100)

	fmt.Println(c.Summary)

	printInsights("Known findings", c.KnownFindings)
	printInsights("Active debates", c.ActiveDebates)
	printInsights("Open questions", c.OpenQuestions)

	if len(c.SuggestedExperiments) > 0 {
		fmt.Println("\nSuggested experiments:")
		for _, s := range c.SuggestedExperiments {
			fmt.Printf("  - %s\n", s)
		}
	}

	if ex.Context != nil && len(c.KeyPaperIds) > 0 {
		fmt.Println("\nKey papers:")
		for _, id := range c.KeyPaperIds {
			if p, ok := ex.Context.Papers[id]; ok {
				fmt.Printf("  - %s (%d)\n", p.Title, p.Year)
			} else {
				fmt.Printf("  - %s\n", id)
			}
		}
	}
}

func printInsights(heading string, insights []exploration.Insight) {
	if len(insights) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", heading)
	for _, in := range insights {
		fmt.Printf("  - %s\n", in.Claim)
		if in.Support != "" {
			fmt.Printf("    (%s)\n", in.Support)
		}
	}
}
