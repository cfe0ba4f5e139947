package export

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
)

func sampleResult() research.AgentRunResult {
	tokens := 1234
	query := "solid-state battery trends"
	return research.AgentRunResult{
		Plan: []research.PlannedStep{
			{Title: "Survey developments", Rationale: "collect news", SearchQuery: &query},
			{Title: "Assess implications", Rationale: "compare"},
		},
		Sources: []research.RetrievedSource{
			{
				URL:        "https://example.com/ssb",
				Title:      "Solid-state batteries",
				Highlights: []string{"Pilot lines announced.", "Sulfide electrolytes  lead\non conductivity."},
			},
			{URL: "https://example.org/costs", Title: "", Highlights: []string{}},
		},
		ExecutiveSummary: "Batteries are moving to pilot production [1].\n",
		DetailedReport:   "### Survey developments\nPilot lines [1].",
		Metadata: research.RunMetadata{
			StartedAt:   time.Date(2024, 5, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
			FinishedAt:  time.Date(2024, 5, 1, 12, 1, 30, 0, time.UTC),
			TotalTokens: &tokens,
		},
	}
}

func TestMarkdownExactFormat(t *testing.T) {
	got := MarkdownWith(sampleResult(), MarkdownOptions{Objective: "Summarize recent trends in solid-state batteries"})
	want := `# Research Report: Summarize recent trends in solid-state batteries

- Started: 2024-05-01T12:00:00Z
- Finished: 2024-05-01T12:01:30Z
- Total tokens: 1234

## Executive Summary

Batteries are moving to pilot production [1].

## Detailed Report

### Survey developments
Pilot lines [1].

## Sources

1. [Solid-state batteries](https://example.com/ssb)
   - Pilot lines announced.
   - Sulfide electrolytes lead on conductivity.
2. [https://example.org/costs](https://example.org/costs)
`
	require.Equal(t, want, got)
}

func TestMarkdownWithoutTokensOrSources(t *testing.T) {
	result := sampleResult()
	result.Metadata.TotalTokens = nil
	result.Sources = nil

	got := Markdown(result)
	require.True(t, strings.HasPrefix(got, "# Research Report: Survey developments\n\n"))
	require.NotContains(t, got, "Total tokens")
	require.True(t, strings.HasSuffix(got, "## Sources\n\n_No sources retrieved._\n"))
}

func TestMarkdownHeadingFallbacks(t *testing.T) {
	result := sampleResult()
	require.True(t, strings.HasPrefix(MarkdownWith(result, MarkdownOptions{Title: "Battery brief"}), "# Battery brief\n"))

	result.Plan = nil
	require.True(t, strings.HasPrefix(Markdown(result), "# Research Report\n"))
}

func TestMarkdownEscapesLinks(t *testing.T) {
	result := sampleResult()
	result.Sources = []research.RetrievedSource{{URL: "https://example.com/a (b)", Title: "[draft] notes"}}
	got := Markdown(result)
	require.Contains(t, got, `1. [\[draft\] notes](https://example.com/a%20%28b%29)`)
}

func TestMarkdownIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated exports are byte-identical and end with one newline", prop.ForAll(
		func(summary, report, title string, highlights []string, tokens int) bool {
			result := sampleResult()
			result.ExecutiveSummary = summary
			result.DetailedReport = report
			result.Sources[0].Title = title
			result.Sources[0].Highlights = highlights
			result.Metadata.TotalTokens = &tokens
			opts := MarkdownOptions{Objective: title}

			first := MarkdownWith(result, opts)
			second := MarkdownWith(result, opts)
			return first == second && strings.HasSuffix(first, "\n") && !strings.HasSuffix(first, "\n\n")
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.AlphaString(),
		gen.SliceOf(gen.AnyString()),
		gen.IntRange(0, 1_000_000),
	))

	properties.TestingRun(t)
}
