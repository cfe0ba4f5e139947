package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/llm"
)

var errEmptyArtifact = errors.New("completion was empty")

// Synthesizer writes the executive summary and the detailed report.
type Synthesizer struct {
	llm           llm.Completer
	excerptChars  int
	contextBudget int
}

func NewSynthesizer(completer llm.Completer, cfg Config) *Synthesizer {
	cfg = cfg.withDefaults()
	return &Synthesizer{llm: completer, excerptChars: cfg.SourceExcerptChars, contextBudget: cfg.ContextBudgetChars}
}

// Synthesize issues the summary and report calls concurrently. An error or a
// blank completion for either artifact fails the whole synthesis.
func (s *Synthesizer) Synthesize(ctx context.Context, objective string, plan []PlannedStep, sources []RetrievedSource) (Report, int, error) {
	prompt := BuildSynthesisContext(objective, plan, sources, s.excerptChars, s.contextBudget)

	var (
		report Report
		tokens atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		text, used, err := s.complete(gctx, summarySystemPrompt, prompt, 700)
		tokens.Add(int64(used))
		if err != nil {
			return NewStageError(ErrSynthesis, "failed to write the executive summary", err)
		}
		report.ExecutiveSummary = text
		return nil
	})
	g.Go(func() error {
		text, used, err := s.complete(gctx, reportSystemPrompt, prompt, 3000)
		tokens.Add(int64(used))
		if err != nil {
			return NewStageError(ErrSynthesis, "failed to write the detailed report", err)
		}
		report.DetailedReport = text
		return nil
	})
	if err := g.Wait(); err != nil {
		return Report{}, int(tokens.Load()), err
	}
	return report, int(tokens.Load()), nil
}

func (s *Synthesizer) complete(ctx context.Context, system, user string, maxTokens int) (string, int, error) {
	resp, err := s.llm.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", 0, err
	}
	text := StripThinkBlocks(resp.Text)
	if text == "" {
		return "", resp.TotalTokens, errEmptyArtifact
	}
	return text, resp.TotalTokens, nil
}

// BuildSynthesisContext renders the objective, the plan and the numbered
// sources. Every source keeps its title, URL and highlights. Raw content
// excerpts are capped at excerptChars each and dropped once the rendered
// context reaches budget.
func BuildSynthesisContext(objective string, plan []PlannedStep, sources []RetrievedSource, excerptChars, budget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n\n", objective)

	b.WriteString("Research plan:\n")
	for i, step := range plan {
		fmt.Fprintf(&b, "%d. %s", i+1, step.Title)
		if step.Rationale != "" {
			fmt.Fprintf(&b, ": %s", step.Rationale)
		}
		if q := step.Query(); q != "" {
			fmt.Fprintf(&b, " (searched: %q)", q)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if len(sources) == 0 {
		b.WriteString("Sources: no sources were retrieved for this objective.\n")
		return b.String()
	}

	b.WriteString("Sources:\n")
	headers := make([]string, len(sources))
	fixed := b.Len()
	for i, src := range sources {
		var h strings.Builder
		fmt.Fprintf(&h, "[%d] %s - %s\n", i+1, displayTitle(src.Title, src.URL), src.URL)
		for _, hl := range src.Highlights {
			fmt.Fprintf(&h, "  - %s\n", hl)
		}
		headers[i] = h.String()
		fixed += len(headers[i])
	}

	remaining := budget - fixed
	for i, src := range sources {
		b.WriteString(headers[i])
		excerpt := strings.TrimSpace(src.RawContent)
		if excerpt == "" || remaining <= 0 {
			continue
		}
		limit := excerptChars
		if limit > remaining {
			limit = remaining
		}
		excerpt = truncateWords(collapseWhitespace(excerpt), limit)
		line := "  Excerpt: " + excerpt + "\n"
		remaining -= len(line)
		b.WriteString(line)
	}
	return b.String()
}
