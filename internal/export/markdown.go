// Package export renders a research result as a Markdown document.
package export

import (
	"strconv"
	"strings"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
)

const defaultTitle = "Research Report"

type MarkdownOptions struct {
	// Objective is the prompt the run answered. It becomes the document title.
	Objective string
	// Title overrides the whole heading text when set.
	Title string
}

// Markdown renders result with no objective. The heading falls back to the
// first plan step title.
func Markdown(result research.AgentRunResult) string {
	return MarkdownWith(result, MarkdownOptions{})
}

// MarkdownWith is pure: the same inputs always yield byte-identical output.
func MarkdownWith(result research.AgentRunResult, opts MarkdownOptions) string {
	var b strings.Builder

	b.WriteString("# ")
	b.WriteString(heading(result, opts))
	b.WriteString("\n\n")

	b.WriteString("- Started: ")
	b.WriteString(formatTime(result.Metadata.StartedAt))
	b.WriteString("\n- Finished: ")
	b.WriteString(formatTime(result.Metadata.FinishedAt))
	b.WriteByte('\n')
	if result.Metadata.TotalTokens != nil {
		b.WriteString("- Total tokens: ")
		b.WriteString(strconv.Itoa(*result.Metadata.TotalTokens))
		b.WriteByte('\n')
	}

	b.WriteString("\n## Executive Summary\n\n")
	b.WriteString(strings.TrimSpace(result.ExecutiveSummary))
	b.WriteString("\n\n## Detailed Report\n\n")
	b.WriteString(strings.TrimSpace(result.DetailedReport))
	b.WriteString("\n\n## Sources\n\n")

	if len(result.Sources) == 0 {
		b.WriteString("_No sources retrieved._\n")
		return b.String()
	}
	for i, src := range result.Sources {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". [")
		b.WriteString(escapeLinkText(sourceTitle(src)))
		b.WriteString("](")
		b.WriteString(escapeLinkURL(strings.TrimSpace(src.URL)))
		b.WriteString(")\n")
		for _, hl := range src.Highlights {
			hl = strings.Join(strings.Fields(hl), " ")
			if hl == "" {
				continue
			}
			b.WriteString("   - ")
			b.WriteString(hl)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func heading(result research.AgentRunResult, opts MarkdownOptions) string {
	if t := oneLine(opts.Title); t != "" {
		return t
	}
	if o := oneLine(opts.Objective); o != "" {
		return defaultTitle + ": " + o
	}
	if len(result.Plan) > 0 {
		if t := oneLine(result.Plan[0].Title); t != "" {
			return defaultTitle + ": " + t
		}
	}
	return defaultTitle
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func sourceTitle(src research.RetrievedSource) string {
	if t := oneLine(src.Title); t != "" {
		return t
	}
	return strings.TrimSpace(src.URL)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var (
	linkTextEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`)
	linkURLEscaper  = strings.NewReplacer(" ", "%20", "(", "%28", ")", "%29")
)

func escapeLinkText(s string) string { return linkTextEscaper.Replace(s) }

func escapeLinkURL(s string) string { return linkURLEscaper.Replace(s) }
