package research

import (
	"regexp"
	"strings"
)

const plannerSystemPrompt = `You are a research planner. Break the user's objective into a short ordered research plan.
Return ONLY a JSON object of the form:
{"steps":[{"title":"...","rationale":"...","searchQuery":"..."}]}
Rules:
- Use between 3 and 7 steps, in the order they should be executed.
- "title" is a short imperative label.
- "rationale" explains what the step contributes to the objective.
- "searchQuery" is a concise web search query. Use null for steps that only analyse or compare earlier findings.
- No prose, no markdown, no code fences.`

const highlightSystemPrompt = `You extract highlights from a document for a research step.
Return ONLY a JSON array of strings. Each string is a verbatim or lightly condensed excerpt from the document that is relevant to the step.
Return at most the requested number of highlights and [] when nothing is relevant.`

const summarySystemPrompt = `You are a research analyst writing an executive summary.
Write 1-3 short paragraphs that answer the objective directly and state the key decisions or takeaways.
Cite sources inline with their bracketed number, for example [2]. Do not invent sources.
If no sources were retrieved, say so and answer from the plan with clear caveats.`

const reportSystemPrompt = `You are a research analyst writing a detailed report in Markdown.
Follow the research plan as the report structure, using a "###" heading per step.
Ground every claim in the numbered sources and cite them inline as [n]. Do not invent sources or URLs.
End with a short "### Open questions" section.
If no sources were retrieved, say so and keep claims explicitly tentative.`

var (
	thinkRegex = regexp.MustCompile(`(?is)<think>.*?</think>`)
	fenceRegex = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*\\s*\n?(.*?)\\s*```$")
)

// StripThinkBlocks removes <think>...</think> reasoning blocks some models
// prepend to their answer.
func StripThinkBlocks(s string) string {
	return strings.TrimSpace(thinkRegex.ReplaceAllString(s, ""))
}

// cleanCompletion strips reasoning blocks and a surrounding code fence.
func cleanCompletion(s string) string {
	s = StripThinkBlocks(s)
	if m := fenceRegex.FindStringSubmatch(s); len(m) == 2 {
		s = strings.TrimSpace(m[1])
	}
	return s
}

// firstJSONValue returns the first balanced JSON object or array in s.
func firstJSONValue(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	for start >= 0 {
		if end, ok := matchJSONEnd(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexAny(s[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchJSONEnd(s string, start int) (int, bool) {
	stack := make([]byte, 0, 8)
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

var reWhitespace = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))
}

// truncateWords cuts s to at most limit bytes at a word boundary, appending
// an ellipsis when anything was removed.
func truncateWords(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	const ellipsis = "…"
	budget := limit - len(ellipsis)
	if budget <= 0 {
		return ellipsis
	}
	cut := budget
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	if space := strings.LastIndexByte(s[:cut], ' '); space > budget/2 {
		cut = space
	}
	return strings.TrimRight(s[:cut], " ,;:") + ellipsis
}
