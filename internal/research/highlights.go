package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/llm"
)

// maxLLMHighlightInput bounds the document text sent in llm mode.
const maxLLMHighlightInput = 8000

// Extractor derives a few highlight strings from one document.
type Extractor struct {
	llm           llm.Completer
	mode          string
	maxHighlights int
	maxChars      int
	splitter      textsplitter.RecursiveCharacter
	logger        *zap.Logger
}

// NewExtractor builds an Extractor. completer is only used in llm mode and
// may be nil otherwise.
func NewExtractor(completer llm.Completer, cfg Config, logger *zap.Logger) *Extractor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	mode := cfg.HighlightMode
	if mode == HighlightModeLLM && completer == nil {
		mode = HighlightModeHeuristic
	}
	return &Extractor{
		llm:           completer,
		mode:          mode,
		maxHighlights: cfg.MaxHighlights,
		maxChars:      cfg.MaxHighlightChars,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.HighlightChunkChars),
			textsplitter.WithChunkOverlap(0),
		),
		logger: logger,
	}
}

// Extract never fails the run. Errors are logged and yield no highlights.
// The returned int is the token usage of any completion call made.
func (e *Extractor) Extract(ctx context.Context, content string, step PlannedStep) ([]string, int) {
	if strings.TrimSpace(content) == "" {
		return []string{}, 0
	}
	var (
		highlights []string
		tokens     int
		err        error
	)
	if e.mode == HighlightModeLLM {
		highlights, tokens, err = e.extractLLM(ctx, content, step)
	} else {
		highlights, err = e.extractHeuristic(content, step)
	}
	if err != nil {
		e.logger.Warn("highlight extraction failed",
			zap.String("step", step.Title),
			zap.Error(NewStageError(ErrExtraction, "highlight extraction failed", err)),
		)
		return []string{}, 0
	}
	return highlights, tokens
}

type scoredChunk struct {
	index int
	score int
	text  string
}

func (e *Extractor) extractHeuristic(content string, step PlannedStep) ([]string, error) {
	chunks, err := e.splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("split content: %w", err)
	}
	queryTerms := terms(step.Query())
	rationaleTerms := terms(step.Rationale + " " + step.Title)

	scored := make([]scoredChunk, 0, len(chunks))
	for i, chunk := range chunks {
		text := collapseWhitespace(chunk)
		if text == "" {
			continue
		}
		words := wordSet(text)
		score := 0
		for term := range queryTerms {
			if _, ok := words[term]; ok {
				score += 2
			}
		}
		for term := range rationaleTerms {
			if _, ok := queryTerms[term]; ok {
				continue
			}
			if _, ok := words[term]; ok {
				score++
			}
		}
		scored = append(scored, scoredChunk{index: i, score: score, text: text})
	}

	ranked := make([]scoredChunk, 0, len(scored))
	for _, c := range scored {
		if c.score > 0 {
			ranked = append(ranked, c)
		}
	}
	if len(ranked) == 0 {
		ranked = scored
	} else {
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].score > ranked[j].score
		})
	}
	if len(ranked) > e.maxHighlights {
		ranked = ranked[:e.maxHighlights]
	}
	// Present the picked chunks in document order.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].index < ranked[j].index })

	out := make([]string, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, truncateWords(c.text, e.maxChars))
	}
	return out, nil
}

func (e *Extractor) extractLLM(ctx context.Context, content string, step PlannedStep) ([]string, int, error) {
	if len(content) > maxLLMHighlightInput {
		content = truncateWords(content, maxLLMHighlightInput)
	}
	var user strings.Builder
	fmt.Fprintf(&user, "Step: %s\n", step.Title)
	if step.Rationale != "" {
		fmt.Fprintf(&user, "Rationale: %s\n", step.Rationale)
	}
	if q := step.Query(); q != "" {
		fmt.Fprintf(&user, "Search query: %s\n", q)
	}
	fmt.Fprintf(&user, "Return at most %d highlights of at most %d characters each.\n\nDocument:\n%s", e.maxHighlights, e.maxChars, content)

	resp, err := e.llm.Complete(ctx, llm.Request{
		System:      highlightSystemPrompt,
		User:        user.String(),
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		return nil, 0, err
	}
	raw, ok := firstJSONValue(cleanCompletion(resp.Text))
	if !ok {
		return nil, 0, errors.New("no JSON array in highlight response")
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, 0, fmt.Errorf("decode highlights: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		text := collapseWhitespace(item)
		if text == "" {
			continue
		}
		out = append(out, truncateWords(text, e.maxChars))
		if len(out) >= e.maxHighlights {
			break
		}
	}
	return out, resp.TotalTokens, nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "for": {},
	"from": {}, "how": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "their": {}, "this": {}, "to": {}, "was": {}, "what": {},
	"when": {}, "which": {}, "who": {}, "why": {}, "will": {}, "with": {}, "about": {}, "between": {},
	"recent": {}, "current": {}, "latest": {}, "identify": {}, "understand": {}, "find": {},
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func terms(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenize(s) {
		if len(tok) < 2 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenize(s) {
		out[tok] = struct{}{}
	}
	return out
}
