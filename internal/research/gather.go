package research

import (
	"context"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Gatherer retrieves the documents for one step and extracts their
// highlights. It is the unit of work shared by inline and durable runs.
type Gatherer struct {
	retriever   *Retriever
	extractor   *Extractor
	concurrency int
}

func NewGatherer(retriever *Retriever, extractor *Extractor, concurrency int) *Gatherer {
	if concurrency <= 0 {
		concurrency = DefaultConfig().RetrievalConcurrency
	}
	return &Gatherer{retriever: retriever, extractor: extractor, concurrency: concurrency}
}

// Gather returns the step's sources in provider rank order. A retrieval
// failure is returned as an error; extraction failures only leave a source
// without highlights.
func (g *Gatherer) Gather(ctx context.Context, step PlannedStep) ([]RetrievedSource, int, error) {
	docs, err := g.retriever.Retrieve(ctx, step.Query())
	if err != nil {
		return nil, 0, err
	}
	sources := make([]RetrievedSource, len(docs))
	var tokens atomic.Int64

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, doc := range docs {
		eg.Go(func() error {
			highlights, used := g.extractor.Extract(egctx, doc.RawContent, step)
			tokens.Add(int64(used))
			sources[i] = RetrievedSource{
				URL:        doc.URL,
				Title:      displayTitle(doc.Title, doc.URL),
				Highlights: highlights,
				RawContent: doc.RawContent,
			}
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, int(tokens.Load()), NewStageError(ErrRetrieval, "retrieval was cancelled", err)
	}
	return sources, int(tokens.Load()), nil
}

// MergeSources flattens per-step results in plan order, keeping provider
// rank within a step, dropping URLs already accepted and stopping at
// maxSources. The result is never nil.
func MergeSources(perStep [][]RetrievedSource, maxSources int) []RetrievedSource {
	out := make([]RetrievedSource, 0)
	seen := make(map[string]struct{})
	for _, sources := range perStep {
		for _, src := range sources {
			if maxSources > 0 && len(out) >= maxSources {
				return out
			}
			key := DedupKey(src.URL)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			src.URL = strings.TrimSpace(src.URL)
			if src.Highlights == nil {
				src.Highlights = []string{}
			}
			out = append(out, src)
		}
	}
	return out
}
