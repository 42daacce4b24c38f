package page

import (
	"context"
	"log"
	"strings"

	"golang.org/x/net/html"

	"ai-pagechat-be/pkg/store"
)

// HighlightResult reports how many of the requested elements were marked.
// Absence of a target element is reported through the count, never thrown.
type HighlightResult struct {
	HighlightedCount int `json:"highlighted_count"`
}

// ClearResult reports how many marks were removed.
type ClearResult struct {
	ClearedCount int `json:"cleared_count"`
}

// DocumentAgent is the host-facing contract for everything that touches the
// live document: corpus extraction and highlight bookkeeping. Keeping the
// extraction algorithm behind this interface lets it run against synthetic
// trees in tests.
type DocumentAgent interface {
	ExtractCitableContent(ctx context.Context) (*store.Corpus, error)
	ApplyHighlights(ctx context.Context, elementIDs []string) (*HighlightResult, error)
	ClearAllMarks(ctx context.Context) (*ClearResult, error)
}

// SnapshotAgent is a DocumentAgent over an HTML snapshot submitted by the
// browser companion. The snapshot may carry per-element "data-rect" geometry
// annotations; without them the geometry checks are skipped.
type SnapshotAgent struct {
	doc       *html.Node
	sourceURL string
	extractor *Extractor
	corpus    *store.Corpus
	marks     map[string]bool
}

var _ DocumentAgent = (*SnapshotAgent)(nil)

func NewSnapshotAgent(pageHTML, sourceURL string, opts ExtractOptions, logger *log.Logger) (*SnapshotAgent, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, err
	}
	return &SnapshotAgent{
		doc:       doc,
		sourceURL: sourceURL,
		extractor: NewExtractor(opts, logger),
		marks:     map[string]bool{},
	}, nil
}

// ExtractCitableContent runs a fresh extraction pass over the snapshot. The
// previous corpus and all marks are discarded first.
func (a *SnapshotAgent) ExtractCitableContent(ctx context.Context) (*store.Corpus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.corpus = nil
	a.marks = map[string]bool{}

	corpus, err := a.extractor.Extract(a.doc)
	if err != nil {
		return nil, err
	}
	corpus.SourceURL = a.sourceURL
	a.corpus = corpus
	return corpus, nil
}

// ApplyHighlights marks the elements that exist in the current corpus and
// reports how many were found.
func (a *SnapshotAgent) ApplyHighlights(ctx context.Context, elementIDs []string) (*HighlightResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	count := 0
	for _, id := range elementIDs {
		if _, ok := a.corpus.Find(id); ok {
			a.marks[id] = true
			count++
		}
	}
	return &HighlightResult{HighlightedCount: count}, nil
}

// ClearAllMarks removes every mark and reports how many were cleared.
func (a *SnapshotAgent) ClearAllMarks(ctx context.Context) (*ClearResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cleared := len(a.marks)
	a.marks = map[string]bool{}
	return &ClearResult{ClearedCount: cleared}, nil
}
