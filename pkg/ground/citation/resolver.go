package citation

import (
	"fmt"
	"log"
	"time"

	"ai-pagechat-be/pkg/store"
)

// Resolver maps model-emitted citation identifiers back to extracted
// elements. Identifiers the corpus does not contain are a model error, not a
// system error: they are skipped with a warning and processing continues.
type Resolver struct {
	logger *log.Logger
	now    func() time.Time
}

func NewResolver(logger *log.Logger) *Resolver {
	return &Resolver{logger: logger, now: time.Now}
}

// Resolve builds citations for each identifier, in the order the model
// returned them. The corpus must be the exact corpus supplied to the prompt
// that produced these identifiers; anything else would silently mis-cite.
func (r *Resolver) Resolve(citationIDs []string, corpus *store.Corpus, sessionID string) []store.Citation {
	citations := make([]store.Citation, 0, len(citationIDs))

	for idx, elementID := range citationIDs {
		element, ok := corpus.Find(elementID)
		if !ok {
			r.logger.Printf("[CITATION] Model cited unknown element %q, dropping", elementID)
			continue
		}

		citations = append(citations, store.Citation{
			// Unique per citation instance, never reused across answers.
			ID:            fmt.Sprintf("%s-%d-%d", sessionID, r.now().UnixNano(), idx),
			ElementID:     element.ID,
			Text:          element.Text,
			OriginalIndex: idx,
		})
	}

	return citations
}
