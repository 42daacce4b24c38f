package store

import (
	"fmt"
	"strings"
)

// ExtractedElement is one citable unit of page text.
// The ID is assigned in document traversal order and is unique within a
// single extraction pass; it is never reused inside one corpus.
type ExtractedElement struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Corpus is the flattened, identifier-tagged snapshot of one document.
// It is owned by exactly one session and replaced wholesale on every new
// extraction pass.
type Corpus struct {
	Elements  []ExtractedElement `json:"elements"`
	SourceURL string             `json:"source_url,omitempty"`
}

// IsEmpty reports whether the corpus carries no usable content.
func (c *Corpus) IsEmpty() bool {
	return c == nil || len(c.Elements) == 0
}

// Find returns the element with the given identifier.
func (c *Corpus) Find(id string) (*ExtractedElement, bool) {
	if c == nil {
		return nil, false
	}
	for i := range c.Elements {
		if c.Elements[i].ID == id {
			return &c.Elements[i], true
		}
	}
	return nil, false
}

// RenderedText concatenates all elements as "[id] text" blocks separated by
// blank lines. The ordering and the [id] annotation are part of the prompt
// contract consumed by the answer orchestrator.
func (c *Corpus) RenderedText() string {
	if c.IsEmpty() {
		return ""
	}
	blocks := make([]string, 0, len(c.Elements))
	for _, el := range c.Elements {
		blocks = append(blocks, fmt.Sprintf("[%s] %s", el.ID, el.Text))
	}
	return strings.Join(blocks, "\n\n")
}
