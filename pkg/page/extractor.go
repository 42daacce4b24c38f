package page

import (
	"log"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"ai-pagechat-be/internal/constant"
	"ai-pagechat-be/pkg/ground"
	"ai-pagechat-be/pkg/store"
)

// ExtractOptions tunes a single extraction pass. Viewport geometry is used by
// the off-screen and oversized-wrapper checks; snapshots without geometry
// annotations skip those checks.
type ExtractOptions struct {
	ViewportWidth  int
	ViewportHeight int
	MinTextLen     int
	MaxTextLen     int
}

func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{
		ViewportWidth:  1280,
		ViewportHeight: 720,
		MinTextLen:     15,
		MaxTextLen:     2500,
	}
}

// Extractor flattens a document node tree into a corpus of deduplicated,
// identifier-tagged citable elements.
type Extractor struct {
	opts   ExtractOptions
	logger *log.Logger
}

func NewExtractor(opts ExtractOptions, logger *log.Logger) *Extractor {
	if opts.MinTextLen == 0 {
		opts.MinTextLen = DefaultExtractOptions().MinTextLen
	}
	if opts.MaxTextLen == 0 {
		opts.MaxTextLen = DefaultExtractOptions().MaxTextLen
	}
	if opts.ViewportWidth == 0 {
		opts.ViewportWidth = DefaultExtractOptions().ViewportWidth
	}
	if opts.ViewportHeight == 0 {
		opts.ViewportHeight = DefaultExtractOptions().ViewportHeight
	}
	return &Extractor{opts: opts, logger: logger}
}

// citableTags are the element kinds that may yield an extracted element.
var citableTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "dt": true, "dd": true, "blockquote": true, "pre": true,
	"td": true, "th": true, "caption": true, "figcaption": true,
	"div": true, "section": true, "article": true, "main": true,
	"span": true, "label": true, "summary": true,
}

// inlineTextTags are non-citable inline elements whose text counts toward the
// direct text of their parent.
var inlineTextTags = map[string]bool{
	"a": true, "b": true, "i": true, "em": true, "strong": true, "u": true,
	"s": true, "small": true, "sub": true, "sup": true, "mark": true,
	"code": true, "abbr": true, "cite": true, "q": true, "time": true,
	"kbd": true, "samp": true, "var": true,
}

// skipTags are subtrees that never contribute text.
var skipTags = map[string]bool{
	"script": true, "style": true, "iframe": true, "canvas": true, "svg": true,
	"noscript": true, "template": true, "head": true, "object": true,
	"video": true, "audio": true,
}

// interactiveTags are containers excluded unless they carry citable text of
// their own or a visible citable descendant.
var interactiveTags = map[string]bool{
	"nav": true, "aside": true, "footer": true, "header": true, "form": true,
	"button": true, "select": true, "input": true, "textarea": true,
}

type extractionPass struct {
	ext      *Extractor
	seen     map[string]bool
	elements []store.ExtractedElement
	nextID   int
}

// Extract walks the document tree and produces the corpus. It is a pure
// function of the tree: running it twice on an unchanged document yields
// identical text content and identifier ordering.
func (e *Extractor) Extract(doc *html.Node) (*store.Corpus, error) {
	pass := &extractionPass{
		ext:  e,
		seen: map[string]bool{},
	}
	pass.walk(doc)

	if len(pass.elements) == 0 {
		return nil, &ground.ExtractionError{Reason: "document yielded no citable elements"}
	}

	if e.logger != nil {
		e.logger.Printf("[EXTRACT] %d elements extracted", len(pass.elements))
	}

	return &store.Corpus{Elements: pass.elements}, nil
}

func (p *extractionPass) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		if skipTags[n.Data] {
			return
		}
		if !p.ext.isVisible(n) {
			return
		}
		if interactiveTags[n.Data] {
			// An interactive container survives only on its own citable text
			// or a visible citable descendant.
			direct := p.ext.directText(n)
			if p.ext.inRange(direct) && p.accept(n, direct) {
				return
			}
			if !p.ext.hasVisibleCitableDescendant(n) {
				return
			}
		} else if citableTags[n.Data] {
			if text, ok := p.ext.selectText(n); ok {
				if p.accept(n, text) {
					// Parent dominance: an assigned ancestor swallows its
					// descendants; nothing below is extracted independently.
					return
				}
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walk(c)
	}
}

// accept applies the dedup and size heuristics and, on success, assigns the
// next sequential identifier. Returns whether the node was recorded.
func (p *extractionPass) accept(n *html.Node, text string) bool {
	if len(strings.Fields(text)) < 3 {
		return false
	}
	if p.seen[text] {
		return false
	}
	if p.ext.isOversizedWrapper(n) {
		return false
	}

	p.seen[text] = true
	p.elements = append(p.elements, store.ExtractedElement{
		ID:   constant.ElementIDPrefix + strconv.Itoa(p.nextID),
		Text: text,
	})
	p.nextID++
	return true
}

// selectText implements the text selection policy: prefer the node's direct
// text when it falls inside the length window; otherwise, for leaf-like nodes
// only, fall back to the full rendered text.
func (e *Extractor) selectText(n *html.Node) (string, bool) {
	direct := e.directText(n)
	if e.inRange(direct) {
		return direct, true
	}
	if e.hasCitableDescendant(n) {
		return "", false
	}
	full := e.renderedText(n)
	if e.inRange(full) {
		return full, true
	}
	return "", false
}

// inRange measures the length window in characters, not bytes; multibyte
// scripts would otherwise mis-measure.
func (e *Extractor) inRange(text string) bool {
	n := utf8.RuneCountInString(text)
	return n >= e.MinLen() && n <= e.MaxLen()
}

func (e *Extractor) MinLen() int { return e.opts.MinTextLen }
func (e *Extractor) MaxLen() int { return e.opts.MaxTextLen }

// directText concatenates the node's own text nodes plus the text of visible
// non-citable inline children, whitespace-collapsed.
func (e *Extractor) directText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			b.WriteString(" ")
		case html.ElementNode:
			if inlineTextTags[c.Data] && e.isVisible(c) {
				b.WriteString(e.renderedText(c))
				b.WriteString(" ")
			}
		}
	}
	return collapseWhitespace(b.String())
}

// renderedText is the full visible text of the subtree, whitespace-collapsed.
func (e *Extractor) renderedText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteString(" ")
			return
		}
		if node.Type == html.ElementNode {
			if skipTags[node.Data] || !e.isVisible(node) {
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visit(c)
	}
	return collapseWhitespace(b.String())
}

func (e *Extractor) hasCitableDescendant(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			if citableTags[c.Data] && e.isVisible(c) {
				return true
			}
			if e.hasCitableDescendant(c) {
				return true
			}
		}
	}
	return false
}

func (e *Extractor) hasVisibleCitableDescendant(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || skipTags[c.Data] || !e.isVisible(c) {
			continue
		}
		if citableTags[c.Data] {
			if text, ok := e.selectText(c); ok && len(strings.Fields(text)) >= 3 {
				return true
			}
		}
		if e.hasVisibleCitableDescendant(c) {
			return true
		}
	}
	return false
}

// isVisible applies the visibility filter on a single node: hidden/aria-hidden
// attributes, inline-style display/visibility/opacity, hidden inputs, and the
// snapshot geometry checks (zero-sized or positioned off-screen).
func (e *Extractor) isVisible(n *html.Node) bool {
	if hasAttr(n, "hidden") {
		return false
	}
	if strings.EqualFold(attrValue(n, "aria-hidden"), "true") {
		return false
	}
	if n.Data == "input" && strings.EqualFold(attrValue(n, "type"), "hidden") {
		return false
	}

	style := parseStyle(attrValue(n, "style"))
	if style["display"] == "none" || style["visibility"] == "hidden" {
		return false
	}
	if op, ok := style["opacity"]; ok {
		if v, err := strconv.ParseFloat(op, 64); err == nil && v == 0 {
			return false
		}
	}

	if rect, ok := parseRect(attrValue(n, "data-rect")); ok {
		if rect.W == 0 || rect.H == 0 {
			return false
		}
		// Fully off-screen to the top or left, or starting past the right
		// edge of the viewport.
		if rect.X+rect.W <= 0 || rect.Y+rect.H <= 0 || rect.X >= float64(e.opts.ViewportWidth) {
			return false
		}
	}

	return true
}

// isOversizedWrapper guards against capturing whole-page wrapper containers:
// anything but article/main covering more than 70% of the viewport area and
// more than 90% of its width is discarded.
func (e *Extractor) isOversizedWrapper(n *html.Node) bool {
	if n.Data == "article" || n.Data == "main" {
		return false
	}
	rect, ok := parseRect(attrValue(n, "data-rect"))
	if !ok {
		return false
	}
	vw := float64(e.opts.ViewportWidth)
	vh := float64(e.opts.ViewportHeight)
	return rect.W*rect.H > 0.7*vw*vh && rect.W > 0.9*vw
}

// --- helpers ---

type rect struct {
	X, Y, W, H float64
}

// parseRect reads the "data-rect" geometry annotation ("x,y,width,height")
// that page snapshots may carry for each element.
func parseRect(v string) (rect, bool) {
	if v == "" {
		return rect{}, false
	}
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return rect{}, false
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return rect{}, false
		}
		vals[i] = f
	}
	return rect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}, true
}

func parseStyle(style string) map[string]string {
	decls := map[string]string{}
	for _, decl := range strings.Split(style, ";") {
		kv := strings.SplitN(decl, ":", 2)
		if len(kv) != 2 {
			continue
		}
		decls[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.ToLower(strings.TrimSpace(kv[1]))
	}
	return decls
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
