package answer

import (
	"regexp"
	"strings"

	"ai-pagechat-be/internal/constant"
)

// ParsedResponse is the tagged result of parsing a raw model response.
// Malformed means the answer markers were missing; that is recovered locally
// by substituting a placeholder, never surfaced as a hard error. An empty
// CitationIDs with Malformed=false means the model cited nothing.
type ParsedResponse struct {
	Answer      string
	CitationIDs []string
	Malformed   bool
}

var (
	answerBlockRe = regexp.MustCompile(`(?s)` +
		regexp.QuoteMeta(constant.AnswerStartMarker) + `\s*(.*?)\s*` +
		regexp.QuoteMeta(constant.AnswerEndMarker))
	citationsBlockRe = regexp.MustCompile(`(?s)` +
		regexp.QuoteMeta(constant.CitationsStartMarker) + `\s*(.*?)\s*` +
		regexp.QuoteMeta(constant.CitationsEndMarker))
	leakedIDRe = regexp.MustCompile(`\[?` + regexp.QuoteMeta(constant.ElementIDPrefix) + `\d+\]?`)
	doubleWSRe = regexp.MustCompile(`[ \t]{2,}`)
)

// ParseModelResponse extracts the answer and citation blocks from the wire
// format. The answer match is non-greedy across both markers; the citation
// block is split on newlines, bracket characters stripped, NONE entries and
// anything not matching the element-identifier convention discarded.
func ParseModelResponse(raw string) *ParsedResponse {
	parsed := &ParsedResponse{}

	if m := answerBlockRe.FindStringSubmatch(raw); m != nil {
		parsed.Answer = StripLeakedIDs(m[1])
	} else {
		parsed.Malformed = true
	}

	if m := citationsBlockRe.FindStringSubmatch(raw); m != nil {
		for _, line := range strings.Split(m[1], "\n") {
			id := strings.TrimSpace(line)
			id = strings.Trim(id, "[]")
			if id == "" || strings.EqualFold(id, constant.NoCitationsToken) {
				continue
			}
			if !strings.HasPrefix(id, constant.ElementIDPrefix) {
				continue
			}
			parsed.CitationIDs = append(parsed.CitationIDs, id)
		}
	}

	return parsed
}

// StripLeakedIDs removes identifier tokens from answer text. The
// contract forbids them there, but models leak them anyway.
func StripLeakedIDs(text string) string {
	text = leakedIDRe.ReplaceAllString(text, "")
	text = doubleWSRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
