package answer

import (
	"context"
	"fmt"
	"log"
	"strings"

	"ai-pagechat-be/internal/constant"
	"ai-pagechat-be/pkg/ground"
	"ai-pagechat-be/pkg/ground/relevance"
	"ai-pagechat-be/pkg/llm"
	"ai-pagechat-be/pkg/store"
)

// Result is a fully parsed answer: the text, the raw citation identifiers the
// model emitted (unresolved), and the source tagging for the UI.
type Result struct {
	Text             string
	CitationIDs      []string
	IsExternalSource bool
	GkPrompted       bool
}

// branch is the outcome of the mode × content-availability × relevance
// decision table.
type branch int

const (
	branchGrounded branch = iota
	branchGeneral
	branchGeneralExternal
	branchPageNotRelevant
	branchContentUnavailable
)

// Orchestrator selects a prompt contract from the active search mode, invokes
// the model, and parses the raw response.
type Orchestrator struct {
	llmProvider llm.LLMProvider
	classifier  *relevance.Classifier
	logger      *log.Logger
}

func NewOrchestrator(llmProvider llm.LLMProvider, classifier *relevance.Classifier, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		llmProvider: llmProvider,
		classifier:  classifier,
		logger:      logger,
	}
}

// decide maps (mode, forced override, corpus availability, relevance) to the
// branch taken. Page mode trusts its own extraction, so its relevance input
// is true on the normal path; blended mode is the only caller of the
// classifier.
func decide(mode string, forceGeneral, hasCorpus, relevant bool) branch {
	if forceGeneral {
		return branchGeneralExternal
	}
	switch mode {
	case store.ModeGeneral:
		return branchGeneral
	case store.ModePage:
		if !hasCorpus {
			return branchContentUnavailable
		}
		if !relevant {
			return branchPageNotRelevant
		}
		return branchGrounded
	case store.ModeBlended:
		if hasCorpus && relevant {
			return branchGrounded
		}
		return branchGeneralExternal
	default:
		// Unknown mode behaves like blended without content.
		return branchGeneralExternal
	}
}

// Answer runs the decision table and produces a parsed result. It returns
// ContentUnavailableError when page mode has no corpus and LLMRequestError on
// transport failure; every other degradation is folded into the result.
func (o *Orchestrator) Answer(
	ctx context.Context,
	query string,
	mode string,
	forceGeneral bool,
	corpus *store.Corpus,
	history []llm.Message,
) (*Result, error) {

	hasCorpus := !corpus.IsEmpty()

	relevant := true
	if !forceGeneral && mode == store.ModeBlended && hasCorpus {
		relevant = o.classifier.IsRelevant(ctx, query, corpus.RenderedText(), history)
		o.logger.Printf("[ANSWER] Relevance verdict for blended mode: %v", relevant)
	}

	br := decide(mode, forceGeneral, hasCorpus, relevant)

	switch br {
	case branchContentUnavailable:
		return nil, &ground.ContentUnavailableError{}

	case branchPageNotRelevant:
		return &Result{
			Text:       constant.PageNotRelevantMessage,
			GkPrompted: true,
		}, nil

	case branchGrounded:
		return o.generate(ctx, o.buildGroundedPrompt(query, corpus), history, false, true)

	case branchGeneralExternal:
		return o.generate(ctx, o.buildGeneralPrompt(query), history, true, false)

	default: // branchGeneral
		return o.generate(ctx, o.buildGeneralPrompt(query), history, false, false)
	}
}

func (o *Orchestrator) generate(
	ctx context.Context,
	prompt string,
	history []llm.Message,
	external bool,
	keepCitations bool,
) (*Result, error) {

	fullHistory := append(append([]llm.Message{}, history...), llm.Message{Role: "user", Content: prompt})

	raw, err := o.llmProvider.Chat(ctx, fullHistory)
	if err != nil {
		return nil, &ground.LLMRequestError{Err: err}
	}

	parsed := ParseModelResponse(raw)
	if parsed.Malformed {
		o.logger.Printf("[ANSWER] Model response missing answer markers, substituting placeholder")
		return &Result{
			Text:             constant.MalformedAnswerMessage,
			IsExternalSource: external,
		}, nil
	}

	result := &Result{
		Text:             parsed.Answer,
		IsExternalSource: external,
	}
	if keepCitations {
		if result.Text == constant.PageNotRelevantMessage {
			// The grounded contract answers with the fixed refusal when the
			// page does not cover the question. That reply carries no
			// citations and is the moment the UI offers the
			// general-knowledge fallback.
			result.GkPrompted = true
		} else {
			result.CitationIDs = parsed.CitationIDs
		}
	}
	return result, nil
}

// buildGroundedPrompt binds the answer to the extracted corpus. It carries
// the identifier-annotated rendering and mandates the marker contract.
func (o *Orchestrator) buildGroundedPrompt(query string, corpus *store.Corpus) string {
	var prompt strings.Builder

	prompt.WriteString("<page_content>\n")
	prompt.WriteString("Each block below is one element of the page the user is viewing, tagged with its identifier in [brackets].\n\n")
	prompt.WriteString(corpus.RenderedText())
	prompt.WriteString("\n</page_content>\n\n")

	prompt.WriteString("<task_instructions>\n")
	prompt.WriteString("Answer the user's question using ONLY the page content above.\n\n")
	prompt.WriteString("GROUNDING RULES:\n")
	prompt.WriteString("1. Answer only from <page_content>. Do NOT use outside knowledge.\n")
	prompt.WriteString(fmt.Sprintf("2. If the page content does not cover the question, reply with exactly: %s\n", constant.PageNotRelevantMessage))
	prompt.WriteString("3. Cite the elements that support your answer by listing their identifiers in the citations block.\n")
	prompt.WriteString("4. Prefer the smallest, most specific element that supports a statement over large container elements.\n")
	prompt.WriteString("5. NEVER write element identifiers inside the answer text itself.\n")
	prompt.WriteString("</task_instructions>\n\n")

	o.writeResponseContract(&prompt)

	prompt.WriteString("<user_question>\n")
	prompt.WriteString(query)
	prompt.WriteString("\n</user_question>")

	return prompt.String()
}

// buildGeneralPrompt answers from general knowledge; the contract is the same
// so parsing stays uniform, with the citation list pinned to NONE.
func (o *Orchestrator) buildGeneralPrompt(query string) string {
	var prompt strings.Builder

	prompt.WriteString("<task_instructions>\n")
	prompt.WriteString("Answer the user's question from your general knowledge.\n")
	prompt.WriteString("Be direct and concise. Do not mention any page or document.\n")
	prompt.WriteString("</task_instructions>\n\n")

	o.writeResponseContract(&prompt)
	prompt.WriteString(fmt.Sprintf("Since no page content is involved, the citations block must contain only the token %s.\n\n", constant.NoCitationsToken))

	prompt.WriteString("<user_question>\n")
	prompt.WriteString(query)
	prompt.WriteString("\n</user_question>")

	return prompt.String()
}

func (o *Orchestrator) writeResponseContract(prompt *strings.Builder) {
	prompt.WriteString("<output_format>\n")
	prompt.WriteString("Respond in EXACTLY this structure:\n")
	prompt.WriteString(constant.AnswerStartMarker + "\n")
	prompt.WriteString("<your answer>\n")
	prompt.WriteString(constant.AnswerEndMarker + "\n")
	prompt.WriteString(constant.CitationsStartMarker + "\n")
	prompt.WriteString(fmt.Sprintf("<one element identifier per line, or the single token %s>\n", constant.NoCitationsToken))
	prompt.WriteString(constant.CitationsEndMarker + "\n")
	prompt.WriteString("</output_format>\n\n")
}
