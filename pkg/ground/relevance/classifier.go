package relevance

import (
	"context"
	"fmt"
	"log"
	"strings"

	"ai-pagechat-be/internal/constant"
	"ai-pagechat-be/pkg/llm"
)

// recentTurnWindow limits how much conversation history participates in
// subject resolution.
const recentTurnWindow = 4

// Classifier judges whether the extracted page corpus is about the subject of
// the current conversation. It is a pure function over its inputs: no session
// state is read or written, and it is safe to call repeatedly.
type Classifier struct {
	llmProvider llm.LLMProvider
	logger      *log.Logger
}

func NewClassifier(llmProvider llm.LLMProvider, logger *log.Logger) *Classifier {
	return &Classifier{
		llmProvider: llmProvider,
		logger:      logger,
	}
}

// IsRelevant asks the model for a two-token judgment. Any transport failure
// and any response that is not exactly one of the accepted tokens is treated
// as not relevant (fail-closed).
func (c *Classifier) IsRelevant(ctx context.Context, query, corpusText string, recentTurns []llm.Message) bool {
	prompt := c.buildPrompt(query, corpusText, recentTurns)

	response, err := c.llmProvider.Generate(ctx, prompt, llm.WithTemperature(0.0))
	if err != nil {
		c.logger.Printf("[RELEVANCE] Classification call failed, treating as not relevant: %v", err)
		return false
	}

	verdict := sanitizeVerdict(response)
	switch verdict {
	case constant.RelevanceTokenRelevant:
		return true
	case constant.RelevanceTokenNotRelevant:
		return false
	default:
		c.logger.Printf("[RELEVANCE] Unexpected verdict %q, treating as not relevant", verdict)
		return false
	}
}

func (c *Classifier) buildPrompt(query, corpusText string, recentTurns []llm.Message) string {
	var prompt strings.Builder

	prompt.WriteString("<system>\n")
	prompt.WriteString("You are a relevance judge. Your ONLY job is to decide whether the page content below is about the subject the user is currently asking about.\n")
	prompt.WriteString("You do NOT answer the question itself.\n")
	prompt.WriteString("</system>\n\n")

	if len(recentTurns) > 0 {
		start := len(recentTurns) - recentTurnWindow
		if start < 0 {
			start = 0
		}
		prompt.WriteString("<conversation>\n")
		for _, turn := range recentTurns[start:] {
			prompt.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
		prompt.WriteString("</conversation>\n\n")
	}

	prompt.WriteString("<user_query>\n")
	prompt.WriteString(query)
	prompt.WriteString("\n</user_query>\n\n")

	prompt.WriteString("<page_content>\n")
	prompt.WriteString(corpusText)
	prompt.WriteString("\n</page_content>\n\n")

	prompt.WriteString("<rules>\n")
	prompt.WriteString("1. First resolve the SUBJECT of the user query. If the query uses pronouns ('it', 'he', 'this'), resolve them against the most recent named subject in the conversation, NOT against the page content.\n")
	prompt.WriteString("2. If there is no conversation history, the subject is the query itself.\n")
	prompt.WriteString("3. Then decide: is the page content about that subject?\n")
	prompt.WriteString("4. Topical overlap is enough; the page does not need to answer the question.\n")
	prompt.WriteString("</rules>\n\n")

	prompt.WriteString("<output_format>\n")
	prompt.WriteString(fmt.Sprintf("Respond with EXACTLY one token: %s or %s. No other words.\n",
		constant.RelevanceTokenRelevant, constant.RelevanceTokenNotRelevant))
	prompt.WriteString("</output_format>")

	return prompt.String()
}

// sanitizeVerdict upper-cases the raw response and strips everything except
// letters and underscores before comparison.
func sanitizeVerdict(response string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(response)) {
		if (r >= 'A' && r <= 'Z') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
