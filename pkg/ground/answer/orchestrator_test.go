package answer

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"

	"ai-pagechat-be/internal/constant"
	"ai-pagechat-be/pkg/ground"
	"ai-pagechat-be/pkg/ground/relevance"
	"ai-pagechat-be/pkg/llm"
	"ai-pagechat-be/pkg/store"
)

type fakeProvider struct {
	chatResponse string
	chatErr      error
	verdict      string
	verdictErr   error

	chatCalls     int
	generateCalls int
	lastPrompt    string
}

func (f *fakeProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	f.chatCalls++
	if len(history) > 0 {
		f.lastPrompt = history[len(history)-1].Content
	}
	return f.chatResponse, f.chatErr
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	f.generateCalls++
	return f.verdict, f.verdictErr
}

func newTestOrchestrator(provider *fakeProvider) *Orchestrator {
	discard := log.New(io.Discard, "", 0)
	return NewOrchestrator(provider, relevance.NewClassifier(provider, discard), discard)
}

func testCorpus() *store.Corpus {
	return &store.Corpus{Elements: []store.ExtractedElement{
		{ID: "mgl-node-0", Text: "France is a country in Western Europe."},
		{ID: "mgl-node-3", Text: "The capital of France is Paris."},
	}}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name         string
		mode         string
		forceGeneral bool
		hasCorpus    bool
		relevant     bool
		want         branch
	}{
		{"page with relevant corpus", store.ModePage, false, true, true, branchGrounded},
		{"page without corpus", store.ModePage, false, false, true, branchContentUnavailable},
		{"page with irrelevant corpus", store.ModePage, false, true, false, branchPageNotRelevant},
		{"blended relevant", store.ModeBlended, false, true, true, branchGrounded},
		{"blended not relevant", store.ModeBlended, false, true, false, branchGeneralExternal},
		{"blended without corpus", store.ModeBlended, false, false, true, branchGeneralExternal},
		{"general ignores corpus", store.ModeGeneral, false, true, true, branchGeneral},
		{"forced override wins over page", store.ModePage, true, true, true, branchGeneralExternal},
		{"forced override wins over blended", store.ModeBlended, true, true, false, branchGeneralExternal},
		{"unknown mode falls back to external", "weird", false, false, true, branchGeneralExternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decide(tt.mode, tt.forceGeneral, tt.hasCorpus, tt.relevant)
			if got != tt.want {
				t.Errorf("decide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnswerGroundedPageMode(t *testing.T) {
	provider := &fakeProvider{
		chatResponse: "LLM_ANSWER_START\nParis.\nLLM_ANSWER_END\n" +
			"LLM_CITATIONS_START\nmgl-node-3\nLLM_CITATIONS_END",
	}
	o := newTestOrchestrator(provider)

	result, err := o.Answer(context.Background(), "What is the capital of France?", store.ModePage, false, testCorpus(), nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if result.Text != "Paris." {
		t.Errorf("Text = %q, want %q", result.Text, "Paris.")
	}
	if !reflect.DeepEqual(result.CitationIDs, []string{"mgl-node-3"}) {
		t.Errorf("CitationIDs = %v, want [mgl-node-3]", result.CitationIDs)
	}
	if result.IsExternalSource {
		t.Error("IsExternalSource = true for a grounded answer")
	}
	if provider.generateCalls != 0 {
		t.Errorf("relevance classifier ran %d times in page mode, want 0", provider.generateCalls)
	}
}

func TestAnswerPageModeWithoutCorpus(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{})

	_, err := o.Answer(context.Background(), "anything", store.ModePage, false, nil, nil)

	var unavailable *ground.ContentUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Answer() error = %v, want ContentUnavailableError", err)
	}
}

func TestAnswerBlendedFallsBackWhenNotRelevant(t *testing.T) {
	provider := &fakeProvider{
		verdict: "NOT_RELEVANT",
		chatResponse: "LLM_ANSWER_START\nFrom general knowledge.\nLLM_ANSWER_END\n" +
			"LLM_CITATIONS_START\nmgl-node-0\nLLM_CITATIONS_END",
	}
	o := newTestOrchestrator(provider)

	result, err := o.Answer(context.Background(), "Who won the 1998 world cup?", store.ModeBlended, false, testCorpus(), nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if provider.generateCalls != 1 {
		t.Errorf("relevance classifier ran %d times, want 1", provider.generateCalls)
	}
	if !result.IsExternalSource {
		t.Error("IsExternalSource = false, want true for a general-knowledge fallback")
	}
	// A general-knowledge answer must never carry citations, even if the
	// model emits identifiers anyway.
	if len(result.CitationIDs) != 0 {
		t.Errorf("CitationIDs = %v, want none", result.CitationIDs)
	}
}

func TestAnswerBlendedGroundedWhenRelevant(t *testing.T) {
	provider := &fakeProvider{
		verdict: "RELEVANT",
		chatResponse: "LLM_ANSWER_START\nParis.\nLLM_ANSWER_END\n" +
			"LLM_CITATIONS_START\nmgl-node-3\nLLM_CITATIONS_END",
	}
	o := newTestOrchestrator(provider)

	result, err := o.Answer(context.Background(), "What is the capital?", store.ModeBlended, false, testCorpus(), nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if result.IsExternalSource {
		t.Error("IsExternalSource = true for a grounded blended answer")
	}
	if !reflect.DeepEqual(result.CitationIDs, []string{"mgl-node-3"}) {
		t.Errorf("CitationIDs = %v, want [mgl-node-3]", result.CitationIDs)
	}
}

func TestAnswerForcedGeneralSkipsClassifier(t *testing.T) {
	provider := &fakeProvider{
		chatResponse: "LLM_ANSWER_START\nGeneral answer.\nLLM_ANSWER_END\n" +
			"LLM_CITATIONS_START\nNONE\nLLM_CITATIONS_END",
	}
	o := newTestOrchestrator(provider)

	result, err := o.Answer(context.Background(), "question", store.ModeBlended, true, testCorpus(), nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if provider.generateCalls != 0 {
		t.Errorf("relevance classifier ran %d times under forced override, want 0", provider.generateCalls)
	}
	if !result.IsExternalSource {
		t.Error("IsExternalSource = false, want true for forced general knowledge")
	}
}

func TestAnswerGeneralModeIsNotTaggedExternal(t *testing.T) {
	provider := &fakeProvider{
		chatResponse: "LLM_ANSWER_START\nAnswer.\nLLM_ANSWER_END\n" +
			"LLM_CITATIONS_START\nNONE\nLLM_CITATIONS_END",
	}
	o := newTestOrchestrator(provider)

	result, err := o.Answer(context.Background(), "question", store.ModeGeneral, false, nil, nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if result.IsExternalSource {
		t.Error("IsExternalSource = true in general mode, want false")
	}
}

func TestAnswerGroundedRefusalSetsGkPrompted(t *testing.T) {
	provider := &fakeProvider{
		chatResponse: "LLM_ANSWER_START\n" + constant.PageNotRelevantMessage + "\nLLM_ANSWER_END\n" +
			"LLM_CITATIONS_START\nmgl-node-0\nLLM_CITATIONS_END",
	}
	o := newTestOrchestrator(provider)

	result, err := o.Answer(context.Background(), "unrelated question", store.ModePage, false, testCorpus(), nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if !result.GkPrompted {
		t.Error("GkPrompted = false, want true when the grounded answer is the fixed refusal")
	}
	if len(result.CitationIDs) != 0 {
		t.Errorf("CitationIDs = %v, want none on a refusal", result.CitationIDs)
	}
}

func TestAnswerTransportFailure(t *testing.T) {
	provider := &fakeProvider{chatErr: errors.New("connection refused")}
	o := newTestOrchestrator(provider)

	_, err := o.Answer(context.Background(), "question", store.ModePage, false, testCorpus(), nil)

	var llmErr *ground.LLMRequestError
	if !errors.As(err, &llmErr) {
		t.Fatalf("Answer() error = %v, want LLMRequestError", err)
	}
}

func TestAnswerMalformedResponse(t *testing.T) {
	provider := &fakeProvider{chatResponse: "I refuse to follow formats."}
	o := newTestOrchestrator(provider)

	result, err := o.Answer(context.Background(), "question", store.ModePage, false, testCorpus(), nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if result.Text != constant.MalformedAnswerMessage {
		t.Errorf("Text = %q, want placeholder message", result.Text)
	}
	if len(result.CitationIDs) != 0 {
		t.Errorf("CitationIDs = %v, want none for a malformed response", result.CitationIDs)
	}
}

func TestGroundedPromptCarriesCorpus(t *testing.T) {
	provider := &fakeProvider{
		chatResponse: "LLM_ANSWER_START\nParis.\nLLM_ANSWER_END\n" +
			"LLM_CITATIONS_START\nmgl-node-3\nLLM_CITATIONS_END",
	}
	o := newTestOrchestrator(provider)

	if _, err := o.Answer(context.Background(), "capital?", store.ModePage, false, testCorpus(), nil); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	for _, want := range []string{"[mgl-node-3] The capital of France is Paris.", "LLM_ANSWER_START", "capital?"} {
		if !strings.Contains(provider.lastPrompt, want) {
			t.Errorf("grounded prompt missing %q", want)
		}
	}
}
