package service

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"

	"ai-pagechat-be/internal/constant"
	"ai-pagechat-be/internal/dto"
	"ai-pagechat-be/internal/repository/memory"
	"ai-pagechat-be/pkg/ground"
	"ai-pagechat-be/pkg/ground/answer"
	"ai-pagechat-be/pkg/ground/citation"
	"ai-pagechat-be/pkg/ground/relevance"
	"ai-pagechat-be/pkg/ground/state"
	"ai-pagechat-be/pkg/highlight"
	"ai-pagechat-be/pkg/llm"
	"ai-pagechat-be/pkg/page"
	"ai-pagechat-be/pkg/store"
)

type nopLogger struct{}

func (nopLogger) Debug(module, message string, details map[string]interface{}) {}
func (nopLogger) Info(module, message string, details map[string]interface{})  {}
func (nopLogger) Warn(module, message string, details map[string]interface{})  {}
func (nopLogger) Error(module, message string, details map[string]interface{}) {}
func (nopLogger) Sync() error                                                  { return nil }

type scriptedProvider struct {
	chatResponse string
	chatErr      error
	verdict      string

	// onChat runs before every Chat call; used to interleave session
	// teardown with an in-flight model request.
	onChat func()
}

func (p *scriptedProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	if p.onChat != nil {
		p.onChat()
	}
	return p.chatResponse, p.chatErr
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return p.verdict, nil
}

type scriptedAgent struct {
	corpus *store.Corpus
	err    error
}

func (a *scriptedAgent) ExtractCitableContent(ctx context.Context) (*store.Corpus, error) {
	return a.corpus, a.err
}

func (a *scriptedAgent) ApplyHighlights(ctx context.Context, elementIDs []string) (*page.HighlightResult, error) {
	return &page.HighlightResult{HighlightedCount: len(elementIDs)}, nil
}

func (a *scriptedAgent) ClearAllMarks(ctx context.Context) (*page.ClearResult, error) {
	return &page.ClearResult{}, nil
}

func pageCorpus() *store.Corpus {
	return &store.Corpus{Elements: []store.ExtractedElement{
		{ID: "mgl-node-0", Text: "France is a country in Western Europe."},
		{ID: "mgl-node-3", Text: "The capital of France is Paris."},
	}}
}

func groundedResponse() string {
	return "LLM_ANSWER_START\nParis.\nLLM_ANSWER_END\n" +
		"LLM_CITATIONS_START\nmgl-node-3\nLLM_CITATIONS_END"
}

type testEnv struct {
	service     *chatService
	repo        *memory.SessionRepository
	agentCalled *int
}

func newTestEnv(provider *scriptedProvider, agent page.DocumentAgent) *testEnv {
	discard := log.New(io.Discard, "", 0)
	repo := memory.NewSessionRepository()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	calls := 0
	svc := &chatService{
		sessionRepo: repo,
		agentFactory: func(pageHTML, pageURL string) (page.DocumentAgent, error) {
			calls++
			return agent, nil
		},
		orchestrator: answer.NewOrchestrator(provider, relevance.NewClassifier(provider, discard), discard),
		resolver:     citation.NewResolver(discard),
		stateManager: state.NewManager(discard),
		dispatcher:   highlight.NewDispatcher(pubSub),
		historyTurns: 8,
		sysLogger:    nopLogger{},
		llmLogger:    discard,
	}
	return &testEnv{service: svc, repo: repo, agentCalled: &calls}
}

func askRequest(mode string) *dto.AskRequest {
	return &dto.AskRequest{
		TabId:    "tab-1",
		Query:    "What is the capital of France?",
		Mode:     mode,
		PageHTML: "<body><p>ignored by the scripted agent</p></body>",
		PageURL:  "https://example.com/france",
	}
}

func TestAskGroundedPageMode(t *testing.T) {
	env := newTestEnv(&scriptedProvider{chatResponse: groundedResponse()}, &scriptedAgent{corpus: pageCorpus()})

	resp, err := env.service.Ask(context.Background(), askRequest(store.ModePage))
	assert.NoError(t, err)

	assert.Equal(t, store.StatusReady, resp.Status)
	assert.NotNil(t, resp.Reply)
	assert.Equal(t, "Paris.", resp.Reply.Content)
	assert.Len(t, resp.Reply.Citations, 1)
	assert.Equal(t, "mgl-node-3", resp.Reply.Citations[0].ElementId)
	assert.Equal(t, "The capital of France is Paris.", resp.Reply.Citations[0].Text)
	assert.False(t, resp.Reply.IsExternalSource)
	assert.Equal(t, "What is the capital of France?", resp.Title)

	sess, found := env.repo.Get("tab-1")
	assert.True(t, found)
	assert.Equal(t, store.StatusReady, sess.Status)
	assert.Len(t, sess.CitedSentences, 1)
	assert.Equal(t, -1, sess.CurrentCitedSentenceIndex)
	// greeting + user + assistant
	assert.Len(t, sess.ChatHistory, 3)
}

func TestAskRejectsBusySession(t *testing.T) {
	env := newTestEnv(&scriptedProvider{chatResponse: groundedResponse()}, &scriptedAgent{corpus: pageCorpus()})

	sess := env.repo.GetOrCreate("tab-1")
	sess.Status = store.StatusQuerying

	_, err := env.service.Ask(context.Background(), askRequest(store.ModePage))

	var busy *ground.SessionBusyError
	assert.ErrorAs(t, err, &busy)
}

func TestAskPageModeExtractionFailure(t *testing.T) {
	env := newTestEnv(
		&scriptedProvider{chatResponse: groundedResponse()},
		&scriptedAgent{err: &ground.ExtractionError{Reason: "document yielded no citable elements"}},
	)

	resp, err := env.service.Ask(context.Background(), askRequest(store.ModePage))
	assert.NoError(t, err)

	assert.Equal(t, store.StatusError, resp.Status)
	assert.NotNil(t, resp.Reply)
	assert.Equal(t, "Error: "+constant.ContentUnavailableMessage, resp.Reply.Content)

	sess, _ := env.repo.Get("tab-1")
	assert.Equal(t, store.StatusError, sess.Status)
	assert.Empty(t, sess.CitedSentences)
}

func TestAskBlendedModeFallsBackOnExtractionFailure(t *testing.T) {
	env := newTestEnv(
		&scriptedProvider{
			chatResponse: "LLM_ANSWER_START\nFrom general knowledge.\nLLM_ANSWER_END\n" +
				"LLM_CITATIONS_START\nNONE\nLLM_CITATIONS_END",
		},
		&scriptedAgent{err: &ground.ExtractionError{Reason: "empty document"}},
	)

	resp, err := env.service.Ask(context.Background(), askRequest(store.ModeBlended))
	assert.NoError(t, err)

	assert.Equal(t, store.StatusReady, resp.Status)
	assert.NotNil(t, resp.Reply)
	assert.Equal(t, "From general knowledge.", resp.Reply.Content)
	assert.True(t, resp.Reply.IsExternalSource)
	assert.Empty(t, resp.Reply.Citations)
}

func TestAskDropsUnknownCitations(t *testing.T) {
	env := newTestEnv(
		&scriptedProvider{
			chatResponse: "LLM_ANSWER_START\nBoth claims.\nLLM_ANSWER_END\n" +
				"LLM_CITATIONS_START\nmgl-node-0\nmgl-node-99\nLLM_CITATIONS_END",
		},
		&scriptedAgent{corpus: pageCorpus()},
	)

	resp, err := env.service.Ask(context.Background(), askRequest(store.ModePage))
	assert.NoError(t, err)

	assert.Len(t, resp.Reply.Citations, 1)
	assert.Equal(t, "mgl-node-0", resp.Reply.Citations[0].ElementId)
}

func TestAskSessionClosedDuringModelCall(t *testing.T) {
	provider := &scriptedProvider{chatResponse: groundedResponse()}
	env := newTestEnv(provider, &scriptedAgent{corpus: pageCorpus()})
	provider.onChat = func() { env.repo.Delete("tab-1") }

	_, err := env.service.Ask(context.Background(), askRequest(store.ModePage))

	var closed *ground.SessionClosedError
	assert.ErrorAs(t, err, &closed)
	assert.False(t, env.repo.Exists("tab-1"))
}

func TestAskLLMTransportFailure(t *testing.T) {
	env := newTestEnv(
		&scriptedProvider{chatErr: errors.New("connection refused")},
		&scriptedAgent{corpus: pageCorpus()},
	)

	resp, err := env.service.Ask(context.Background(), askRequest(store.ModePage))
	assert.NoError(t, err)

	assert.Equal(t, store.StatusError, resp.Status)
	assert.NotNil(t, resp.Reply)
	assert.True(t, strings.HasPrefix(resp.Reply.Content, "Error: "))
	assert.Contains(t, resp.Reply.Content, "language model request failed")
}

func TestAskSuppressesDuplicateReply(t *testing.T) {
	env := newTestEnv(&scriptedProvider{chatResponse: groundedResponse()}, &scriptedAgent{corpus: pageCorpus()})

	first, err := env.service.Ask(context.Background(), askRequest(store.ModePage))
	assert.NoError(t, err)
	assert.NotNil(t, first.Reply)

	second, err := env.service.Ask(context.Background(), askRequest(store.ModePage))
	assert.NoError(t, err)
	assert.Nil(t, second.Reply)
	assert.NotEmpty(t, second.Message)

	// greeting + two user turns + one assistant turn
	sess, _ := env.repo.Get("tab-1")
	assert.Len(t, sess.ChatHistory, 4)
	assert.Equal(t, store.StatusReady, sess.Status)
}

func TestAskGroundedRefusalMarksGkPrompted(t *testing.T) {
	env := newTestEnv(
		&scriptedProvider{
			chatResponse: "LLM_ANSWER_START\n" + constant.PageNotRelevantMessage + "\nLLM_ANSWER_END\n" +
				"LLM_CITATIONS_START\nNONE\nLLM_CITATIONS_END",
		},
		&scriptedAgent{corpus: pageCorpus()},
	)

	resp, err := env.service.Ask(context.Background(), askRequest(store.ModePage))
	assert.NoError(t, err)

	assert.Equal(t, store.StatusReady, resp.Status)
	assert.NotNil(t, resp.Reply)
	assert.Equal(t, constant.PageNotRelevantMessage, resp.Reply.Content)
	assert.True(t, resp.Reply.GkPrompted)
	assert.Empty(t, resp.Reply.Citations)

	sess, _ := env.repo.Get("tab-1")
	assert.True(t, sess.ChatHistory[len(sess.ChatHistory)-1].GkPrompted)
}

func TestAskGeneralModeSkipsExtraction(t *testing.T) {
	env := newTestEnv(
		&scriptedProvider{
			chatResponse: "LLM_ANSWER_START\nAnswer.\nLLM_ANSWER_END\n" +
				"LLM_CITATIONS_START\nNONE\nLLM_CITATIONS_END",
		},
		&scriptedAgent{corpus: pageCorpus()},
	)

	resp, err := env.service.Ask(context.Background(), askRequest(store.ModeGeneral))
	assert.NoError(t, err)

	assert.Equal(t, 0, *env.agentCalled)
	assert.Equal(t, store.StatusReady, resp.Status)
	assert.False(t, resp.Reply.IsExternalSource)
}

func TestAskTitleTruncatedFromFirstQuery(t *testing.T) {
	env := newTestEnv(&scriptedProvider{chatResponse: groundedResponse()}, &scriptedAgent{corpus: pageCorpus()})

	req := askRequest(store.ModePage)
	req.Query = strings.Repeat("long question ", 10)

	resp, err := env.service.Ask(context.Background(), req)
	assert.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(resp.Title)), constant.SessionTitleMaxLen+1)
}

func TestNavigateCitationAfterGroundedAnswer(t *testing.T) {
	env := newTestEnv(&scriptedProvider{chatResponse: groundedResponse()}, &scriptedAgent{corpus: pageCorpus()})

	_, err := env.service.Ask(context.Background(), askRequest(store.ModePage))
	assert.NoError(t, err)

	resp, err := env.service.NavigateCitation(context.Background(), "tab-1", &dto.NavigateCitationRequest{Direction: "next"})
	assert.NoError(t, err)
	assert.Equal(t, 0, resp.Index)
	assert.Equal(t, 1, resp.Total)
	assert.NotNil(t, resp.Citation)
	assert.Equal(t, "mgl-node-3", resp.Citation.ElementId)
}

func TestClearHighlightsResetsCursor(t *testing.T) {
	env := newTestEnv(&scriptedProvider{chatResponse: groundedResponse()}, &scriptedAgent{corpus: pageCorpus()})

	_, err := env.service.Ask(context.Background(), askRequest(store.ModePage))
	assert.NoError(t, err)
	_, err = env.service.NavigateCitation(context.Background(), "tab-1", &dto.NavigateCitationRequest{Direction: "next"})
	assert.NoError(t, err)

	resp, err := env.service.ClearHighlights(context.Background(), "tab-1")
	assert.NoError(t, err)
	assert.True(t, resp.Cleared)

	sess, _ := env.repo.Get("tab-1")
	assert.Equal(t, -1, sess.CurrentCitedSentenceIndex)
	// Citations stay; only the active cursor is dropped.
	assert.Len(t, sess.CitedSentences, 1)
}

func TestGetHistoryUnknownSession(t *testing.T) {
	env := newTestEnv(&scriptedProvider{}, &scriptedAgent{corpus: pageCorpus()})

	_, err := env.service.GetHistory(context.Background(), "missing-tab")
	assert.Error(t, err)
}
