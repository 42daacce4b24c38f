package service

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"ai-pagechat-be/internal/constant"
	"ai-pagechat-be/internal/dto"
	"ai-pagechat-be/internal/pkg/logger"
	"ai-pagechat-be/internal/repository/archive"
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

// AgentFactory builds a document agent for one page snapshot. Injected so the
// pipeline can run against synthetic documents in tests.
type AgentFactory func(pageHTML, pageURL string) (page.DocumentAgent, error)

// IChatService defines the chat service interface
type IChatService interface {
	GetOrCreateSession(ctx context.Context, tabID string) *dto.CreateSessionResponse
	RemoveSession(ctx context.Context, tabID string)
	GetHistory(ctx context.Context, tabID string) (*dto.GetHistoryResponse, error)
	Ask(ctx context.Context, request *dto.AskRequest) (*dto.AskResponse, error)
	NavigateCitation(ctx context.Context, tabID string, request *dto.NavigateCitationRequest) (*dto.NavigateCitationResponse, error)
	ClearHighlights(ctx context.Context, tabID string) (*dto.ClearHighlightsResponse, error)
}

// chatService coordinates the grounded-answer pipeline for each session:
// extract, classify, generate, resolve, update, strictly in that order, with
// a liveness check after every external call.
type chatService struct {
	sessionRepo  *memory.SessionRepository
	archiveRepo  *archive.Repository // nil disables the history archive
	agentFactory AgentFactory
	orchestrator *answer.Orchestrator
	resolver     *citation.Resolver
	stateManager *state.Manager
	dispatcher   *highlight.Dispatcher
	historyTurns int
	sysLogger    logger.ILogger
	llmLogger    *log.Logger
}

func NewChatService(
	sessionRepo *memory.SessionRepository,
	archiveRepo *archive.Repository,
	llmProvider llm.LLMProvider,
	dispatcher *highlight.Dispatcher,
	extractOpts page.ExtractOptions,
	historyTurns int,
	sysLogger logger.ILogger,
) IChatService {

	llmLogger := initLLMLogger()

	classifier := relevance.NewClassifier(llmProvider, llmLogger)

	return &chatService{
		sessionRepo: sessionRepo,
		archiveRepo: archiveRepo,
		agentFactory: func(pageHTML, pageURL string) (page.DocumentAgent, error) {
			return page.NewSnapshotAgent(pageHTML, pageURL, extractOpts, llmLogger)
		},
		orchestrator: answer.NewOrchestrator(llmProvider, classifier, llmLogger),
		resolver:     citation.NewResolver(llmLogger),
		stateManager: state.NewManager(llmLogger),
		dispatcher:   dispatcher,
		historyTurns: historyTurns,
		sysLogger:    sysLogger,
		llmLogger:    llmLogger,
	}
}

func initLLMLogger() *log.Logger {
	logPath := filepath.Join(".", "logs", "llm_pipeline.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		log.Printf("Failed to create logs directory: %v", err)
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return log.New(os.Stdout, "[LLM-PIPELINE] ", log.LstdFlags)
	}
	return log.New(file, "", log.LstdFlags)
}

// GetOrCreateSession resolves the session for a tab, creating it on first
// reference.
func (cs *chatService) GetOrCreateSession(ctx context.Context, tabID string) *dto.CreateSessionResponse {
	sess := cs.sessionRepo.GetOrCreate(tabID)
	return &dto.CreateSessionResponse{
		TabId:     sess.ID,
		Status:    sess.Status,
		CreatedAt: sess.CreatedAt,
	}
}

// RemoveSession destroys a tab's session. In-flight pipeline results for it
// are discarded by the post-call liveness checks.
func (cs *chatService) RemoveSession(ctx context.Context, tabID string) {
	cs.sessionRepo.Delete(tabID)
	cs.sysLogger.Info("ChatService", "Session removed", map[string]interface{}{"tab_id": tabID})
}

// GetHistory returns the conversation history including resolved citations.
func (cs *chatService) GetHistory(ctx context.Context, tabID string) (*dto.GetHistoryResponse, error) {
	sess, found := cs.sessionRepo.Get(tabID)
	if !found {
		return nil, fiber.NewError(fiber.StatusNotFound, "session not found")
	}

	messages := make([]dto.ChatMessageDTO, 0, len(sess.ChatHistory))
	for i := range sess.ChatHistory {
		messages = append(messages, toMessageDTO(&sess.ChatHistory[i]))
	}

	return &dto.GetHistoryResponse{
		TabId:    sess.ID,
		Title:    sess.Title,
		Status:   sess.Status,
		Messages: messages,
	}, nil
}

// Ask runs the full pipeline for one user query.
func (cs *chatService) Ask(ctx context.Context, request *dto.AskRequest) (*dto.AskResponse, error) {
	sess := cs.sessionRepo.GetOrCreate(request.TabId)

	// At most one pipeline per session; the presentation layer is expected to
	// disable input, this makes it enforceable.
	if sess.Busy() {
		return nil, &ground.SessionBusyError{SessionID: sess.ID, Status: sess.Status}
	}

	userMsg := cs.stateManager.AppendUserMessage(sess, request.Query)
	if sess.Title == "" {
		sess.Title = deriveTitle(request.Query)
	}

	// 1. Extraction (only when the mode needs fresh page content)
	corpus, failResp, err := cs.extractPhase(ctx, sess, request, userMsg)
	if failResp != nil || err != nil {
		return failResp, err
	}

	// 2. Generation
	if err := cs.stateManager.Transition(sess, store.StatusQuerying); err != nil {
		return nil, err
	}

	history := cs.recentHistory(sess)
	result, genErr := cs.orchestrator.Answer(ctx, request.Query, request.Mode, request.ForceGeneral, corpus, history)

	// Liveness check: the model call is a suspension point.
	if !cs.sessionRepo.Exists(request.TabId) {
		return nil, &ground.SessionClosedError{SessionID: request.TabId}
	}

	if genErr != nil {
		return cs.failTurn(sess, userMsg, "Error: "+userFacingMessage(genErr)), nil
	}

	// 3. Citation resolution against the exact corpus the prompt carried.
	var citations []store.Citation
	if len(result.CitationIDs) > 0 {
		citations = cs.resolver.Resolve(result.CitationIDs, corpus, sess.ID)
	}

	// 4. Session update
	assistantMsg := store.ChatMessage{
		Content:          result.Text,
		Citations:        citations,
		IsExternalSource: result.IsExternalSource,
	}
	appended := cs.stateManager.AppendAssistantMessage(sess, assistantMsg)
	if appended {
		if result.GkPrompted {
			cs.stateManager.MarkGkPrompted(sess, sess.ChatHistory[len(sess.ChatHistory)-1].TurnID)
		}
		cs.stateManager.SetCitations(sess, citations)
		cs.notifyHighlights(sess.ID, citations)
	}
	if err := cs.stateManager.Transition(sess, store.StatusReady); err != nil {
		return nil, err
	}

	var reply *store.ChatMessage
	if appended {
		reply = &sess.ChatHistory[len(sess.ChatHistory)-1]
	}

	cs.archiveTurn(sess, userMsg, reply)

	return cs.buildAskResponse(sess, userMsg, reply), nil
}

// extractPhase runs extraction when the mode requires page content. It
// returns a terminal response for page-mode failures and a nil corpus for
// blended-mode failures (which fall back to general knowledge).
func (cs *chatService) extractPhase(
	ctx context.Context,
	sess *store.Session,
	request *dto.AskRequest,
	userMsg *store.ChatMessage,
) (*store.Corpus, *dto.AskResponse, error) {

	if request.ForceGeneral || request.Mode == store.ModeGeneral {
		return nil, nil, nil
	}

	if err := cs.stateManager.Transition(sess, store.StatusExtracting); err != nil {
		return nil, nil, err
	}

	var corpus *store.Corpus
	agent, err := cs.agentFactory(request.PageHTML, request.PageURL)
	if err == nil {
		corpus, err = agent.ExtractCitableContent(ctx)
	}

	// Liveness check: extraction is a suspension point.
	if !cs.sessionRepo.Exists(request.TabId) {
		return nil, nil, &ground.SessionClosedError{SessionID: request.TabId}
	}

	if err != nil {
		cs.sysLogger.Warn("ChatService", "Extraction failed", map[string]interface{}{
			"tab_id": request.TabId,
			"error":  err.Error(),
		})
		if request.Mode == store.ModePage {
			return nil, cs.failTurn(sess, userMsg, "Error: "+constant.ContentUnavailableMessage), nil
		}
		// Blended mode degrades to general knowledge with no corpus.
		corpus = nil
	}

	// The session owns the corpus; replaced wholesale on every pass.
	sess.Corpus = corpus
	return corpus, nil, nil
}

// failTurn terminates the turn in the error state with a chat-visible
// message. History is written atomically: the user turn is already in, the
// error reply goes in here, citations stay untouched.
func (cs *chatService) failTurn(sess *store.Session, userMsg *store.ChatMessage, message string) *dto.AskResponse {
	cs.stateManager.Fail(sess, message)
	appended := cs.stateManager.AppendAssistantMessage(sess, store.ChatMessage{Content: message})

	var reply *store.ChatMessage
	if appended {
		reply = &sess.ChatHistory[len(sess.ChatHistory)-1]
	}
	cs.archiveTurn(sess, userMsg, reply)
	return cs.buildAskResponse(sess, userMsg, reply)
}

func (cs *chatService) notifyHighlights(tabID string, citations []store.Citation) {
	if cs.dispatcher == nil {
		return
	}
	if len(citations) == 0 {
		if err := cs.dispatcher.Clear(tabID); err != nil {
			cs.sysLogger.Warn("ChatService", "Highlight clear dispatch failed", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	elementIDs := make([]string, 0, len(citations))
	for _, c := range citations {
		elementIDs = append(elementIDs, c.ElementID)
	}
	if err := cs.dispatcher.Highlight(tabID, elementIDs); err != nil {
		cs.sysLogger.Warn("ChatService", "Highlight dispatch failed", map[string]interface{}{"error": err.Error()})
	}
}

// NavigateCitation moves the citation cursor and pushes a highlight for the
// newly active citation.
func (cs *chatService) NavigateCitation(ctx context.Context, tabID string, request *dto.NavigateCitationRequest) (*dto.NavigateCitationResponse, error) {
	sess, found := cs.sessionRepo.Get(tabID)
	if !found {
		return nil, fiber.NewError(fiber.StatusNotFound, "session not found")
	}

	var (
		active store.Citation
		ok     bool
	)
	if request.Index != nil {
		active, ok = cs.stateManager.NavigateTo(sess, *request.Index)
	} else {
		active, ok = cs.stateManager.Navigate(sess, request.Direction != "prev")
	}

	resp := &dto.NavigateCitationResponse{
		Index: sess.CurrentCitedSentenceIndex,
		Total: len(sess.CitedSentences),
	}
	if !ok {
		return resp, nil
	}

	citationDTO := toCitationDTO(active)
	resp.Citation = &citationDTO

	if cs.dispatcher != nil {
		if err := cs.dispatcher.Highlight(tabID, []string{active.ElementID}); err != nil {
			cs.sysLogger.Warn("ChatService", "Highlight dispatch failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return resp, nil
}

// ClearHighlights deactivates the citation cursor and tells the document to
// drop all marks.
func (cs *chatService) ClearHighlights(ctx context.Context, tabID string) (*dto.ClearHighlightsResponse, error) {
	sess, found := cs.sessionRepo.Get(tabID)
	if !found {
		return nil, fiber.NewError(fiber.StatusNotFound, "session not found")
	}

	sess.CurrentCitedSentenceIndex = -1

	if cs.dispatcher != nil {
		if err := cs.dispatcher.Clear(tabID); err != nil {
			cs.sysLogger.Warn("ChatService", "Highlight clear dispatch failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return &dto.ClearHighlightsResponse{Cleared: true}, nil
}

// recentHistory converts the tail of the conversation (excluding the current
// user turn) to provider messages.
func (cs *chatService) recentHistory(sess *store.Session) []llm.Message {
	history := sess.ChatHistory
	if len(history) > 0 && history[len(history)-1].Role == constant.ChatMessageRoleUser {
		history = history[:len(history)-1]
	}
	if cs.historyTurns > 0 && len(history) > cs.historyTurns {
		history = history[len(history)-cs.historyTurns:]
	}

	messages := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return messages
}

// archiveTurn persists the completed turn in the background. Best effort: the
// in-memory session is the source of truth and archive errors only log.
func (cs *chatService) archiveTurn(sess *store.Session, userMsg, assistantMsg *store.ChatMessage) {
	if cs.archiveRepo == nil {
		return
	}

	var userCopy, assistantCopy *store.ChatMessage
	if userMsg != nil {
		c := *userMsg
		userCopy = &c
	}
	if assistantMsg != nil {
		c := *assistantMsg
		assistantCopy = &c
	}
	tabID, title := sess.ID, sess.Title
	var sourceURL string
	if sess.Corpus != nil {
		sourceURL = sess.Corpus.SourceURL
	}

	go func() {
		ctx := context.Background()
		row, err := cs.archiveRepo.EnsureSession(ctx, tabID, title, sourceURL)
		if err != nil {
			cs.sysLogger.Warn("ChatService", "Archive session failed", map[string]interface{}{"error": err.Error()})
			return
		}
		if err := cs.archiveRepo.SaveTurn(ctx, row, userCopy, assistantCopy); err != nil {
			cs.sysLogger.Warn("ChatService", "Archive turn failed", map[string]interface{}{"error": err.Error()})
		}
	}()
}

func (cs *chatService) buildAskResponse(sess *store.Session, userMsg, reply *store.ChatMessage) *dto.AskResponse {
	resp := &dto.AskResponse{
		TabId:  sess.ID,
		Title:  sess.Title,
		Status: sess.Status,
	}
	if userMsg != nil {
		sent := toMessageDTO(userMsg)
		resp.Sent = &sent
	}
	if reply != nil {
		replyDTO := toMessageDTO(reply)
		resp.Reply = &replyDTO
	} else {
		resp.Message = "duplicate answer suppressed"
	}
	return resp
}

func userFacingMessage(err error) string {
	if _, ok := err.(*ground.ContentUnavailableError); ok {
		return constant.ContentUnavailableMessage
	}
	return err.Error()
}

func deriveTitle(query string) string {
	runes := []rune(query)
	if len(runes) <= constant.SessionTitleMaxLen {
		return query
	}
	return string(runes[:constant.SessionTitleMaxLen]) + "…"
}

func toMessageDTO(msg *store.ChatMessage) dto.ChatMessageDTO {
	out := dto.ChatMessageDTO{
		TurnId:           msg.TurnID,
		Role:             msg.Role,
		Content:          msg.Content,
		IsExternalSource: msg.IsExternalSource,
		GkPrompted:       msg.GkPrompted,
		CreatedAt:        msg.CreatedAt,
	}
	for _, c := range msg.Citations {
		out.Citations = append(out.Citations, toCitationDTO(c))
	}
	return out
}

func toCitationDTO(c store.Citation) dto.CitationDTO {
	return dto.CitationDTO{
		Id:            c.ID,
		ElementId:     c.ElementID,
		Text:          c.Text,
		OriginalIndex: c.OriginalIndex,
	}
}
