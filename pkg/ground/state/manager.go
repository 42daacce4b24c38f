package state

import (
	"fmt"
	"log"
	"time"

	"ai-pagechat-be/pkg/store"
)

// Manager owns every mutation of a session's pipeline state. Status and
// ErrorMessage are written only inside Transition/Fail, so two interleaved
// pipelines can never leave a session with an inconsistent field combination.
type Manager struct {
	logger *log.Logger
	now    func() time.Time
}

func NewManager(logger *log.Logger) *Manager {
	return &Manager{logger: logger, now: time.Now}
}

// allowedTransitions is the pipeline state machine:
// idle → extracting → queryingModel → ready | error, with ready/error
// restarting the cycle on the next query.
var allowedTransitions = map[string][]string{
	store.StatusIdle:       {store.StatusExtracting, store.StatusQuerying},
	store.StatusExtracting: {store.StatusQuerying, store.StatusError},
	store.StatusQuerying:   {store.StatusReady, store.StatusError},
	store.StatusReady:      {store.StatusExtracting, store.StatusQuerying},
	store.StatusError:      {store.StatusExtracting, store.StatusQuerying},
}

// Transition moves the session to the target status, clearing any stale error
// message. Illegal transitions are rejected.
func (m *Manager) Transition(session *store.Session, target string) error {
	for _, allowed := range allowedTransitions[session.Status] {
		if allowed == target {
			m.logger.Printf("[STATE] Session %s: %s -> %s", session.ID, session.Status, target)
			session.Status = target
			session.ErrorMessage = ""
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s for session %s", session.Status, target, session.ID)
}

// Fail moves the session to the error state with a user-visible message.
func (m *Manager) Fail(session *store.Session, message string) {
	m.logger.Printf("[STATE] Session %s: %s -> %s (%s)", session.ID, session.Status, store.StatusError, message)
	session.Status = store.StatusError
	session.ErrorMessage = message
}

// AppendUserMessage appends a user turn to the history.
func (m *Manager) AppendUserMessage(session *store.Session, content string) *store.ChatMessage {
	msg := store.ChatMessage{
		TurnID:    session.NextTurnID,
		Role:      "user",
		Content:   content,
		CreatedAt: m.now(),
	}
	session.NextTurnID++
	session.ChatHistory = append(session.ChatHistory, msg)
	return &session.ChatHistory[len(session.ChatHistory)-1]
}

// AppendAssistantMessage appends an assistant turn unless its text is
// identical to the previous assistant turn; retried or echoed responses are
// suppressed. Reports whether the message was appended.
func (m *Manager) AppendAssistantMessage(session *store.Session, msg store.ChatMessage) bool {
	if last := session.LastAssistantMessage(); last != nil && last.Content == msg.Content {
		m.logger.Printf("[STATE] Session %s: duplicate assistant answer suppressed", session.ID)
		return false
	}

	msg.Role = "assistant"
	msg.TurnID = session.NextTurnID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	session.NextTurnID++
	session.ChatHistory = append(session.ChatHistory, msg)
	return true
}

// SetCitations replaces the session's cited sentences with a fresh set and
// resets the navigation cursor.
func (m *Manager) SetCitations(session *store.Session, citations []store.Citation) {
	session.CitedSentences = citations
	session.CurrentCitedSentenceIndex = -1
}

// Navigate moves the citation cursor one step. The cursor stays inside
// [-1, len-1]; stepping past either end wraps to the other side so the user
// can cycle through the citations.
func (m *Manager) Navigate(session *store.Session, forward bool) (store.Citation, bool) {
	n := len(session.CitedSentences)
	if n == 0 {
		return store.Citation{}, false
	}

	idx := session.CurrentCitedSentenceIndex
	if forward {
		idx++
		if idx >= n {
			idx = 0
		}
	} else {
		idx--
		if idx < 0 {
			idx = n - 1
		}
	}

	session.CurrentCitedSentenceIndex = idx
	return session.CitedSentences[idx], true
}

// NavigateTo jumps the cursor to a specific citation index.
func (m *Manager) NavigateTo(session *store.Session, idx int) (store.Citation, bool) {
	if idx < 0 || idx >= len(session.CitedSentences) {
		return store.Citation{}, false
	}
	session.CurrentCitedSentenceIndex = idx
	return session.CitedSentences[idx], true
}

// MarkGkPrompted sets the one-shot flag on the assistant turn with the given
// id. It is the only post-append mutation the history permits.
func (m *Manager) MarkGkPrompted(session *store.Session, turnID int) bool {
	for i := range session.ChatHistory {
		msg := &session.ChatHistory[i]
		if msg.TurnID == turnID && msg.Role == "assistant" && !msg.GkPrompted {
			msg.GkPrompted = true
			return true
		}
	}
	return false
}
