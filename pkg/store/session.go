package store

import "time"

// Citation is a resolved link between a grounded answer and a specific
// extracted element. Every citation is resolvable against the corpus that
// produced it at creation time.
type Citation struct {
	ID            string `json:"id"`
	ElementID     string `json:"element_id"`
	Text          string `json:"text"`
	OriginalIndex int    `json:"original_index"` // Position in the model's citation list
}

// ChatMessage is one turn in a session's conversation history.
// The history is append-only; the only field ever mutated after creation is
// GkPrompted, set at most once.
type ChatMessage struct {
	TurnID           int        `json:"turn_id"`
	Role             string     `json:"role"` // "user" | "assistant"
	Content          string     `json:"content"`
	Citations        []Citation `json:"citations,omitempty"`
	IsExternalSource bool       `json:"is_external_source"`
	GkPrompted       bool       `json:"gk_prompted"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Session statuses (pipeline state machine).
const (
	StatusIdle       = "IDLE"
	StatusExtracting = "EXTRACTING"
	StatusQuerying   = "QUERYING_MODEL"
	StatusReady      = "READY"
	StatusError      = "ERROR"
)

// Search modes governing whether page content participates in an answer.
const (
	ModePage    = "page"
	ModeBlended = "blended"
	ModeGeneral = "general"
)

// Session is the per-tab conversational context: history, resolved citations,
// the citation-navigation cursor and the pipeline status. Exactly one exists
// per active tab, keyed by the opaque tab identifier supplied by the host.
type Session struct {
	ID                        string        `json:"id"` // Host tab identifier
	Title                     string        `json:"title"`
	ChatHistory               []ChatMessage `json:"chat_history"`
	CitedSentences            []Citation    `json:"cited_sentences"`
	CurrentCitedSentenceIndex int           `json:"current_cited_sentence_index"` // -1 when nothing is active
	Status                    string        `json:"status"`
	ErrorMessage              string        `json:"error_message,omitempty"`
	Corpus                    *Corpus       `json:"-"`
	NextTurnID                int           `json:"-"`
	CreatedAt                 time.Time     `json:"created_at"`
}

// LastAssistantMessage returns the most recent assistant turn, or nil.
func (s *Session) LastAssistantMessage() *ChatMessage {
	for i := len(s.ChatHistory) - 1; i >= 0; i-- {
		if s.ChatHistory[i].Role == "assistant" {
			return &s.ChatHistory[i]
		}
	}
	return nil
}

// Busy reports whether a pipeline is currently in flight for this session.
// New queries are rejected while it is true.
func (s *Session) Busy() bool {
	return s.Status == StatusExtracting || s.Status == StatusQuerying
}
