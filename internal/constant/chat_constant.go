package constant

const (
	ChatMessageRoleUser      = "user"
	ChatMessageRoleAssistant = "assistant"

	// ElementIDPrefix is the identifier convention for extracted page
	// elements. Citation lines returned by the model must start with it.
	ElementIDPrefix = "mgl-node-"

	// Response wire format. The model must emit the answer and the citation
	// list between these literal markers; the parser rejects anything else.
	AnswerStartMarker    = "LLM_ANSWER_START"
	AnswerEndMarker      = "LLM_ANSWER_END"
	CitationsStartMarker = "LLM_CITATIONS_START"
	CitationsEndMarker   = "LLM_CITATIONS_END"

	// NoCitationsToken replaces citation lines when the answer cites nothing.
	NoCitationsToken = "NONE"

	// Relevance classification contract, two tokens only. Anything else is
	// treated as not relevant.
	RelevanceTokenRelevant    = "RELEVANT"
	RelevanceTokenNotRelevant = "NOT_RELEVANT"

	// Fixed user-facing messages.
	SessionGreetingMessage    = "Hi! Ask me anything about the page you are viewing."
	MalformedAnswerMessage    = "The model did not answer in the expected format. Please try asking again."
	PageNotRelevantMessage    = "I cannot find relevant information about this on the current page."
	ContentUnavailableMessage = "I could not read any usable content from this page."

	// SessionTitleMaxLen caps the session title derived from the first query.
	SessionTitleMaxLen = 60
)
