// Package ground defines the error taxonomy shared by the grounded-answer
// pipeline. Only ExtractionError (in page mode) and LLMRequestError terminate
// a turn with a user-visible error; every other condition degrades in place.
package ground

import "fmt"

// ExtractionError means the document yielded no usable content. Recoverable
// in blended mode (fall back to general knowledge), fatal in page mode.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

// LLMRequestError wraps a transport, auth, quota or rate-limit failure from
// the model client. It is surfaced as a chat-visible error message and never
// retried by the pipeline itself.
type LLMRequestError struct {
	Err error
}

func (e *LLMRequestError) Error() string {
	return fmt.Sprintf("language model request failed: %v", e.Err)
}

func (e *LLMRequestError) Unwrap() error {
	return e.Err
}

// ContentUnavailableError is returned when page mode is requested but no
// corpus could be produced for the session.
type ContentUnavailableError struct{}

func (e *ContentUnavailableError) Error() string {
	return "page content unavailable for page-grounded answer"
}

// SessionClosedError is returned when the owning session was torn down while
// a pipeline step was in flight; all further processing is discarded.
type SessionClosedError struct {
	SessionID string
}

func (e *SessionClosedError) Error() string {
	return fmt.Sprintf("session %s closed during processing", e.SessionID)
}

// SessionBusyError is returned when a new query arrives while a pipeline is
// already in flight for the same session.
type SessionBusyError struct {
	SessionID string
	Status    string
}

func (e *SessionBusyError) Error() string {
	return fmt.Sprintf("session %s is busy (status %s)", e.SessionID, e.Status)
}
