package dto

import (
	"time"
)

type CreateSessionRequest struct {
	TabId string `json:"tab_id" validate:"required"`
}

type CreateSessionResponse struct {
	TabId     string    `json:"tab_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type CitationDTO struct {
	Id            string `json:"id"`
	ElementId     string `json:"element_id"`
	Text          string `json:"text"`
	OriginalIndex int    `json:"original_index"`
}

type ChatMessageDTO struct {
	TurnId           int           `json:"turn_id"`
	Role             string        `json:"role"`
	Content          string        `json:"content"`
	Citations        []CitationDTO `json:"citations,omitempty"`
	IsExternalSource bool          `json:"is_external_source"`
	GkPrompted       bool          `json:"gk_prompted"`
	CreatedAt        time.Time     `json:"created_at"`
}

type GetHistoryResponse struct {
	TabId    string           `json:"tab_id"`
	Title    string           `json:"title"`
	Status   string           `json:"status"`
	Messages []ChatMessageDTO `json:"messages"`
}

type AskRequest struct {
	TabId        string `json:"tab_id" validate:"required"`
	Query        string `json:"query" validate:"required"`
	Mode         string `json:"mode" validate:"required,oneof=page blended general"`
	ForceGeneral bool   `json:"force_general"` // Explicit general-knowledge override
	PageHTML     string `json:"page_html,omitempty"`
	PageURL      string `json:"page_url,omitempty"`
}

type AskResponse struct {
	TabId   string          `json:"tab_id"`
	Title   string          `json:"title"`
	Status  string          `json:"status"`
	Sent    *ChatMessageDTO `json:"sent"`
	Reply   *ChatMessageDTO `json:"reply,omitempty"`
	Message string          `json:"message,omitempty"` // Set when the reply was suppressed as a duplicate
}

type NavigateCitationRequest struct {
	Direction string `json:"direction,omitempty" validate:"omitempty,oneof=next prev"`
	Index     *int   `json:"index,omitempty"`
}

type NavigateCitationResponse struct {
	Index    int          `json:"index"`
	Citation *CitationDTO `json:"citation,omitempty"`
	Total    int          `json:"total"`
}

type ClearHighlightsResponse struct {
	Cleared bool `json:"cleared"`
}
