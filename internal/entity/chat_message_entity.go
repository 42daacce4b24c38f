package entity

import (
	"time"

	"github.com/google/uuid"
)

type ChatMessage struct {
	Id               uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChatSessionId    uuid.UUID `gorm:"type:uuid;index"`
	TurnId           int
	Role             string
	Content          string
	IsExternalSource bool
	GkPrompted       bool
	CreatedAt        time.Time
}
