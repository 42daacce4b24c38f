package entity

import (
	"time"

	"github.com/google/uuid"
)

// ChatSession is the archived record of one tab's conversation.
type ChatSession struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TabId     string    `gorm:"uniqueIndex;not null"`
	Title     string
	SourceURL string
	CreatedAt time.Time
	UpdatedAt *time.Time
}
