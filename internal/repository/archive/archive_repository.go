package archive

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ai-pagechat-be/internal/entity"
	"ai-pagechat-be/pkg/store"
)

// Repository persists completed turns for later retrieval. It is write-mostly
// and strictly best-effort: the in-memory session remains the source of truth
// for the pipeline, and archive failures never fail a turn.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&entity.ChatSession{}, &entity.ChatMessage{}, &entity.ChatCitation{}); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// EnsureSession returns the archived session row for a tab, creating it on
// first use.
func (r *Repository) EnsureSession(ctx context.Context, tabID, title, sourceURL string) (*entity.ChatSession, error) {
	var row entity.ChatSession
	err := r.db.WithContext(ctx).Where("tab_id = ?", tabID).First(&row).Error
	if err == nil {
		if title != "" && row.Title != title {
			now := time.Now()
			row.Title = title
			row.UpdatedAt = &now
			if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
				return nil, err
			}
		}
		return &row, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	row = entity.ChatSession{
		Id:        uuid.New(),
		TabId:     tabID,
		Title:     title,
		SourceURL: sourceURL,
		CreatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// SaveTurn archives a user/assistant message pair and the assistant message's
// citations in one transaction.
func (r *Repository) SaveTurn(ctx context.Context, sessionRow *entity.ChatSession, userMsg, assistantMsg *store.ChatMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assistantRowID uuid.UUID

		for _, msg := range []*store.ChatMessage{userMsg, assistantMsg} {
			if msg == nil {
				continue
			}
			row := entity.ChatMessage{
				Id:               uuid.New(),
				ChatSessionId:    sessionRow.Id,
				TurnId:           msg.TurnID,
				Role:             msg.Role,
				Content:          msg.Content,
				IsExternalSource: msg.IsExternalSource,
				GkPrompted:       msg.GkPrompted,
				CreatedAt:        msg.CreatedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			if msg.Role == "assistant" {
				assistantRowID = row.Id
			}
		}

		if assistantMsg == nil || assistantRowID == uuid.Nil {
			return nil
		}

		for _, c := range assistantMsg.Citations {
			citationRow := entity.ChatCitation{
				Id:            uuid.New(),
				ChatMessageId: assistantRowID,
				CitationId:    c.ID,
				ElementId:     c.ElementID,
				Quote:         c.Text,
				Position:      c.OriginalIndex,
				CreatedAt:     time.Now(),
			}
			if err := tx.Create(&citationRow).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
