package memory

import (
	"time"

	"github.com/patrickmn/go-cache"

	"ai-pagechat-be/internal/constant"
	"ai-pagechat-be/pkg/store"
)

// SessionRepository is the per-tab session registry: an in-memory arena keyed
// by the opaque tab identifier supplied by the host. All access goes through
// GetOrCreate/Get/Delete; no ambient globals. Entries expire after a day of
// inactivity as a safety net for tabs the host never reports closed.
type SessionRepository struct {
	cache *cache.Cache
}

func NewSessionRepository() *SessionRepository {
	c := cache.New(24*time.Hour, 10*time.Minute)
	return &SessionRepository{
		cache: c,
	}
}

// GetOrCreate returns the session for a tab, creating it on first reference.
// New sessions start idle with a greeting turn and an inactive citation
// cursor.
func (r *SessionRepository) GetOrCreate(tabID string) *store.Session {
	if existing, found := r.Get(tabID); found {
		return existing
	}

	now := time.Now()
	session := &store.Session{
		ID:                        tabID,
		Status:                    store.StatusIdle,
		CurrentCitedSentenceIndex: -1,
		CreatedAt:                 now,
		ChatHistory: []store.ChatMessage{
			{
				TurnID:    0,
				Role:      constant.ChatMessageRoleAssistant,
				Content:   constant.SessionGreetingMessage,
				CreatedAt: now,
			},
		},
		NextTurnID: 1,
	}
	r.Save(session)
	return session
}

func (r *SessionRepository) Save(session *store.Session) {
	r.cache.Set(session.ID, session, cache.DefaultExpiration)
}

func (r *SessionRepository) Get(tabID string) (*store.Session, bool) {
	if x, found := r.cache.Get(tabID); found {
		return x.(*store.Session), true
	}
	return nil, false
}

// Exists is the liveness check used after every suspension point in the
// pipeline: once the host reports a tab closed, results for it are discarded.
func (r *SessionRepository) Exists(tabID string) bool {
	_, found := r.cache.Get(tabID)
	return found
}

func (r *SessionRepository) Delete(tabID string) {
	r.cache.Delete(tabID)
}
