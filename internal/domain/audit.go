package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry - запись журнала действий участников над чатами
type AuditEntry struct {
	ID      int64             `json:"id"`
	At      time.Time         `json:"at"`
	ActorID uuid.UUID         `json:"actor_id"`
	ChatID  uuid.UUID         `json:"chat_id"`
	Action  string            `json:"action"`
	Details map[string]string `json:"details,omitempty"`
}

const (
	AuditChatCreated = "CHAT_CREATED"
	AuditChatHidden  = "CHAT_HIDDEN"
	// Оба участника скрыли чат, строка удалена
	AuditChatPurged = "CHAT_PURGED"
)
