package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"estate_chat/internal/domain"
	"estate_chat/internal/repository"
	"estate_chat/pkg/logger"
)

const auditWriteTimeout = 3 * time.Second

// ChatAudit ведет журнал создания и скрытия чатов.
// Ошибки записи только логируются: журнал не влияет на исход операции.
type ChatAudit interface {
	ChatCreated(ctx context.Context, chat *domain.Chat, initiatorID uuid.UUID)
	ChatHidden(ctx context.Context, chatID, userID uuid.UUID, purged bool)
}

type chatAudit struct {
	repo repository.AuditRepository
	now  func() time.Time
	log  logger.Logger
}

func NewChatAudit(repo repository.AuditRepository, log logger.Logger) ChatAudit {
	return &chatAudit{repo: repo, now: time.Now, log: log}
}

func (a *chatAudit) ChatCreated(ctx context.Context, chat *domain.Chat, initiatorID uuid.UUID) {
	a.append(ctx, &domain.AuditEntry{
		ActorID: initiatorID,
		ChatID:  chat.ID,
		Action:  domain.AuditChatCreated,
		Details: map[string]string{
			"listing_id":     chat.ListingID.String(),
			"participant_id": chat.OtherParticipant(initiatorID).String(),
		},
	})
}

func (a *chatAudit) ChatHidden(ctx context.Context, chatID, userID uuid.UUID, purged bool) {
	action := domain.AuditChatHidden
	if purged {
		action = domain.AuditChatPurged
	}
	a.append(ctx, &domain.AuditEntry{ActorID: userID, ChatID: chatID, Action: action})
}

func (a *chatAudit) append(ctx context.Context, entry *domain.AuditEntry) {
	// клиент мог уже отключиться, запись от этого не зависит
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	entry.At = a.now()
	if err := a.repo.Append(ctx, entry); err != nil {
		a.log.Warn("Failed to write audit entry", "error", err, "action", entry.Action, "chat_id", entry.ChatID)
	}
}
