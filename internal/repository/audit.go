package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"estate_chat/internal/domain"
	"estate_chat/pkg/logger"
)

type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
}

type auditRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewAuditRepository(db *pgxpool.Pool, log logger.Logger) AuditRepository {
	return &auditRepository{db: db, log: log}
}

// Append пишет запись и заполняет entry.ID
func (r *auditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	details := []byte("{}")
	if len(entry.Details) > 0 {
		var err error
		if details, err = json.Marshal(entry.Details); err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_log (event_time, actor_user_id, chat_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query, entry.At, entry.ActorID, entry.ChatID, entry.Action, details).Scan(&entry.ID)
	if err != nil {
		r.log.Error("Failed to append audit entry", "error", err, "action", entry.Action, "chat_id", entry.ChatID)
		return err
	}
	return nil
}
