package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"estate_chat/internal/domain"
	apperrors "estate_chat/pkg/errors"
	"estate_chat/pkg/logger"
)

type ChatRepository interface {
	// CreateOrGet вставляет чат или заполняет chat данными уже существующего
	// для той же пары участников и объявления. created=false для существующего.
	CreateOrGet(ctx context.Context, chat *domain.Chat) (created bool, err error)
	GetByID(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error)
	// GetForUser возвращает чат, видимый пользователю, вместе с объявлением,
	// участниками и счетчиком непрочитанных
	GetForUser(ctx context.Context, chatID, userID uuid.UUID) (*domain.Chat, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Chat, int, error)
	Unhide(ctx context.Context, chatID, userID uuid.UUID) error
	// Hide скрывает чат для одного участника. purged=true, если чат скрыт
	// обоими и удален физически.
	Hide(ctx context.Context, chatID, userID uuid.UUID) (purged bool, err error)

	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, chatID uuid.UUID) ([]*domain.Message, error)
	MarkRead(ctx context.Context, chatID, readerID uuid.UUID) (int, error)
	UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int, error)
	TotalUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

type chatRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewChatRepository(db *pgxpool.Pool, log logger.Logger) ChatRepository {
	return &chatRepository{db: db, log: log}
}

const chatColumns = `
	c.id, c.listing_id, c.participant_a, c.participant_b,
	c.last_message_content, c.last_message_sender_id, c.last_message_at,
	c.created_at, c.updated_at`

func scanChat(row pgx.Row, extra ...any) (*domain.Chat, error) {
	chat := &domain.Chat{}
	var a, b uuid.UUID
	var lastContent *string
	var lastSender *uuid.UUID
	var lastAt *time.Time

	dest := []any{
		&chat.ID, &chat.ListingID, &a, &b,
		&lastContent, &lastSender, &lastAt,
		&chat.CreatedAt, &chat.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	chat.ParticipantIDs = []uuid.UUID{a, b}
	if lastContent != nil && lastSender != nil && lastAt != nil {
		chat.LastMessage = &domain.LastMessage{
			Content:   *lastContent,
			SenderID:  *lastSender,
			CreatedAt: *lastAt,
		}
	}
	return chat, nil
}

func (r *chatRepository) CreateOrGet(ctx context.Context, chat *domain.Chat) (bool, error) {
	if len(chat.ParticipantIDs) != 2 {
		return false, fmt.Errorf("chat must have exactly two participants")
	}
	a, b := domain.OrderedPair(chat.ParticipantIDs[0], chat.ParticipantIDs[1])

	created := false
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO chats (id, listing_id, participant_a, participant_b, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (participant_a, participant_b, listing_id) DO NOTHING
		`
		tag, err := tx.Exec(ctx, insert, chat.ID, chat.ListingID, a, b, chat.CreatedAt)
		if err != nil {
			return err
		}

		if tag.RowsAffected() == 1 {
			created = true
			participants := `
				INSERT INTO chat_participants (chat_id, user_id)
				VALUES ($1, $2), ($1, $3)
			`
			_, err = tx.Exec(ctx, participants, chat.ID, a, b)
			return err
		}

		query := `SELECT ` + chatColumns + `
			FROM chats c
			WHERE c.participant_a = $1 AND c.participant_b = $2 AND c.listing_id = $3
		`
		existing, err := scanChat(tx.QueryRow(ctx, query, a, b, chat.ListingID))
		if err != nil {
			return err
		}
		*chat = *existing
		return nil
	})
	if err != nil {
		r.log.Error("Failed to create chat", "error", err, "listing_id", chat.ListingID)
		return false, err
	}

	return created, nil
}

func (r *chatRepository) GetByID(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats c WHERE c.id = $1`

	chat, err := scanChat(r.db.QueryRow(ctx, query, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrChatNotFound
		}
		r.log.Error("Failed to get chat", "error", err, "chat_id", chatID)
		return nil, err
	}
	return chat, nil
}

// visibleChatQuery выбирает чаты, не скрытые пользователем $1, с данными
// объявления и количеством непрочитанных для него
const visibleChatQuery = `SELECT ` + chatColumns + `,
		l.id, l.owner_id, l.title, l.price, l.image_url,
		(SELECT COUNT(*) FROM messages m
		  WHERE m.chat_id = c.id AND m.sender_id <> $1 AND m.read = FALSE) AS unread_count
	FROM chats c
	JOIN chat_participants cp ON cp.chat_id = c.id AND cp.user_id = $1 AND cp.hidden_at IS NULL
	JOIN listings l ON l.id = c.listing_id`

func scanVisibleChat(row pgx.Row) (*domain.Chat, error) {
	listing := &domain.ListingSummary{}
	var unread int
	chat, err := scanChat(row,
		&listing.ID, &listing.OwnerID, &listing.Title, &listing.Price, &listing.ImageURL,
		&unread,
	)
	if err != nil {
		return nil, err
	}
	chat.Listing = listing
	chat.UnreadCount = unread
	return chat, nil
}

func (r *chatRepository) GetForUser(ctx context.Context, chatID, userID uuid.UUID) (*domain.Chat, error) {
	query := visibleChatQuery + ` WHERE c.id = $2`

	chat, err := scanVisibleChat(r.db.QueryRow(ctx, query, userID, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrChatNotFound
		}
		r.log.Error("Failed to get chat for user", "error", err, "chat_id", chatID, "user_id", userID)
		return nil, err
	}

	participants, err := r.getParticipants(ctx, chat.ParticipantIDs)
	if err != nil {
		return nil, err
	}
	chat.Participants = participants
	return chat, nil
}

func (r *chatRepository) getParticipants(ctx context.Context, ids []uuid.UUID) ([]*domain.UserSummary, error) {
	query := `SELECT id, display_name, avatar_url FROM users WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		r.log.Error("Failed to get chat participants", "error", err)
		return nil, err
	}
	defer rows.Close()

	var participants []*domain.UserSummary
	for rows.Next() {
		p := &domain.UserSummary{}
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.AvatarURL); err != nil {
			r.log.Error("Failed to scan participant", "error", err)
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *chatRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Chat, int, error) {
	var total int
	countQuery := `
		SELECT COUNT(*) FROM chat_participants
		WHERE user_id = $1 AND hidden_at IS NULL
	`
	if err := r.db.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		r.log.Error("Failed to count chats", "error", err, "user_id", userID)
		return nil, 0, err
	}

	query := visibleChatQuery + `
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.log.Error("Failed to list chats", "error", err, "user_id", userID)
		return nil, 0, err
	}
	defer rows.Close()

	chats := make([]*domain.Chat, 0, limit)
	for rows.Next() {
		chat, err := scanVisibleChat(rows)
		if err != nil {
			r.log.Error("Failed to scan chat", "error", err)
			return nil, 0, err
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return chats, total, nil
}

func (r *chatRepository) Unhide(ctx context.Context, chatID, userID uuid.UUID) error {
	query := `UPDATE chat_participants SET hidden_at = NULL WHERE chat_id = $1 AND user_id = $2`

	if _, err := r.db.Exec(ctx, query, chatID, userID); err != nil {
		r.log.Error("Failed to unhide chat", "error", err, "chat_id", chatID)
		return err
	}
	return nil
}

func (r *chatRepository) Hide(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	purged := false
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		hide := `
			UPDATE chat_participants SET hidden_at = NOW()
			WHERE chat_id = $1 AND user_id = $2 AND hidden_at IS NULL
		`
		tag, err := tx.Exec(ctx, hide, chatID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperrors.ErrChatNotFound
		}

		purge := `
			DELETE FROM chats
			WHERE id = $1 AND NOT EXISTS (
				SELECT 1 FROM chat_participants WHERE chat_id = $1 AND hidden_at IS NULL
			)
		`
		tag, err = tx.Exec(ctx, purge, chatID)
		if err != nil {
			return err
		}
		purged = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		if !errors.Is(err, apperrors.ErrChatNotFound) {
			r.log.Error("Failed to hide chat", "error", err, "chat_id", chatID)
		}
		return false, err
	}
	return purged, nil
}

// CreateMessage атомарно сохраняет сообщение, обновляет снимок последнего
// сообщения и возвращает чат в список собеседника, если тот его скрыл
func (r *chatRepository) CreateMessage(ctx context.Context, message *domain.Message) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO messages (id, chat_id, sender_id, content, client_id, read)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), FALSE)
			RETURNING created_at
		`
		err := tx.QueryRow(ctx, insert,
			message.ID, message.ChatID, message.SenderID, message.Content, message.ClientID,
		).Scan(&message.CreatedAt)
		if err != nil {
			return err
		}

		snapshot := `
			UPDATE chats
			SET last_message_content = $2, last_message_sender_id = $3, last_message_at = $4, updated_at = $4
			WHERE id = $1 AND (last_message_at IS NULL OR last_message_at <= $4)
		`
		if _, err := tx.Exec(ctx, snapshot, message.ChatID, message.Content, message.SenderID, message.CreatedAt); err != nil {
			return err
		}

		unhide := `UPDATE chat_participants SET hidden_at = NULL WHERE chat_id = $1 AND hidden_at IS NOT NULL`
		_, err = tx.Exec(ctx, unhide, message.ChatID)
		return err
	})
	if err != nil {
		r.log.Error("Failed to create message", "error", err, "chat_id", message.ChatID)
		return err
	}
	return nil
}

func (r *chatRepository) GetMessages(ctx context.Context, chatID uuid.UUID) ([]*domain.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, content, COALESCE(client_id, ''), read, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY seq
	`

	rows, err := r.db.Query(ctx, query, chatID)
	if err != nil {
		r.log.Error("Failed to get messages", "error", err, "chat_id", chatID)
		return nil, err
	}
	defer rows.Close()

	messages := []*domain.Message{}
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.ClientID, &m.Read, &m.CreatedAt); err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkRead переводит read false -> true для сообщений собеседника. Обратного перехода нет.
func (r *chatRepository) MarkRead(ctx context.Context, chatID, readerID uuid.UUID) (int, error) {
	query := `
		UPDATE messages SET read = TRUE
		WHERE chat_id = $1 AND sender_id <> $2 AND read = FALSE
	`

	tag, err := r.db.Exec(ctx, query, chatID, readerID)
	if err != nil {
		r.log.Error("Failed to mark messages read", "error", err, "chat_id", chatID)
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *chatRepository) UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages
		WHERE chat_id = $1 AND sender_id <> $2 AND read = FALSE
	`

	var count int
	if err := r.db.QueryRow(ctx, query, chatID, userID).Scan(&count); err != nil {
		r.log.Error("Failed to count unread messages", "error", err, "chat_id", chatID)
		return 0, err
	}
	return count, nil
}

func (r *chatRepository) TotalUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages m
		JOIN chat_participants cp ON cp.chat_id = m.chat_id AND cp.user_id = $1 AND cp.hidden_at IS NULL
		WHERE m.sender_id <> $1 AND m.read = FALSE
	`

	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		r.log.Error("Failed to count total unread", "error", err, "user_id", userID)
		return 0, err
	}
	return count, nil
}
