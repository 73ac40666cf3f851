package domain

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Chat - переписка двух участников по одному объявлению
type Chat struct {
	ID             uuid.UUID       `json:"id"`
	ListingID      uuid.UUID       `json:"listing_id"`
	ParticipantIDs []uuid.UUID     `json:"participant_ids"`
	Participants   []*UserSummary  `json:"participants,omitempty"`
	Listing        *ListingSummary `json:"listing,omitempty"`
	LastMessage    *LastMessage    `json:"last_message,omitempty"`
	// Количество непрочитанных сообщений для пользователя, запросившего чат
	UnreadCount int        `json:"unread_count"`
	Messages    []*Message `json:"messages,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (c *Chat) HasParticipant(userID uuid.UUID) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherParticipant возвращает собеседника userID или uuid.Nil, если userID не участник
func (c *Chat) OtherParticipant(userID uuid.UUID) uuid.UUID {
	if !c.HasParticipant(userID) {
		return uuid.Nil
	}
	for _, id := range c.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	return uuid.Nil
}

// Message неизменяем, кроме флага Read (только false -> true)
type Message struct {
	ID       uuid.UUID `json:"id"`
	ChatID   uuid.UUID `json:"chat_id"`
	SenderID uuid.UUID `json:"sender_id"`
	Content  string    `json:"content"`
	// Идентификатор корреляции от клиента, возвращается как есть
	ClientID  string    `json:"client_id,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  uuid.UUID `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Message) Snapshot() *LastMessage {
	return &LastMessage{
		Content:   m.Content,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}
}

type ChatPage struct {
	Items []*Chat `json:"items"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
	Total int     `json:"total"`
}

// OrderedPair возвращает участников в каноническом порядке.
// Пара {a, b} и {b, a} дают одинаковый ключ уникальности чата.
func OrderedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}
