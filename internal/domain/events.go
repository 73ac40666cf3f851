package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Имена событий постоянного соединения
const (
	EventJoinChat          = "join_chat"
	EventLeaveChat         = "leave_chat"
	EventJoinPersonalRoom  = "join_personal_room"
	EventLeavePersonalRoom = "leave_personal_room"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
	EventStopTyping        = "stop_typing"

	EventReceiveMessage = "receive_message"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventChatUpdated    = "chat_updated"
	EventMessagesRead   = "messages_read"
	EventError          = "error"
)

// Типы chat_updated
const (
	ChatUpdateReadStatus = "read_status"
	ChatUpdateNewMessage = "new_message"
	ChatUpdateNewChat    = "new_chat"
	ChatUpdateDeleted    = "deleted"
)

// Event - конверт любого сообщения по WebSocket: {"event": "...", "data": {...}}
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(name string, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Name, err)
	}
	return nil
}

// Поля событий в camelCase. Вложенные Message и Chat сериализуются так же, как в REST.

type ChatRef struct {
	ChatID uuid.UUID `json:"chatId"`
}

type PersonalRoomRef struct {
	UserID uuid.UUID `json:"userId"`
}

type SendMessagePayload struct {
	ChatID   uuid.UUID `json:"chatId"`
	Content  string    `json:"content"`
	ClientID string    `json:"clientId,omitempty"`
}

type ReceiveMessagePayload struct {
	ChatID  uuid.UUID `json:"chatId"`
	Message *Message  `json:"message"`
}

type TypingPayload struct {
	ChatID uuid.UUID `json:"chatId"`
	UserID uuid.UUID `json:"userId"`
}

type ChatUpdatedPayload struct {
	ChatID      uuid.UUID    `json:"chatId"`
	Type        string       `json:"type"`
	ReaderID    *uuid.UUID   `json:"readerId,omitempty"`
	UnreadCount *int         `json:"unreadCount,omitempty"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	Chat        *Chat        `json:"chat,omitempty"`
}

type MessagesReadPayload struct {
	ChatID uuid.UUID `json:"chatId"`
	Count  int       `json:"count"`
}

// ErrorPayload отправляется только соединению-инициатору
type ErrorPayload struct {
	Event    string     `json:"event"`
	ChatID   *uuid.UUID `json:"chatId,omitempty"`
	ClientID string     `json:"clientId,omitempty"`
	Message  string     `json:"message"`
}
