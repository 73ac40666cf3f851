package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_DecodesClientPayloads(t *testing.T) {
	chatID := uuid.New()
	userID := uuid.New()

	tests := []struct {
		name  string
		event string
		raw   string
		check func(t *testing.T, ev Event)
	}{
		{
			name:  "send_message",
			event: EventSendMessage,
			raw:   `{"event":"send_message","data":{"chatId":"` + chatID.String() + `","content":"hi","clientId":"c1"}}`,
			check: func(t *testing.T, ev Event) {
				var p SendMessagePayload
				require.NoError(t, ev.Decode(&p))
				assert.Equal(t, chatID, p.ChatID)
				assert.Equal(t, "hi", p.Content)
				assert.Equal(t, "c1", p.ClientID)
			},
		},
		{
			name:  "join_chat",
			event: EventJoinChat,
			raw:   `{"event":"join_chat","data":{"chatId":"` + chatID.String() + `"}}`,
			check: func(t *testing.T, ev Event) {
				var p ChatRef
				require.NoError(t, ev.Decode(&p))
				assert.Equal(t, chatID, p.ChatID)
			},
		},
		{
			name:  "join_personal_room",
			event: EventJoinPersonalRoom,
			raw:   `{"event":"join_personal_room","data":{"userId":"` + userID.String() + `"}}`,
			check: func(t *testing.T, ev Event) {
				var p PersonalRoomRef
				require.NoError(t, ev.Decode(&p))
				assert.Equal(t, userID, p.UserID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &ev))
			assert.Equal(t, tt.event, ev.Name)
			tt.check(t, ev)
		})
	}
}

func TestNewEvent_ServerPayloadKeys(t *testing.T) {
	chatID := uuid.New()
	unread := 2

	tests := []struct {
		name    string
		payload any
		keys    []string
	}{
		{"receive_message", ReceiveMessagePayload{ChatID: chatID, Message: &Message{ID: uuid.New(), ClientID: "c1"}}, []string{"chatId", "message"}},
		{"user_typing", TypingPayload{ChatID: chatID, UserID: uuid.New()}, []string{"chatId", "userId"}},
		{"chat_updated", ChatUpdatedPayload{ChatID: chatID, Type: ChatUpdateNewMessage, UnreadCount: &unread, LastMessage: &LastMessage{}}, []string{"chatId", "type", "unreadCount", "lastMessage"}},
		{"messages_read", MessagesReadPayload{ChatID: chatID, Count: 3}, []string{"chatId", "count"}},
		{"error", ErrorPayload{Event: EventSendMessage, ChatID: &chatID, ClientID: "c1", Message: "boom"}, []string{"event", "chatId", "clientId", "message"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := NewEvent(tt.name, tt.payload)
			require.NoError(t, err)

			var fields map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(ev.Data, &fields))
			assert.Len(t, fields, len(tt.keys))
			for _, k := range tt.keys {
				assert.Contains(t, fields, k)
			}
		})
	}
}
