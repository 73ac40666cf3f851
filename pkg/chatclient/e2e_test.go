package chatclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_chat/internal/config"
	"estate_chat/internal/domain"
	"estate_chat/internal/realtime"
	"estate_chat/pkg/logger"
)

// hubRelay сохраняет сообщения в памяти и рассылает их через хаб
type hubRelay struct {
	hub  *realtime.Hub
	chat *domain.Chat

	mu       sync.Mutex
	messages []*domain.Message
}

func (r *hubRelay) IsParticipant(_ context.Context, chatID, userID uuid.UUID) (bool, error) {
	return chatID == r.chat.ID && r.chat.HasParticipant(userID), nil
}

func (r *hubRelay) SendMessage(ctx context.Context, chatID, senderID uuid.UUID, content, clientID string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		ClientID:  clientID,
		CreatedAt: time.Now(),
	}
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()

	ev, err := domain.NewEvent(domain.EventReceiveMessage, domain.ReceiveMessagePayload{ChatID: chatID, Message: msg})
	if err != nil {
		return nil, err
	}
	r.hub.ToChat(ctx, chatID, ev)
	return msg, nil
}

// newChatServer поднимает настоящий хаб; токен в заголовке - это ID пользователя
func newChatServer(t *testing.T, relay *hubRelay) string {
	t.Helper()

	cfg := config.WebSocketConfig{
		WriteWait:      time.Second,
		PongWait:       5 * time.Second,
		PingPeriod:     time.Second,
		MaxMessageSize: 8192,
		SendBuffer:     32,
	}
	dispatcher := realtime.NewDispatcher(relay.hub, relay, logger.Nop())
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		realtime.NewClient(conn, &domain.Session{UserID: userID}, relay.hub, dispatcher, cfg, logger.Nop()).Serve(r.Context())
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestEndToEnd_ViewerSeesMessageAndTyping(t *testing.T) {
	buyer, owner := uuid.New(), uuid.New()
	chat := &domain.Chat{ID: uuid.New(), ListingID: uuid.New(), ParticipantIDs: []uuid.UUID{buyer, owner}}
	relay := &hubRelay{hub: realtime.NewHub(nil, logger.Nop()), chat: chat}
	url := newChatServer(t, relay)

	connect := func(userID uuid.UUID) (*Conn, *Rooms) {
		conn := NewConn(StaticSession{S: &Session{UserID: userID, Token: userID.String()}}, ConnOptions{URL: url})
		rooms := NewRooms(conn, logger.Nop())
		require.NoError(t, conn.Connect(context.Background()))
		t.Cleanup(func() { conn.Close() })
		return conn, rooms
	}

	ownerConn, ownerRooms := connect(owner)
	ownerAPI := &fakeAPI{self: owner, clock: SystemClock, chat: &domain.Chat{ID: chat.ID, ParticipantIDs: chat.ParticipantIDs}}
	view, err := OpenView(context.Background(), chat.ID, ViewDeps{
		Sessions: StaticSession{S: &Session{UserID: owner, Token: owner.String()}},
		API:      ownerAPI,
		Socket:   ownerConn,
		Rooms:    ownerRooms,
	}, ViewOptions{Location: time.UTC})
	require.NoError(t, err)
	defer view.Close()

	buyerConn, buyerRooms := connect(buyer)
	release := buyerRooms.JoinChat(chat.ID)
	defer release()

	room := realtime.ChatRoom(chat.ID)
	require.Eventually(t, func() bool { return relay.hub.RoomSize(room) == 2 }, 2*time.Second, 10*time.Millisecond)

	typist := NewTypist(buyerConn, chat.ID, DefaultTypingTimeout, nil, nil)
	typist.Keystroke()
	require.Eventually(t, func() bool {
		users := view.TypingUsers()
		return len(users) == 1 && users[0] == buyer
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, buyerConn.Emit(domain.EventSendMessage, domain.SendMessagePayload{
		ChatID:   chat.ID,
		Content:  "Is this still available?",
		ClientID: "buyer-1",
	}))

	require.Eventually(t, func() bool { return len(view.Entries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	entry := view.Entries()[0]
	assert.Equal(t, buyer, entry.Message.SenderID)
	assert.Equal(t, "Is this still available?", entry.Message.Content)
	assert.Empty(t, view.TypingUsers())

	// открытый чат отмечается прочитанным сразу
	require.Eventually(t, func() bool {
		_, _, reads := ownerAPI.counts()
		return reads == 2
	}, 2*time.Second, 10*time.Millisecond)

	// закрытие представления выводит владельца из комнаты
	view.Close()
	require.Eventually(t, func() bool { return relay.hub.RoomSize(room) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, ownerConn.ListenerCount(domain.EventReceiveMessage))
}
