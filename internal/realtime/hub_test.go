package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_chat/internal/domain"
	"estate_chat/pkg/logger"
)

func newTestClient(hub *Hub, userID uuid.UUID, buffer int) *Client {
	c := &Client{
		id:      uuid.New(),
		session: &domain.Session{UserID: userID},
		send:    make(chan []byte, buffer),
		hub:     hub,
		log:     logger.Nop(),
	}
	hub.Register(c)
	return c
}

// drain забирает все события из очереди клиента без ожидания
func drain(t *testing.T, c *Client) []domain.Event {
	t.Helper()
	var out []domain.Event
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var ev domain.Event
			require.NoError(t, json.Unmarshal(data, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func mustEvent(t *testing.T, name string, payload any) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(name, payload)
	require.NoError(t, err)
	return ev
}

func TestHub_BroadcastReachesAllSessionsOfRoom(t *testing.T) {
	hub := NewHub(nil, logger.Nop())
	chatID := uuid.New()
	buyer, owner := uuid.New(), uuid.New()

	// у владельца две вкладки
	buyerConn := newTestClient(hub, buyer, 8)
	ownerTab1 := newTestClient(hub, owner, 8)
	ownerTab2 := newTestClient(hub, owner, 8)
	outsider := newTestClient(hub, uuid.New(), 8)

	for _, c := range []*Client{buyerConn, ownerTab1, ownerTab2} {
		hub.Join(c, ChatRoom(chatID))
	}

	hub.ToChat(context.Background(), chatID, mustEvent(t, domain.EventReceiveMessage, domain.ReceiveMessagePayload{ChatID: chatID}))

	assert.Len(t, drain(t, buyerConn), 1)
	assert.Len(t, drain(t, ownerTab1), 1)
	assert.Len(t, drain(t, ownerTab2), 1)
	assert.Empty(t, drain(t, outsider))
}

func TestHub_ExceptUserSuppressesAllSessionsOfUser(t *testing.T) {
	hub := NewHub(nil, logger.Nop())
	chatID := uuid.New()
	buyer, owner := uuid.New(), uuid.New()

	buyerPhone := newTestClient(hub, buyer, 8)
	buyerLaptop := newTestClient(hub, buyer, 8)
	ownerConn := newTestClient(hub, owner, 8)
	for _, c := range []*Client{buyerPhone, buyerLaptop, ownerConn} {
		hub.Join(c, ChatRoom(chatID))
	}

	ev := mustEvent(t, domain.EventUserTyping, domain.TypingPayload{ChatID: chatID, UserID: buyer})
	hub.ToChatExceptUser(context.Background(), chatID, buyer, ev)

	assert.Empty(t, drain(t, buyerPhone))
	assert.Empty(t, drain(t, buyerLaptop))
	assert.Len(t, drain(t, ownerConn), 1)
}

func TestHub_MembershipIsRefCountedPerConnection(t *testing.T) {
	hub := NewHub(nil, logger.Nop())
	chatID := uuid.New()
	room := ChatRoom(chatID)
	c := newTestClient(hub, uuid.New(), 8)

	hub.Join(c, room)
	hub.Join(c, room)
	hub.Leave(c, room)
	assert.True(t, hub.InRoom(c, room))

	hub.Leave(c, room)
	assert.False(t, hub.InRoom(c, room))
	assert.Zero(t, hub.RoomSize(room))

	// лишний leave ничего не ломает
	hub.Leave(c, room)
	hub.Join(c, room)
	assert.True(t, hub.InRoom(c, room))
}

func TestHub_LeaveDoesNotAffectOtherConnections(t *testing.T) {
	hub := NewHub(nil, logger.Nop())
	userID := uuid.New()
	room := PersonalRoom(userID)

	tab1 := newTestClient(hub, userID, 8)
	tab2 := newTestClient(hub, userID, 8)
	hub.Join(tab1, room)
	hub.Join(tab2, room)

	hub.Leave(tab1, room)

	hub.ToUser(context.Background(), userID, mustEvent(t, domain.EventMessagesRead, domain.MessagesReadPayload{Count: 1}))
	assert.Empty(t, drain(t, tab1))
	assert.Len(t, drain(t, tab2), 1)
}

func TestHub_UnregisterRemovesFromAllRooms(t *testing.T) {
	hub := NewHub(nil, logger.Nop())
	userID := uuid.New()
	chatID := uuid.New()

	c := newTestClient(hub, userID, 8)
	hub.Join(c, ChatRoom(chatID))
	hub.Join(c, PersonalRoom(userID))
	require.Equal(t, 1, hub.ClientCount())

	hub.Unregister(c)

	assert.Zero(t, hub.ClientCount())
	assert.Zero(t, hub.RoomSize(ChatRoom(chatID)))
	assert.Zero(t, hub.RoomSize(PersonalRoom(userID)))

	_, ok := <-c.send
	assert.False(t, ok, "send queue must be closed")

	// после отключения рассылка и join безопасны
	hub.ToChat(context.Background(), chatID, mustEvent(t, domain.EventReceiveMessage, nil))
	hub.SendTo(c, mustEvent(t, domain.EventError, nil))
	hub.Join(c, ChatRoom(chatID))
	hub.Unregister(c)
	assert.Zero(t, hub.RoomSize(ChatRoom(chatID)))
}

func TestHub_SlowClientDropsEvents(t *testing.T) {
	hub := NewHub(nil, logger.Nop())
	chatID := uuid.New()

	slow := newTestClient(hub, uuid.New(), 1)
	fast := newTestClient(hub, uuid.New(), 8)
	hub.Join(slow, ChatRoom(chatID))
	hub.Join(fast, ChatRoom(chatID))

	for i := 0; i < 3; i++ {
		hub.ToChat(context.Background(), chatID, mustEvent(t, domain.EventReceiveMessage, nil))
	}

	assert.Len(t, drain(t, slow), 1)
	assert.Len(t, drain(t, fast), 3)
}

// busBroker - общая шина в памяти, имитирует Redis Pub/Sub для нескольких инстансов
type busBroker struct {
	mu   sync.Mutex
	subs []chan Delivery
}

func (b *busBroker) Publish(_ context.Context, d Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		ch <- d
	}
	return nil
}

func (b *busBroker) Subscribe(ctx context.Context, deliver func(Delivery)) error {
	ch := make(chan Delivery, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-ch:
			deliver(d)
		}
	}
}

func (b *busBroker) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func TestHub_BroadcastAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &busBroker{}
	hubA := NewHub(bus, logger.Nop())
	hubB := NewHub(bus, logger.Nop())
	go hubA.Run(ctx)
	go hubB.Run(ctx)
	require.Eventually(t, func() bool { return bus.subscribers() == 2 }, time.Second, 5*time.Millisecond)

	chatID := uuid.New()
	onA := newTestClient(hubA, uuid.New(), 8)
	onB := newTestClient(hubB, uuid.New(), 8)
	hubA.Join(onA, ChatRoom(chatID))
	hubB.Join(onB, ChatRoom(chatID))

	hubA.ToChat(ctx, chatID, mustEvent(t, domain.EventReceiveMessage, domain.ReceiveMessagePayload{ChatID: chatID}))

	var gotA, gotB []domain.Event
	require.Eventually(t, func() bool {
		gotA = append(gotA, drain(t, onA)...)
		gotB = append(gotB, drain(t, onB)...)
		return len(gotA) == 1 && len(gotB) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.EventReceiveMessage, gotB[0].Name)
}

func TestDelivery_RoundTrip(t *testing.T) {
	userID := uuid.New()
	d := Delivery{Room: PersonalRoom(userID), ExceptUser: userID, Event: mustEvent(t, domain.EventMessagesRead, domain.MessagesReadPayload{Count: 2})}

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var back Delivery
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d.Room, back.Room)
	assert.Equal(t, userID, back.ExceptUser)

	var payload domain.MessagesReadPayload
	require.NoError(t, back.Event.Decode(&payload))
	assert.Equal(t, 2, payload.Count)
}
