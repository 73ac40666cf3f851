package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"estate_chat/internal/domain"
	"estate_chat/pkg/logger"
)

func ChatRoom(chatID uuid.UUID) string {
	return "chat:" + chatID.String()
}

func PersonalRoom(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// Delivery - единица рассылки: событие для всех соединений комнаты,
// кроме соединений пользователя ExceptUser (если задан)
type Delivery struct {
	Room       string       `json:"room"`
	ExceptUser uuid.UUID    `json:"except_user,omitempty"`
	Event      domain.Event `json:"event"`
}

// Broker доставляет рассылки всем инстансам сервера
type Broker interface {
	Publish(ctx context.Context, d Delivery) error
	Subscribe(ctx context.Context, deliver func(Delivery)) error
}

// Hub хранит подписки соединений на комнаты. Подписки живут только в памяти
// процесса и пропадают вместе с соединением.
type Hub struct {
	mu sync.RWMutex
	// room -> соединения
	rooms map[string]map[*Client]struct{}
	// соединение -> room -> число join без парного leave
	memberships map[*Client]map[string]int

	broker Broker
	log    logger.Logger
}

// NewHub создает хаб. С broker == nil рассылка идет только по локальным соединениям.
func NewHub(broker Broker, log logger.Logger) *Hub {
	return &Hub{
		rooms:       make(map[string]map[*Client]struct{}),
		memberships: make(map[*Client]map[string]int),
		broker:      broker,
		log:         log,
	}
}

// Run слушает брокер до отмены ctx
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}
	return h.broker.Subscribe(ctx, h.deliver)
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.memberships[c]; ok {
		return
	}
	h.memberships[c] = make(map[string]int)
	h.log.Debug("Client registered", "conn_id", c.ID(), "user_id", c.UserID())
}

// Unregister удаляет соединение из всех комнат и закрывает его очередь отправки
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms, ok := h.memberships[c]
	if !ok {
		return
	}
	for room := range rooms {
		h.removeFromRoom(c, room)
	}
	delete(h.memberships, c)
	close(c.send)
	h.log.Debug("Client unregistered", "conn_id", c.ID(), "user_id", c.UserID())
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms, ok := h.memberships[c]
	if !ok {
		return
	}
	rooms[room]++
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
}

// Leave снимает один join. Соединение остается в комнате, пока есть другие join.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms, ok := h.memberships[c]
	if !ok || rooms[room] == 0 {
		return
	}
	rooms[room]--
	if rooms[room] == 0 {
		delete(rooms, room)
		h.removeFromRoom(c, room)
	}
}

func (h *Hub) removeFromRoom(c *Client, room string) {
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.memberships)
}

func (h *Hub) ToChat(ctx context.Context, chatID uuid.UUID, ev domain.Event) {
	h.publish(ctx, Delivery{Room: ChatRoom(chatID), Event: ev})
}

func (h *Hub) ToChatExceptUser(ctx context.Context, chatID, userID uuid.UUID, ev domain.Event) {
	h.publish(ctx, Delivery{Room: ChatRoom(chatID), ExceptUser: userID, Event: ev})
}

func (h *Hub) ToUser(ctx context.Context, userID uuid.UUID, ev domain.Event) {
	h.publish(ctx, Delivery{Room: PersonalRoom(userID), Event: ev})
}

// SendTo отправляет событие одному соединению в обход комнат
func (h *Hub) SendTo(c *Client, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("Failed to marshal event", "error", err, "event", ev.Name)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.memberships[c]; ok {
		h.enqueue(c, data, ev.Name)
	}
}

func (h *Hub) publish(ctx context.Context, d Delivery) {
	if h.broker == nil {
		h.deliver(d)
		return
	}
	if err := h.broker.Publish(ctx, d); err != nil {
		// канал реального времени не источник истины: клиент увидит изменения при следующем запросе
		h.log.Error("Failed to publish event", "error", err, "room", d.Room, "event", d.Event.Name)
	}
}

func (h *Hub) deliver(d Delivery) {
	data, err := json.Marshal(d.Event)
	if err != nil {
		h.log.Error("Failed to marshal event", "error", err, "event", d.Event.Name)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[d.Room] {
		if d.ExceptUser != uuid.Nil && c.UserID() == d.ExceptUser {
			continue
		}
		h.enqueue(c, data, d.Event.Name)
	}
}

// enqueue не блокируется: доставка не более одного раза, медленный клиент теряет событие
func (h *Hub) enqueue(c *Client, data []byte, event string) {
	select {
	case c.send <- data:
	default:
		h.log.Warn("Client send buffer full, dropping event", "conn_id", c.ID(), "user_id", c.UserID(), "event", event)
	}
}
