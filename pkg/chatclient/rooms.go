package chatclient

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"estate_chat/internal/domain"
	"estate_chat/pkg/logger"
)

// Rooms считает подписки на комнаты на стороне клиента.
// join уходит на сервер при первом захвате, leave при последнем освобождении.
// После переподключения все удерживаемые комнаты запрашиваются заново.
type Rooms struct {
	socket Socket
	log    logger.Logger

	mu       sync.Mutex
	chats    map[uuid.UUID]int
	personal map[uuid.UUID]int
	offState func()
}

func NewRooms(socket Socket, log logger.Logger) *Rooms {
	if log == nil {
		log = logger.Nop()
	}
	r := &Rooms{
		socket:   socket,
		log:      log,
		chats:    make(map[uuid.UUID]int),
		personal: make(map[uuid.UUID]int),
	}
	r.offState = socket.OnStateChange(func(connected bool) {
		if connected {
			r.rejoin()
		}
	})
	return r
}

// JoinChat захватывает комнату чата. release освобождает ровно один захват.
func (r *Rooms) JoinChat(chatID uuid.UUID) (release func()) {
	return r.acquire(r.chats, chatID, domain.EventJoinChat, domain.EventLeaveChat, domain.ChatRef{ChatID: chatID})
}

func (r *Rooms) JoinPersonal(userID uuid.UUID) (release func()) {
	return r.acquire(r.personal, userID, domain.EventJoinPersonalRoom, domain.EventLeavePersonalRoom, domain.PersonalRoomRef{UserID: userID})
}

func (r *Rooms) ChatRefs(chatID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chats[chatID]
}

func (r *Rooms) PersonalRefs(userID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.personal[userID]
}

func (r *Rooms) acquire(set map[uuid.UUID]int, id uuid.UUID, join, leave string, payload any) func() {
	r.mu.Lock()
	set[id]++
	if set[id] == 1 {
		r.emit(join, payload)
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()

			set[id]--
			if set[id] > 0 {
				return
			}
			delete(set, id)
			r.emit(leave, payload)
		})
	}
}

func (r *Rooms) rejoin() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.personal {
		r.emit(domain.EventJoinPersonalRoom, domain.PersonalRoomRef{UserID: id})
	}
	for id := range r.chats {
		r.emit(domain.EventJoinChat, domain.ChatRef{ChatID: id})
	}
}

func (r *Rooms) emit(name string, payload any) {
	err := r.socket.Emit(name, payload)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConnected):
		// повторим после подключения
		r.log.Debug("Room event deferred until connected", "event", name)
	default:
		r.log.Warn("Failed to emit room event", "event", name, "error", err)
	}
}

func (r *Rooms) Close() {
	r.offState()
}
