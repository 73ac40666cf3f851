package chatclient

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"estate_chat/internal/domain"
	"estate_chat/pkg/logger"
)

const DefaultTypingTimeout = 2 * time.Second

type Timer interface {
	Stop() bool
}

// Clock подменяется в тестах
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

var SystemClock Clock = systemClock{}

type typingKey struct {
	chatID uuid.UUID
	userID uuid.UUID
}

type typingEntry struct {
	timer Timer
	gen   uint64
}

// Typing хранит, кто сейчас печатает. Индикатор гаснет сам через timeout после последнего сигнала.
// Сигналы от self игнорируются на всех устройствах пользователя.
type Typing struct {
	self     uuid.UUID
	timeout  time.Duration
	clock    Clock
	onChange func(chatID uuid.UUID)

	mu     sync.Mutex
	gen    uint64
	active map[typingKey]typingEntry
}

func NewTyping(self uuid.UUID, timeout time.Duration, clock Clock, onChange func(chatID uuid.UUID)) *Typing {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if clock == nil {
		clock = SystemClock
	}
	if onChange == nil {
		onChange = func(uuid.UUID) {}
	}
	return &Typing{
		self:     self,
		timeout:  timeout,
		clock:    clock,
		onChange: onChange,
		active:   make(map[typingKey]typingEntry),
	}
}

func (t *Typing) Start(chatID, userID uuid.UUID) {
	if userID == t.self {
		return
	}

	key := typingKey{chatID: chatID, userID: userID}

	t.mu.Lock()
	prev, existed := t.active[key]
	if existed {
		prev.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.active[key] = typingEntry{
		gen:   gen,
		timer: t.clock.AfterFunc(t.timeout, func() { t.expire(key, gen) }),
	}
	t.mu.Unlock()

	if !existed {
		t.onChange(chatID)
	}
}

func (t *Typing) Stop(chatID, userID uuid.UUID) {
	key := typingKey{chatID: chatID, userID: userID}

	t.mu.Lock()
	e, ok := t.active[key]
	if ok {
		e.timer.Stop()
		delete(t.active, key)
	}
	t.mu.Unlock()

	if ok {
		t.onChange(chatID)
	}
}

func (t *Typing) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	e, ok := t.active[key]
	// таймер мог сработать уже после перезапуска
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	t.mu.Unlock()

	t.onChange(key.chatID)
}

// Active возвращает печатающих в чате пользователей в стабильном порядке
func (t *Typing) Active(chatID uuid.UUID) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var users []uuid.UUID
	for key := range t.active {
		if key.chatID == chatID {
			users = append(users, key.userID)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return bytes.Compare(users[i][:], users[j][:]) < 0
	})
	return users
}

func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, e := range t.active {
		e.timer.Stop()
		delete(t.active, key)
	}
}

// Typist - исходящая сторона индикатора для одного чата.
// Повторяет typing не реже чем раз в половину timeout, stop_typing шлет после паузы во вводе.
type Typist struct {
	socket  Socket
	chatID  uuid.UUID
	timeout time.Duration
	clock   Clock
	log     logger.Logger

	mu       sync.Mutex
	typing   bool
	lastSent time.Time
	idle     Timer
	gen      uint64
}

func NewTypist(socket Socket, chatID uuid.UUID, timeout time.Duration, clock Clock, log logger.Logger) *Typist {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Typist{
		socket:  socket,
		chatID:  chatID,
		timeout: timeout,
		clock:   clock,
		log:     log,
	}
}

// Keystroke вызывается на каждый ввод в поле сообщения
func (t *Typist) Keystroke() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if !t.typing || now.Sub(t.lastSent) >= t.timeout/2 {
		t.emit(domain.EventTyping)
		t.typing = true
		t.lastSent = now
	}

	if t.idle != nil {
		t.idle.Stop()
	}
	t.gen++
	gen := t.gen
	t.idle = t.clock.AfterFunc(t.timeout, func() { t.expire(gen) })
}

func (t *Typist) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen || !t.typing {
		return
	}
	t.typing = false
	t.emit(domain.EventStopTyping)
}

// Stop немедленно гасит индикатор, например после отправки сообщения
func (t *Typist) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
	t.gen++
	if t.typing {
		t.typing = false
		t.emit(domain.EventStopTyping)
	}
}

func (t *Typist) emit(name string) {
	if err := t.socket.Emit(name, domain.ChatRef{ChatID: t.chatID}); err != nil {
		t.log.Debug("Typing signal not sent", "event", name, "error", err)
	}
}
