package chatclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"estate_chat/internal/domain"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock срабатывает только на Advance
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

type fakeSocket struct {
	mu        sync.Mutex
	connected bool
	emitted   []domain.Event
	nextID    int
	listeners map[string]map[int]Handler
	states    map[int]func(bool)
}

func newFakeSocket(connected bool) *fakeSocket {
	return &fakeSocket{
		connected: connected,
		listeners: make(map[string]map[int]Handler),
		states:    make(map[int]func(bool)),
	}
}

func (s *fakeSocket) Emit(name string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	ev, err := domain.NewEvent(name, payload)
	if err != nil {
		return err
	}
	s.emitted = append(s.emitted, ev)
	return nil
}

func (s *fakeSocket) On(name string, fn Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	if s.listeners[name] == nil {
		s.listeners[name] = make(map[int]Handler)
	}
	s.listeners[name][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[name], id)
	}
}

func (s *fakeSocket) OnStateChange(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.states[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.states, id)
	}
}

func (s *fakeSocket) fire(t *testing.T, name string, payload any) {
	t.Helper()
	ev, err := domain.NewEvent(name, payload)
	require.NoError(t, err)

	s.mu.Lock()
	var fns []Handler
	for _, fn := range s.listeners[name] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (s *fakeSocket) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	var fns []func(bool)
	for _, fn := range s.states {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (s *fakeSocket) events(name string) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.emitted {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (s *fakeSocket) subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.states)
	for _, ls := range s.listeners {
		n += len(ls)
	}
	return n
}

// fakeAPI хранит один чат в памяти и ведет себя как сервер для участника self
type fakeAPI struct {
	mu       sync.Mutex
	self     uuid.UUID
	chat     *domain.Chat
	clock    Clock
	getErr   error
	sendErr  error
	sendGate chan struct{}
	// getGate задерживает ответ GetChat уже после снятия снимка
	getGate    chan struct{}
	getStarted chan struct{}

	getCalls  int
	sendCalls int
	markReads int
}

func (a *fakeAPI) GetChat(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error) {
	chat, err := a.snapshot(chatID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	gate, started := a.getGate, a.getStarted
	a.mu.Unlock()
	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return chat, nil
}

func (a *fakeAPI) snapshot(chatID uuid.UUID) (*domain.Chat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.getCalls++
	if a.getErr != nil {
		return nil, a.getErr
	}
	if a.chat == nil || a.chat.ID != chatID {
		return nil, &APIError{Status: 404, Message: "chat not found"}
	}

	out := *a.chat
	out.Messages = make([]*domain.Message, len(a.chat.Messages))
	for i, m := range a.chat.Messages {
		cp := *m
		out.Messages[i] = &cp
	}
	return &out, nil
}

func (a *fakeAPI) SendMessage(ctx context.Context, chatID uuid.UUID, content, clientID string) (*domain.Message, error) {
	if a.sendGate != nil {
		select {
		case <-a.sendGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendCalls++
	if a.sendErr != nil {
		return nil, a.sendErr
	}

	msg := &domain.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  a.self,
		Content:   content,
		ClientID:  clientID,
		CreatedAt: a.clock.Now(),
	}
	cp := *msg
	a.chat.Messages = append(a.chat.Messages, &cp)
	return msg, nil
}

func (a *fakeAPI) MarkRead(_ context.Context, _ uuid.UUID) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markReads++

	n := 0
	for _, m := range a.chat.Messages {
		if m.SenderID != a.self && !m.Read {
			m.Read = true
			n++
		}
	}
	a.chat.UnreadCount = 0
	return n, nil
}

func (a *fakeAPI) addIncoming(sender uuid.UUID, content string, at time.Time) *domain.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	msg := &domain.Message{
		ID:        uuid.New(),
		ChatID:    a.chat.ID,
		SenderID:  sender,
		Content:   content,
		CreatedAt: at,
	}
	cp := *msg
	a.chat.Messages = append(a.chat.Messages, &cp)
	a.chat.UnreadCount++
	return msg
}

func (a *fakeAPI) counts() (get, send, read int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getCalls, a.sendCalls, a.markReads
}
