package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"estate_chat/internal/domain"
	"estate_chat/pkg/logger"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	defaultWriteWait         = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("chatclient: not connected")
	ErrClosed       = errors.New("chatclient: connection closed")
)

// Handler получает события в порядке их прихода по соединению
type Handler func(ev domain.Event)

// Socket - то, что комнатам и представлениям чата нужно от соединения
type Socket interface {
	Emit(name string, payload any) error
	On(name string, fn Handler) (off func())
	OnStateChange(fn func(connected bool)) (off func())
}

type ConnOptions struct {
	// URL эндпоинта, например ws://host/ws
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	WriteWait         time.Duration
	Dialer            *websocket.Dialer
	Logger            logger.Logger
}

type listener struct {
	id int
	fn Handler
}

type stateListener struct {
	id int
	fn func(bool)
}

// Conn - одно долгоживущее соединение клиента с сервером.
// После обрыва делает ограниченное число попыток переподключения, затем остается отключенным до явного Connect.
type Conn struct {
	opts     ConnOptions
	sessions SessionProvider
	log      logger.Logger

	dialMu sync.Mutex

	mu        sync.RWMutex
	ws        *websocket.Conn
	closed    bool
	stop      chan struct{}
	nextID    int
	listeners map[string][]listener
	states    []stateListener

	writeMu sync.Mutex
}

func NewConn(sessions SessionProvider, opts ConnOptions) *Conn {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	return &Conn{
		opts:      opts,
		sessions:  sessions,
		log:       opts.Logger,
		stop:      make(chan struct{}),
		listeners: make(map[string][]listener),
	}
}

// Connect устанавливает соединение. Без сессии соединение не открывается.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return c.dial(ctx)
}

func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ws != nil
}

func (c *Conn) dial(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.Connected() {
		return nil
	}

	session := c.sessions.Session()
	if session == nil || session.Token == "" {
		return ErrNoSession
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+session.Token)

	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("chatclient: dial %s: status %d: %w", c.opts.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("chatclient: dial %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.mu.Unlock()

	c.log.Info("Connected", "url", c.opts.URL, "user_id", session.UserID)
	c.notifyState(true)

	go c.readLoop(ws)
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Connection lost", "error", err)
			}
			break
		}

		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("Invalid event from server", "error", err)
			continue
		}
		c.dispatch(ev)
	}

	c.mu.Lock()
	current := c.ws == ws
	if current {
		c.ws = nil
	}
	closed := c.closed
	c.mu.Unlock()

	ws.Close()

	if !current || closed {
		return
	}

	c.notifyState(false)
	c.reconnect()
}

func (c *Conn) reconnect() {
	if c.opts.ReconnectAttempts <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// первая попытка тоже выполняется после паузы
	select {
	case <-time.After(c.opts.ReconnectDelay):
	case <-ctx.Done():
		return
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.ReconnectDelay), uint64(c.opts.ReconnectAttempts-1)),
		ctx,
	)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := c.dial(ctx)
		if errors.Is(err, ErrNoSession) || errors.Is(err, ErrClosed) {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.log.Warn("Reconnect attempt failed", "attempt", attempt, "error", err)
		}
		return err
	}, policy)

	if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		c.log.Error("Reconnect gave up", "attempts", attempt, "error", err)
	}
}

// Emit отправляет событие. Пока соединения нет, возвращает ErrNotConnected.
func (c *Conn) Emit(name string, payload any) error {
	ev, err := domain.NewEvent(name, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("chatclient: marshal %s: %w", name, err)
	}

	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return fmt.Errorf("chatclient: emit %s: %w", name, err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("chatclient: emit %s: %w", name, err)
	}
	return nil
}

// On подписывает fn на событие. Возвращенная функция снимает подписку, повторный вызов безопасен.
func (c *Conn) On(name string, fn Handler) (off func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[name] = append(c.listeners[name], listener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		ls := c.listeners[name]
		for i, l := range ls {
			if l.id == id {
				c.listeners[name] = append(ls[:i:i], ls[i+1:]...)
				break
			}
		}
		if len(c.listeners[name]) == 0 {
			delete(c.listeners, name)
		}
	}
}

func (c *Conn) OnStateChange(fn func(connected bool)) (off func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.states = append(c.states, stateListener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		for i, l := range c.states {
			if l.id == id {
				c.states = append(c.states[:i:i], c.states[i+1:]...)
				break
			}
		}
	}
}

// ListenerCount - число активных подписок на событие
func (c *Conn) ListenerCount(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners[name])
}

func (c *Conn) dispatch(ev domain.Event) {
	c.mu.RLock()
	ls := make([]listener, len(c.listeners[ev.Name]))
	copy(ls, c.listeners[ev.Name])
	c.mu.RUnlock()

	for _, l := range ls {
		l.fn(ev)
	}
}

func (c *Conn) notifyState(connected bool) {
	c.mu.RLock()
	ls := make([]stateListener, len(c.states))
	copy(ls, c.states)
	c.mu.RUnlock()

	for _, l := range ls {
		l.fn(connected)
	}
}

// Close закрывает соединение окончательно: переподключения больше не будет
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := ws.Close()
	c.notifyState(false)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("chatclient: close: %w", err)
	}
	return nil
}
