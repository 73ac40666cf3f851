package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"estate_chat/internal/domain"
	"estate_chat/pkg/logger"
)

var (
	ErrViewClosed     = errors.New("chatclient: view closed")
	ErrEmptyMessage   = errors.New("chatclient: message is empty")
	ErrUnknownMessage = errors.New("chatclient: no failed message with this client id")
)

// ChatAPI - операции REST API, нужные открытому чату
type ChatAPI interface {
	GetChat(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error)
	SendMessage(ctx context.Context, chatID uuid.UUID, content, clientID string) (*domain.Message, error)
	MarkRead(ctx context.Context, chatID uuid.UUID) (int, error)
}

type ViewDeps struct {
	Sessions SessionProvider
	API      ChatAPI
	Socket   Socket
	Rooms    *Rooms
}

type ViewOptions struct {
	TypingTimeout  time.Duration
	RequestTimeout time.Duration
	Clock          Clock
	// Зона для группировки по датам, по умолчанию time.Local
	Location *time.Location
	Logger   logger.Logger
	// Вызывается после каждого изменения состояния, вне блокировок
	OnChange func()
}

// View - открытый чат. Все подписки захватываются в OpenView и освобождаются в Close.
// Ответы на запросы, пришедшие после Close, игнорируются.
type View struct {
	chatID uuid.UUID
	self   uuid.UUID
	api    ChatAPI
	opts   ViewOptions
	log    logger.Logger
	typist *Typist
	typing *Typing

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	chat     domain.Chat
	messages *MessageLog
	deleted  bool
	closed   bool
	release  []func()
}

// OpenView загружает чат, подписывается на события комнаты и отмечает входящие прочитанными.
// Если чат не найден, возвращается ошибка, для которой IsNotFound == true.
func OpenView(ctx context.Context, chatID uuid.UUID, deps ViewDeps, opts ViewOptions) (*View, error) {
	session := deps.Sessions.Session()
	if session == nil {
		return nil, ErrNoSession
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.OnChange == nil {
		opts.OnChange = func() {}
	}

	chat, err := deps.API.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	v := &View{
		chatID:   chatID,
		self:     session.UserID,
		api:      deps.API,
		opts:     opts,
		log:      opts.Logger.With("chat_id", chatID),
		messages: NewMessageLog(session.UserID),
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.setChat(chat)
	v.typing = NewTyping(session.UserID, opts.TypingTimeout, opts.Clock, func(id uuid.UUID) {
		if id == chatID {
			v.changed()
		}
	})
	v.typist = NewTypist(deps.Socket, chatID, opts.TypingTimeout, opts.Clock, v.log)

	v.acquire(v.typing.Close)
	v.acquire(v.typist.Stop)
	v.acquire(deps.Socket.On(domain.EventReceiveMessage, v.onReceive))
	v.acquire(deps.Socket.On(domain.EventChatUpdated, v.onChatUpdated))
	v.acquire(deps.Socket.On(domain.EventUserTyping, v.onTyping))
	v.acquire(deps.Socket.On(domain.EventUserStopTyping, v.onStopTyping))
	v.acquire(deps.Socket.On(domain.EventError, v.onError))
	v.acquire(deps.Socket.OnStateChange(v.onState))
	v.acquire(deps.Rooms.JoinChat(chatID))

	// вызывающий мог уйти со страницы, пока шла загрузка
	if err := ctx.Err(); err != nil {
		v.Close()
		return nil, err
	}

	if err := v.markRead(ctx); err != nil {
		v.log.Warn("Failed to mark chat read", "error", err)
	}
	return v, nil
}

func (v *View) acquire(release func()) {
	v.release = append(v.release, release)
}

// Close освобождает комнату и все подписки. Повторный вызов безопасен.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	release := v.release
	v.release = nil
	v.mu.Unlock()

	v.cancel()
	for i := len(release) - 1; i >= 0; i-- {
		release[i]()
	}
}

func (v *View) ChatID() uuid.UUID { return v.chatID }

func (v *View) Chat() domain.Chat {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.chat
}

func (v *View) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.messages.Entries()
}

func (v *View) Groups() []DateGroup {
	return GroupByDate(v.Entries(), v.opts.Location)
}

func (v *View) TypingUsers() []uuid.UUID {
	return v.typing.Active(v.chatID)
}

// Deleted сообщает, что чат удален или больше недоступен пользователю
func (v *View) Deleted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deleted
}

// Keystroke передается из поля ввода
func (v *View) Keystroke() {
	v.typist.Keystroke()
}

// Send добавляет сообщение в ленту сразу и отправляет его на сервер.
// При ошибке сообщение остается в ленте в состоянии Failed, его можно повторить через Retry или убрать через Discard.
func (v *View) Send(ctx context.Context, content string) (clientID string, err error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyMessage
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return "", ErrViewClosed
	}
	entry := v.messages.AddPending(v.chatID, content, v.opts.Clock.Now())
	v.mu.Unlock()

	v.typist.Stop()
	v.changed()

	return entry.Message.ClientID, v.deliver(ctx, entry.Message.ClientID, content)
}

func (v *View) Retry(ctx context.Context, clientID string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	entry, ok := v.messages.Retry(clientID)
	v.mu.Unlock()
	if !ok {
		return ErrUnknownMessage
	}

	v.changed()
	return v.deliver(ctx, clientID, entry.Message.Content)
}

func (v *View) Discard(clientID string) bool {
	v.mu.Lock()
	ok := !v.closed && v.messages.Discard(clientID)
	v.mu.Unlock()

	if ok {
		v.changed()
	}
	return ok
}

func (v *View) deliver(ctx context.Context, clientID, content string) error {
	msg, err := v.api.SendMessage(ctx, v.chatID, content, clientID)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return err
	}
	if err != nil {
		v.messages.Fail(clientID, err)
	} else {
		if msg.ClientID == "" {
			msg.ClientID = clientID
		}
		v.messages.Apply(msg)
		v.chat.LastMessage = msg.Snapshot()
	}
	v.mu.Unlock()

	v.changed()
	if err != nil {
		v.log.Warn("Failed to send message", "client_id", clientID, "error", err)
	}
	return err
}

func (v *View) markRead(ctx context.Context) error {
	if _, err := v.api.MarkRead(ctx, v.chatID); err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.messages.MarkReceivedRead()
	v.chat.UnreadCount = 0
	v.mu.Unlock()

	v.changed()
	return nil
}

func (v *View) background(fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(v.ctx, v.opts.RequestTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// refresh перечитывает чат после переподключения: события за время обрыва потеряны
func (v *View) refresh(ctx context.Context) {
	chat, err := v.api.GetChat(ctx, v.chatID)
	if err != nil {
		if IsNotFound(err) {
			v.mu.Lock()
			v.deleted = true
			v.mu.Unlock()
			v.changed()
			return
		}
		v.log.Warn("Failed to refresh chat", "error", err)
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.setChat(chat)
	unread := v.chat.UnreadCount
	v.mu.Unlock()

	v.changed()

	if unread > 0 {
		if err := v.markRead(ctx); err != nil {
			v.log.Warn("Failed to mark chat read", "error", err)
		}
	}
}

// setChat вызывается под v.mu или до публикации View
func (v *View) setChat(chat *domain.Chat) {
	last := v.chat.LastMessage
	v.messages.Reset(chat.Messages)
	v.chat = *chat
	v.chat.Messages = nil

	// снимок мог устареть относительно уже доставленного сообщения
	if last != nil && (v.chat.LastMessage == nil || last.CreatedAt.After(v.chat.LastMessage.CreatedAt)) {
		v.chat.LastMessage = last
	}
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *View) changed() {
	if !v.isClosed() {
		v.opts.OnChange()
	}
}

func (v *View) onReceive(ev domain.Event) {
	var p domain.ReceiveMessagePayload
	if err := ev.Decode(&p); err != nil || p.Message == nil {
		v.log.Warn("Invalid receive_message event", "error", err)
		return
	}
	if p.ChatID != v.chatID {
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.messages.Apply(p.Message)
	v.chat.LastMessage = p.Message.Snapshot()
	v.mu.Unlock()

	v.typing.Stop(v.chatID, p.Message.SenderID)
	v.changed()

	// открытый чат читается сразу
	if p.Message.SenderID != v.self {
		v.background(func(ctx context.Context) {
			if err := v.markRead(ctx); err != nil && !errors.Is(err, context.Canceled) {
				v.log.Warn("Failed to mark chat read", "error", err)
			}
		})
	}
}

func (v *View) onChatUpdated(ev domain.Event) {
	var p domain.ChatUpdatedPayload
	if err := ev.Decode(&p); err != nil {
		v.log.Warn("Invalid chat_updated event", "error", err)
		return
	}
	if p.ChatID != v.chatID {
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	switch p.Type {
	case domain.ChatUpdateReadStatus:
		if p.ReaderID != nil && *p.ReaderID != v.self {
			v.messages.MarkSentRead()
		}
	case domain.ChatUpdateDeleted:
		v.deleted = true
	case domain.ChatUpdateNewMessage:
		if p.LastMessage != nil {
			v.chat.LastMessage = p.LastMessage
		}
	}
	v.mu.Unlock()

	v.changed()
}

func (v *View) onTyping(ev domain.Event) {
	var p domain.TypingPayload
	if err := ev.Decode(&p); err != nil || p.ChatID != v.chatID {
		return
	}
	v.typing.Start(p.ChatID, p.UserID)
}

func (v *View) onStopTyping(ev domain.Event) {
	var p domain.TypingPayload
	if err := ev.Decode(&p); err != nil || p.ChatID != v.chatID {
		return
	}
	v.typing.Stop(p.ChatID, p.UserID)
}

// onError обрабатывает отказ сервера для send_message, отправленного через соединение
func (v *View) onError(ev domain.Event) {
	var p domain.ErrorPayload
	if err := ev.Decode(&p); err != nil {
		return
	}
	if p.ChatID == nil || *p.ChatID != v.chatID || p.ClientID == "" {
		return
	}

	v.mu.Lock()
	failed := !v.closed && v.messages.Fail(p.ClientID, errors.New(p.Message))
	v.mu.Unlock()

	if failed {
		v.changed()
	}
}

func (v *View) onState(connected bool) {
	if !connected {
		return
	}
	v.background(v.refresh)
}
