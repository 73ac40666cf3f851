package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"estate_chat/internal/config"
	"estate_chat/internal/domain"
	apperrors "estate_chat/pkg/errors"
	"estate_chat/pkg/logger"
)

// ChatRelay - то, что диспетчеру нужно от сервиса чатов
type ChatRelay interface {
	IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
	SendMessage(ctx context.Context, chatID, senderID uuid.UUID, content, clientID string) (*domain.Message, error)
}

// Limiter - счетчик частоты запросов, общий с HTTP-middleware
type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int) (bool, error)
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Dispatcher маршрутизирует входящие события соединения
type Dispatcher struct {
	hub     *Hub
	chats   ChatRelay
	limiter Limiter
	limits  config.RateLimitConfig
	log     logger.Logger
}

func NewDispatcher(hub *Hub, chats ChatRelay, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		hub:   hub,
		chats: chats,
		log:   log,
	}
}

// WithRateLimit ограничивает send_message тем же лимитом, что и POST /chats/:id/messages
func (d *Dispatcher) WithRateLimit(limiter Limiter, limits config.RateLimitConfig) *Dispatcher {
	d.limiter = limiter
	d.limits = limits
	return d
}

func (d *Dispatcher) HandleEvent(ctx context.Context, c *Client, ev domain.Event) {
	switch ev.Name {
	case domain.EventJoinChat:
		d.joinChat(ctx, c, ev)
	case domain.EventLeaveChat:
		var ref domain.ChatRef
		if d.decode(c, ev, &ref) {
			d.hub.Leave(c, ChatRoom(ref.ChatID))
		}
	case domain.EventJoinPersonalRoom:
		var ref domain.PersonalRoomRef
		if !d.decode(c, ev, &ref) {
			return
		}
		if ref.UserID != c.UserID() {
			d.log.Warn("Attempt to join foreign personal room", "user_id", c.UserID(), "target_user_id", ref.UserID)
			return
		}
		d.hub.Join(c, PersonalRoom(ref.UserID))
	case domain.EventLeavePersonalRoom:
		var ref domain.PersonalRoomRef
		if d.decode(c, ev, &ref) && ref.UserID == c.UserID() {
			d.hub.Leave(c, PersonalRoom(ref.UserID))
		}
	case domain.EventSendMessage:
		d.sendMessage(ctx, c, ev)
	case domain.EventTyping:
		d.relayTyping(ctx, c, ev, domain.EventUserTyping)
	case domain.EventStopTyping:
		d.relayTyping(ctx, c, ev, domain.EventUserStopTyping)
	default:
		d.log.Debug("Unknown event", "event", ev.Name, "user_id", c.UserID())
	}
}

func (d *Dispatcher) decode(c *Client, ev domain.Event, v any) bool {
	if err := ev.Decode(v); err != nil {
		d.log.Warn("Invalid event payload", "error", err, "user_id", c.UserID())
		return false
	}
	return true
}

func (d *Dispatcher) joinChat(ctx context.Context, c *Client, ev domain.Event) {
	var ref domain.ChatRef
	if !d.decode(c, ev, &ref) {
		return
	}

	ok, err := d.chats.IsParticipant(ctx, ref.ChatID, c.UserID())
	if err != nil {
		d.log.Error("Failed to check chat participant", "error", err, "chat_id", ref.ChatID, "user_id", c.UserID())
		return
	}
	if !ok {
		d.log.Warn("Join chat denied", "chat_id", ref.ChatID, "user_id", c.UserID())
		return
	}

	d.hub.Join(c, ChatRoom(ref.ChatID))
}

func (d *Dispatcher) sendMessage(ctx context.Context, c *Client, ev domain.Event) {
	var p domain.SendMessagePayload
	if !d.decode(c, ev, &p) {
		return
	}

	if !d.allow(ctx, c) {
		d.log.Warn("Send message rate limited", "chat_id", p.ChatID, "user_id", c.UserID())
		d.sendError(c, p, apperrors.ErrRateLimited)
		return
	}

	// рассылку receive_message и chat_updated делает сервис
	_, err := d.chats.SendMessage(ctx, p.ChatID, c.UserID(), p.Content, p.ClientID)
	if err == nil {
		return
	}

	if errors.Is(err, apperrors.ErrNotParticipant) || errors.Is(err, apperrors.ErrChatNotFound) {
		d.log.Warn("Send message denied", "chat_id", p.ChatID, "user_id", c.UserID())
		return
	}

	d.log.Error("Failed to send message", "error", err, "chat_id", p.ChatID, "user_id", c.UserID())
	d.sendError(c, p, err)
}

// sendError отвечает только соединению-отправителю
func (d *Dispatcher) sendError(c *Client, p domain.SendMessagePayload, err error) {
	chatID := p.ChatID
	errEv, mErr := domain.NewEvent(domain.EventError, domain.ErrorPayload{
		Event:    domain.EventSendMessage,
		ChatID:   &chatID,
		ClientID: p.ClientID,
		Message:  clientErrorMessage(err),
	})
	if mErr != nil {
		d.log.Error("Failed to build error event", "error", mErr)
		return
	}
	d.hub.SendTo(c, errEv)
}

func (d *Dispatcher) allow(ctx context.Context, c *Client) bool {
	if d.limiter == nil || d.limits.Requests <= 0 {
		return true
	}

	key := domain.RateLimitKey(domain.RateLimitScopeMessages, domain.RateLimitSubjectUser, c.UserID())
	ok, err := d.limiter.CheckLimit(ctx, key, d.limits.Requests)
	if err != nil {
		// Redis недоступен: не блокируем пользователей
		d.log.Error("Rate limit check failed", "error", err)
		return true
	}
	if !ok {
		return false
	}

	if _, err := d.limiter.Increment(ctx, key, d.limits.Window); err != nil {
		d.log.Error("Rate limit increment failed", "error", err)
	}
	return true
}

func (d *Dispatcher) relayTyping(ctx context.Context, c *Client, ev domain.Event, out string) {
	var ref domain.ChatRef
	if !d.decode(c, ev, &ref) {
		return
	}

	// печатать может только тот, кто уже в комнате чата
	if !d.hub.InRoom(c, ChatRoom(ref.ChatID)) {
		return
	}

	outEv, err := domain.NewEvent(out, domain.TypingPayload{ChatID: ref.ChatID, UserID: c.UserID()})
	if err != nil {
		d.log.Error("Failed to build typing event", "error", err)
		return
	}
	d.hub.ToChatExceptUser(ctx, ref.ChatID, c.UserID(), outEv)
}

func clientErrorMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrEmptyMessage):
		return apperrors.ErrEmptyMessage.Error()
	case errors.Is(err, apperrors.ErrMessageTooLong):
		return apperrors.ErrMessageTooLong.Error()
	case errors.Is(err, apperrors.ErrRateLimited):
		return apperrors.ErrRateLimited.Error()
	default:
		return "failed to send message"
	}
}
