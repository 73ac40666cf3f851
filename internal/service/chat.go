package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"estate_chat/internal/config"
	"estate_chat/internal/domain"
	"estate_chat/internal/repository"
	apperrors "estate_chat/pkg/errors"
	"estate_chat/pkg/logger"
)

const maxClientIDLength = 64

// Broadcaster - канал реального времени. Ошибки доставки не возвращаются:
// источник истины - база, канал только ускоряет обновление.
type Broadcaster interface {
	ToChat(ctx context.Context, chatID uuid.UUID, ev domain.Event)
	ToUser(ctx context.Context, userID uuid.UUID, ev domain.Event)
}

type ChatService interface {
	// CreateChat идемпотентен по паре участников и объявлению.
	// created=false, если чат уже существовал.
	CreateChat(ctx context.Context, initiatorID, participantID, listingID uuid.UUID) (chat *domain.Chat, created bool, err error)
	ListChats(ctx context.Context, userID uuid.UUID, page, limit int) (*domain.ChatPage, error)
	GetChat(ctx context.Context, chatID, userID uuid.UUID) (*domain.Chat, error)
	SendMessage(ctx context.Context, chatID, senderID uuid.UUID, content, clientID string) (*domain.Message, error)
	MarkRead(ctx context.Context, chatID, readerID uuid.UUID) (int, error)
	DeleteChat(ctx context.Context, chatID, userID uuid.UUID) error
	TotalUnread(ctx context.Context, userID uuid.UUID) (int, error)
	IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
}

type chatService struct {
	chatRepo    repository.ChatRepository
	listingRepo repository.ListingRepository
	userRepo    repository.UserRepository
	audit       ChatAudit
	broadcaster Broadcaster
	cfg         config.ChatConfig
	creates     singleflight.Group
	log         logger.Logger
}

func NewChatService(
	chatRepo repository.ChatRepository,
	listingRepo repository.ListingRepository,
	userRepo repository.UserRepository,
	audit ChatAudit,
	broadcaster Broadcaster,
	cfg config.ChatConfig,
	log logger.Logger,
) ChatService {
	return &chatService{
		chatRepo:    chatRepo,
		listingRepo: listingRepo,
		userRepo:    userRepo,
		audit:       audit,
		broadcaster: broadcaster,
		cfg:         cfg,
		log:         log,
	}
}

type createResult struct {
	chatID  uuid.UUID
	created bool
}

func (s *chatService) CreateChat(ctx context.Context, initiatorID, participantID, listingID uuid.UUID) (*domain.Chat, bool, error) {
	if initiatorID == participantID {
		return nil, false, apperrors.ErrSelfChat
	}

	if _, err := s.listingRepo.GetSummary(ctx, listingID); err != nil {
		return nil, false, err
	}
	if _, err := s.userRepo.GetByID(ctx, participantID); err != nil {
		return nil, false, err
	}

	a, b := domain.OrderedPair(initiatorID, participantID)
	key := fmt.Sprintf("%s:%s:%s", a, b, listingID)

	// одновременные запросы на один и тот же чат выполняют одну вставку;
	// созданным чат считает только тот вызов, который ее выполнил
	executed := false
	v, err, _ := s.creates.Do(key, func() (interface{}, error) {
		executed = true
		now := time.Now()
		chat := &domain.Chat{
			ID:             uuid.New(),
			ListingID:      listingID,
			ParticipantIDs: []uuid.UUID{initiatorID, participantID},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		created, err := s.chatRepo.CreateOrGet(ctx, chat)
		if err != nil {
			return nil, err
		}
		return createResult{chatID: chat.ID, created: created}, nil
	})
	if err != nil {
		s.log.Error("Failed to create chat", "error", err, "listing_id", listingID)
		return nil, false, err
	}
	res := v.(createResult)
	res.created = res.created && executed

	if !res.created {
		// повторное создание возвращает чат в список инициатора, если он его скрыл
		if err := s.chatRepo.Unhide(ctx, res.chatID, initiatorID); err != nil {
			return nil, false, err
		}
	}

	chat, err := s.chatRepo.GetForUser(ctx, res.chatID, initiatorID)
	if err != nil {
		return nil, false, err
	}

	if res.created {
		s.audit.ChatCreated(ctx, chat, initiatorID)
		s.emitToUser(ctx, participantID, domain.EventChatUpdated, domain.ChatUpdatedPayload{
			ChatID: chat.ID,
			Type:   domain.ChatUpdateNewChat,
			Chat:   chat,
		})
		s.log.Info("Chat created", "chat_id", chat.ID, "listing_id", listingID)
	}

	return chat, res.created, nil
}

func (s *chatService) ListChats(ctx context.Context, userID uuid.UUID, page, limit int) (*domain.ChatPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	chats, total, err := s.chatRepo.ListForUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}

	return &domain.ChatPage{
		Items: chats,
		Page:  page,
		Limit: limit,
		Total: total,
	}, nil
}

func (s *chatService) GetChat(ctx context.Context, chatID, userID uuid.UUID) (*domain.Chat, error) {
	chat, err := s.chatRepo.GetForUser(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	messages, err := s.chatRepo.GetMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	chat.Messages = messages
	return chat, nil
}

func (s *chatService) SendMessage(ctx context.Context, chatID, senderID uuid.UUID, content, clientID string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxMessageLength {
		return nil, apperrors.ErrMessageTooLong
	}
	if len(clientID) > maxClientIDLength {
		return nil, fmt.Errorf("client_id is too long: %w", apperrors.ErrBadRequest)
	}

	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(senderID) {
		return nil, apperrors.ErrNotParticipant
	}

	message := &domain.Message{
		ID:       uuid.New(),
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
		ClientID: clientID,
	}
	// без успешной записи ничего не рассылаем
	if err := s.chatRepo.CreateMessage(ctx, message); err != nil {
		return nil, err
	}

	s.emitToChat(ctx, chatID, domain.EventReceiveMessage, domain.ReceiveMessagePayload{
		ChatID:  chatID,
		Message: message,
	})

	for _, userID := range chat.ParticipantIDs {
		s.notifyNewMessage(ctx, chatID, userID, message)
	}

	return message, nil
}

// notifyNewMessage обновляет счетчик и снимок последнего сообщения в личной комнате участника
func (s *chatService) notifyNewMessage(ctx context.Context, chatID, userID uuid.UUID, message *domain.Message) {
	unread, err := s.chatRepo.UnreadCount(ctx, chatID, userID)
	if err != nil {
		s.log.Warn("Failed to count unread for notification", "error", err, "chat_id", chatID, "user_id", userID)
		return
	}

	s.emitToUser(ctx, userID, domain.EventChatUpdated, domain.ChatUpdatedPayload{
		ChatID:      chatID,
		Type:        domain.ChatUpdateNewMessage,
		UnreadCount: &unread,
		LastMessage: message.Snapshot(),
	})
}

func (s *chatService) MarkRead(ctx context.Context, chatID, readerID uuid.UUID) (int, error) {
	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if !chat.HasParticipant(readerID) {
		return 0, apperrors.ErrNotParticipant
	}

	count, err := s.chatRepo.MarkRead(ctx, chatID, readerID)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	reader := readerID
	s.emitToChat(ctx, chatID, domain.EventChatUpdated, domain.ChatUpdatedPayload{
		ChatID:   chatID,
		Type:     domain.ChatUpdateReadStatus,
		ReaderID: &reader,
	})
	s.emitToUser(ctx, readerID, domain.EventMessagesRead, domain.MessagesReadPayload{
		ChatID: chatID,
		Count:  count,
	})

	return count, nil
}

func (s *chatService) DeleteChat(ctx context.Context, chatID, userID uuid.UUID) error {
	purged, err := s.chatRepo.Hide(ctx, chatID, userID)
	if err != nil {
		return err
	}

	s.audit.ChatHidden(ctx, chatID, userID, purged)

	// остальные устройства пользователя убирают чат из списка
	s.emitToUser(ctx, userID, domain.EventChatUpdated, domain.ChatUpdatedPayload{
		ChatID: chatID,
		Type:   domain.ChatUpdateDeleted,
	})

	s.log.Info("Chat hidden", "chat_id", chatID, "user_id", userID, "purged", purged)
	return nil
}

func (s *chatService) TotalUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.chatRepo.TotalUnread(ctx, userID)
}

func (s *chatService) IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, apperrors.ErrChatNotFound) {
			return false, nil
		}
		return false, err
	}
	return chat.HasParticipant(userID), nil
}

func (s *chatService) emitToChat(ctx context.Context, chatID uuid.UUID, name string, payload any) {
	ev, err := domain.NewEvent(name, payload)
	if err != nil {
		s.log.Error("Failed to build event", "error", err, "event", name)
		return
	}
	s.broadcaster.ToChat(ctx, chatID, ev)
}

func (s *chatService) emitToUser(ctx context.Context, userID uuid.UUID, name string, payload any) {
	ev, err := domain.NewEvent(name, payload)
	if err != nil {
		s.log.Error("Failed to build event", "error", err, "event", name)
		return
	}
	s.broadcaster.ToUser(ctx, userID, ev)
}
