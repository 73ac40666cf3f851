package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"estate_chat/internal/domain"
	apperrors "estate_chat/pkg/errors"
)

// memChatRepo - ChatRepository в памяти с той же семантикой скрытия и счетчиков, что и в Postgres
type memChatRepo struct {
	mu       sync.Mutex
	chats    map[uuid.UUID]*domain.Chat
	hidden   map[uuid.UUID]map[uuid.UUID]bool
	messages map[uuid.UUID][]*domain.Message
	listings map[uuid.UUID]*domain.ListingSummary

	inserts          int
	createDelay      time.Duration
	createMessageErr error
	clock            time.Time
}

func newMemChatRepo() *memChatRepo {
	return &memChatRepo{
		chats:    make(map[uuid.UUID]*domain.Chat),
		hidden:   make(map[uuid.UUID]map[uuid.UUID]bool),
		messages: make(map[uuid.UUID][]*domain.Message),
		listings: make(map[uuid.UUID]*domain.ListingSummary),
		clock:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (r *memChatRepo) CreateOrGet(_ context.Context, chat *domain.Chat) (bool, error) {
	time.Sleep(r.createDelay)

	r.mu.Lock()
	defer r.mu.Unlock()

	a, b := domain.OrderedPair(chat.ParticipantIDs[0], chat.ParticipantIDs[1])
	for _, existing := range r.chats {
		ea, eb := domain.OrderedPair(existing.ParticipantIDs[0], existing.ParticipantIDs[1])
		if ea == a && eb == b && existing.ListingID == chat.ListingID {
			*chat = *existing
			return false, nil
		}
	}

	r.inserts++
	stored := *chat
	stored.ParticipantIDs = []uuid.UUID{a, b}
	r.chats[chat.ID] = &stored
	r.hidden[chat.ID] = map[uuid.UUID]bool{}
	return true, nil
}

func (r *memChatRepo) GetByID(_ context.Context, chatID uuid.UUID) (*domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[chatID]
	if !ok {
		return nil, apperrors.ErrChatNotFound
	}
	c := *chat
	return &c, nil
}

func (r *memChatRepo) GetForUser(_ context.Context, chatID, userID uuid.UUID) (*domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visibleLocked(chatID, userID)
}

func (r *memChatRepo) visibleLocked(chatID, userID uuid.UUID) (*domain.Chat, error) {
	chat, ok := r.chats[chatID]
	if !ok || !chat.HasParticipant(userID) || r.hidden[chatID][userID] {
		return nil, apperrors.ErrChatNotFound
	}
	c := *chat
	c.Listing = r.listings[chat.ListingID]
	c.UnreadCount = r.unreadLocked(chatID, userID)
	return &c, nil
}

func (r *memChatRepo) ListForUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Chat, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*domain.Chat
	for id := range r.chats {
		if c, err := r.visibleLocked(id, userID); err == nil {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return activity(all[i]).After(activity(all[j])) })

	total := len(all)
	if offset >= total {
		return []*domain.Chat{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func activity(c *domain.Chat) time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

func (r *memChatRepo) Unhide(_ context.Context, chatID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hidden[chatID], userID)
	return nil
}

func (r *memChatRepo) Hide(_ context.Context, chatID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[chatID]
	if !ok || !chat.HasParticipant(userID) || r.hidden[chatID][userID] {
		return false, apperrors.ErrChatNotFound
	}
	r.hidden[chatID][userID] = true

	if len(r.hidden[chatID]) == len(chat.ParticipantIDs) {
		delete(r.chats, chatID)
		delete(r.hidden, chatID)
		delete(r.messages, chatID)
		return true, nil
	}
	return false, nil
}

func (r *memChatRepo) CreateMessage(_ context.Context, message *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createMessageErr != nil {
		return r.createMessageErr
	}
	chat, ok := r.chats[message.ChatID]
	if !ok {
		return apperrors.ErrChatNotFound
	}

	r.clock = r.clock.Add(time.Millisecond)
	message.CreatedAt = r.clock
	stored := *message
	r.messages[message.ChatID] = append(r.messages[message.ChatID], &stored)
	chat.LastMessage = message.Snapshot()
	r.hidden[message.ChatID] = map[uuid.UUID]bool{}
	return nil
}

func (r *memChatRepo) GetMessages(_ context.Context, chatID uuid.UUID) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Message, 0, len(r.messages[chatID]))
	for _, m := range r.messages[chatID] {
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

func (r *memChatRepo) MarkRead(_ context.Context, chatID, readerID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, m := range r.messages[chatID] {
		if m.SenderID != readerID && !m.Read {
			m.Read = true
			count++
		}
	}
	return count, nil
}

func (r *memChatRepo) UnreadCount(_ context.Context, chatID, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unreadLocked(chatID, userID), nil
}

func (r *memChatRepo) unreadLocked(chatID, userID uuid.UUID) int {
	count := 0
	for _, m := range r.messages[chatID] {
		if m.SenderID != userID && !m.Read {
			count++
		}
	}
	return count
}

func (r *memChatRepo) TotalUnread(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for id, chat := range r.chats {
		if chat.HasParticipant(userID) && !r.hidden[id][userID] {
			total += r.unreadLocked(id, userID)
		}
	}
	return total, nil
}

type memListingRepo struct {
	listings map[uuid.UUID]*domain.ListingSummary
}

func (r *memListingRepo) GetSummary(_ context.Context, id uuid.UUID) (*domain.ListingSummary, error) {
	l, ok := r.listings[id]
	if !ok {
		return nil, apperrors.ErrListingNotFound
	}
	return l, nil
}

type memUserRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*domain.User
	byEmail map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		byID:    make(map[uuid.UUID]*domain.User),
		byEmail: make(map[string]*domain.User),
	}
}

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[user.Email]; ok {
		return apperrors.ErrUserAlreadyExists
	}
	u := *user
	r.byID[user.ID] = &u
	r.byEmail[user.Email] = &u
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byEmail[email]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *memUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[user.ID]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	hash := existing.PasswordHash
	u := *user
	if u.PasswordHash == "" {
		u.PasswordHash = hash
	}
	r.byID[user.ID] = &u
	r.byEmail[user.Email] = &u
	return nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
	err     error
}

func (r *memAuditRepo) Append(_ context.Context, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	entry.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memAuditRepo) all() []*domain.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.AuditEntry(nil), r.entries...)
}

func (r *memAuditRepo) types() []string {
	var out []string
	for _, e := range r.all() {
		out = append(out, e.Action)
	}
	return out
}

type sentEvent struct {
	toChat bool
	target uuid.UUID
	event  domain.Event
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *recordingBroadcaster) ToChat(_ context.Context, chatID uuid.UUID, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{toChat: true, target: chatID, event: ev})
}

func (b *recordingBroadcaster) ToUser(_ context.Context, userID uuid.UUID, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{target: userID, event: ev})
}

func (b *recordingBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

func (b *recordingBroadcaster) all() []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentEvent(nil), b.events...)
}

func (b *recordingBroadcaster) forUser(userID uuid.UUID) []sentEvent {
	var out []sentEvent
	for _, e := range b.all() {
		if !e.toChat && e.target == userID {
			out = append(out, e)
		}
	}
	return out
}

func (b *recordingBroadcaster) forChat(chatID uuid.UUID) []sentEvent {
	var out []sentEvent
	for _, e := range b.all() {
		if e.toChat && e.target == chatID {
			out = append(out, e)
		}
	}
	return out
}
