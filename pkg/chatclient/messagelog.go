package chatclient

import (
	"time"

	"github.com/google/uuid"

	"estate_chat/internal/domain"
)

// DeliveryState - состояние исходящего сообщения: Pending -> Confirmed или Pending -> Failed
type DeliveryState int

const (
	Confirmed DeliveryState = iota
	Pending
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return "confirmed"
	}
}

type Entry struct {
	Message domain.Message
	State   DeliveryState
	// Причина, если State == Failed
	Err error
}

// MessageLog - упорядоченная лента сообщений одного чата без дублей.
// Не потокобезопасен, синхронизацию обеспечивает владелец.
type MessageLog struct {
	self    uuid.UUID
	entries []*Entry
}

func NewMessageLog(self uuid.UUID) *MessageLog {
	return &MessageLog{self: self}
}

// Reset заменяет подтвержденную часть ленты серверной копией.
// Подтвержденные записи, которых нет в копии, остаются: сообщения не удаляются,
// значит снимок был сделан раньше, чем они пришли по соединению.
// Неподтвержденные локальные сообщения, которых нет в копии, остаются в конце.
func (l *MessageLog) Reset(messages []*domain.Message) {
	read := make(map[uuid.UUID]bool)
	for _, e := range l.entries {
		if e.State == Confirmed && e.Message.Read {
			read[e.Message.ID] = true
		}
	}

	prev := l.entries
	l.entries = make([]*Entry, 0, len(messages)+len(prev))
	inSnapshot := make(map[uuid.UUID]bool, len(messages))
	persisted := make(map[string]bool)
	for _, m := range messages {
		msg := *m
		msg.Read = msg.Read || read[msg.ID]
		l.entries = append(l.entries, &Entry{Message: msg, State: Confirmed})
		inSnapshot[msg.ID] = true
		if msg.ClientID != "" {
			persisted[msg.ClientID] = true
		}
	}

	for _, e := range prev {
		if e.State == Confirmed && !inSnapshot[e.Message.ID] {
			l.insert(e)
		}
	}
	for _, e := range prev {
		if e.State != Confirmed && !persisted[e.Message.ClientID] {
			l.entries = append(l.entries, e)
		}
	}
}

// AddPending добавляет оптимистичное сообщение с новым client_id
func (l *MessageLog) AddPending(chatID uuid.UUID, content string, now time.Time) Entry {
	e := &Entry{
		Message: domain.Message{
			ID:        uuid.New(),
			ChatID:    chatID,
			SenderID:  l.self,
			Content:   content,
			ClientID:  uuid.NewString(),
			CreatedAt: now,
		},
		State: Pending,
	}
	l.entries = append(l.entries, e)
	return *e
}

// Apply вносит подтвержденное сообщение: ответ на отправку или рассылку из комнаты.
// Подтвержденные записи упорядочены по CreatedAt. Возвращает true, если в ленте появилась новая запись.
func (l *MessageLog) Apply(m *domain.Message) bool {
	if i := l.match(m); i >= 0 {
		e := l.entries[i]
		msg := *m
		msg.Read = msg.Read || e.Message.Read
		if msg.ClientID == "" {
			msg.ClientID = e.Message.ClientID
		}
		e.Message = msg
		e.State = Confirmed
		e.Err = nil
		if !l.inOrder(i) {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			l.insert(e)
		}
		return false
	}

	l.insert(&Entry{Message: *m, State: Confirmed})
	return true
}

// inOrder: запись i не нарушает порядок подтвержденных по времени создания
func (l *MessageLog) inOrder(i int) bool {
	at := l.entries[i].Message.CreatedAt
	for j, o := range l.entries {
		if j == i || o.State != Confirmed {
			continue
		}
		if j < i && o.Message.CreatedAt.After(at) {
			return false
		}
		if j > i && o.Message.CreatedAt.Before(at) {
			return false
		}
	}
	return true
}

// insert ставит запись сразу после последней подтвержденной, созданной не позже нее
func (l *MessageLog) insert(e *Entry) {
	pos := 0
	for j, o := range l.entries {
		if o.State == Confirmed && !o.Message.CreatedAt.After(e.Message.CreatedAt) {
			pos = j + 1
		}
	}
	l.entries = append(l.entries, nil)
	copy(l.entries[pos+1:], l.entries[pos:])
	l.entries[pos] = e
}

func (l *MessageLog) match(m *domain.Message) int {
	for i, e := range l.entries {
		if e.State == Confirmed && e.Message.ID == m.ID {
			return i
		}
	}

	if m.ClientID != "" {
		for i, e := range l.entries {
			if e.Message.ClientID == m.ClientID && e.Message.SenderID == m.SenderID {
				return i
			}
		}
		return -1
	}

	// сервер без client_id: совпадение по отправителю, тексту и времени с точностью до миллисекунды
	for i, e := range l.entries {
		if e.State == Pending &&
			e.Message.SenderID == m.SenderID &&
			e.Message.Content == m.Content &&
			e.Message.CreatedAt.UnixMilli() == m.CreatedAt.UnixMilli() {
			return i
		}
	}
	return -1
}

func (l *MessageLog) find(clientID string) *Entry {
	if clientID == "" {
		return nil
	}
	for _, e := range l.entries {
		if e.State != Confirmed && e.Message.ClientID == clientID {
			return e
		}
	}
	return nil
}

// Fail переводит ожидающее сообщение в Failed
func (l *MessageLog) Fail(clientID string, err error) bool {
	e := l.find(clientID)
	if e == nil || e.State != Pending {
		return false
	}
	e.State = Failed
	e.Err = err
	return true
}

// Retry возвращает неотправленное сообщение в Pending для повторной отправки
func (l *MessageLog) Retry(clientID string) (Entry, bool) {
	e := l.find(clientID)
	if e == nil || e.State != Failed {
		return Entry{}, false
	}
	e.State = Pending
	e.Err = nil
	return *e, true
}

// Discard удаляет неотправленное сообщение из ленты
func (l *MessageLog) Discard(clientID string) bool {
	for i, e := range l.entries {
		if e.State == Failed && e.Message.ClientID == clientID {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// MarkSentRead отмечает прочитанными свои подтвержденные сообщения (собеседник открыл чат)
func (l *MessageLog) MarkSentRead() int {
	return l.markRead(func(e *Entry) bool { return e.Message.SenderID == l.self })
}

// MarkReceivedRead отмечает прочитанными входящие сообщения (мы открыли чат)
func (l *MessageLog) MarkReceivedRead() int {
	return l.markRead(func(e *Entry) bool { return e.Message.SenderID != l.self })
}

func (l *MessageLog) markRead(match func(*Entry) bool) int {
	n := 0
	for _, e := range l.entries {
		if e.State == Confirmed && !e.Message.Read && match(e) {
			e.Message.Read = true
			n++
		}
	}
	return n
}

func (l *MessageLog) Len() int {
	return len(l.entries)
}

func (l *MessageLog) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

type DateGroup struct {
	// Полночь дня в выбранной зоне
	Date    time.Time
	Entries []Entry
}

func (g DateGroup) Label() string {
	return g.Date.Format("2006-01-02")
}

// GroupByDate делит ленту на группы по календарной дате в зоне loc, сохраняя порядок
func GroupByDate(entries []Entry, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.Local
	}

	var groups []DateGroup
	for _, e := range entries {
		y, m, d := e.Message.CreatedAt.In(loc).Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, loc)

		if n := len(groups); n > 0 && groups[n-1].Date.Equal(day) {
			groups[n-1].Entries = append(groups[n-1].Entries, e)
			continue
		}
		groups = append(groups, DateGroup{Date: day, Entries: []Entry{e}})
	}
	return groups
}
