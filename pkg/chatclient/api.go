package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"estate_chat/internal/domain"
)

// Session - личность, от имени которой работает клиент
type Session struct {
	UserID      uuid.UUID
	DisplayName string
	Token       string
}

// SessionProvider отдает текущую сессию или nil, если пользователь не вошел
type SessionProvider interface {
	Session() *Session
}

// StaticSession - провайдер с неизменной сессией
type StaticSession struct {
	S *Session
}

func (p StaticSession) Session() *Session { return p.S }

var ErrNoSession = errors.New("chatclient: no authenticated session")

// APIError - ответ сервера с success:false. Транспортные ошибки возвращаются обернутыми, не как APIError.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatclient: %d: %s", e.Status, e.Message)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// API - клиент REST API чатов
type API struct {
	baseURL  string
	sessions SessionProvider
	http     *http.Client
}

func NewAPI(baseURL string, sessions SessionProvider, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{
		baseURL:  strings.TrimRight(baseURL, "/"),
		sessions: sessions,
		http:     httpClient,
	}
}

func (a *API) CreateChat(ctx context.Context, participantID, listingID uuid.UUID) (*domain.Chat, error) {
	body := map[string]uuid.UUID{"participant_id": participantID, "listing_id": listingID}
	var chat domain.Chat
	if err := a.do(ctx, http.MethodPost, "/api/v1/chats", body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (a *API) ListChats(ctx context.Context, page, limit int) (*domain.ChatPage, error) {
	path := "/api/v1/chats?page=" + strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)
	var out domain.ChatPage
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) GetChat(ctx context.Context, chatID uuid.UUID) (*domain.Chat, error) {
	var chat domain.Chat
	if err := a.do(ctx, http.MethodGet, "/api/v1/chats/"+chatID.String(), nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (a *API) SendMessage(ctx context.Context, chatID uuid.UUID, content, clientID string) (*domain.Message, error) {
	body := map[string]string{"content": content, "client_id": clientID}
	var msg domain.Message
	if err := a.do(ctx, http.MethodPost, "/api/v1/chats/"+chatID.String()+"/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) MarkRead(ctx context.Context, chatID uuid.UUID) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := a.do(ctx, http.MethodPut, "/api/v1/chats/"+chatID.String()+"/read", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (a *API) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	return a.do(ctx, http.MethodDelete, "/api/v1/chats/"+chatID.String(), nil, nil)
}

func (a *API) TotalUnread(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/v1/chats/unread", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	session := a.sessions.Session()
	if session == nil || session.Token == "" {
		return ErrNoSession
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("chatclient: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("chatclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+session.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("chatclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("chatclient: %s %s: decode response (status %d): %w", method, path, resp.StatusCode, err)
	}

	if !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("chatclient: %s %s: decode data: %w", method, path, err)
	}
	return nil
}
