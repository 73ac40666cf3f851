// Package chatclient - клиентская сторона чатов: REST API, постоянное соединение,
// подписки на комнаты и лента открытого чата с оптимистичной отправкой.
package chatclient

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"estate_chat/pkg/logger"
)

type Config struct {
	// Адрес REST API, например http://host:8080
	BaseURL string
	// Адрес WebSocket, например ws://host:8080/ws
	WSURL string

	ReconnectAttempts int
	HTTPClient        *http.Client
	Logger            logger.Logger
}

// Client связывает API, соединение и комнаты одного пользователя
type Client struct {
	API   *API
	Conn  *Conn
	Rooms *Rooms

	sessions SessionProvider
	log      logger.Logger

	mu              sync.Mutex
	releasePersonal func()
}

func New(cfg Config, sessions SessionProvider) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}

	conn := NewConn(sessions, ConnOptions{
		URL:               cfg.WSURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		Logger:            cfg.Logger,
	})

	return &Client{
		API:      NewAPI(cfg.BaseURL, sessions, cfg.HTTPClient),
		Conn:     conn,
		Rooms:    NewRooms(conn, cfg.Logger),
		sessions: sessions,
		log:      cfg.Logger,
	}
}

// Start подключается и подписывается на личную комнату пользователя
func (c *Client) Start(ctx context.Context) error {
	session := c.sessions.Session()
	if session == nil || session.Token == "" {
		return ErrNoSession
	}

	if err := c.Conn.Connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.releasePersonal == nil {
		c.releasePersonal = c.Rooms.JoinPersonal(session.UserID)
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) OpenChat(ctx context.Context, chatID uuid.UUID, opts ViewOptions) (*View, error) {
	if opts.Logger == nil {
		opts.Logger = c.log
	}
	return OpenView(ctx, chatID, ViewDeps{
		Sessions: c.sessions,
		API:      c.API,
		Socket:   c.Conn,
		Rooms:    c.Rooms,
	}, opts)
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.releasePersonal != nil {
		c.releasePersonal()
		c.releasePersonal = nil
	}
	c.mu.Unlock()

	c.Rooms.Close()
	return c.Conn.Close()
}
