package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"estate_chat/internal/config"
	"estate_chat/internal/domain"
	"estate_chat/pkg/logger"
)

// EventHandler обрабатывает входящие события соединения
type EventHandler interface {
	HandleEvent(ctx context.Context, c *Client, ev domain.Event)
}

// Client - одно WebSocket-соединение аутентифицированной сессии
type Client struct {
	id      uuid.UUID
	session *domain.Session
	conn    *websocket.Conn
	send    chan []byte

	hub     *Hub
	handler EventHandler
	cfg     config.WebSocketConfig
	log     logger.Logger
}

func NewClient(conn *websocket.Conn, session *domain.Session, hub *Hub, handler EventHandler, cfg config.WebSocketConfig, log logger.Logger) *Client {
	id := uuid.New()
	return &Client{
		id:      id,
		session: session,
		conn:    conn,
		send:    make(chan []byte, cfg.SendBuffer),
		hub:     hub,
		handler: handler,
		cfg:     cfg,
		log:     log.With("conn_id", id.String(), "user_id", session.UserID.String()),
	}
}

func (c *Client) ID() uuid.UUID {
	return c.id
}

func (c *Client) UserID() uuid.UUID {
	return c.session.UserID
}

func (c *Client) Session() *domain.Session {
	return c.session
}

// Serve блокируется до закрытия соединения
func (c *Client) Serve(ctx context.Context) {
	c.hub.Register(c)
	c.log.Info("Client connected")

	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.log.Info("Client disconnected")
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Unexpected websocket close", "error", err)
			}
			return
		}

		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("Failed to decode event", "error", err)
			continue
		}

		c.handler.HandleEvent(ctx, c, ev)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				// хаб закрыл очередь
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// каждое событие - отдельный фрейм, чтобы клиент парсил JSON по одному
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Failed to write message", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
