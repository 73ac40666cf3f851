package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"estate_chat/internal/config"
	"estate_chat/internal/domain"
	"estate_chat/internal/middleware"
	"estate_chat/internal/realtime"
	"estate_chat/pkg/logger"
)

type WebSocketHandler struct {
	hub        *realtime.Hub
	dispatcher *realtime.Dispatcher
	upgrader   websocket.Upgrader
	cfg        config.WebSocketConfig
	log        logger.Logger
}

func NewWebSocketHandler(hub *realtime.Hub, dispatcher *realtime.Dispatcher, cfg *config.Config, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:        hub,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.WebSocket.AllowedOrigins),
		},
		cfg: cfg.WebSocket,
		log: log,
	}
}

// checkOrigin пропускает запросы без Origin (не браузер) и из разрешенных источников.
// Пустой список разрешает все.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(a, u.Host) || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Connect поднимает постоянное соединение. Маршрут закрыт RequireAuthWS,
// анонимных соединений нет.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	v, ok := c.Get(middleware.ContextUser)
	if !ok {
		respondMessage(c, http.StatusUnauthorized, "user not authenticated")
		return
	}
	user := v.(*domain.User)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "error", err, "user_id", user.ID)
		return
	}

	client := realtime.NewClient(conn, user.Session(), h.hub, h.dispatcher, h.cfg, h.log)
	client.Serve(c.Request.Context())
}
