package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger - зависимость, доступность которой проверяет /health (Postgres, Redis)
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc позволяет передать метод клиента, который возвращает не error
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks      map[string]Pinger
	connections func() int
}

func NewHealthHandler(checks map[string]Pinger, connections func() int) *HealthHandler {
	return &HealthHandler{
		checks:      checks,
		connections: connections,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := gin.H{
		"status":       "ok",
		"service":      "estate-chat",
		"dependencies": deps,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.connections != nil {
		body["connections"] = h.connections()
	}

	c.JSON(status, body)
}
