package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// QueueInfo is the part of the queue client health needs.
type QueueInfo interface {
	Backend() string
	Connection() *amqp091.Connection
}

type HealthHandler struct {
	DB         *sql.DB
	Queue      QueueInfo
	CRMEnabled bool
	StartTime  time.Time
	Version    string
}

type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
}

func NewHealthHandler(db *sql.DB, q QueueInfo, crmEnabled bool, version string) *HealthHandler {
	return &HealthHandler{
		DB:         db,
		Queue:      q,
		CRMEnabled: crmEnabled,
		StartTime:  time.Now(),
		Version:    version,
	}
}

func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	deps := make(map[string]string)

	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.DB.PingContext(ctx)
		cancel()
		if err != nil {
			deps["database"] = fmt.Sprintf("unhealthy: %v", err)
		} else {
			deps["database"] = "healthy"
		}
	} else {
		deps["database"] = "not configured"
	}

	if h.Queue != nil {
		backend := h.Queue.Backend()
		deps["queue"] = "healthy"
		if backend == "rabbitmq" {
			if conn := h.Queue.Connection(); conn == nil || conn.IsClosed() {
				deps["queue"] = "unhealthy: connection closed"
			}
		}
		deps["queue_backend"] = backend
	} else {
		deps["queue"] = "not configured"
	}

	if h.CRMEnabled {
		deps["crm"] = "configured"
	} else {
		deps["crm"] = "not configured"
	}

	status := "healthy"
	for k, v := range deps {
		if k == "queue_backend" {
			continue
		}
		if v != "healthy" && v != "configured" && v != "not configured" {
			status = "degraded"
			break
		}
	}

	code := http.StatusOK
	if status == "degraded" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:       status,
		Version:      h.Version,
		Uptime:       time.Since(h.StartTime).Round(time.Second).String(),
		Dependencies: deps,
	})
}
