package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ConnStatus reports transport connectivity. *nats.Conn satisfies it.
type ConnStatus interface {
	IsConnected() bool
}

type HealthStatus struct {
	Healthy              bool     `json:"healthy"`
	NATSConnected        bool     `json:"nats_connected"`
	ControllerResponsive bool     `json:"controller_responsive"`
	Role                 string   `json:"role,omitempty"`
	Binding              string   `json:"binding,omitempty"`
	Connections          int      `json:"connections"`
	Errors               []string `json:"errors"`
}

// HealthChecker checks the transport and that the controller loop still answers.
type HealthChecker struct {
	mob         MobController
	conn        ConnStatus
	connections *ConnectionManager
	timeout     time.Duration
}

func NewHealthChecker(mob MobController, conn ConnStatus, connections *ConnectionManager) *HealthChecker {
	return &HealthChecker{
		mob:         mob,
		conn:        conn,
		connections: connections,
		timeout:     time.Second,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:     true,
		Connections: h.connections.Count(),
		Errors:      []string{},
	}

	// Check NATS connection
	if h.conn != nil {
		status.NATSConnected = h.conn.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	view, err := h.mob.State(ctx)
	if err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("controller did not answer: %v", err))
	} else {
		status.ControllerResponsive = true
		status.Role = string(view.Role)
		status.Binding = string(view.Binding)
	}

	return status
}

// HandleHealth handles GET /health
func (h *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode health response")
	}
}
