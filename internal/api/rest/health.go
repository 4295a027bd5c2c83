package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/events"
)

// Pinger is anything whose liveness can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// ChannelStatus reports the event channel's connection state.
type ChannelStatus interface {
	Status() events.Status
}

// HealthHandler reports component health. The channel being down does not
// fail the check: the console degrades to last-known projections, so the
// process is still serving.
type HealthHandler struct {
	db      Pinger
	redis   Pinger
	channel ChannelStatus
	version string
	logger  *zap.Logger
}

func NewHealthHandler(db, redis Pinger, channel ChannelStatus, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, channel: channel, version: version, logger: logger}
}

type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:     "ok",
		Version:    h.version,
		Components: make(map[string]string),
	}
	healthy := true

	probe := func(name string, p Pinger) {
		if p == nil {
			resp.Components[name] = "not configured"
			return
		}
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health probe failed", zap.String("component", name), zap.Error(err))
			resp.Components[name] = "down"
			healthy = false
			return
		}
		resp.Components[name] = "up"
	}
	probe("database", h.db)
	probe("redis", h.redis)

	if h.channel != nil {
		resp.Components["channel"] = string(h.channel.Status())
	}

	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encoding health response failed", zap.Error(err))
	}
}
