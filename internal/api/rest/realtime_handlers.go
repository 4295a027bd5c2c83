package rest

import (
	"net/http"

	"github.com/fleetdesk/fleetdesk-backend/internal/realtime"
)

// RealtimeHandler serves the live projections the event channel feeds.
// Snapshots are served from memory; when the channel is down the response
// carries the last-known state plus the connectivity flag.
type RealtimeHandler struct {
	session *realtime.Session
}

func NewRealtimeHandler(session *realtime.Session) *RealtimeHandler {
	return &RealtimeHandler{session: session}
}

func (rh *RealtimeHandler) register(api *http.ServeMux, h *Handler) {
	api.HandleFunc("GET /api/v1/realtime/status", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"channel": rh.session.ChannelStatus(),
			"drivers": rh.session.Drivers.Count(),
			"orders":  rh.session.Orders.Count(),
		})
	})
	api.HandleFunc("GET /api/v1/realtime/drivers", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"channel": rh.session.ChannelStatus(),
			"items":   rh.session.Drivers.Snapshot(),
		})
	})
	api.HandleFunc("GET /api/v1/realtime/orders", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"channel": rh.session.ChannelStatus(),
			"items":   rh.session.Orders.Snapshot(),
		})
	})
	api.HandleFunc("GET /api/v1/realtime/incidents", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"channel": rh.session.ChannelStatus(),
			"items":   rh.session.Incidents.Snapshot(),
		})
	})
}
