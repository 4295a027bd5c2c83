package rest

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
	bondsvc "github.com/fleetdesk/fleetdesk-backend/internal/service/bond"
	incidentsvc "github.com/fleetdesk/fleetdesk-backend/internal/service/incident"
)

// Services holds the application services the API fronts.
type Services struct {
	Incidents *incidentsvc.Service
	Bonds     *bondsvc.Service
}

// Handler carries the services plus the request plumbing shared by every
// endpoint.
type Handler struct {
	services Services
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(services Services, logger *zap.Logger) *Handler {
	return &Handler{
		services: services,
		validate: validator.New(),
		logger:   logger,
	}
}

// pathID parses the {id} wildcard of the matched route.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, errors.NewValidationError("INVALID_ID", "path id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// actor returns the authenticated actor; the authenticator guarantees it
// is present on every route behind the auth middleware.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actorID, ok := actorFromContext(r.Context())
	if !ok {
		h.writeError(w, r, errors.NewUnauthorizedError("no authenticated actor"))
		return uuid.Nil, false
	}
	return actorID, true
}
