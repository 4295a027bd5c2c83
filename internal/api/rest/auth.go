package rest

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
)

type contextKey string

const (
	contextKeyActorID      contextKey = "actor_id"
	contextKeyCapabilities contextKey = "capabilities"
)

// Claims is the token payload: the actor plus the capability strings the
// workflow engine gates its transitions on. Evaluation happened upstream
// when the token was minted; the engine only consumes the verdict.
type Claims struct {
	jwt.RegisteredClaims
	Capabilities []string `json:"capabilities"`
}

// Authenticator validates bearer tokens and loads the actor identity and
// capability set into the request context.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Middleware(h *Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				h.writeError(w, r, errors.NewUnauthorizedError("authorization required"))
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				h.writeError(w, r, errors.NewUnauthorizedError("invalid authorization format"))
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.NewUnauthorizedError("unexpected signing method")
				}
				return a.secret, nil
			})
			if err != nil || !token.Valid {
				h.writeError(w, r, errors.NewUnauthorizedError("invalid or expired token"))
				return
			}

			actorID, err := uuid.Parse(claims.Subject)
			if err != nil {
				h.writeError(w, r, errors.NewUnauthorizedError("token subject is not a valid actor id"))
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyActorID, actorID)
			ctx = context.WithValue(ctx, contextKeyCapabilities, capabilitySet(claims.Capabilities))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func capabilitySet(capabilities []string) map[string]bool {
	set := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		set[c] = true
	}
	return set
}

func actorFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(contextKeyActorID).(uuid.UUID)
	return id, ok
}

// ContextCapabilities satisfies the workflow engine's capability checker
// by reading the set the authenticator parked on the request context.
type ContextCapabilities struct{}

func (ContextCapabilities) Allowed(ctx context.Context, _ uuid.UUID, capability string) bool {
	set, ok := ctx.Value(contextKeyCapabilities).(map[string]bool)
	return ok && set[capability]
}
