package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
)

type ctxKey int

const (
	ctxKeyLearnerID ctxKey = iota
	ctxKeyRole
	ctxKeyRequestActor
)

// requestContext is the {learner_id, role} pair the core consumes from the
// request context. Authentication itself is an external collaborator;
// this is the boundary the core actually depends on.
type requestContext struct {
	LearnerID uuid.UUID
	Role      string
	Actor     string
}

// authFromHeaders is a stand-in for the out-of-scope bearer-token/OAuth
// layer: it trusts three headers a gateway in front of this service would
// set after verifying the token.
func authFromHeaders(r *http.Request) (requestContext, error) {
	learnerHeader := r.Header.Get("X-Learner-Id")
	role := r.Header.Get("X-Learner-Role")
	actor := r.Header.Get("X-Actor")
	if learnerHeader == "" {
		return requestContext{}, apperrors.NewAuthError("missing X-Learner-Id")
	}
	learnerID, err := uuid.Parse(learnerHeader)
	if err != nil {
		return requestContext{}, apperrors.NewAuthError("invalid X-Learner-Id")
	}
	if role == "" {
		role = "learner"
	}
	if actor == "" {
		actor = learnerHeader
	}
	return requestContext{LearnerID: learnerID, Role: role, Actor: actor}, nil
}

func withRequestContext(ctx context.Context, rc requestContext) context.Context {
	ctx = context.WithValue(ctx, ctxKeyLearnerID, rc.LearnerID)
	ctx = context.WithValue(ctx, ctxKeyRole, rc.Role)
	return context.WithValue(ctx, ctxKeyRequestActor, rc.Actor)
}

func learnerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ctxKeyLearnerID).(uuid.UUID)
	return v, ok
}

func roleFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRole).(string)
	return v
}

func actorFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestActor).(string)
	return v
}

func requireAdmin(ctx context.Context) error {
	if roleFromContext(ctx) != "admin" {
		return apperrors.NewAuthError("admin role required")
	}
	return nil
}
