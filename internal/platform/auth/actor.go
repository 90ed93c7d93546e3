package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind is the type of principal making a request.
type Kind string

const (
	KindUser     Kind = "user"
	KindDoctor   Kind = "doctor"
	KindHospital Kind = "hospital"
	KindAdmin    Kind = "admin"
)

// ParseKind accepts the role names carried in tokens and headers. "patient"
// is an alias for user.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "patient":
		return KindUser, nil
	case "doctor":
		return KindDoctor, nil
	case "hospital":
		return KindHospital, nil
	case "admin":
		return KindAdmin, nil
	}
	return "", fmt.Errorf("unknown actor role %q", s)
}

// Actor is the authenticated principal. For a hospital actor ID is the
// hospital's ID; for a doctor it is the doctor's ID; for a user it is the
// patient's ID.
type Actor struct {
	ID   uuid.UUID
	Kind Kind
}

func (a Actor) Is(k Kind) bool { return a.Kind == k }

func (a Actor) IsAdmin() bool { return a.Kind == KindAdmin }

func (a Actor) String() string { return string(a.Kind) + ":" + a.ID.String() }

type contextKey string

const actorKey contextKey = "actor"

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext returns the actor set by the auth middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
