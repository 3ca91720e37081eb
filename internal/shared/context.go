package shared

import "context"

// Role names forwarded by the identity gateway.
const (
	RoleAdmin    = "ADMIN"
	RoleFinance  = "FINANCE"
	RoleOperator = "OPERATOR"
	RoleViewer   = "VIEWER"
)

// Actor identifies who performs an operation.
type Actor struct {
	UserID int64
	Role   string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
