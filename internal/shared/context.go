package shared

import "context"

// Actor identifies the caller on whose behalf a request runs. Requests
// arrive pre-authenticated at the edge; middleware extracts the identity
// headers into an Actor.
type Actor struct {
	CompanyID  int64
	VendorID   int64
	EmployeeID int64
	Role       string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. A zero Actor is
// returned for unattributed requests such as background jobs.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
