package contextx

import "context"

// Actor is the signed-in user on whose behalf remote calls are made. The
// transport sends Token as a bearer credential; Subject is used to decide
// ownership-dependent views such as the "my" dishlist tab.
//
// Example:
//
//	ctx = contextx.WithActor(ctx, contextx.Actor{Subject: "user-42", Token: tok})
type Actor struct {
	Subject string
	Token   string
}

// WithActor returns a derived context that carries the given Actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext extracts the Actor stored in ctx.
// The boolean return value indicates whether an Actor was present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
