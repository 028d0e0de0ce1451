package contextx

import "context"

// WithMutationID returns a derived context that carries the id of the
// mutation the current remote call belongs to.
func WithMutationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, mutationIDKey, id)
}

// MutationIDFromContext extracts the mutation ID stored in ctx.
// It returns an empty string when no mutation is in progress.
func MutationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(mutationIDKey).(string)
	return id
}
