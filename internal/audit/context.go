package audit

import "context"

type actorKey struct{}

// WithActor returns a context carrying the id of the principal performing the
// request. The notifier copies it into every event it builds.
func WithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the actor id stored by WithActor, or nil for
// system-initiated mutations.
func ActorFromContext(ctx context.Context) *int64 {
	if ctx == nil {
		return nil
	}
	id, ok := ctx.Value(actorKey{}).(int64)
	if !ok {
		return nil
	}
	return &id
}
