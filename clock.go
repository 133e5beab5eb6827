package es

import (
	"context"
	"time"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func SystemClock() Clock {
	return systemClock{}
}

// ActorProvider supplies the principal recorded on audit fields.
type ActorProvider interface {
	CurrentActor(ctx context.Context) ActorID
}

type actorKey struct{}

// WithActor attaches the acting principal to the context.
func WithActor(ctx context.Context, actor ActorID) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ContextActorProvider reads the actor previously attached with WithActor,
// returning the empty id when none is present.
type ContextActorProvider struct{}

func (ContextActorProvider) CurrentActor(ctx context.Context) ActorID {
	if actor, ok := ctx.Value(actorKey{}).(ActorID); ok {
		return actor
	}

	return ""
}
