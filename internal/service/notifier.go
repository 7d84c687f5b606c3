package service

import (
	"context"

	"task-service/internal/domain"
)

// ChangeNotifier is told about every committed mutation of an auditable
// entity. Implementations must not fail the caller.
type ChangeNotifier interface {
	Created(ctx context.Context, entity domain.Auditable)
	Updated(ctx context.Context, before, after domain.Auditable)
	Deleting(ctx context.Context, entity domain.Auditable)
}

type noopNotifier struct{}

func (noopNotifier) Created(context.Context, domain.Auditable) {}
func (noopNotifier) Updated(context.Context, domain.Auditable, domain.Auditable) {}
func (noopNotifier) Deleting(context.Context, domain.Auditable) {}

func notifierOrNoop(n ChangeNotifier) ChangeNotifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}
