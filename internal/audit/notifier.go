package audit

import (
	"context"
	"reflect"
	"time"

	"task-service/internal/domain"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Publisher hands change events to whoever consumes them.
type Publisher interface {
	Publish(ctx context.Context, event domain.ChangeEvent)
}

type NotifierConfig struct {
	// SuppressNoopUpdates skips Update events whose diff is empty.
	SuppressNoopUpdates bool
}

// Notifier turns entity lifecycle transitions into change events. None of its
// methods report errors to the caller: audit capture never decides the
// outcome of a mutation.
type Notifier struct {
	publisher Publisher
	cfg       NotifierConfig
	now       func() time.Time
}

func NewNotifier(publisher Publisher, cfg NotifierConfig) *Notifier {
	return &Notifier{
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Created must be called once the entity has been committed and carries its
// durable identifier.
func (n *Notifier) Created(ctx context.Context, entity domain.Auditable) {
	if n == nil || isNil(entity) {
		return
	}
	n.publish(ctx, n.event(ctx, entity, domain.ActionCreate, nil))
}

// Updated publishes the attributes that differ between the state before and
// after a committed update.
func (n *Notifier) Updated(ctx context.Context, before, after domain.Auditable) {
	if n == nil || isNil(after) {
		return
	}

	var old map[string]any
	if !isNil(before) {
		old = before.AuditAttributes()
	}
	diff := ComputeDiff(old, after.AuditAttributes())

	if diff.Empty() && n.cfg.SuppressNoopUpdates {
		log.WithFields(log.Fields{
			"entity":    after.AuditEntity(),
			"entity_id": after.AuditKey(),
		}).Debug("Skipping audit event for update without changes")
		return
	}

	n.publish(ctx, n.event(ctx, after, domain.ActionUpdate, diff))
}

// Deleting must be called while the entity is still readable, before the row
// is removed.
func (n *Notifier) Deleting(ctx context.Context, entity domain.Auditable) {
	if n == nil || isNil(entity) {
		return
	}
	n.publish(ctx, n.event(ctx, entity, domain.ActionDelete, nil))
}

func (n *Notifier) event(ctx context.Context, entity domain.Auditable, action domain.Action, diff *domain.Diff) domain.ChangeEvent {
	return domain.ChangeEvent{
		ID:         uuid.New(),
		EntityType: entity.AuditEntity(),
		EntityID:   entity.AuditKey(),
		Action:     action,
		Diff:       diff,
		ActorID:    ActorFromContext(ctx),
		OccurredAt: n.now().UTC(),
	}
}

func (n *Notifier) publish(ctx context.Context, event domain.ChangeEvent) {
	if n.publisher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"event_id":  event.ID,
				"entity":    event.EntityType,
				"entity_id": event.EntityID,
				"panic":     r,
			}).Error("Recovered from panic while publishing change event")
		}
	}()
	n.publisher.Publish(ctx, event)
}

// ComputeDiff returns the attributes whose value differs between before and
// after. Keys present on only one side count as changes.
func ComputeDiff(before, after map[string]any) *domain.Diff {
	diff := &domain.Diff{
		Old: map[string]any{},
		New: map[string]any{},
	}
	for k, v := range after {
		prev, ok := before[k]
		if ok && reflect.DeepEqual(prev, v) {
			continue
		}
		diff.Old[k] = prev
		diff.New[k] = v
	}
	for k, prev := range before {
		if _, ok := after[k]; !ok {
			diff.Old[k] = prev
			diff.New[k] = nil
		}
	}
	return diff
}

func isNil(entity domain.Auditable) bool {
	if entity == nil {
		return true
	}
	v := reflect.ValueOf(entity)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
