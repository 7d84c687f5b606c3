package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAuditLogNotFound   = errors.New("audit log not found")
	ErrAuditPersistence   = errors.New("audit record could not be persisted")
	ErrInvalidChangeEvent = errors.New("invalid change event")
)

// Auditable is implemented by every entity type whose mutations end up in the
// audit trail.
type Auditable interface {
	// AuditEntity returns the minimal type name, e.g. "Task".
	AuditEntity() string
	// AuditKey returns the identifier, zero before the entity is persisted.
	AuditKey() int64
	// AuditAttributes returns a flat snapshot of the persisted attributes.
	AuditAttributes() map[string]any
}

type Action int

const (
	ActionCreate Action = 1
	ActionUpdate Action = 2
	ActionDelete Action = 3
)

func (a Action) Valid() bool {
	return a >= ActionCreate && a <= ActionDelete
}

func (a Action) Label() string {
	switch a {
	case ActionCreate:
		return "Create"
	case ActionUpdate:
		return "Update"
	case ActionDelete:
		return "Delete"
	default:
		return ""
	}
}

func (a Action) String() string {
	if l := a.Label(); l != "" {
		return l
	}
	return "Action(" + strconv.Itoa(int(a)) + ")"
}

// Diff holds the old and new values of the attributes changed by an update.
type Diff struct {
	Old map[string]any `json:"old"`
	New map[string]any `json:"new"`
}

func (d *Diff) Empty() bool {
	return d == nil || (len(d.Old) == 0 && len(d.New) == 0)
}

// ChangeEvent describes one mutation of an auditable entity. It is built
// inside the mutating request and handed to the bus by value.
type ChangeEvent struct {
	ID         uuid.UUID `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	Action     Action    `json:"action"`
	Diff       *Diff     `json:"diff,omitempty"`
	ActorID    *int64    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Key identifies the mutated instance, events with the same key must be
// consumed in publish order.
func (e ChangeEvent) Key() string {
	return e.EntityType + ":" + strconv.FormatInt(e.EntityID, 10)
}

func (e ChangeEvent) Validate() error {
	if e.EntityType == "" {
		return fmt.Errorf("%w: entity type is empty", ErrInvalidChangeEvent)
	}
	if !e.Action.Valid() {
		return fmt.Errorf("%w: unknown action %d", ErrInvalidChangeEvent, int(e.Action))
	}
	return nil
}

type ActorSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuditRecord is an immutable entry of the audit trail.
type AuditRecord struct {
	ID         int64           `json:"id"`
	ActorID    *int64          `json:"user_id"`
	Actor      *ActorSummary   `json:"user,omitempty"`
	Action     Action          `json:"action"`
	EntityType string          `json:"entity"`
	EntityID   int64           `json:"entity_id"`
	Changes    json.RawMessage `json:"changes"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditFilter selects a page of the audit trail.
type AuditFilter = Paging

// AuditPage is one page of audit records together with the total number of
// records in the store.
type AuditPage struct {
	Records []AuditRecord
	Filter  AuditFilter
	Total   int
}

func ParseAuditFilter(sort, perPage, page string) (AuditFilter, error) {
	return ParsePaging(sort, perPage, page)
}

// PublishFailure means the bus could not hand an event to a subscriber.
type PublishFailure struct {
	Subscriber string
	Event      ChangeEvent
	Err        error
}

func (e *PublishFailure) Error() string {
	return fmt.Sprintf("publish %s %s to %s: %v", e.Event.Action, e.Event.Key(), e.Subscriber, e.Err)
}

func (e *PublishFailure) Unwrap() error { return e.Err }

// ConsumerFailure means a queued consumer gave up on an event.
type ConsumerFailure struct {
	Consumer string
	Event    ChangeEvent
	Attempts int
	Err      error
}

func (e *ConsumerFailure) Error() string {
	return fmt.Sprintf("consumer %s failed on %s %s after %d attempt(s): %v",
		e.Consumer, e.Event.Action, e.Event.Key(), e.Attempts, e.Err)
}

func (e *ConsumerFailure) Unwrap() error { return e.Err }

// QueryFailure wraps read-path errors of the audit store.
type QueryFailure struct {
	Filter AuditFilter
	Err    error
}

func (e *QueryFailure) Error() string {
	return fmt.Sprintf("query audit logs (sort=%q per_page=%d page=%d): %v", e.Filter.Sort, e.Filter.PerPage, e.Filter.Page, e.Err)
}

func (e *QueryFailure) Unwrap() error { return e.Err }
