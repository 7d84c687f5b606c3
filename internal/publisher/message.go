package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"task-service/internal/domain"

	"github.com/google/uuid"
)

const serviceName = "task-service"

// changeMessage is the payload forwarded to external brokers.
type changeMessage struct {
	ID         uuid.UUID    `json:"id"`
	Service    string       `json:"service"`
	Entity     string       `json:"entity"`
	EntityID   int64        `json:"entity_id"`
	Action     string       `json:"action"`
	ActionCode int          `json:"action_code"`
	Changes    *domain.Diff `json:"changes"`
	ActorID    *int64       `json:"actor_id"`
	OccurredAt time.Time    `json:"occurred_at"`
}

func encode(event domain.ChangeEvent) ([]byte, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(changeMessage{
		ID:         event.ID,
		Service:    serviceName,
		Entity:     event.EntityType,
		EntityID:   event.EntityID,
		Action:     event.Action.Label(),
		ActionCode: int(event.Action),
		Changes:    event.Diff,
		ActorID:    event.ActorID,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change event: %w", err)
	}
	return payload, nil
}

// subject returns e.g. "tasks.changes.task.update" for prefix "tasks.changes".
func subject(prefix string, event domain.ChangeEvent) string {
	return strings.Join([]string{
		prefix,
		strings.ToLower(event.EntityType),
		strings.ToLower(event.Action.Label()),
	}, ".")
}
