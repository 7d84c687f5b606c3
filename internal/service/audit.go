package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"task-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

// AuditQueryErrorMessage is shown to API clients when reading the trail fails.
const AuditQueryErrorMessage = "Some Error Happened While Getting Audit Logs"

type AuditStore interface {
	Append(ctx context.Context, record *domain.AuditRecord) error
	Query(ctx context.Context, filter domain.AuditFilter) (*domain.AuditPage, error)
	GetByID(ctx context.Context, id int64) (*domain.AuditRecord, error)
}

// AuditService turns change events into audit records and serves the trail.
type AuditService struct {
	store AuditStore
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

// Handle persists one audit record for the event. It is run by the audit
// queue; a returned error makes the queue retry unless the event is invalid.
func (s *AuditService) Handle(ctx context.Context, event domain.ChangeEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	record := &domain.AuditRecord{
		ActorID:    event.ActorID,
		Action:     event.Action,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
	}
	if event.Diff != nil {
		changes, err := json.Marshal(event.Diff)
		if err != nil {
			return fmt.Errorf("%w: encode diff: %v", domain.ErrInvalidChangeEvent, err)
		}
		record.Changes = changes
	}

	if err := s.store.Append(ctx, record); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"event_id":  event.ID,
			"user_id":   record.ActorID,
			"action":    int(record.Action),
			"entity":    record.EntityType,
			"entity_id": record.EntityID,
			"changes":   string(record.Changes),
		}).Error("Audit log creation failed")
		return err
	}

	log.WithFields(log.Fields{
		"audit_log_id": record.ID,
		"entity":       record.EntityType,
		"entity_id":    record.EntityID,
		"action":       record.Action.Label(),
	}).Debug("Audit log created")
	return nil
}

// ListAuditLogs returns one page of the trail. Store errors are logged with
// the filter and returned as a QueryFailure.
func (s *AuditService) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) (*domain.AuditPage, error) {
	filter = filter.Normalized()

	page, err := s.store.Query(ctx, filter)
	if err != nil {
		failure := &domain.QueryFailure{Filter: filter, Err: err}
		log.WithError(err).WithFields(log.Fields{
			"sort":     filter.Sort,
			"per_page": filter.PerPage,
			"page":     filter.Page,
		}).Error(AuditQueryErrorMessage)
		return nil, failure
	}
	return page, nil
}

func (s *AuditService) GetAuditLog(ctx context.Context, id int64) (*domain.AuditRecord, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}

	record, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrAuditLogNotFound) {
			return nil, err
		}
		log.WithError(err).WithField("audit_log_id", id).Error(AuditQueryErrorMessage)
		return nil, &domain.QueryFailure{Err: err}
	}
	return record, nil
}
