package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"task-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

const auditSelect = `
	SELECT a.id, a.user_id, u.id, u.name, u.email,
		a.action, a.entity, a.entity_id, a.changes, a.created_at
	FROM audit_logs a
	LEFT JOIN users u ON u.id = a.user_id`

// postgresAuditRepository is the append-only audit store. It exposes no way to
// change or remove a record once written.
type postgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) *postgresAuditRepository {
	return &postgresAuditRepository{db: db}
}

// Append inserts the record in its own transaction and fills in the generated
// id and creation time.
func (r *postgresAuditRepository) Append(ctx context.Context, record *domain.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var changes any
	if len(record.Changes) > 0 {
		changes = string(record.Changes)
	}

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO audit_logs (user_id, action, entity, entity_id, changes)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			nullInt64(record.ActorID),
			int(record.Action),
			record.EntityType,
			record.EntityID,
			changes,
		).Scan(&record.ID, &record.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrAuditPersistence, err)
	}
	return nil
}

func (r *postgresAuditRepository) GetByID(ctx context.Context, id int64) (*domain.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	record, err := scanAuditRecord(r.db.QueryRowContext(ctx, auditSelect+` WHERE a.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAuditLogNotFound
	}
	if err != nil {
		log.WithError(err).WithField("audit_log_id", id).Error("Failed to get audit log by ID")
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return record, nil
}

// Query returns one page of records and the total number of records.
func (r *postgresAuditRepository) Query(ctx context.Context, filter domain.AuditFilter) (*domain.AuditPage, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit logs: %w", err)
	}

	query := auditSelect + ` ORDER BY ` + orderClause("a.", filter.Sort) + ` LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, filter.PerPage, filter.Offset())
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	records := []domain.AuditRecord{}
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}

	return &domain.AuditPage{Records: records, Filter: filter, Total: total}, nil
}

func scanAuditRecord(row interface{ Scan(dest ...any) error }) (*domain.AuditRecord, error) {
	var (
		record    domain.AuditRecord
		actorID   sql.NullInt64
		userID    sql.NullInt64
		userName  sql.NullString
		userEmail sql.NullString
		action    int
		changes   []byte
	)

	err := row.Scan(
		&record.ID,
		&actorID,
		&userID,
		&userName,
		&userEmail,
		&action,
		&record.EntityType,
		&record.EntityID,
		&changes,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.ActorID = int64Ptr(actorID)
	record.Action = domain.Action(action)
	if userID.Valid {
		record.Actor = &domain.ActorSummary{
			ID:    userID.Int64,
			Name:  userName.String,
			Email: userEmail.String,
		}
	}
	if len(changes) > 0 {
		record.Changes = json.RawMessage(changes)
	}
	return &record, nil
}
