package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"task-service/internal/domain"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const queryTimeout = 5 * time.Second

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn inside a transaction, committing when it returns nil.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.WithError(rbErr).Warn("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// orderClause maps a sort direction to an ORDER BY clause over columns
// prefixed with prefix. The id breaks ties between rows created in the same
// instant.
func orderClause(prefix string, sort domain.SortDirection) string {
	switch sort {
	case domain.SortAsc:
		return prefix + "created_at ASC, " + prefix + "id ASC"
	case domain.SortDesc:
		return prefix + "created_at DESC, " + prefix + "id DESC"
	default:
		return prefix + "id ASC"
	}
}

// pageClause appends LIMIT and OFFSET placeholders starting at argPos.
func pageClause(paging domain.Paging, args []any, argPos int) (string, []any) {
	clause := fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
	return clause, append(args, paging.PerPage, paging.Offset())
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
