package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"task-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

const taskColumns = `id, user_id, title, description, status, priority, due_date, created_at, updated_at`

type postgresTaskRepository struct {
	db *sql.DB
}

func NewPostgresTaskRepository(db *sql.DB) *postgresTaskRepository {
	return &postgresTaskRepository{db: db}
}

func scanTask(row interface{ Scan(dest ...any) error }) (*domain.Task, error) {
	var task domain.Task
	var userID sql.NullInt64
	var dueDate sql.NullTime

	err := row.Scan(
		&task.ID,
		&userID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.Priority,
		&dueDate,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.UserID = int64Ptr(userID)
	if dueDate.Valid {
		d := dueDate.Time
		task.DueDate = &d
	}
	return &task, nil
}

// findTask reads one task through q, optionally locking the row until the
// surrounding transaction ends.
func findTask(ctx context.Context, q executor, id int64, forUpdate bool) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	task, err := scanTask(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	return task, err
}

func (r *postgresTaskRepository) Create(ctx context.Context, task *domain.Task) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithFields(log.Fields{
		"title":   task.Title,
		"user_id": task.UserID,
	}).Info("Creating new task")

	query := `INSERT INTO tasks (user_id, title, description, status, priority, due_date)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING ` + taskColumns

	var dueDate sql.NullTime
	if task.DueDate != nil {
		dueDate = sql.NullTime{Time: *task.DueDate, Valid: true}
	}

	created, err := scanTask(r.db.QueryRowContext(ctx, query,
		nullInt64(task.UserID),
		task.Title,
		task.Description,
		task.Status,
		task.Priority,
		dueDate,
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrTaskUserNotFound
		}
		log.WithError(err).WithField("title", task.Title).Error("Failed to create task")
		return fmt.Errorf("failed to create task: %w", err)
	}

	*task = *created
	return nil
}

func (r *postgresTaskRepository) GetByID(ctx context.Context, id int64) (*domain.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	task, err := findTask(ctx, r.db, id, false)
	if errors.Is(err, domain.ErrTaskNotFound) {
		return nil, err
	}
	if err != nil {
		log.WithError(err).WithField("task_id", id).Error("Failed to get task by ID")
		return nil, fmt.Errorf("failed to get task by ID: %w", err)
	}
	return task, nil
}

// taskWhere builds the WHERE clause shared by List and Count.
func taskWhere(filter domain.TaskFilter) (string, []any) {
	var where strings.Builder
	args := []any{}
	argPos := 1

	where.WriteString(` WHERE 1=1`)

	if filter.UserID != nil {
		where.WriteString(fmt.Sprintf(" AND user_id = $%d", argPos))
		args = append(args, *filter.UserID)
		argPos++
	}
	if filter.Status != nil {
		where.WriteString(fmt.Sprintf(" AND status = $%d", argPos))
		args = append(args, *filter.Status)
		argPos++
	}
	if filter.Priority != nil {
		where.WriteString(fmt.Sprintf(" AND priority = $%d", argPos))
		args = append(args, *filter.Priority)
		argPos++
	}
	if filter.DueFrom != nil {
		where.WriteString(fmt.Sprintf(" AND due_date >= $%d", argPos))
		args = append(args, *filter.DueFrom)
		argPos++
	}
	if filter.DueTo != nil {
		where.WriteString(fmt.Sprintf(" AND due_date <= $%d", argPos))
		args = append(args, *filter.DueTo)
	}

	return where.String(), args
}

func (r *postgresTaskRepository) List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	where, args := taskWhere(filter)
	page, args := pageClause(filter.Paging, args, len(args)+1)
	query := `SELECT ` + taskColumns + ` FROM tasks` + where +
		` ORDER BY ` + orderClause("", filter.Sort) + page

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).Error("Failed to list tasks")
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.WithError(err).Error("Failed to scan task row")
			return nil, err
		}
		tasks = append(tasks, *task)
	}

	return tasks, rows.Err()
}

// Count returns how many tasks match the filter, ignoring its paging.
func (r *postgresTaskRepository) Count(ctx context.Context, filter domain.TaskFilter) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	where, args := taskWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&total); err != nil {
		log.WithError(err).Error("Failed to count tasks")
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return total, nil
}

// Update locks the row, applies the provided fields and returns the task as it
// was before and after, all in one transaction.
func (r *postgresTaskRepository) Update(ctx context.Context, id int64, fields domain.UpdateTaskFields) (before, after *domain.Task, err error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	setParts := []string{}
	args := []any{}
	argPos := 1

	if fields.UserID != nil {
		setParts = append(setParts, fmt.Sprintf("user_id = $%d", argPos))
		args = append(args, *fields.UserID)
		argPos++
	}
	if fields.Title != nil {
		setParts = append(setParts, fmt.Sprintf("title = $%d", argPos))
		args = append(args, *fields.Title)
		argPos++
	}
	if fields.Description != nil {
		setParts = append(setParts, fmt.Sprintf("description = $%d", argPos))
		args = append(args, *fields.Description)
		argPos++
	}
	if fields.Status != nil {
		setParts = append(setParts, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *fields.Status)
		argPos++
	}
	if fields.Priority != nil {
		setParts = append(setParts, fmt.Sprintf("priority = $%d", argPos))
		args = append(args, *fields.Priority)
		argPos++
	}
	if fields.ClearDueDate {
		setParts = append(setParts, "due_date = NULL")
	} else if fields.DueDate != nil {
		setParts = append(setParts, fmt.Sprintf("due_date = $%d", argPos))
		args = append(args, *fields.DueDate)
		argPos++
	}

	err = inTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := findTask(ctx, tx, id, true)
		if errors.Is(err, domain.ErrTaskNotFound) {
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to lock task: %w", err)
		}
		before = current

		if len(setParts) == 0 {
			copied := *current
			after = &copied
			return nil
		}

		setParts = append(setParts, "updated_at = NOW()")
		args = append(args, id)
		query := fmt.Sprintf(`UPDATE tasks
		                      SET %s
		                      WHERE id = $%d
		                      RETURNING `+taskColumns,
			strings.Join(setParts, ", "), argPos)

		after, err = scanTask(tx.QueryRowContext(ctx, query, args...))
		if err != nil {
			if isForeignKeyViolation(err) {
				return domain.ErrTaskUserNotFound
			}
			return fmt.Errorf("failed to update task: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrTaskNotFound) && !errors.Is(err, domain.ErrTaskUserNotFound) {
			log.WithError(err).WithField("task_id", id).Error("Failed to update task")
		}
		return nil, nil, err
	}

	return before, after, nil
}

func (r *postgresTaskRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		log.WithError(err).WithField("task_id", id).Error("Failed to delete task")
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not determine rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}
