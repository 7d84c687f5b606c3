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

const userColumns = `id, name, email, role, created_at, updated_at`

type postgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *postgresUserRepository {
	return &postgresUserRepository{db: db}
}

func scanUser(row interface{ Scan(dest ...any) error }) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func findUser(ctx context.Context, q executor, id int64, forUpdate bool) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	user, err := scanUser(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	return user, err
}

func (r *postgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithFields(log.Fields{
		"email": user.Email,
		"name":  user.Name,
		"role":  user.Role,
	}).Info("Creating new user in database")

	query := `
		INSERT INTO users (name, email, role)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns

	created, err := scanUser(r.db.QueryRowContext(ctx, query, user.Name, user.Email, user.Role))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUserEmailExists
		}
		log.WithError(err).WithField("email", user.Email).Error("Failed to create user")
		return fmt.Errorf("failed to create user: %w", err)
	}

	*user = *created
	log.WithField("user_id", user.ID).Info("User successfully created")
	return nil
}

func (r *postgresUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	user, err := findUser(ctx, r.db, id, false)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		log.WithError(err).WithField("user_id", id).Error("Failed to get user by ID")
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

func (r *postgresUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		log.WithError(err).WithField("email", email).Error("Failed to get user by email")
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

func userWhere(filter domain.UserFilter) (string, []any) {
	var where strings.Builder
	args := []any{}
	argPos := 1

	where.WriteString(` WHERE 1=1`)

	if filter.Name != nil {
		where.WriteString(fmt.Sprintf(" AND name = $%d", argPos))
		args = append(args, *filter.Name)
		argPos++
	}
	if filter.Email != nil {
		where.WriteString(fmt.Sprintf(" AND email = $%d", argPos))
		args = append(args, *filter.Email)
		argPos++
	}
	if filter.Role != nil {
		where.WriteString(fmt.Sprintf(" AND role = $%d", argPos))
		args = append(args, *filter.Role)
	}

	return where.String(), args
}

func (r *postgresUserRepository) List(ctx context.Context, filter domain.UserFilter) ([]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	where, args := userWhere(filter)
	page, args := pageClause(filter.Paging, args, len(args)+1)
	query := `SELECT ` + userColumns + ` FROM users` + where +
		` ORDER BY ` + orderClause("", filter.Sort) + page

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).Error("Failed to list users")
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			log.WithError(err).Error("Failed to scan user row")
			return nil, err
		}
		users = append(users, *user)
	}

	return users, rows.Err()
}

func (r *postgresUserRepository) Count(ctx context.Context, filter domain.UserFilter) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	where, args := userWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		log.WithError(err).Error("Failed to count users")
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return total, nil
}

// Update applies the provided fields in a single transaction and returns the
// row as it was before and after the change.
func (r *postgresUserRepository) Update(ctx context.Context, id int64, fields domain.UpdateUserRequest) (before, after *domain.User, err error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var setParts []string
	var args []any
	argIndex := 1

	if fields.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", argIndex))
		args = append(args, *fields.Name)
		argIndex++
	}
	if fields.Email != nil {
		setParts = append(setParts, fmt.Sprintf("email = $%d", argIndex))
		args = append(args, *fields.Email)
		argIndex++
	}
	if fields.Role != nil {
		setParts = append(setParts, fmt.Sprintf("role = $%d", argIndex))
		args = append(args, *fields.Role)
		argIndex++
	}

	err = inTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := findUser(ctx, tx, id, true)
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				return err
			}
			return fmt.Errorf("failed to lock user: %w", err)
		}
		before = current

		if len(setParts) == 0 {
			log.WithField("user_id", id).Info("No fields to update, skipping")
			copied := *current
			after = &copied
			return nil
		}

		setParts = append(setParts, "updated_at = NOW()")
		query := fmt.Sprintf(
			"UPDATE users SET %s WHERE id = $%d RETURNING "+userColumns,
			strings.Join(setParts, ", "),
			argIndex,
		)
		args = append(args, id)

		after, err = scanUser(tx.QueryRowContext(ctx, query, args...))
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrUserEmailExists
			}
			return fmt.Errorf("failed to update user: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) && !errors.Is(err, domain.ErrUserEmailExists) {
			log.WithError(err).WithField("user_id", id).Error("Failed to update user")
		}
		return nil, nil, err
	}

	log.WithField("user_id", id).Info("User successfully updated in single transaction")
	return before, after, nil
}

func (r *postgresUserRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		log.WithError(err).WithField("user_id", id).Error("Failed to delete user")
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not determine rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrUserNotFound
	}

	log.WithField("user_id", id).Info("User successfully deleted")
	return nil
}
