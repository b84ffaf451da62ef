package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"account-portal/internal/domain"
	"account-portal/internal/repository"
)

const userColumns = `id, username, email, age, password_hash, avatar_key, created_at, updated_at`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (int64, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
INSERT INTO users (username, email, age, password_hash, avatar_key, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Username,
		nullString(user.Email),
		nullInt(user.Age),
		user.PasswordHash,
		user.AvatarKey,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if dup := uniqueViolation(err); dup != nil {
			return 0, fmt.Errorf("insert user: %w", dup)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user last insert id: %w", err)
	}
	user.ID = id
	return id, nil
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
UPDATE users
SET username = ?, email = ?, age = ?, updated_at = ?
WHERE id = ?`,
		user.Username,
		nullString(user.Email),
		nullInt(user.Age),
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if dup := uniqueViolation(err); dup != nil {
			return fmt.Errorf("update user %d: %w", user.ID, dup)
		}
		return fmt.Errorf("update user %d: %w", user.ID, err)
	}
	return expectOneRow(res, user.ID)
}

func (r *UserRepository) SetAvatar(ctx context.Context, id int64, key string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE users
SET avatar_key = ?, updated_at = ?
WHERE id = ?`,
		key,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("set avatar for user %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var (
		user  domain.User
		email sql.NullString
		age   sql.NullInt64
	)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&email,
		&age,
		&user.PasswordHash,
		&user.AvatarKey,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if email.Valid {
		user.Email = &email.String
	}
	if age.Valid {
		v := int(age.Int64)
		user.Age = &v
	}
	return &user, nil
}

// uniqueViolation maps a sqlite UNIQUE constraint failure to the repository error for its column.
func uniqueViolation(err error) error {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "unique") {
		return nil
	}
	switch {
	case strings.Contains(msg, "users.username"):
		return repository.ErrDuplicateUsername
	case strings.Contains(msg, "users.email"):
		return repository.ErrDuplicateEmail
	default:
		return repository.ErrDuplicate
	}
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for user %d: %w", id, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
