package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/7930navid/users-server/internal/entities"
)

var (
	// ErrUserNotFound means no row matched the given email.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateEmail means an insert hit the unique constraint on email.
	ErrDuplicateEmail = errors.New("email already registered")
)

// PasswordUpdate selects which update statement runs during a profile
// update. Constructed by KeepPassword or ReplacePassword so a caller can
// never half-specify a password change.
type PasswordUpdate struct {
	Hash    string
	Replace bool
}

// KeepPassword leaves the stored password hash untouched.
func KeepPassword() PasswordUpdate {
	return PasswordUpdate{}
}

// ReplacePassword overwrites the stored password hash with the given one.
func ReplacePassword(hash string) PasswordUpdate {
	return PasswordUpdate{Hash: hash, Replace: true}
}

// UserRepository defines the interface for user database operations
type UserRepository interface {
	Create(ctx context.Context, username, email, passwordHash, bio, avatar string) (*entities.User, error)
	FindByEmail(ctx context.Context, email string) (*entities.User, error)
	FindPasswordHashByEmail(ctx context.Context, email string) (string, error)
	Update(ctx context.Context, email, username, bio, avatar string, password PasswordUpdate) (*entities.User, error)
	Delete(ctx context.Context, email string) error
	List(ctx context.Context) ([]*entities.User, error)
}

type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// uniqueViolationCode is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode
}

// Create inserts a new user into the database. A concurrent insert for the
// same email loses the race inside the store and comes back as
// ErrDuplicateEmail.
func (r *userRepository) Create(ctx context.Context, username, email, passwordHash, bio, avatar string) (*entities.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, bio, avatar)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, username, email, password_hash, bio, avatar, created_at, updated_at
	`

	var user entities.User
	err := r.db.QueryRowContext(ctx, query, username, email, passwordHash, bio, avatar).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Bio,
		&user.Avatar,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if isUniqueViolation(err) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &user, nil
}

// FindByEmail finds a user by email
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*entities.User, error) {
	query := `
		SELECT id, username, email, password_hash, bio, avatar, created_at, updated_at
		FROM users
		WHERE email = $1
	`

	var user entities.User
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Bio,
		&user.Avatar,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return &user, nil
}

// FindPasswordHashByEmail fetches only the password hash column, for
// re-authentication checks that must not touch the rest of the row.
func (r *userRepository) FindPasswordHashByEmail(ctx context.Context, email string) (string, error) {
	query := `SELECT password_hash FROM users WHERE email = $1`

	var hash string
	err := r.db.QueryRowContext(ctx, query, email).Scan(&hash)

	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to find password hash: %w", err)
	}

	return hash, nil
}

// Update mutates username, bio and avatar (and optionally the password
// hash) in a single transaction. The returned row comes from the RETURNING
// clause of the same transaction, never from a re-read, so a concurrent
// update cannot slip in between. Zero matched rows rolls back and returns
// ErrUserNotFound.
func (r *userRepository) Update(ctx context.Context, email, username, bio, avatar string, password PasswordUpdate) (*entities.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is a no-op once the transaction has committed, so this
	// releases the connection on every exit path.
	defer tx.Rollback()

	var (
		query string
		args  []interface{}
	)
	if password.Replace {
		query = `
			UPDATE users
			SET username = $1, bio = $2, avatar = $3, password_hash = $4, updated_at = NOW()
			WHERE email = $5
			RETURNING id, username, email, password_hash, bio, avatar, created_at, updated_at
		`
		args = []interface{}{username, bio, avatar, password.Hash, email}
	} else {
		query = `
			UPDATE users
			SET username = $1, bio = $2, avatar = $3, updated_at = NOW()
			WHERE email = $4
			RETURNING id, username, email, password_hash, bio, avatar, created_at, updated_at
		`
		args = []interface{}{username, bio, avatar, email}
	}

	var user entities.User
	err = tx.QueryRowContext(ctx, query, args...).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Bio,
		&user.Avatar,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &user, nil
}

// Delete removes a user by email
func (r *userRepository) Delete(ctx context.Context, email string) error {
	query := `DELETE FROM users WHERE email = $1`

	result, err := r.db.ExecContext(ctx, query, email)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// List returns all users in insertion order of the store.
func (r *userRepository) List(ctx context.Context) ([]*entities.User, error) {
	query := `
		SELECT id, username, email, password_hash, bio, avatar, created_at, updated_at
		FROM users
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*entities.User, 0)
	for rows.Next() {
		var user entities.User
		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Email,
			&user.PasswordHash,
			&user.Bio,
			&user.Avatar,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}
