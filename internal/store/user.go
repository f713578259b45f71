package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/signlearn/apiserver/types"
)

const (
	pqUniqueViolation           = "23505"
	pqForeignKeyViolation       = "23503"
	pqInvalidTextRepresentation = "22P02"

	constraintEmailUnique    = "users_email_unique"
	constraintUsernameUnique = "users_username_unique"
)

const userColumns = `
	id, username, email, first_name, last_name, avatar, bio, password_hash, role,
	is_active, is_email_verified, password_reset_token, password_reset_expires,
	learning_progress, preferences, created_at, updated_at`

// UserRepository handles persistence for users in PostgreSQL. Refresh
// tokens live in their own table so that issuing and revoking a session is
// a single INSERT or DELETE.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var (
		user         types.User
		resetToken   sql.NullString
		resetExpires sql.NullTime
		progressJSON []byte
		prefsJSON    []byte
	)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.Avatar,
		&user.Bio,
		&user.PasswordHash,
		&user.Role,
		&user.IsActive,
		&user.IsEmailVerified,
		&resetToken,
		&resetExpires,
		&progressJSON,
		&prefsJSON,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return types.User{}, err
	}

	user.PasswordResetToken = resetToken.String
	if resetExpires.Valid {
		expires := resetExpires.Time
		user.PasswordResetExpires = &expires
	}
	if err := json.Unmarshal(progressJSON, &user.LearningProgress); err != nil {
		return types.User{}, fmt.Errorf("decode learning_progress: %w", err)
	}
	if err := json.Unmarshal(prefsJSON, &user.Preferences); err != nil {
		return types.User{}, fmt.Errorf("decode preferences: %w", err)
	}
	return user, nil
}

func (r *UserRepository) getOne(ctx context.Context, where string, args ...any) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, mapPQError(err)
	}

	tokens, err := r.refreshTokens(ctx, user.ID)
	if err != nil {
		return types.User{}, err
	}
	user.RefreshTokens = tokens
	return user, nil
}

func (r *UserRepository) refreshTokens(ctx context.Context, userID string) ([]types.RefreshToken, error) {
	const query = `
		SELECT token, created_at
		FROM refresh_tokens
		WHERE user_id = $1
		ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []types.RefreshToken
	for rows.Next() {
		var t types.RefreshToken
		if err := rows.Scan(&t.Token, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	return r.getOne(ctx, `id = $1`, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.getOne(ctx, `email = $1`, email)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return r.getOne(ctx, `username = $1`, username)
}

func (r *UserRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (types.User, error) {
	if tokenHash == "" {
		return types.User{}, ErrNotFound
	}
	return r.getOne(ctx, `password_reset_token = $1 AND password_reset_expires > $2`, tokenHash, now)
}

// List returns a page of users, newest first. Refresh tokens are not loaded.
func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM users`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]types.User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	progressJSON, err := json.Marshal(user.LearningProgress)
	if err != nil {
		return types.User{}, err
	}
	prefsJSON, err := json.Marshal(user.Preferences)
	if err != nil {
		return types.User{}, err
	}

	const query = `
		INSERT INTO users (
			id, username, email, first_name, last_name, avatar, bio, password_hash, role,
			is_active, is_email_verified, learning_progress, preferences, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Username,
		user.Email,
		user.FirstName,
		user.LastName,
		user.Avatar,
		user.Bio,
		user.PasswordHash,
		user.Role,
		user.IsActive,
		user.IsEmailVerified,
		progressJSON,
		prefsJSON,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		return types.User{}, mapPQError(err)
	}
	return user, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		UPDATE users
		SET username = $1,
			email = $2,
			first_name = $3,
			last_name = $4,
			bio = $5,
			updated_at = $6
		WHERE id = $7`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.FirstName,
		user.LastName,
		user.Bio,
		time.Now(),
		user.ID,
	)
	if err != nil {
		return types.User{}, mapPQError(err)
	}
	if err := expectAffected(result); err != nil {
		return types.User{}, err
	}
	return r.GetByID(ctx, user.ID)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.setColumn(ctx, id, "password_hash", passwordHash)
}

func (r *UserRepository) UpdatePreferences(ctx context.Context, id string, fn func(types.Preferences) types.Preferences) (types.Preferences, error) {
	return updateJSONColumn(ctx, r.db, id, "preferences", fn)
}

func (r *UserRepository) UpdateLearningProgress(ctx context.Context, id string, fn func(types.LearningProgress) types.LearningProgress) (types.LearningProgress, error) {
	return updateJSONColumn(ctx, r.db, id, "learning_progress", fn)
}

// updateJSONColumn rewrites one JSONB column while holding the row lock, so
// concurrent callers see each other's writes. column is always a constant
// from this file.
func updateJSONColumn[T any](ctx context.Context, db *sql.DB, id, column string, fn func(T) T) (T, error) {
	var zero T
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return zero, err
	}
	defer tx.Rollback()

	var raw []byte
	selectQuery := `SELECT ` + column + ` FROM users WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, selectQuery, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, mapPQError(err)
	}

	var current T
	if err := json.Unmarshal(raw, &current); err != nil {
		return zero, fmt.Errorf("decode %s: %w", column, err)
	}
	next := fn(current)
	encoded, err := json.Marshal(next)
	if err != nil {
		return zero, err
	}

	updateQuery := `UPDATE users SET ` + column + ` = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, updateQuery, encoded, time.Now(), id); err != nil {
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, err
	}
	return next, nil
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.setColumn(ctx, id, "is_active", active)
}

func (r *UserRepository) SetRole(ctx context.Context, id string, role types.Role) error {
	return r.setColumn(ctx, id, "role", role)
}

func (r *UserRepository) SetAvatar(ctx context.Context, id, key string) error {
	return r.setColumn(ctx, id, "avatar", key)
}

// setColumn updates one column by id. column is always a constant from this file.
func (r *UserRepository) setColumn(ctx context.Context, id, column string, value any) error {
	query := `UPDATE users SET ` + column + ` = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, value, time.Now(), id)
	if err != nil {
		return mapPQError(err)
	}
	return expectAffected(result)
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return mapPQError(err)
	}
	return expectAffected(result)
}

func (r *UserRepository) AddRefreshToken(ctx context.Context, id string, token types.RefreshToken) error {
	const query = `
		INSERT INTO refresh_tokens (user_id, token, created_at)
		VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, id, token.Token, token.CreatedAt); err != nil {
		return mapPQError(err)
	}
	return nil
}

func (r *UserRepository) RemoveRefreshToken(ctx context.Context, id, token string) error {
	const query = `DELETE FROM refresh_tokens WHERE user_id = $1 AND token = $2`
	_, err := r.db.ExecContext(ctx, query, id, token)
	return mapPQError(err)
}

func (r *UserRepository) RevokeAllRefreshTokens(ctx context.Context, id string) error {
	const query = `DELETE FROM refresh_tokens WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return mapPQError(err)
}

func (r *UserRepository) PruneRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE created_at < $1`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *UserRepository) SetPasswordReset(ctx context.Context, id, tokenHash string, expires time.Time) error {
	const query = `
		UPDATE users
		SET password_reset_token = $1,
			password_reset_expires = $2,
			updated_at = $3
		WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, tokenHash, expires, time.Now(), id)
	if err != nil {
		return mapPQError(err)
	}
	return expectAffected(result)
}

// CompletePasswordReset swaps the password only while tokenHash is still the
// stored reset token, so a token can be consumed at most once.
func (r *UserRepository) CompletePasswordReset(ctx context.Context, id, tokenHash, passwordHash string) error {
	const query = `
		UPDATE users
		SET password_hash = $1,
			password_reset_token = NULL,
			password_reset_expires = NULL,
			updated_at = $2
		WHERE id = $3 AND password_reset_token = $4`
	result, err := r.db.ExecContext(ctx, query, passwordHash, time.Now(), id, tokenHash)
	if err != nil {
		return mapPQError(err)
	}
	return expectAffected(result)
}

func expectAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func mapPQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		switch pqErr.Constraint {
		case constraintEmailUnique:
			return ErrDuplicateEmail
		case constraintUsernameUnique:
			return ErrDuplicateUsername
		}
	case pqForeignKeyViolation:
		return ErrNotFound
	case pqInvalidTextRepresentation:
		// A malformed uuid cannot name any user.
		return ErrNotFound
	}
	return err
}
