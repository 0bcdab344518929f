package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/savage-app/savage/types"
)

const userColumns = `id, first_name, last_name, username, email, password, active,
		remember_identifier, remember_token, created_at, updated_at`

// UserRepository handles persistence for users and their permissions.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// GetByIdentifier finds the user whose email or username equals identifier.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (types.User, error) {
	return r.getOne(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = ? OR username = ?
		ORDER BY id
		LIMIT 1`, identifier, identifier)
}

func (r *UserRepository) GetByRememberIdentifier(ctx context.Context, identifier string) (types.User, error) {
	if identifier == "" {
		return types.User{}, ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE remember_identifier = ?`, identifier)
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (types.User, error) {
	var user types.User
	if err := r.db.GetContext(ctx, &user, r.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// ListUsernames returns every user's id and username ordered by id.
func (r *UserRepository) ListUsernames(ctx context.Context) ([]types.UsernameRecord, error) {
	records := []types.UsernameRecord{}
	if err := r.db.SelectContext(ctx, &records, `SELECT id, username FROM users ORDER BY id`); err != nil {
		return nil, err
	}
	return records, nil
}

// Create inserts the user and its permissions row in a single transaction.
func (r *UserRepository) Create(ctx context.Context, user types.User, perms types.Permissions) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return types.User{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertUser = `
		INSERT INTO users (first_name, last_name, username, email, password, active,
			remember_identifier, remember_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`
	if err := tx.QueryRowxContext(
		ctx,
		tx.Rebind(insertUser),
		user.FirstName,
		user.LastName,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Active,
		user.RememberIdentifier,
		user.RememberToken,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}

	const insertPerms = `INSERT INTO permissions (user_id, is_admin, is_head_admin) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, tx.Rebind(insertPerms), user.ID, perms.IsAdmin, perms.IsHeadAdmin); err != nil {
		return types.User{}, fmt.Errorf("create permissions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// Update writes the profile, credential and status columns of the user.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE users
		SET first_name = ?,
			last_name = ?,
			email = ?,
			password = ?,
			active = ?,
			updated_at = ?
		WHERE id = ?`
	result, err := r.db.ExecContext(
		ctx,
		r.db.Rebind(query),
		user.FirstName,
		user.LastName,
		user.Email,
		user.PasswordHash,
		user.Active,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	if err := expectAffected(result); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// UpdateRememberCredentials stores the remember-me identifier and token hash.
// Empty values clear them.
func (r *UserRepository) UpdateRememberCredentials(ctx context.Context, id int, identifier, tokenHash string) error {
	const query = `
		UPDATE users
		SET remember_identifier = ?,
			remember_token = ?,
			updated_at = ?
		WHERE id = ?`
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), identifier, tokenHash, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (r *UserRepository) GetPermissions(ctx context.Context, userID int) (types.Permissions, error) {
	const query = `SELECT user_id, is_admin, is_head_admin FROM permissions WHERE user_id = ?`
	var perms types.Permissions
	if err := r.db.GetContext(ctx, &perms, r.db.Rebind(query), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Permissions{}, ErrNotFound
		}
		return types.Permissions{}, err
	}
	return perms, nil
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
