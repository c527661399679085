package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a registered account. Email is the login name.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an address for storage and
// lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const userColumns = `id, email, first_name, password_hash, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var created, updated string
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.PasswordHash, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return &u, nil
}

// CreateUser registers a user. The email is normalized; a duplicate
// returns ErrEmailTaken.
func (s *Store) CreateUser(ctx context.Context, email, firstName, passwordHash string) (*User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate user ID: %w", err)
	}
	now := time.Now().UTC()
	u := &User{
		ID:           id.String(),
		Email:        NormalizeEmail(email),
		FirstName:    strings.TrimSpace(firstName),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.exec(ctx, s.db,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.FirstName, u.PasswordHash, formatTime(now), formatTime(now),
	)
	if isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// UserByEmail looks a user up by (normalized) email.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(s.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email)))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return u, err
}

// UserByID looks a user up by ID.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, err
}

// UserUpdate holds optional profile changes. Nil fields are left alone.
type UserUpdate struct {
	Email     *string
	FirstName *string
}

// UpdateUser applies upd and returns the stored user.
func (s *Store) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	u, err := s.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Email != nil {
		u.Email = NormalizeEmail(*upd.Email)
	}
	if upd.FirstName != nil {
		u.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	u.UpdatedAt = time.Now().UTC()

	res, err := s.exec(ctx, s.db,
		`UPDATE users SET email = ?, first_name = ?, updated_at = ? WHERE id = ?`,
		u.Email, u.FirstName, formatTime(u.UpdatedAt), id,
	)
	if isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return u, nil
}

// SetPasswordHash replaces a user's password hash and revokes their
// sessions.
func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := s.exec(ctx, tx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := s.exec(ctx, tx, `DELETE FROM sessions WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return tx.Commit()
}

// DeleteUser removes a user along with their sessions, posts and usage
// records.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM sessions WHERE user_id = ?`,
		`DELETE FROM posts WHERE user_id = ?`,
		`DELETE FROM usage_records WHERE user_id = ?`,
	} {
		if _, err := s.exec(ctx, tx, q, id); err != nil {
			return fmt.Errorf("delete user data: %w", err)
		}
	}

	res, err := s.exec(ctx, tx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}
