package store

import (
	"context"
	"fmt"
	"time"
)

// Session is a login token bound to a user.
type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateSession stores a session token for userID valid for ttl.
func (s *Store) CreateSession(ctx context.Context, token, userID string, ttl time.Duration) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	_, err := s.exec(ctx, s.db,
		`INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.Token, sess.UserID, formatTime(sess.CreatedAt), formatTime(sess.ExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// SessionUser resolves a token to its user. Unknown and expired tokens
// return ErrNotFound.
func (s *Store) SessionUser(ctx context.Context, token string) (*User, error) {
	u, err := scanUser(s.queryRow(ctx,
		`SELECT u.id, u.email, u.first_name, u.password_hash, u.created_at, u.updated_at
		 FROM sessions s JOIN users u ON u.id = s.user_id
		 WHERE s.token = ? AND s.expires_at > ?`,
		token, formatTime(time.Now()),
	))
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return u, err
}

// DeleteSession revokes a token. Deleting an unknown token is not an
// error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired before now and
// returns how many were removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE expires_at <= ?`, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}
