// Package auth handles password hashing and cookie or bearer-token
// sessions for the HTTP API.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nugget/tubeblog/internal/store"
)

// MinPasswordLength is the shortest password accepted at signup or
// password change.
const MinPasswordLength = 8

// ErrInvalidCredentials is returned for an unknown email or a wrong
// password. The two cases are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid email or password")

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NewSessionToken returns 32 random bytes, URL-safe base64 encoded.
func NewSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SessionStore is the persistence auth needs.
type SessionStore interface {
	UserByEmail(ctx context.Context, email string) (*store.User, error)
	CreateSession(ctx context.Context, token, userID string, ttl time.Duration) (*store.Session, error)
	SessionUser(ctx context.Context, token string) (*store.User, error)
	DeleteSession(ctx context.Context, token string) error
}

// Config controls session cookies.
type Config struct {
	CookieName string
	SessionTTL time.Duration
	Secure     bool
}

// Manager issues, resolves, and revokes sessions.
type Manager struct {
	store  SessionStore
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(s SessionStore, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "access_token"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Manager{store: s, cfg: cfg, logger: logger}
}

// Login verifies credentials and opens a session.
func (m *Manager) Login(ctx context.Context, email, password string) (*store.User, *store.Session, error) {
	u, err := m.store.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	sess, err := m.StartSession(ctx, u.ID)
	if err != nil {
		return nil, nil, err
	}
	return u, sess, nil
}

// StartSession opens a session for an already-authenticated user.
func (m *Manager) StartSession(ctx context.Context, userID string) (*store.Session, error) {
	token, err := NewSessionToken()
	if err != nil {
		return nil, err
	}
	return m.store.CreateSession(ctx, token, userID, m.cfg.SessionTTL)
}

// Logout revokes the session carried by r, if any.
func (m *Manager) Logout(ctx context.Context, r *http.Request) error {
	token := m.TokenFromRequest(r)
	if token == "" {
		return nil
	}
	return m.store.DeleteSession(ctx, token)
}

// SetCookie writes the session cookie.
func (m *Manager) SetCookie(w http.ResponseWriter, sess *store.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest returns the session token from the cookie, or from
// an "Authorization: Bearer" header when there is no cookie.
func (m *Manager) TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(m.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

type contextKey struct{}

// WithUser returns ctx carrying u.
func WithUser(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *store.User {
	u, _ := ctx.Value(contextKey{}).(*store.User)
	return u
}

// Require wraps next so that it only runs for requests with a valid
// session. Others get 401 with a JSON error body.
func (m *Manager) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.TokenFromRequest(r)
		if token == "" {
			unauthorized(w)
			return
		}
		u, err := m.store.SessionUser(r.Context(), token)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				m.logger.Error("session lookup failed", "error", err)
			}
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"message":"authentication required","type":"authentication_error","code":401}}` + "\n"))
}
