package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/nugget/tubeblog/internal/auth"
	"github.com/nugget/tubeblog/internal/events"
	"github.com/nugget/tubeblog/internal/store"
)

// SignupRequest registers an account.
type SignupRequest struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// LoginRequest opens a session.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserUpdateRequest edits the signed-in user's profile. Absent fields
// are left unchanged.
type UserUpdateRequest struct {
	FirstName *string `json:"first_name"`
	Email     *string `json:"email"`
}

// ChangePasswordRequest replaces the signed-in user's password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	return err == nil && addr.Name == "" && strings.Contains(addr.Address, "@")
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validEmail(req.Email) {
		s.errorResponse(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := s.store.CreateUser(r.Context(), req.Email, req.FirstName, hash)
	if errors.Is(err, store.ErrEmailTaken) {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("create user failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not create user")
		return
	}

	s.logger.Info("user signed up", "user_id", u.ID)
	s.bus.Emit(events.SourceAPI, events.KindUserSignup, map[string]any{"user_id": u.ID})
	s.respond(w, http.StatusCreated, map[string]any{
		"message": "user created",
		"user":    u,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, sess, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.typedError(w, http.StatusUnauthorized, "authentication_error", err.Error())
		return
	}
	if err != nil {
		s.logger.Error("login failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "login failed")
		return
	}

	s.auth.SetCookie(w, sess)
	s.respond(w, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), r); err != nil {
		s.logger.Warn("session revoke failed", "error", err)
	}
	s.auth.ClearCookie(w)
	s.respond(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleUserGet(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, auth.UserFromContext(r.Context()))
}

func (s *Server) handleUserUpdate(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req UserUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email != nil && !validEmail(*req.Email) {
		s.errorResponse(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	updated, err := s.store.UpdateUser(r.Context(), u.ID, store.UserUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
	})
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("update user failed", "user_id", u.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not update user")
		return
	}
	s.respond(w, http.StatusOK, updated)
}

func (s *Server) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	if err := s.store.DeleteUser(r.Context(), u.ID); err != nil {
		s.logger.Error("delete user failed", "user_id", u.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not delete user")
		return
	}
	s.logger.Info("user deleted", "user_id", u.ID)
	s.auth.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleChangePassword revokes every session of the user, then opens a
// fresh one for the caller.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.OldPassword) {
		s.errorResponse(w, http.StatusBadRequest, "old password is incorrect")
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SetPasswordHash(r.Context(), u.ID, hash); err != nil {
		s.logger.Error("set password failed", "user_id", u.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not change password")
		return
	}
	sess, err := s.auth.StartSession(r.Context(), u.ID)
	if err != nil {
		s.logger.Error("start session failed", "user_id", u.ID, "error", err)
		s.auth.ClearCookie(w)
	} else {
		s.auth.SetCookie(w, sess)
	}
	s.respond(w, http.StatusOK, map[string]string{"message": "password updated"})
}
