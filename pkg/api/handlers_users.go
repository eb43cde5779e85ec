package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/devmate/devmate/pkg/auth"
	derrors "github.com/devmate/devmate/pkg/errors"
	"github.com/devmate/devmate/pkg/logging"
	"github.com/devmate/devmate/pkg/storage"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func toUserResponse(u *storage.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name}
}

// setTokenCookie mirrors the token into a cookie so browser clients that
// lose the header still authenticate.
func setTokenCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, derrors.Wrap(err, derrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	if !strings.Contains(req.Email, "@") {
		s.writeError(w, r, derrors.New(derrors.ErrCodeInvalidInput, "invalid email").
			WithUserMessage("Enter a valid email address."))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeError(w, r, derrors.Wrap(err, derrors.ErrCodeInvalidInput, "weak password").
			WithUserMessage("Password must be at least 6 characters."))
		return
	}

	user := &storage.User{Email: req.Email, Name: req.Name, PasswordHash: hash}
	if err := s.store.CreateUser(user); err != nil {
		s.writeError(w, r, err)
		return
	}

	token, err := s.tokens.Issue(auth.Identity{ID: user.ID, Email: user.Email, Name: user.Name})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.logger != nil {
		_ = s.logger.Info(logging.CategoryAuth, "user_registered", "new account",
			map[string]any{"user": user.ID})
	}

	setTokenCookie(w, token, int(s.cfg.Auth.TokenTTL.Seconds()))
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":  toUserResponse(user),
		"token": token,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, derrors.Wrap(err, derrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	user, err := s.store.GetUserByEmail(req.Email)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		// Same answer whether the account exists or the password is wrong.
		s.writeError(w, r, derrors.New(derrors.ErrCodeUnauthenticated, "bad credentials").
			WithUserMessage("Invalid email or password."))
		return
	}

	token, err := s.tokens.Issue(auth.Identity{ID: user.ID, Email: user.Email, Name: user.Name})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	setTokenCookie(w, token, int(s.cfg.Auth.TokenTTL.Seconds()))
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  toUserResponse(user),
		"token": token,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	user, err := s.store.GetUserByID(identity.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}

// handleLogout revokes the presented token for the remainder of its
// lifetime and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)
	if err := s.tokens.Revoke(r.Context(), token); err != nil {
		s.writeError(w, r, derrors.Wrap(err, derrors.ErrCodeStoreUnavailable, "revoke failed").
			WithUserMessage("Logout failed, try again."))
		return
	}

	if s.logger != nil {
		if identity, ok := identityFromContext(r.Context()); ok {
			_ = s.logger.Info(logging.CategoryAuth, "user_logged_out", "token revoked",
				map[string]any{"user": identity.ID})
		}
	}

	setTokenCookie(w, "", -1)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleListUsers returns everyone except the caller, for the collaborator
// picker.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	users, err := s.store.ListUsersExcept(identity.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}
