// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sigil/sigil/internal/identity"
	"github.com/sigil/sigil/pkg/errutil"
)

type registerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

type registerResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Persistent bool   `json:"persistent"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

type sessionResponse struct {
	UserID     string `json:"user_id"`
	Persistent bool   `json:"persistent"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.accounts.Register(r.Context(), identity.UserDraft{
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		s.respondError(w, "register", http.StatusUnprocessableEntity, err)
		return
	}

	s.recordOutcome("register", "success")
	s.writeJSON(w, http.StatusCreated, registerResponse{
		ID:       user.ID.String(),
		Email:    user.Email,
		Username: user.Username,
		Message:  "registration accepted, please confirm your email",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, token, err := s.accounts.Login(r.Context(), req.Email, req.Password, req.Persistent)
	if err != nil {
		s.respondError(w, "login", http.StatusUnauthorized, err)
		return
	}

	s.setSessionCookie(w, token, session.Persistent)
	s.recordOutcome("login", "success")
	s.writeJSON(w, http.StatusOK, sessionResponse{
		UserID:     session.UserID.String(),
		Persistent: session.Persistent,
	})
}

// handleLogout always responds 204. Logging out without a session, or with
// an expired one, is not a client mistake.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		s.accounts.Logout(r.Context(), cookie.Value)
	}
	s.clearSessionCookie(w)
	s.recordOutcome("logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

// handleConfirmEmail redeems the link from the confirmation mail, so it is a
// GET with query parameters rather than a JSON body.
func (s *Server) handleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	err := s.accounts.ConfirmEmail(r.Context(), query.Get("userId"), query.Get("token"))
	if err != nil {
		s.respondError(w, "confirm_email", http.StatusUnprocessableEntity, err)
		return
	}

	s.recordOutcome("confirm_email", "success")
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "email confirmed"})
}

// handleForgotPassword responds 202 whether or not the email is registered.
// The response shape must not reveal which addresses exist.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		s.respondError(w, "forgot_password", http.StatusUnprocessableEntity, err)
		return
	}

	s.recordOutcome("forgot_password", "success")
	s.writeJSON(w, http.StatusAccepted, messageResponse{Message: "please check your mail box"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.accounts.ResetPassword(r.Context(), req.Email, req.Token, req.Password); err != nil {
		s.respondError(w, "reset_password", http.StatusUnprocessableEntity, err)
		return
	}

	s.recordOutcome("reset_password", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not signed in"})
		return
	}

	session, err := s.sessions.Resolve(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			s.clearSessionCookie(w)
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not signed in"})
			return
		}
		s.respondError(w, "session", http.StatusUnauthorized, err)
		return
	}

	s.writeJSON(w, http.StatusOK, sessionResponse{
		UserID:     session.UserID.String(),
		Persistent: session.Persistent,
	})
}

// decode reads a JSON body into dst, responding 400 on malformed input.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

// respondError maps a workflow error to a response. Policy rejections carry
// their caller-safe message at rejectStatus; anything else is a system
// failure, logged here and surfaced opaquely as 500.
func (s *Server) respondError(w http.ResponseWriter, workflow string, rejectStatus int, err error) {
	if ue, ok := identity.AsUserError(err); ok {
		s.recordOutcome(workflow, "user_error")
		s.writeJSON(w, rejectStatus, errorResponse{Error: ue.Message})
		return
	}

	s.recordOutcome(workflow, "system_error")
	errutil.LogError(s.logger, workflow, err)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, persistent bool) {
	cookie := &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if persistent {
		cookie.MaxAge = int(persistentCookieAge.Seconds())
	}
	http.SetCookie(w, cookie)
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (s *Server) recordOutcome(workflow, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordWorkflow(workflow, outcome)
	}
}
