// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package httpapi exposes the account workflows as a JSON API. It is
// presentation glue only: every decision lives in the identity package.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/sigil/sigil/internal/identity"
	"github.com/sigil/sigil/internal/observability"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "sigil_session"

// persistentCookieAge is the Max-Age for "remember me" cookies. Session
// lifetime itself is owned by the session store; this only shapes the
// client-side cookie.
const persistentCookieAge = 30 * 24 * time.Hour

// Server serves the account API.
type Server struct {
	addr       string
	accounts   *identity.AccountService
	sessions   *identity.SessionManager
	metrics    *observability.Metrics
	logger     *slog.Logger
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a Server. metrics may be nil.
func NewServer(
	addr string,
	accounts *identity.AccountService,
	sessions *identity.SessionManager,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (*Server, error) {
	if accounts == nil {
		return nil, oops.Code("HTTPAPI_NIL_DEP").Errorf("account service is required")
	}
	if sessions == nil {
		return nil, oops.Code("HTTPAPI_NIL_DEP").Errorf("session manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		accounts: accounts,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Handler returns the routing handler. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/register", s.handleRegister)
	mux.HandleFunc("POST /v1/login", s.handleLogin)
	mux.HandleFunc("POST /v1/logout", s.handleLogout)
	mux.HandleFunc("GET /v1/confirm-email", s.handleConfirmEmail)
	mux.HandleFunc("POST /v1/forgot-password", s.handleForgotPassword)
	mux.HandleFunc("POST /v1/reset-password", s.handleResetPassword)
	mux.HandleFunc("GET /v1/session", s.handleSession)
	return mux
}

// Start begins serving the account API. The returned channel receives any
// error from the HTTP server after startup and is closed on graceful stop.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("account API server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("account API server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("account API server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown account API server").Wrap(err)
		}
	}
	s.logger.Info("account API server stopped")
	return nil
}

// Addr returns the listen address, or empty if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
