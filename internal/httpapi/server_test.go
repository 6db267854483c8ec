// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil/sigil/internal/httpapi"
	"github.com/sigil/sigil/internal/identity"
	"github.com/sigil/sigil/internal/identity/memory"
	"github.com/sigil/sigil/internal/observability"
)

type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) {
	return "stub$" + password, nil
}

func (stubHasher) Verify(password, hash string) (bool, error) {
	return hash == "stub$"+password, nil
}

// captureNotifier records delivered bodies so tests can pull tokens back out.
type captureNotifier struct {
	mu     sync.Mutex
	bodies []string
}

func (n *captureNotifier) Send(_ context.Context, _, _, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies = append(n.bodies, body)
	return nil
}

func (n *captureNotifier) lastLink(t *testing.T) (userID, token string) {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.bodies, "no notification was sent")

	body := n.bodies[len(n.bodies)-1]
	idx := strings.Index(body, "http")
	require.GreaterOrEqual(t, idx, 0, "no link in body: %q", body)

	link, err := url.Parse(body[idx:])
	require.NoError(t, err)
	return link.Query().Get("userId"), link.Query().Get("token")
}

type apiFixture struct {
	handler  http.Handler
	notifier *captureNotifier
	metrics  *observability.Metrics
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store, err := memory.NewUserStore(stubHasher{})
	require.NoError(t, err)

	tokens, err := identity.NewTokenService([]byte("test-secret"), identity.TokenTTL{})
	require.NoError(t, err)

	sessions, err := identity.NewSessionManager(memory.NewSessionStore())
	require.NoError(t, err)

	links, err := identity.NewLinkBuilder("https://accounts.example.com")
	require.NoError(t, err)

	notifier := &captureNotifier{}
	logger := slog.New(slog.DiscardHandler)

	accounts, err := identity.NewAccountService(store, stubHasher{}, tokens, sessions, notifier, links,
		identity.WithLogger(logger))
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	server, err := httpapi.NewServer(":0", accounts, sessions, metrics, logger)
	require.NoError(t, err)

	return &apiFixture{
		handler:  server.Handler(),
		notifier: notifier,
		metrics:  metrics,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) register(t *testing.T, email, username, password string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/register", map[string]any{
		"email":      email,
		"username":   username,
		"first_name": "Test",
		"last_name":  "User",
		"password":   password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *apiFixture) confirm(t *testing.T) {
	t.Helper()
	userID, token := f.notifier.lastLink(t)
	rec := f.do(t, http.MethodGet,
		"/v1/confirm-email?userId="+url.QueryEscape(userID)+"&token="+url.QueryEscape(token), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == httpapi.SessionCookie {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", httpapi.SessionCookie)
	return nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestRegister(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/register", map[string]any{
		"email":    "alice@example.com",
		"username": "alice",
		"password": "Password1!",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, "alice@example.com", body.Email)
	assert.Equal(t, "alice", body.Username)
}

func TestRegister_MalformedBody(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/register", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com", "alice", "Password1!")

	rec := f.do(t, http.MethodPost, "/v1/register", map[string]any{
		"email":    "alice@example.com",
		"username": "alice2",
		"password": "Password1!",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "email already registered", decodeError(t, rec))
}

func TestConfirmEmail_BadToken(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com", "alice", "Password1!")
	userID, _ := f.notifier.lastLink(t)

	rec := f.do(t, http.MethodGet, "/v1/confirm-email?userId="+userID+"&token=garbage", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeError(t, rec), "your account has not been confirmed")
}

func TestLogin(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com", "alice", "Password1!")
	f.confirm(t)

	rec := f.do(t, http.MethodPost, "/v1/login", map[string]any{
		"email":    "alice@example.com",
		"password": "Password1!",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cookie := sessionCookie(t, rec)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	// The cookie resolves to a session.
	rec = f.do(t, http.MethodGet, "/v1/session", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		UserID string `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.UserID)
}

func TestLogin_BeforeConfirmation(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com", "alice", "Password1!")

	rec := f.do(t, http.MethodPost, "/v1/login", map[string]any{
		"email":    "alice@example.com",
		"password": "Password1!",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "please confirm your account", decodeError(t, rec))
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com", "alice", "Password1!")
	f.confirm(t)

	rec := f.do(t, http.MethodPost, "/v1/login", map[string]any{
		"email":    "alice@example.com",
		"password": "wrong password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "username or password is incorrect", decodeError(t, rec))
}

func TestLogin_UnknownEmail(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/login", map[string]any{
		"email":    "ghost@example.com",
		"password": "whatever1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "user not found", decodeError(t, rec))
}

func TestLogout(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com", "alice", "Password1!")
	f.confirm(t)

	rec := f.do(t, http.MethodPost, "/v1/login", map[string]any{
		"email":    "alice@example.com",
		"password": "Password1!",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)

	rec = f.do(t, http.MethodPost, "/v1/logout", nil, cookie)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	cleared := sessionCookie(t, rec)
	assert.Equal(t, -1, cleared.MaxAge, "logout must expire the cookie")

	// The session itself is gone.
	rec = f.do(t, http.MethodGet, "/v1/session", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_WithoutSession(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSession_WithoutCookie(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestForgotPassword_AlwaysAccepted(t *testing.T) {
	f := newAPIFixture(t)

	// Unknown address gets the same answer as a known one.
	rec := f.do(t, http.MethodPost, "/v1/forgot-password", map[string]any{
		"email": "nobody@example.com",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestResetPassword_Flow(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com", "alice", "Password1!")
	f.confirm(t)

	rec := f.do(t, http.MethodPost, "/v1/forgot-password", map[string]any{
		"email": "alice@example.com",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	_, resetToken := f.notifier.lastLink(t)

	rec = f.do(t, http.MethodPost, "/v1/reset-password", map[string]any{
		"email":    "alice@example.com",
		"token":    resetToken,
		"password": "Password2!",
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// Old password is dead, new one works.
	rec = f.do(t, http.MethodPost, "/v1/login", map[string]any{
		"email":    "alice@example.com",
		"password": "Password1!",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/login", map[string]any{
		"email":    "alice@example.com",
		"password": "Password2!",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetPassword_ShortPassword(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/reset-password", map[string]any{
		"email":    "alice@example.com",
		"token":    "whatever",
		"password": "short",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "password does not meet the minimum requirements", decodeError(t, rec))
}

func TestWorkflowMetrics(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com", "alice", "Password1!")

	// A rejected login.
	f.do(t, http.MethodPost, "/v1/login", map[string]any{
		"email":    "alice@example.com",
		"password": "Password1!",
	})

	assert.Equal(t, float64(1),
		testutil.ToFloat64(f.metrics.WorkflowsTotal.WithLabelValues("register", "success")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(f.metrics.WorkflowsTotal.WithLabelValues("login", "user_error")))
}
