package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeResolver struct {
	calls int
	user  User
	err   error
}

func (f *fakeResolver) CurrentUser(_ context.Context, _ string) (User, error) {
	f.calls++
	return f.user, f.err
}

func newTestManager(resolver IdentityResolver, ttl time.Duration) *SessionManager {
	cfg := testConfig("http://backend.invalid")
	cfg.IdentityTTL = ttl
	return NewSessionManager(cfg, sessions.NewCookieStore([]byte(cfg.SessionKey)), resolver, zap.NewNop())
}

// requestWithCookies replays the cookies set on rec.
func requestWithCookies(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "test_user",
		"exp": exp.Unix(),
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return tok
}

// loggedIn returns a request carrying a session that holds token.
func loggedIn(t *testing.T, m *SessionManager, token string) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	st := m.Open(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, st.Login(token, User{ID: 1, Username: "test_user", Role: RoleUser, IsActive: true}))
	return requestWithCookies(rec)
}

func TestSessionIsLoadingUntilResolved(t *testing.T) {
	m := newTestManager(&fakeResolver{}, time.Minute)
	st := m.Open(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, st.Session().Loading)
	assert.Equal(t, DecisionPending, Authorize(st.Session(), RoleUser))

	s := st.Resolve(context.Background())
	assert.False(t, s.Loading)
	assert.True(t, s.Anonymous())
}

func TestResolveCallsBackendAtMostOnce(t *testing.T) {
	resolver := &fakeResolver{user: User{ID: 1, Username: "test_user", Role: RoleManager, IsActive: true}}
	m := newTestManager(resolver, 0)
	req := loggedIn(t, m, signedToken(t, time.Now().Add(time.Hour)))

	st := m.Open(httptest.NewRecorder(), req)
	first := st.Resolve(context.Background())
	second := st.Resolve(context.Background())

	assert.Equal(t, 1, resolver.calls)
	require.NotNil(t, first.User)
	assert.Equal(t, RoleManager, first.User.Role)
	assert.Equal(t, first, second)
}

func TestResolveUsesCachedIdentityWithinTTL(t *testing.T) {
	resolver := &fakeResolver{}
	m := newTestManager(resolver, time.Minute)
	req := loggedIn(t, m, signedToken(t, time.Now().Add(time.Hour)))

	s := m.Open(httptest.NewRecorder(), req).Resolve(context.Background())

	assert.Zero(t, resolver.calls)
	require.NotNil(t, s.User)
	assert.Equal(t, "test_user", s.User.Username)
}

func TestResolveBackendFailureIsAnonymous(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("GET /api/auth/me: %w: connection refused", ErrNetwork)}
	m := newTestManager(resolver, 0)
	req := loggedIn(t, m, signedToken(t, time.Now().Add(time.Hour)))

	st := m.Open(httptest.NewRecorder(), req)
	s := st.Resolve(context.Background())

	assert.Equal(t, 1, resolver.calls)
	assert.False(t, s.Loading)
	assert.Nil(t, s.User)
	// An outage does not cost the user their credential.
	assert.NotEmpty(t, st.Token())
}

func TestResolveRejectedCredentialIsDropped(t *testing.T) {
	resolver := &fakeResolver{err: &APIError{Status: http.StatusUnauthorized, Kind: ErrUnauthenticated}}
	m := newTestManager(resolver, 0)
	req := loggedIn(t, m, signedToken(t, time.Now().Add(time.Hour)))

	st := m.Open(httptest.NewRecorder(), req)
	s := st.Resolve(context.Background())

	assert.True(t, s.Anonymous())
	assert.Empty(t, st.Token())
}

func TestResolveExpiredCredentialSkipsBackend(t *testing.T) {
	resolver := &fakeResolver{user: User{Username: "test_user", Role: RoleUser}}
	m := newTestManager(resolver, time.Minute)
	req := loggedIn(t, m, signedToken(t, time.Now().Add(-time.Minute)))

	st := m.Open(httptest.NewRecorder(), req)
	s := st.Resolve(context.Background())

	assert.Zero(t, resolver.calls)
	assert.True(t, s.Anonymous())
	assert.Empty(t, st.Token())
}

func TestOpaqueCredentialIsNeverExpiredLocally(t *testing.T) {
	assert.False(t, credentialExpired("opaque-token", time.Now()))
}

func TestLogoutClearsIdentitySynchronously(t *testing.T) {
	m := newTestManager(&fakeResolver{}, time.Minute)
	req := loggedIn(t, m, signedToken(t, time.Now().Add(time.Hour)))

	rec := httptest.NewRecorder()
	st := m.Open(rec, req)
	require.NotNil(t, st.Resolve(context.Background()).User)

	require.NoError(t, st.Logout())

	assert.Equal(t, DecisionLogin, Authorize(st.Session(), RoleUser))
	assert.Empty(t, st.Token())
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Less(t, cookies[len(cookies)-1].MaxAge, 0)

	// A later request with the cleared cookie is anonymous too.
	next := m.Open(httptest.NewRecorder(), requestWithCookies(rec))
	assert.True(t, next.Resolve(context.Background()).Anonymous())
}

func TestLoginKeepsPreferences(t *testing.T) {
	m := newTestManager(&fakeResolver{}, time.Minute)
	st := m.Open(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, st.SetPreferences(Preferences{Theme: "dark", SidebarCollapsed: true}))
	require.NoError(t, st.SetFlash("hello"))

	require.NoError(t, st.Login("tok", User{Username: "u", Role: RoleUser}))

	assert.Equal(t, Preferences{Theme: "dark", SidebarCollapsed: true}, st.Preferences())
	assert.Empty(t, st.TakeFlash())
}

func TestFlashIsReadOnce(t *testing.T) {
	m := newTestManager(&fakeResolver{}, time.Minute)
	st := m.Open(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, st.SetFlash("Course created."))

	assert.Equal(t, "Course created.", st.TakeFlash())
	assert.Empty(t, st.TakeFlash())
}
