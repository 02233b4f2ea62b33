package devapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := Open(Config{Secret: "test-secret", TokenTTL: time.Hour}, bcrypt.MinCost, zap.NewNop())
	require.NoError(t, err)
	return srv
}

func call(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func loginAs(t *testing.T, srv *Server, username, password string) string {
	t.Helper()
	w := call(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		User        User   `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "bearer", out.TokenType)
	assert.Equal(t, username, out.User.Username)
	return out.AccessToken
}

func detailOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.Detail
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t)

	tok := loginAs(t, srv, "test_manager", "manager-password")
	w := call(t, srv, http.MethodGet, "/api/auth/me", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, RoleManager, me.Role)
	assert.NotContains(t, w.Body.String(), "password")

	w = call(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "test_manager", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Incorrect username or password", detailOf(t, w))

	w = call(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "test_manager"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"loc":["body","password"]`)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	w := call(t, srv, http.MethodGet, "/api/courses", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Not authenticated", detailOf(t, w))
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	w = call(t, srv, http.MethodGet, "/api/courses", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Could not validate credentials", detailOf(t, w))
}

func TestExpiredAndForeignTokensAreRejected(t *testing.T) {
	srv := newTestServer(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "test_admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/api/auth/me", expired, nil).Code)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "test_admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/api/auth/me", foreign, nil).Code)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "test_admin"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/api/auth/me", noExpiry, nil).Code)
}

func TestCourses(t *testing.T) {
	srv := newTestServer(t)
	user := loginAs(t, srv, "test_user", "user-password")
	admin := loginAs(t, srv, "test_admin", "admin-password")

	w := call(t, srv, http.MethodGet, "/api/courses", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var courses []Course
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &courses))
	require.Len(t, courses, 3)
	assert.Equal(t, "Introduction to Programming", courses[0].Name)

	w = call(t, srv, http.MethodGet, "/api/courses/99", user, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Course not found", detailOf(t, w))

	w = call(t, srv, http.MethodGet, "/api/courses/zero", user, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = call(t, srv, http.MethodPost, "/api/courses", user, map[string]string{"name": "Nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Requires admin role", detailOf(t, w))

	w = call(t, srv, http.MethodPost, "/api/courses", admin, map[string]string{"description": "no name"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Field required")

	w = call(t, srv, http.MethodPost, "/api/courses", admin, map[string]any{"name": "Go", "lessons": 4})
	require.Equal(t, http.StatusCreated, w.Code)
	var created Course
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, int64(4), created.ID)

	w = call(t, srv, http.MethodPatch, "/api/courses/4", admin, map[string]string{"description": "Concurrency"})
	require.Equal(t, http.StatusOK, w.Code)
	var updated Course
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Go", updated.Name)
	assert.Equal(t, "Concurrency", updated.Description)

	assert.Equal(t, http.StatusNoContent, call(t, srv, http.MethodDelete, "/api/courses/4", admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodDelete, "/api/courses/4", admin, nil).Code)
}

func TestGroupVisibility(t *testing.T) {
	srv := newTestServer(t)
	user := loginAs(t, srv, "test_user", "user-password")
	manager := loginAs(t, srv, "test_manager", "manager-password")

	var groups []Group
	w := call(t, srv, http.MethodGet, "/api/groups", user, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "group_users", groups[0].Name)

	w = call(t, srv, http.MethodGet, "/api/groups", manager, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	assert.Len(t, groups, 3)

	w = call(t, srv, http.MethodGet, "/api/groups/2", user, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Not a member of this group", detailOf(t, w))

	w = call(t, srv, http.MethodGet, "/api/groups/42", user, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = call(t, srv, http.MethodGet, "/api/groups/3", manager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail GroupDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, []string{"test_admin"}, detail.Members)
}

func TestGroupWrites(t *testing.T) {
	srv := newTestServer(t)
	user := loginAs(t, srv, "test_user", "user-password")
	manager := loginAs(t, srv, "test_manager", "manager-password")

	w := call(t, srv, http.MethodPost, "/api/groups", user, map[string]string{"name": "mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Requires manager role", detailOf(t, w))

	w = call(t, srv, http.MethodPost, "/api/groups", manager, map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Group name is required", detailOf(t, w))

	w = call(t, srv, http.MethodPost, "/api/groups", manager, map[string]string{"name": "study"})
	require.Equal(t, http.StatusCreated, w.Code)
	var g Group
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	assert.Equal(t, "test_manager", g.CreatedBy)
	assert.True(t, srv.Store().IsMember(g.ID, "test_manager"))

	w = call(t, srv, http.MethodPatch, "/api/groups/4", manager, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No fields to update", detailOf(t, w))

	w = call(t, srv, http.MethodPatch, "/api/groups/4", manager, map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Group name cannot be empty", detailOf(t, w))

	w = call(t, srv, http.MethodPatch, "/api/groups/4", manager, map[string]string{"description": "weekly"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	assert.Equal(t, "study", g.Name)
	assert.Equal(t, "weekly", g.Description)

	assert.Equal(t, http.StatusNoContent, call(t, srv, http.MethodDelete, "/api/groups/4", manager, nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodPatch, "/api/groups/4", manager, map[string]string{"name": "x"}).Code)
}

func TestUsers(t *testing.T) {
	srv := newTestServer(t)
	user := loginAs(t, srv, "test_user", "user-password")
	admin := loginAs(t, srv, "test_admin", "admin-password")

	w := call(t, srv, http.MethodGet, "/api/users", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var users []User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	assert.Len(t, users, 3)

	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/api/users/77", user, nil).Code)

	newUser := map[string]string{"username": "dana", "email": "dana@example.com", "password": "dana-password"}
	assert.Equal(t, http.StatusForbidden, call(t, srv, http.MethodPost, "/api/users", user, newUser).Code)

	w = call(t, srv, http.MethodPost, "/api/users", admin, newUser)
	require.Equal(t, http.StatusCreated, w.Code)
	var created User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, RoleUser, created.Role)
	assert.True(t, created.IsActive)

	w = call(t, srv, http.MethodPost, "/api/users", admin, newUser)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Username already exists", detailOf(t, w))

	w = call(t, srv, http.MethodPost, "/api/users", admin, map[string]string{"username": "ed", "email": "bad", "password": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	loginAs(t, srv, "dana", "dana-password")
}

func TestProgress(t *testing.T) {
	srv := newTestServer(t)
	user := loginAs(t, srv, "test_user", "user-password")
	admin := loginAs(t, srv, "test_admin", "admin-password")

	w := call(t, srv, http.MethodGet, "/api/progress", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var progress []ProgressEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progress))
	require.Len(t, progress, 2)
	assert.Equal(t, ProgressEntry{CourseID: 1, CourseName: "Introduction to Programming", CompletedLessons: 6, TotalLessons: 12}, progress[0])

	w = call(t, srv, http.MethodGet, "/api/progress", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)
	w := call(t, srv, http.MethodGet, "/api/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not Found", detailOf(t, w))

	w = call(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
