package core

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"lms-portal/devapi"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(backendURL string) Config {
	return Config{
		Port:           "0",
		SessionKey:     "test-session-key-0123456789abcdef",
		CookieSameSite: "Lax",
		BackendURL:     backendURL,
		BackendTimeout: 2 * time.Second,
		BackendRetries: 1,
		SessionBackend: "cookie",
		IdentityTTL:    time.Minute,
	}
}

// newDevBackend serves the seeded in-memory backend.
func newDevBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := devapi.Open(devapi.Config{Secret: "test-secret", TokenTTL: time.Hour}, bcrypt.MinCost, zap.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

// portal drives a running portal like a browser: cookies are kept and
// redirects are not followed.
type portal struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
}

func newPortal(t *testing.T, backendURL string) *portal {
	t.Helper()
	cfg := testConfig(backendURL)
	logger := zap.NewNop()

	routes, err := LoadRouteTable("")
	require.NoError(t, err)
	backend := NewAPIClient(cfg, logger)
	mgr := NewSessionManager(cfg, sessions.NewCookieStore([]byte(cfg.SessionKey)), backend, logger)
	router, err := NewRouter(cfg, mgr, backend, routes, nil, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &portal{
		t:   t,
		srv: ts,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p *portal) do(req *http.Request) (*http.Response, string) {
	p.t.Helper()
	resp, err := p.client.Do(req)
	require.NoError(p.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(p.t, err)
	return resp, string(body)
}

func (p *portal) get(path string) (*http.Response, string) {
	p.t.Helper()
	req, err := http.NewRequest(http.MethodGet, p.srv.URL+path, nil)
	require.NoError(p.t, err)
	return p.do(req)
}

// post submits a form with the session's CSRF token.
func (p *portal) post(path string, form url.Values) (*http.Response, string) {
	p.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", p.csrf())
	req, err := http.NewRequest(http.MethodPost, p.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(p.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req)
}

func (p *portal) postJSON(path string, body any) (*http.Response, string) {
	p.t.Helper()
	data, err := json.Marshal(body)
	require.NoError(p.t, err)
	req, err := http.NewRequest(http.MethodPost, p.srv.URL+path, strings.NewReader(string(data)))
	require.NoError(p.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", p.csrf())
	return p.do(req)
}

func (p *portal) csrf() string {
	p.t.Helper()
	_, body := p.get("/api/v1/session")
	var out struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(p.t, json.Unmarshal([]byte(body), &out))
	require.NotEmpty(p.t, out.CSRFToken)
	return out.CSRFToken
}

func (p *portal) login(username, password string) {
	p.t.Helper()
	resp, body := p.post("/login", url.Values{"username": {username}, "password": {password}})
	require.Equal(p.t, http.StatusSeeOther, resp.StatusCode, body)
}
