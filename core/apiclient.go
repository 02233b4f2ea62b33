package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Backend is everything the portal asks of the REST backend.
type Backend interface {
	IdentityResolver
	Login(ctx context.Context, username, password string) (string, User, error)
	Ping(ctx context.Context) error

	ListCourses(ctx context.Context, token string) ([]Course, error)
	GetCourse(ctx context.Context, token string, id int64) (Course, error)
	CreateCourse(ctx context.Context, token string, in CourseInput) (Course, error)
	UpdateCourse(ctx context.Context, token string, id int64, in CourseInput) (Course, error)
	DeleteCourse(ctx context.Context, token string, id int64) error

	ListUsers(ctx context.Context, token string) ([]User, error)
	GetUser(ctx context.Context, token string, id int64) (User, error)
	CreateUser(ctx context.Context, token string, in UserInput) (User, error)

	ListGroups(ctx context.Context, token string) ([]Group, error)
	GetGroup(ctx context.Context, token string, id int64) (GroupDetail, error)
	CreateGroup(ctx context.Context, token string, in GroupInput) (Group, error)
	UpdateGroup(ctx context.Context, token string, id int64, in GroupInput) (Group, error)
	DeleteGroup(ctx context.Context, token string, id int64) error

	ListProgress(ctx context.Context, token string) ([]ProgressEntry, error)
}

// APIClient calls the REST backend. It keeps no per-user state; the bearer
// token travels with every call.
type APIClient struct {
	client *retryablehttp.Client
	base   string
}

const maxResponseBody = 4 * 1024 * 1024

type noRetryKey struct{}

func NewAPIClient(cfg Config, logger *zap.Logger) *APIClient {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = cfg.BackendTimeout
	rc.RetryMax = cfg.BackendRetries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.CheckRetry = retryIdempotent
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = retryLogger{logger.Named("backend").Sugar()}
	return &APIClient{client: rc, base: cfg.BackendURL}
}

// retryIdempotent applies the default policy (transport errors, 5xx, 429) to
// reads only; writes are marked through the context and never repeated.
func retryIdempotent(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if skip, _ := ctx.Value(noRetryKey{}).(bool); skip {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	l *zap.SugaredLogger
}

func (r retryLogger) Error(msg string, kv ...interface{}) { r.l.Errorw(msg, kv...) }
func (r retryLogger) Info(msg string, kv ...interface{})  { r.l.Debugw(msg, kv...) }
func (r retryLogger) Debug(msg string, kv ...interface{}) { r.l.Debugw(msg, kv...) }
func (r retryLogger) Warn(msg string, kv ...interface{})  { r.l.Warnw(msg, kv...) }

func (c *APIClient) do(ctx context.Context, method, path, token string, body, out any) error {
	if method != http.MethodGet {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}
	var payload any
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = b
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read %s %s: %w: %v", method, path, ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Detail: parseDetail(data), Kind: kindForStatus(resp.StatusCode)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func idPath(prefix string, id int64) string {
	return prefix + "/" + strconv.FormatInt(id, 10)
}

// Ping checks that the backend answers at all.
func (c *APIClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

// Login exchanges credentials for a bearer token.
func (c *APIClient) Login(ctx context.Context, username, password string) (string, User, error) {
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		User        User   `json:"user"`
	}
	in := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", in, &out); err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return "", User{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return "", User{}, err
	}
	if out.AccessToken == "" {
		return "", User{}, errors.New("backend login returned no token")
	}
	return out.AccessToken, out.User, nil
}

// CurrentUser validates token and returns its owner.
func (c *APIClient) CurrentUser(ctx context.Context, token string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/api/auth/me", token, nil, &u)
	return u, err
}

func (c *APIClient) ListCourses(ctx context.Context, token string) ([]Course, error) {
	var out []Course
	err := c.do(ctx, http.MethodGet, "/api/courses", token, nil, &out)
	return out, err
}

func (c *APIClient) GetCourse(ctx context.Context, token string, id int64) (Course, error) {
	var out Course
	err := c.do(ctx, http.MethodGet, idPath("/api/courses", id), token, nil, &out)
	return out, err
}

func (c *APIClient) CreateCourse(ctx context.Context, token string, in CourseInput) (Course, error) {
	var out Course
	err := c.do(ctx, http.MethodPost, "/api/courses", token, in, &out)
	return out, err
}

func (c *APIClient) UpdateCourse(ctx context.Context, token string, id int64, in CourseInput) (Course, error) {
	var out Course
	err := c.do(ctx, http.MethodPatch, idPath("/api/courses", id), token, in, &out)
	return out, err
}

func (c *APIClient) DeleteCourse(ctx context.Context, token string, id int64) error {
	return c.do(ctx, http.MethodDelete, idPath("/api/courses", id), token, nil, nil)
}

func (c *APIClient) ListUsers(ctx context.Context, token string) ([]User, error) {
	var out []User
	err := c.do(ctx, http.MethodGet, "/api/users", token, nil, &out)
	return out, err
}

func (c *APIClient) GetUser(ctx context.Context, token string, id int64) (User, error) {
	var out User
	err := c.do(ctx, http.MethodGet, idPath("/api/users", id), token, nil, &out)
	return out, err
}

func (c *APIClient) CreateUser(ctx context.Context, token string, in UserInput) (User, error) {
	var out User
	err := c.do(ctx, http.MethodPost, "/api/users", token, in, &out)
	return out, err
}

func (c *APIClient) ListGroups(ctx context.Context, token string) ([]Group, error) {
	var out []Group
	err := c.do(ctx, http.MethodGet, "/api/groups", token, nil, &out)
	return out, err
}

func (c *APIClient) GetGroup(ctx context.Context, token string, id int64) (GroupDetail, error) {
	var out GroupDetail
	err := c.do(ctx, http.MethodGet, idPath("/api/groups", id), token, nil, &out)
	return out, err
}

func (c *APIClient) CreateGroup(ctx context.Context, token string, in GroupInput) (Group, error) {
	var out Group
	err := c.do(ctx, http.MethodPost, "/api/groups", token, in, &out)
	return out, err
}

func (c *APIClient) UpdateGroup(ctx context.Context, token string, id int64, in GroupInput) (Group, error) {
	var out Group
	err := c.do(ctx, http.MethodPatch, idPath("/api/groups", id), token, in, &out)
	return out, err
}

func (c *APIClient) DeleteGroup(ctx context.Context, token string, id int64) error {
	return c.do(ctx, http.MethodDelete, idPath("/api/groups", id), token, nil, nil)
}

func (c *APIClient) ListProgress(ctx context.Context, token string) ([]ProgressEntry, error) {
	var out []ProgressEntry
	err := c.do(ctx, http.MethodGet, "/api/progress", token, nil, &out)
	return out, err
}
