package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const sessionName = "portal_session"
const sessionMaxAge = 18000 // 5h

// Keys inside the gorilla session. Values are kept to gob basics
// (string, int64, bool) so both stores can encode them without registration.
const (
	keyToken       = "token"
	keyUserID      = "uid"
	keyUsername    = "username"
	keyEmail       = "email"
	keyDisplayName = "display_name"
	keyRole        = "role"
	keyResolvedAt  = "resolved_at"
	keyCSRF        = "csrf_token"
	keyTheme       = "theme"
	keySidebar     = "sidebar_collapsed"
	keyFlash       = "flash"
)

// Session is the portal's view of who is signed in.
type Session struct {
	User    *User
	Loading bool
}

// Anonymous reports a resolved session without identity.
func (s Session) Anonymous() bool {
	return !s.Loading && s.User == nil
}

// IdentityResolver validates a stored credential.
type IdentityResolver interface {
	CurrentUser(ctx context.Context, token string) (User, error)
}

// sessionRotator is implemented by stores that keep values server-side under
// a session ID.
type sessionRotator interface {
	Rotate(r *http.Request, session *sessions.Session) error
}

// SessionManager opens request-scoped session stores.
type SessionManager struct {
	store    sessions.Store
	resolver IdentityResolver
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewSessionManager(cfg Config, store sessions.Store, resolver IdentityResolver, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		store:    store,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Open loads the raw session for r. An unreadable cookie yields a fresh session.
func (m *SessionManager) Open(w http.ResponseWriter, r *http.Request) *SessionStore {
	raw, err := m.store.Get(r, sessionName)
	if err != nil {
		m.logger.Debug("discarding unreadable session", zap.Error(err))
	}
	if raw == nil {
		raw = sessions.NewSession(m.store, sessionName)
		raw.IsNew = true
	}
	applySessionOptions(m.cfg, raw)
	return &SessionStore{
		m:       m,
		w:       w,
		r:       r,
		raw:     raw,
		current: Session{Loading: true},
	}
}

// SessionStore holds one request's session. It resolves at most once and is
// the only writer of its state.
type SessionStore struct {
	m   *SessionManager
	w   http.ResponseWriter
	r   *http.Request
	raw *sessions.Session

	once    sync.Once
	mu      sync.RWMutex
	current Session
	saved   bool
}

// Session returns a snapshot. It reports Loading until Resolve has run.
func (s *SessionStore) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *SessionStore) set(sess Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
}

// Resolve performs the single resolution attempt and returns the result.
// Failures resolve to an anonymous session; they are logged, not returned.
func (s *SessionStore) Resolve(ctx context.Context) Session {
	s.once.Do(func() {
		s.set(s.resolve(ctx))
	})
	return s.Session()
}

func (s *SessionStore) resolve(ctx context.Context) Session {
	token := s.Token()
	if token == "" {
		return Session{}
	}
	if credentialExpired(token, s.m.now()) {
		s.clearCredential()
		s.persist()
		return Session{}
	}
	if u, ok := s.cachedUser(); ok {
		return Session{User: &u}
	}

	u, err := s.m.resolver.CurrentUser(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			s.clearCredential()
			s.persist()
		}
		s.m.logger.Warn("session resolution failed", zap.Error(err))
		return Session{}
	}
	s.cacheUser(u)
	s.persist()
	return Session{User: &u}
}

// Login rotates the session and stores the credential with its owner.
// Server-side stores also get a fresh session ID.
func (s *SessionStore) Login(token string, u User) error {
	s.once.Do(func() {})
	if rot, ok := s.m.store.(sessionRotator); ok {
		if err := rot.Rotate(s.r, s.raw); err != nil {
			return err
		}
	}
	theme, _ := s.raw.Values[keyTheme].(string)
	sidebar, _ := s.raw.Values[keySidebar].(bool)

	s.raw.Values = map[interface{}]interface{}{}
	s.raw.Values[keyToken] = token
	if theme != "" {
		s.raw.Values[keyTheme] = theme
	}
	if sidebar {
		s.raw.Values[keySidebar] = true
	}
	s.cacheUser(u)
	s.set(Session{User: &u})
	return s.save()
}

// Logout clears identity and credential before anything else happens, then
// expires the cookie.
func (s *SessionStore) Logout() error {
	s.once.Do(func() {})
	s.set(Session{})
	s.raw.Values = map[interface{}]interface{}{}
	applySessionOptions(s.m.cfg, s.raw)
	s.raw.Options.MaxAge = -1 // Must be set AFTER applySessionOptions to properly delete cookie
	return s.save()
}

// Token returns the stored credential, if any.
func (s *SessionStore) Token() string {
	token, _ := s.raw.Values[keyToken].(string)
	return strings.TrimSpace(token)
}

// Touch saves the session once per request so options and TTLs stay fresh.
func (s *SessionStore) Touch() error {
	if s.saved {
		return nil
	}
	return s.save()
}

// CSRFToken returns the session's token, issuing one when missing.
func (s *SessionStore) CSRFToken() (string, error) {
	token, _ := s.raw.Values[keyCSRF].(string)
	if token != "" {
		return token, nil
	}
	token, err := generateCSRFToken()
	if err != nil {
		return "", err
	}
	s.raw.Values[keyCSRF] = token
	return token, s.save()
}

// Preferences are the shell's theme and sidebar state.
type Preferences struct {
	Theme            string
	SidebarCollapsed bool
}

func (s *SessionStore) Preferences() Preferences {
	theme, _ := s.raw.Values[keyTheme].(string)
	if theme != "dark" {
		theme = "light"
	}
	collapsed, _ := s.raw.Values[keySidebar].(bool)
	return Preferences{Theme: theme, SidebarCollapsed: collapsed}
}

func (s *SessionStore) SetPreferences(p Preferences) error {
	s.raw.Values[keyTheme] = p.Theme
	s.raw.Values[keySidebar] = p.SidebarCollapsed
	return s.save()
}

// SetFlash stores a one-shot message for the next rendered page.
func (s *SessionStore) SetFlash(msg string) error {
	s.raw.Values[keyFlash] = msg
	return s.save()
}

// TakeFlash returns and clears the pending flash message.
func (s *SessionStore) TakeFlash() string {
	msg, _ := s.raw.Values[keyFlash].(string)
	if msg == "" {
		return ""
	}
	delete(s.raw.Values, keyFlash)
	s.persist()
	return msg
}

func (s *SessionStore) save() error {
	if s.w == nil || s.r == nil {
		return nil
	}
	s.saved = true
	return s.raw.Save(s.r, s.w)
}

// persist saves and logs failures; used where the caller cannot do better.
func (s *SessionStore) persist() {
	if err := s.save(); err != nil {
		s.m.logger.Warn("failed to persist session", zap.Error(err))
	}
}

func (s *SessionStore) clearCredential() {
	for _, k := range []string{keyToken, keyUserID, keyUsername, keyEmail, keyDisplayName, keyRole, keyResolvedAt} {
		delete(s.raw.Values, k)
	}
}

func (s *SessionStore) cacheUser(u User) {
	s.raw.Values[keyUserID] = u.ID
	s.raw.Values[keyUsername] = u.Username
	s.raw.Values[keyEmail] = u.Email
	s.raw.Values[keyDisplayName] = u.DisplayName
	s.raw.Values[keyRole] = string(u.Role)
	s.raw.Values[keyResolvedAt] = s.m.now().Unix()
}

func (s *SessionStore) cachedUser() (User, bool) {
	ttl := s.m.cfg.IdentityTTL
	if ttl <= 0 {
		return User{}, false
	}
	resolvedAt, ok := s.raw.Values[keyResolvedAt].(int64)
	if !ok || s.m.now().Sub(time.Unix(resolvedAt, 0)) > ttl {
		return User{}, false
	}
	id, _ := s.raw.Values[keyUserID].(int64)
	username, _ := s.raw.Values[keyUsername].(string)
	roleName, _ := s.raw.Values[keyRole].(string)
	role, err := ParseRole(roleName)
	if username == "" || err != nil {
		return User{}, false
	}
	email, _ := s.raw.Values[keyEmail].(string)
	display, _ := s.raw.Values[keyDisplayName].(string)
	return User{
		ID:          id,
		Username:    username,
		Email:       email,
		DisplayName: display,
		Role:        role,
		IsActive:    true,
	}, true
}

// credentialExpired reads the exp claim without verifying the signature; the
// backend stays the authority. Opaque tokens are never considered expired here.
func credentialExpired(token string, now time.Time) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}
