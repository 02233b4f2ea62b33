package core

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	loginPath        = "/login"
	unauthorizedPath = "/unauthorized"
)

// Decision is the outcome of a guard check.
type Decision int

const (
	DecisionPending   Decision = iota // session not resolved yet: render neither page nor redirect
	DecisionLogin                     // no identity: send to login
	DecisionForbidden                 // identity below the required role
	DecisionAllow
)

func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionLogin:
		return "login"
	case DecisionForbidden:
		return "forbidden"
	case DecisionAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// Authorize decides what a guarded route does for s. A guarded route always
// needs an identity; required narrows it further and may be RoleNone.
func Authorize(s Session, required Role) Decision {
	switch {
	case s.Loading:
		return DecisionPending
	case s.User == nil:
		return DecisionLogin
	case !s.User.Role.Meets(required):
		return DecisionForbidden
	default:
		return DecisionAllow
	}
}

// RequireRole guards HTML pages.
func RequireRole(required Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch Authorize(currentSession(c), required) {
		case DecisionAllow:
			c.Next()
			return
		case DecisionPending:
			c.Header("Retry-After", "1")
			c.HTML(http.StatusOK, "loading.html", gin.H{"Next": c.Request.URL.RequestURI()})
		case DecisionLogin:
			c.Redirect(http.StatusFound, loginRedirect(c.Request.URL))
		case DecisionForbidden:
			c.Redirect(http.StatusFound, unauthorizedPath)
		}
		c.Abort()
	}
}

// RequireRoleAPI guards the JSON surface with status codes instead of redirects.
func RequireRoleAPI(required Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch Authorize(currentSession(c), required) {
		case DecisionAllow:
			c.Next()
			return
		case DecisionPending:
			c.Header("Retry-After", "1")
			respondError(c, http.StatusServiceUnavailable, "SESSION_PENDING", "session is still resolving")
		case DecisionLogin:
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
		case DecisionForbidden:
			respondError(c, http.StatusForbidden, "FORBIDDEN", "insufficient role")
		}
		c.Abort()
	}
}

func loginRedirect(u *url.URL) string {
	next := u.RequestURI()
	if next == "" || next == "/" {
		return loginPath
	}
	return loginPath + "?next=" + url.QueryEscape(next)
}

// localPath returns next when it is a path on this site, fallback otherwise.
func localPath(next, fallback string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}

// safeNext keeps post-login redirects on this site and off the login page.
func safeNext(next, fallback string) string {
	next = localPath(next, "")
	if next == "" || next == loginPath || strings.HasPrefix(next, loginPath+"?") {
		return fallback
	}
	return next
}
