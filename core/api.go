package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// registerAPI mounts the JSON surface used by the mobile app.
func (p *Pages) registerAPI(api *gin.RouterGroup) {
	api.GET("/session", p.apiSession)
	api.POST("/auth/login", p.apiLogin)
	api.POST("/auth/logout", p.apiLogout)
	api.GET("/landing", p.apiLanding)
	api.GET("/navigation", p.apiNavigation)

	api.GET("/courses", RequireRoleAPI(RoleUser), p.apiCourses)
	api.GET("/groups", RequireRoleAPI(RoleUser), p.apiGroups)
	api.GET("/progress", RequireRoleAPI(RoleUser), p.apiProgress)
	api.GET("/admin/status", RequireRoleAPI(RoleAdmin), p.apiStatus)
}

func (p *Pages) apiSession(c *gin.Context) {
	s := currentSession(c)
	body := gin.H{"loading": s.Loading, "user": s.User}
	if st := sessionFrom(c); st != nil {
		body["csrf_token"], _ = st.CSRFToken()
		prefs := st.Preferences()
		body["preferences"] = gin.H{"theme": prefs.Theme, "sidebar_collapsed": prefs.SidebarCollapsed}
	}
	c.JSON(http.StatusOK, body)
}

func (p *Pages) apiLogin(c *gin.Context) {
	var req loginForm
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
		return
	}
	if err := p.validate.Struct(req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationMessage(err))
		return
	}

	tok, u, err := p.backend.Login(c.Request.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
			return
		}
		p.apiFail(c, err)
		return
	}

	st := sessionFrom(c)
	if err := st.Login(tok, u); err != nil {
		p.logger.Error("failed to store session", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to set session")
		return
	}
	// Login rotates the session; hand the client the fresh CSRF token.
	csrf, _ := st.CSRFToken()
	c.Header("X-CSRF-Token", csrf)
	c.JSON(http.StatusOK, gin.H{"user": u, "csrf_token": csrf})
}

func (p *Pages) apiLogout(c *gin.Context) {
	st := sessionFrom(c)
	if st == nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
		return
	}
	if err := st.Logout(); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to clear session")
		return
	}
	c.Status(http.StatusNoContent)
}

// apiLanding runs the startup redirect for the mobile app and reports where
// it would go. While resolving, route is empty.
func (p *Pages) apiLanding(c *gin.Context) {
	var target string
	landing := NewLanding(p.routes.Landing.Mobile, NavigatorFunc(func(route string) { target = route }))
	state := landing.Observe(currentSession(c))
	if state == LandingResolving {
		c.Header("Retry-After", "1")
	}
	c.JSON(http.StatusOK, gin.H{"state": state.String(), "route": target})
}

func (p *Pages) apiNavigation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"routes": p.routes.MobileFor(currentSession(c))})
}

func (p *Pages) apiCourses(c *gin.Context) {
	list, err := p.backend.ListCourses(c.Request.Context(), bearer(c))
	if err != nil {
		p.apiFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": list})
}

func (p *Pages) apiGroups(c *gin.Context) {
	list, err := p.backend.ListGroups(c.Request.Context(), bearer(c))
	if err != nil {
		p.apiFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": list})
}

func (p *Pages) apiProgress(c *gin.Context) {
	list, err := p.backend.ListProgress(c.Request.Context(), bearer(c))
	if err != nil {
		p.apiFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": list})
}

func (p *Pages) apiStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	c.JSON(http.StatusOK, CollectSystemStatus(ctx, p.sessions, p.backend, p.startedAt))
}

// apiFail maps a backend error onto the JSON envelope.
func (p *Pages) apiFail(c *gin.Context, err error) {
	switch {
	case c.Request.Context().Err() != nil:
		c.Abort()
	case errors.Is(err, ErrUnauthenticated):
		p.signOut(c)
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "session expired")
	case errors.Is(err, ErrUnauthorized):
		respondError(c, http.StatusForbidden, "FORBIDDEN", userMessage(err))
	case errors.Is(err, ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", userMessage(err))
	case errors.Is(err, ErrValidation):
		respondError(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", userMessage(err))
	case errors.Is(err, ErrBadRequest):
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", userMessage(err))
	case errors.Is(err, ErrNetwork):
		p.logger.Warn("backend unavailable", zap.String("path", c.Request.URL.Path), zap.Error(err))
		respondError(c, http.StatusBadGateway, "BACKEND_UNAVAILABLE", userMessage(err))
	default:
		p.logger.Error("backend call failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "unexpected backend error")
	}
}
