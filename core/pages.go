package core

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//go:embed templates/*.html
var templateFS embed.FS

// Layout is the shell around every page.
type Layout struct {
	Title            string
	CurrentPage      string
	Path             string
	CSRFToken        string
	User             *User
	Nav              []NavItem
	Theme            string
	SidebarCollapsed bool
	Flash            string
}

// PageData is what page templates receive.
type PageData struct {
	Layout
	Alert string
	Data  any
	Form  any
}

// Pages serves the HTML pages named by the route table.
type Pages struct {
	backend   Backend
	routes    *RouteTable
	cfg       Config
	logger    *zap.Logger
	validate  *validator.Validate
	sessions  SessionCounter
	startedAt time.Time
}

func NewPages(cfg Config, backend Backend, routes *RouteTable, sessions SessionCounter, logger *zap.Logger) *Pages {
	return &Pages{
		backend:   backend,
		routes:    routes,
		cfg:       cfg,
		logger:    logger.Named("pages"),
		validate:  newValidator(),
		sessions:  sessions,
		startedAt: time.Now(),
	}
}

// parseTemplates loads the embedded page templates.
func parseTemplates() (*template.Template, error) {
	funcs := template.FuncMap{
		"date": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format("2006-01-02 15:04")
		},
		"join": strings.Join,
		"mib": func(b uint64) uint64 {
			return b / (1024 * 1024)
		},
		"meets": func(u *User, role string) bool {
			return u != nil && u.Role.Meets(Role(role))
		},
	}
	return template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
}

// Handlers maps route-table page names to handlers.
func (p *Pages) Handlers() map[string]gin.HandlerFunc {
	return map[string]gin.HandlerFunc{
		"login":          p.login,
		"login_submit":   p.loginSubmit,
		"logout":         p.logout,
		"unauthorized":   p.unauthorized,
		"toggle_theme":   p.toggleTheme,
		"toggle_sidebar": p.toggleSidebar,
		"home":           p.home,
		"courses":        p.courses,
		"course_create":  p.courseCreate,
		"course":         p.course,
		"course_update":  p.courseUpdate,
		"course_delete":  p.courseDelete,
		"groups":         p.groups,
		"group_create":   p.groupCreate,
		"group":          p.group,
		"group_update":   p.groupUpdate,
		"group_delete":   p.groupDelete,
		"progress":       p.progress,
		"users":          p.users,
		"user_create":    p.userCreate,
		"user":           p.user,
		"status":         p.status,
	}
}

func (p *Pages) layout(c *gin.Context, title, page string) Layout {
	l := Layout{Title: title, CurrentPage: page, Path: c.Request.URL.Path, Theme: "light"}
	st := sessionFrom(c)
	if st == nil {
		return l
	}
	l.User = st.Session().User
	l.Nav = p.routes.Nav(l.User, page)
	l.CSRFToken, _ = st.CSRFToken()
	prefs := st.Preferences()
	l.Theme = prefs.Theme
	l.SidebarCollapsed = prefs.SidebarCollapsed
	return l
}

// render writes a page unless the client already went away. The pending
// flash is consumed here so redirects keep it for the next page.
func (p *Pages) render(c *gin.Context, status int, name string, data PageData) {
	if c.Request.Context().Err() != nil {
		c.Abort()
		return
	}
	if st := sessionFrom(c); st != nil && data.Flash == "" {
		data.Flash = st.TakeFlash()
	}
	c.HTML(status, name, data)
}

// fail renders a fetch error on page name. Data is never shown alongside it.
func (p *Pages) fail(c *gin.Context, name string, data PageData, err error) {
	ctx := c.Request.Context()
	data.Data = nil
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		// Client is gone; nothing to write.
		c.Abort()
	case errors.Is(err, ErrUnauthenticated):
		p.signOut(c)
		c.Redirect(http.StatusFound, loginRedirect(c.Request.URL))
	case errors.Is(err, ErrUnauthorized):
		c.Redirect(http.StatusFound, unauthorizedPath)
	case errors.Is(err, ErrNotFound):
		data.Alert = userMessage(err)
		p.render(c, http.StatusNotFound, "not_found.html", data)
	case errors.Is(err, ErrNetwork):
		p.logger.Warn("backend unavailable", zap.String("page", name), zap.Error(err))
		data.Alert = userMessage(err)
		p.render(c, http.StatusBadGateway, name, data)
	default:
		p.logger.Error("page fetch failed", zap.String("page", name), zap.Error(err))
		data.Alert = userMessage(err)
		p.render(c, http.StatusInternalServerError, name, data)
	}
}

// afterWrite finishes a form post: success and recoverable errors are
// flashed and the browser goes back to back.
func (p *Pages) afterWrite(c *gin.Context, back, success string, err error) {
	switch {
	case err == nil:
		p.flash(c, success)
	case c.Request.Context().Err() != nil:
		c.Abort()
		return
	case errors.Is(err, ErrUnauthenticated):
		p.signOut(c)
		c.Redirect(http.StatusSeeOther, loginPath)
		return
	case errors.Is(err, ErrUnauthorized):
		c.Redirect(http.StatusSeeOther, unauthorizedPath)
		return
	default:
		if errors.Is(err, ErrNetwork) {
			p.logger.Warn("backend unavailable", zap.String("path", c.Request.URL.Path), zap.Error(err))
		}
		p.flash(c, userMessage(err))
	}
	c.Redirect(http.StatusSeeOther, back)
}

func (p *Pages) flash(c *gin.Context, msg string) {
	if st := sessionFrom(c); st != nil && msg != "" {
		if err := st.SetFlash(msg); err != nil {
			p.logger.Warn("failed to store flash", zap.Error(err))
		}
	}
}

func (p *Pages) signOut(c *gin.Context) {
	if st := sessionFrom(c); st != nil {
		if err := st.Logout(); err != nil {
			p.logger.Warn("failed to clear session", zap.Error(err))
		}
	}
}

// bindForm binds and validates a posted form. On failure it flashes the
// problem, redirects to back and returns false.
func (p *Pages) bindForm(c *gin.Context, form any, back string) bool {
	if err := c.ShouldBindWith(form, binding.Form); err != nil {
		p.flash(c, "The form could not be read.")
		c.Redirect(http.StatusSeeOther, back)
		return false
	}
	if err := p.validate.Struct(form); err != nil {
		p.flash(c, validationMessage(err))
		c.Redirect(http.StatusSeeOther, back)
		return false
	}
	return true
}

func bearer(c *gin.Context) string {
	if st := sessionFrom(c); st != nil {
		return st.Token()
	}
	return ""
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func (p *Pages) notFound(c *gin.Context) {
	p.render(c, http.StatusNotFound, "not_found.html", PageData{Layout: p.layout(c, "Not found", "")})
}

func (p *Pages) login(c *gin.Context) {
	if s := currentSession(c); s.User != nil {
		c.Redirect(http.StatusFound, p.routes.Landing.Web.Authenticated)
		return
	}
	p.render(c, http.StatusOK, "login.html", PageData{
		Layout: p.layout(c, "Sign in", "login"),
		Form:   loginForm{Next: c.Query("next")},
	})
}

func (p *Pages) loginSubmit(c *gin.Context) {
	var form loginForm
	data := PageData{Layout: p.layout(c, "Sign in", "login")}
	if err := c.ShouldBindWith(&form, binding.Form); err != nil {
		data.Alert = "The form could not be read."
		p.render(c, http.StatusBadRequest, "login.html", data)
		return
	}
	data.Form = loginForm{Username: form.Username, Next: form.Next}
	if err := p.validate.Struct(form); err != nil {
		data.Alert = validationMessage(err)
		p.render(c, http.StatusUnprocessableEntity, "login.html", data)
		return
	}

	tok, u, err := p.backend.Login(c.Request.Context(), strings.TrimSpace(form.Username), form.Password)
	if err != nil {
		switch {
		case c.Request.Context().Err() != nil:
			c.Abort()
		case errors.Is(err, ErrInvalidCredentials):
			data.Alert = "Invalid username or password."
			p.render(c, http.StatusUnauthorized, "login.html", data)
		case errors.Is(err, ErrNetwork):
			p.logger.Warn("login failed: backend unavailable", zap.Error(err))
			data.Alert = userMessage(err)
			p.render(c, http.StatusBadGateway, "login.html", data)
		default:
			p.logger.Error("login failed", zap.Error(err))
			data.Alert = userMessage(err)
			p.render(c, http.StatusInternalServerError, "login.html", data)
		}
		return
	}

	st := sessionFrom(c)
	if err := st.Login(tok, u); err != nil {
		p.logger.Error("failed to store session", zap.Error(err))
		data.Alert = "Could not start your session. Please try again."
		p.render(c, http.StatusInternalServerError, "login.html", data)
		return
	}
	p.logger.Info("signed in", zap.String("user", u.Username), zap.String("role", string(u.Role)))
	c.Redirect(http.StatusSeeOther, safeNext(form.Next, p.routes.Landing.Web.Authenticated))
}

func (p *Pages) logout(c *gin.Context) {
	p.signOut(c)
	c.Redirect(http.StatusSeeOther, p.routes.Landing.Web.Anonymous)
}

func (p *Pages) unauthorized(c *gin.Context) {
	p.render(c, http.StatusForbidden, "unauthorized.html", PageData{Layout: p.layout(c, "Not allowed", "unauthorized")})
}

func (p *Pages) toggleTheme(c *gin.Context) {
	p.updatePreferences(c, func(pr *Preferences) {
		if pr.Theme == "dark" {
			pr.Theme = "light"
		} else {
			pr.Theme = "dark"
		}
	})
}

func (p *Pages) toggleSidebar(c *gin.Context) {
	p.updatePreferences(c, func(pr *Preferences) {
		pr.SidebarCollapsed = !pr.SidebarCollapsed
	})
}

func (p *Pages) updatePreferences(c *gin.Context, change func(*Preferences)) {
	if st := sessionFrom(c); st != nil {
		prefs := st.Preferences()
		change(&prefs)
		if err := st.SetPreferences(prefs); err != nil {
			p.logger.Warn("failed to store preferences", zap.Error(err))
		}
	}
	c.Redirect(http.StatusSeeOther, localPath(c.PostForm("next"), "/"))
}

type dashboard struct {
	Courses       []Course
	CoursesAlert  string
	Groups        []Group
	GroupsAlert   string
	Progress      []ProgressEntry
	ProgressAlert string
}

// home fetches its three sections concurrently. A failing section shows its
// own alert; only a rejected credential takes the whole page down.
func (p *Pages) home(c *gin.Context) {
	data := PageData{Layout: p.layout(c, "Home", "home")}
	tok := bearer(c)
	var d dashboard

	g, ctx := errgroup.WithContext(c.Request.Context())
	section := func(fetch func(context.Context) error, alert *string) {
		g.Go(func() error {
			err := fetch(ctx)
			if err == nil {
				return nil
			}
			if errors.Is(err, ErrUnauthenticated) || errors.Is(err, context.Canceled) {
				return err
			}
			*alert = userMessage(err)
			return nil
		})
	}
	section(func(ctx context.Context) (err error) {
		d.Courses, err = p.backend.ListCourses(ctx, tok)
		return err
	}, &d.CoursesAlert)
	section(func(ctx context.Context) (err error) {
		d.Groups, err = p.backend.ListGroups(ctx, tok)
		return err
	}, &d.GroupsAlert)
	section(func(ctx context.Context) (err error) {
		d.Progress, err = p.backend.ListProgress(ctx, tok)
		return err
	}, &d.ProgressAlert)

	if err := g.Wait(); err != nil {
		p.fail(c, "home.html", data, err)
		return
	}
	data.Data = d
	p.render(c, http.StatusOK, "home.html", data)
}

func (p *Pages) status(c *gin.Context) {
	data := PageData{Layout: p.layout(c, "System status", "status")}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	data.Data = CollectSystemStatus(ctx, p.sessions, p.backend, p.startedAt)
	p.render(c, http.StatusOK, "status.html", data)
}
