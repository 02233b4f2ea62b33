package core

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter constructs the Gin engine with the route table wired.
// sessions may be nil when the session store cannot count (cookie sessions).
func NewRouter(cfg Config, mgr *SessionManager, backend Backend, routes *RouteTable, sessions SessionCounter, logger *zap.Logger) (*gin.Engine, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	r := gin.New()
	r.SetHTMLTemplate(tmpl)

	// Global middleware: recovery -> request log -> origin/CORS -> session -> CSRF
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger.Named("http")))
	r.Use(OriginRefererMiddleware(cfg))
	r.Use(SessionMiddleware(mgr))
	r.Use(CSRFMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	pages := NewPages(cfg, backend, routes, sessions, logger)
	r.GET("/", landingHandler(routes.Landing.Web))

	handlers := pages.Handlers()
	for _, rule := range routes.Web {
		h, ok := handlers[rule.Page]
		if !ok {
			return nil, fmt.Errorf("route %s %s: unknown page %q", rule.Method, rule.Path, rule.Page)
		}
		chain := make([]gin.HandlerFunc, 0, 2)
		if !rule.Public {
			chain = append(chain, RequireRole(rule.Role))
		}
		chain = append(chain, h)
		r.Handle(rule.Method, rule.Path, chain...)
	}

	pages.registerAPI(r.Group("/api/v1"))

	r.NoRoute(pages.notFound)
	return r, nil
}

// landingHandler is the web startup redirect: it waits for the session and
// sends the browser to exactly one of the two landing routes.
func landingHandler(routes LandingRoutes) gin.HandlerFunc {
	return func(c *gin.Context) {
		landing := NewLanding(routes, NavigatorFunc(func(route string) {
			c.Redirect(http.StatusFound, route)
		}))
		if landing.Observe(currentSession(c)) == LandingResolving {
			c.Header("Retry-After", "1")
			c.HTML(http.StatusOK, "loading.html", gin.H{"Next": "/"})
		}
	}
}
