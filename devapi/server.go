// Package devapi is an in-memory implementation of the course backend's REST
// contract. It backs local development and the portal's tests.
package devapi

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Server serves the backend contract from a Store.
type Server struct {
	cfg      Config
	store    *Store
	logger   *zap.Logger
	validate *validator.Validate
}

func NewServer(cfg Config, store *Store, logger *zap.Logger) *Server {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 8 * time.Hour
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Server{cfg: cfg, store: store, logger: logger.Named("devapi"), validate: v}
}

// Open builds a server over a store loaded from cfg.SeedFile (or the embedded
// seed), creating an admin when the seed has none. hashCost is the bcrypt cost
// for seeded passwords; tests pass bcrypt.MinCost.
func Open(cfg Config, hashCost int, logger *zap.Logger) (*Server, error) {
	seed, err := LoadSeed(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	store := NewStore()
	if err := store.Apply(seed, hashCost); err != nil {
		return nil, err
	}
	if err := BootstrapAdmin(store, cfg, logger); err != nil {
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	return NewServer(cfg, store, logger), nil
}

// Store exposes the server's data for fixtures.
func (s *Server) Store() *Store {
	return s.store
}

// Router constructs the Gin engine with routes wired.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/auth/login", s.login)

	authed := api.Group("", s.requireAuth())
	{
		authed.GET("/auth/me", func(c *gin.Context) { c.JSON(http.StatusOK, currentUser(c)) })

		authed.GET("/users", s.listUsers)
		authed.GET("/users/:id", s.getUser)
		authed.POST("/users", requireRole(RoleAdmin), s.createUser)

		authed.GET("/courses", s.listCourses)
		authed.GET("/courses/:id", s.getCourse)
		authed.POST("/courses", requireRole(RoleAdmin), s.createCourse)
		authed.PATCH("/courses/:id", requireRole(RoleAdmin), s.updateCourse)
		authed.DELETE("/courses/:id", requireRole(RoleAdmin), s.deleteCourse)

		authed.GET("/groups", s.listGroups)
		authed.GET("/groups/:id", s.getGroup)
		authed.POST("/groups", requireRole(RoleManager), s.createGroup)
		authed.PATCH("/groups/:id", requireRole(RoleManager), s.updateGroup)
		authed.DELETE("/groups/:id", requireRole(RoleManager), s.deleteGroup)

		authed.GET("/progress", s.listProgress)
	}

	r.NoRoute(func(c *gin.Context) { detail(c, http.StatusNotFound, "Not Found") })
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// detail sends the backend's error body {"detail": "..."}.
func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// bindJSON decodes and validates the request body. Failures answer 422 with a
// list of field errors.
func (s *Server) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": []fieldError{{
			Loc: []string{"body"}, Msg: "Invalid JSON body", Type: "json_invalid",
		}}})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			detail(c, http.StatusUnprocessableEntity, err.Error())
			return false
		}
		items := make([]fieldError, 0, len(verrs))
		for _, fe := range verrs {
			items = append(items, fieldError{
				Loc:  []string{"body", fe.Field()},
				Msg:  fieldMessage(fe),
				Type: fe.Tag(),
			})
		}
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": items})
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Field required"
	case "email":
		return "value is not a valid email address"
	case "min":
		return "String should have at least " + fe.Param() + " characters"
	case "max":
		return "String should have at most " + fe.Param() + " characters"
	case "oneof":
		return "Input should be one of " + fe.Param()
	default:
		return "Invalid value"
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		detail(c, http.StatusUnprocessableEntity, "id must be a positive integer")
		return 0, false
	}
	return id, true
}
