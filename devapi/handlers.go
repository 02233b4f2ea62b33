package devapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if !s.bindJSON(c, &req) {
		return
	}
	u, err := s.store.FindByUsername(strings.TrimSpace(req.Username))
	if err != nil || !u.IsActive || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		c.Header("WWW-Authenticate", "Bearer")
		detail(c, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	token, err := s.issueToken(u)
	if err != nil {
		s.logger.Error("failed to sign token", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Could not issue token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer", "user": u})
}

func (s *Server) listUsers(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ListUsers())
}

func (s *Server) getUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	u, err := s.store.UserByID(id)
	if err != nil {
		detail(c, http.StatusNotFound, "User not found")
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) createUser(c *gin.Context) {
	var req struct {
		Username    string `json:"username" validate:"required,min=3,max=32"`
		Email       string `json:"email" validate:"required,email"`
		Password    string `json:"password" validate:"required,min=8,max=128"`
		DisplayName string `json:"display_name" validate:"max=100"`
		Role        string `json:"role" validate:"omitempty,oneof=user manager admin"`
	}
	if !s.bindJSON(c, &req) {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		detail(c, http.StatusInternalServerError, "Could not hash password")
		return
	}
	u, err := s.store.CreateUser(User{
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.TrimSpace(req.Email),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Role:         req.Role,
		PasswordHash: string(hash),
	})
	if errors.Is(err, ErrConflict) {
		detail(c, http.StatusBadRequest, "Username already exists")
		return
	}
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) listCourses(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ListCourses())
}

func (s *Server) getCourse(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	course, err := s.store.GetCourse(id)
	if err != nil {
		detail(c, http.StatusNotFound, "Course not found")
		return
	}
	c.JSON(http.StatusOK, course)
}

type coursePayload struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

func (s *Server) createCourse(c *gin.Context) {
	var req struct {
		Name        string `json:"name" validate:"required,max=200"`
		Description string `json:"description" validate:"max=2000"`
		Lessons     int    `json:"lessons" validate:"min=0,max=1000"`
	}
	if !s.bindJSON(c, &req) {
		return
	}
	course := s.store.CreateCourse(strings.TrimSpace(req.Name), req.Description, req.Lessons)
	s.logger.Info("course created", zap.Int64("id", course.ID), zap.String("by", currentUser(c).Username))
	c.JSON(http.StatusCreated, course)
}

func (s *Server) updateCourse(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req coursePayload
	if !s.bindJSON(c, &req) {
		return
	}
	course, err := s.store.UpdateCourse(id, req.Name, req.Description)
	if err != nil {
		detail(c, http.StatusNotFound, "Course not found")
		return
	}
	c.JSON(http.StatusOK, course)
}

func (s *Server) deleteCourse(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteCourse(id); err != nil {
		detail(c, http.StatusNotFound, "Course not found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listGroups(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ListGroups(currentUser(c)))
}

// getGroup lets members and managers in; anyone else gets 403.
func (s *Server) getGroup(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	g, err := s.store.GetGroup(id)
	if err != nil {
		detail(c, http.StatusNotFound, "Group not found")
		return
	}
	u := currentUser(c)
	if !atLeast(u.Role, RoleManager) && !s.store.IsMember(id, u.Username) {
		detail(c, http.StatusForbidden, "Not a member of this group")
		return
	}
	c.JSON(http.StatusOK, g)
}

type groupPayload struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
}

func (p groupPayload) empty() bool {
	return p.Name == nil && p.Description == nil
}

func (s *Server) createGroup(c *gin.Context) {
	var req groupPayload
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		detail(c, http.StatusBadRequest, "Group name is required")
		return
	}
	if !s.bindValid(c, req) {
		return
	}
	description := ""
	if req.Description != nil {
		description = *req.Description
	}
	g := s.store.CreateGroup(strings.TrimSpace(*req.Name), description, currentUser(c).Username)
	c.JSON(http.StatusCreated, g)
}

func (s *Server) updateGroup(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req groupPayload
	if err := c.ShouldBindJSON(&req); err != nil || req.empty() {
		detail(c, http.StatusBadRequest, "No fields to update")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		detail(c, http.StatusBadRequest, "Group name cannot be empty")
		return
	}
	if !s.bindValid(c, req) {
		return
	}
	g, err := s.store.UpdateGroup(id, req.Name, req.Description)
	if err != nil {
		detail(c, http.StatusNotFound, "Group not found")
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) deleteGroup(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteGroup(id); err != nil {
		detail(c, http.StatusNotFound, "Group not found")
		return
	}
	c.Status(http.StatusNoContent)
}

// bindValid validates an already decoded payload; group errors are 400s.
func (s *Server) bindValid(c *gin.Context, req any) bool {
	if err := s.validate.Struct(req); err != nil {
		detail(c, http.StatusBadRequest, "Invalid group payload")
		return false
	}
	return true
}

func (s *Server) listProgress(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ListProgress(currentUser(c).ID))
}
