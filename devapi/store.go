package devapi

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type groupRecord struct {
	Group
	members map[string]struct{}
}

// Store keeps all backend data in memory. It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	users      map[int64]*User
	byUsername map[string]int64
	courses    map[int64]*Course
	groups     map[int64]*groupRecord
	progress   map[int64]map[int64]int // user ID -> course ID -> completed lessons
	nextID     struct{ user, course, group int64 }

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:      map[int64]*User{},
		byUsername: map[string]int64{},
		courses:    map[int64]*Course{},
		groups:     map[int64]*groupRecord{},
		progress:   map[int64]map[int64]int{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) FindByUsername(username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[strings.ToLower(username)]
	if !ok {
		return User{}, ErrNotFound
	}
	return *s.users[id], nil
}

func (s *Store) UserByID(id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateUser stores u with a fresh ID. Usernames are unique case-insensitively.
func (s *Store) CreateUser(u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Username)
	if _, dup := s.byUsername[key]; dup {
		return User{}, ErrConflict
	}
	s.nextID.user++
	u.ID = s.nextID.user
	if u.Role == "" {
		u.Role = RoleUser
	}
	u.IsActive = true
	s.users[u.ID] = &u
	s.byUsername[key] = u.ID
	return u, nil
}

func (s *Store) HasAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Role == RoleAdmin {
			return true
		}
	}
	return false
}

func (s *Store) ListCourses() []Course {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Course, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetCourse(id int64) (Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[id]
	if !ok {
		return Course{}, ErrNotFound
	}
	return *c, nil
}

func (s *Store) CreateCourse(name, description string, lessons int) Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.nextID.course++
	c := &Course{
		ID:          s.nextID.course,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		lessons:     lessons,
	}
	s.courses[c.ID] = c
	return *c
}

// UpdateCourse changes the non-nil fields.
func (s *Store) UpdateCourse(id int64, name, description *string) (Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id]
	if !ok {
		return Course{}, ErrNotFound
	}
	if name != nil {
		c.Name = *name
	}
	if description != nil {
		c.Description = *description
	}
	c.UpdatedAt = s.now()
	return *c, nil
}

func (s *Store) DeleteCourse(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[id]; !ok {
		return ErrNotFound
	}
	delete(s.courses, id)
	for _, byCourse := range s.progress {
		delete(byCourse, id)
	}
	return nil
}

// ListGroups returns every group for managers and admins, and only the
// viewer's own groups otherwise.
func (s *Store) ListGroups(viewer User) []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seeAll := atLeast(viewer.Role, RoleManager)
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		if _, member := g.members[viewer.Username]; seeAll || member {
			out = append(out, g.Group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetGroup(id int64) (GroupDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return GroupDetail{}, ErrNotFound
	}
	members := make([]string, 0, len(g.members))
	for m := range g.members {
		members = append(members, m)
	}
	sort.Strings(members)
	return GroupDetail{Group: g.Group, Members: members}, nil
}

// CreateGroup stores a group; its creator becomes the first member.
func (s *Store) CreateGroup(name, description, createdBy string) Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.nextID.group++
	g := &groupRecord{
		Group: Group{
			ID:          s.nextID.group,
			Name:        name,
			Description: description,
			CreatedBy:   createdBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		members: map[string]struct{}{},
	}
	if createdBy != "" {
		g.members[createdBy] = struct{}{}
	}
	s.groups[g.ID] = g
	return g.Group
}

func (s *Store) UpdateGroup(id int64, name, description *string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return Group{}, ErrNotFound
	}
	if name != nil {
		g.Name = *name
	}
	if description != nil {
		g.Description = *description
	}
	g.UpdatedAt = s.now()
	return g.Group, nil
}

func (s *Store) DeleteGroup(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return ErrNotFound
	}
	delete(s.groups, id)
	return nil
}

func (s *Store) AddMember(groupID int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.byUsername[strings.ToLower(username)]; !ok {
		return ErrNotFound
	}
	g.members[username] = struct{}{}
	return nil
}

func (s *Store) IsMember(groupID int64, username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false
	}
	_, member := g.members[username]
	return member
}

// SetProgress records completed lessons, capped at the course's lesson count.
func (s *Store) SetProgress(userID, courseID int64, completed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[courseID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	if completed > c.lessons {
		completed = c.lessons
	}
	if s.progress[userID] == nil {
		s.progress[userID] = map[int64]int{}
	}
	s.progress[userID][courseID] = completed
	return nil
}

// ListProgress returns the user's progress ordered by course ID.
func (s *Store) ListProgress(userID int64) []ProgressEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProgressEntry, 0, len(s.progress[userID]))
	for courseID, done := range s.progress[userID] {
		c, ok := s.courses[courseID]
		if !ok {
			continue
		}
		out = append(out, ProgressEntry{
			CourseID:         c.ID,
			CourseName:       c.Name,
			CompletedLessons: done,
			TotalLessons:     c.lessons,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out
}
