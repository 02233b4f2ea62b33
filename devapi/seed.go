package devapi

import (
	_ "embed"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the initial content of a Store.
type Seed struct {
	Users []struct {
		Username    string `yaml:"username"`
		Email       string `yaml:"email"`
		Password    string `yaml:"password"`
		DisplayName string `yaml:"display_name"`
		Role        string `yaml:"role"`
	} `yaml:"users"`
	Courses []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Lessons     int    `yaml:"lessons"`
	} `yaml:"courses"`
	Groups []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		CreatedBy   string   `yaml:"created_by"`
		Members     []string `yaml:"members"`
	} `yaml:"groups"`
	Progress []struct {
		Username  string `yaml:"username"`
		Course    string `yaml:"course"`
		Completed int    `yaml:"completed"`
	} `yaml:"progress"`
}

// LoadSeed reads path, or the embedded seed when path is empty.
func LoadSeed(path string) (*Seed, error) {
	data := defaultSeed
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read seed %s: %w", path, err)
		}
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &seed, nil
}

// Apply loads seed into s. hashCost is the bcrypt cost for seeded passwords.
func (s *Store) Apply(seed *Seed, hashCost int) error {
	for _, u := range seed.Users {
		if _, ok := roleRanks[u.Role]; !ok {
			return fmt.Errorf("seed user %s: unknown role %q", u.Username, u.Role)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), hashCost)
		if err != nil {
			return err
		}
		if _, err := s.CreateUser(User{
			Username:     u.Username,
			Email:        u.Email,
			DisplayName:  u.DisplayName,
			Role:         u.Role,
			PasswordHash: string(hash),
		}); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}

	courseIDs := map[string]int64{}
	for _, c := range seed.Courses {
		courseIDs[c.Name] = s.CreateCourse(c.Name, c.Description, c.Lessons).ID
	}

	for _, g := range seed.Groups {
		group := s.CreateGroup(g.Name, g.Description, g.CreatedBy)
		for _, m := range g.Members {
			if err := s.AddMember(group.ID, m); err != nil {
				return fmt.Errorf("seed group %s member %s: %w", g.Name, m, err)
			}
		}
	}

	for _, p := range seed.Progress {
		u, err := s.FindByUsername(p.Username)
		if err != nil {
			return fmt.Errorf("seed progress user %s: %w", p.Username, err)
		}
		courseID, ok := courseIDs[p.Course]
		if !ok {
			return fmt.Errorf("seed progress: unknown course %q", p.Course)
		}
		if err := s.SetProgress(u.ID, courseID, p.Completed); err != nil {
			return err
		}
	}
	return nil
}
