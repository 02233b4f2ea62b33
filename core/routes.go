package core

import (
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var defaultRouteTable []byte

// RouteRule is one web route: which page serves it and who may see it.
type RouteRule struct {
	Path   string `yaml:"path"`
	Method string `yaml:"method"`
	Page   string `yaml:"page"`
	Role   Role   `yaml:"role"`
	Public bool   `yaml:"public"`
	Nav    string `yaml:"nav"`
}

// MobileRoute is a screen in the mobile app's navigation stack.
type MobileRoute struct {
	Name   string `yaml:"name" json:"name"`
	Title  string `yaml:"title" json:"title"`
	Role   Role   `yaml:"role" json:"role,omitempty"`
	Public bool   `yaml:"public" json:"public"`
}

// LandingRoutes are the two possible targets of the startup redirect.
type LandingRoutes struct {
	Authenticated string `yaml:"authenticated" json:"authenticated"`
	Anonymous     string `yaml:"anonymous" json:"anonymous"`
}

type RouteTable struct {
	Landing struct {
		Web    LandingRoutes `yaml:"web"`
		Mobile LandingRoutes `yaml:"mobile"`
	} `yaml:"landing"`
	Web    []RouteRule   `yaml:"web"`
	Mobile []MobileRoute `yaml:"mobile"`
}

// NavItem is a sidebar link.
type NavItem struct {
	Label  string
	Path   string
	Active bool
}

// LoadRouteTable reads path, or the embedded table when path is empty.
func LoadRouteTable(path string) (*RouteTable, error) {
	if path == "" {
		return ParseRouteTable(defaultRouteTable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route table %s: %w", path, err)
	}
	return ParseRouteTable(data)
}

// ParseRouteTable decodes and validates a route table.
func ParseRouteTable(data []byte) (*RouteTable, error) {
	var t RouteTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode route table: %w", err)
	}
	if t.Landing.Web.Authenticated == "" || t.Landing.Web.Anonymous == "" {
		return nil, fmt.Errorf("route table: landing.web needs authenticated and anonymous routes")
	}
	if t.Landing.Mobile.Authenticated == "" || t.Landing.Mobile.Anonymous == "" {
		return nil, fmt.Errorf("route table: landing.mobile needs authenticated and anonymous routes")
	}

	seen := map[string]struct{}{}
	for i := range t.Web {
		r := &t.Web[i]
		r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
		if r.Method == "" {
			r.Method = http.MethodGet
		}
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			return nil, fmt.Errorf("route %s: unsupported method %s", r.Path, r.Method)
		}
		if !strings.HasPrefix(r.Path, "/") || r.Page == "" {
			return nil, fmt.Errorf("route %d: path must start with / and page is required", i)
		}
		role, err := ParseRole(string(r.Role))
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", r.Path, err)
		}
		r.Role = role
		if r.Public && r.Role != RoleNone {
			return nil, fmt.Errorf("route %s: public routes cannot require a role", r.Path)
		}
		key := r.Method + " " + r.Path
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("route %s declared twice", key)
		}
		seen[key] = struct{}{}
	}
	for i := range t.Mobile {
		m := &t.Mobile[i]
		role, err := ParseRole(string(m.Role))
		if err != nil {
			return nil, fmt.Errorf("mobile route %s: %w", m.Name, err)
		}
		m.Role = role
	}
	return &t, nil
}

// Nav lists the sidebar entries u may open; current marks the active one.
func (t *RouteTable) Nav(u *User, current string) []NavItem {
	if u == nil {
		return nil
	}
	var items []NavItem
	for _, r := range t.Web {
		if r.Nav == "" || r.Method != http.MethodGet {
			continue
		}
		if !u.Role.Meets(r.Role) {
			continue
		}
		items = append(items, NavItem{Label: r.Nav, Path: r.Path, Active: r.Page == current})
	}
	return items
}

// MobileFor lists the mobile screens reachable with s.
func (t *RouteTable) MobileFor(s Session) []MobileRoute {
	out := make([]MobileRoute, 0, len(t.Mobile))
	for _, m := range t.Mobile {
		if m.Public || Authorize(s, m.Role) == DecisionAllow {
			out = append(out, m)
		}
	}
	return out
}
