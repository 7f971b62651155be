// Package manifest loads a declarative bootstrap file describing routes,
// permissions, roles and users. It is the file-based alternative to
// seeding state through Postgres or the admin CLI, aimed at development
// and small fixed deployments.
package manifest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/axisgate/axis/internal/domain"
	"github.com/axisgate/axis/internal/rbac"
	"github.com/axisgate/axis/internal/routes"
)

type Manifest struct {
	Permissions []Permission `yaml:"permissions"`
	Roles       []Role       `yaml:"roles"`
	Users       []User       `yaml:"users"`
	Routes      []Route      `yaml:"routes"`
}

type Permission struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Resource    string `yaml:"resource"`
	Action      string `yaml:"action"`
	Description string `yaml:"description"`
}

type Role struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
	Level       int      `yaml:"level"`
	System      bool     `yaml:"system"`
}

type User struct {
	ID       string   `yaml:"id"`
	Username string   `yaml:"username"`
	Email    string   `yaml:"email"`
	Roles    []string `yaml:"roles"`
	Status   string   `yaml:"status"`
}

type Route struct {
	ID       string `yaml:"id"`
	Method   string `yaml:"method"`
	Path     string `yaml:"path"`
	Target   string `yaml:"target"`
	Disabled bool   `yaml:"disabled"`

	RateLimit *RateLimit `yaml:"rate_limit"`
	Auth      *Auth      `yaml:"auth"`
	Cache     *Cache     `yaml:"cache"`
	CORS      *CORS      `yaml:"cors"`
	Breaker   *Breaker   `yaml:"breaker"`
	Monitor   bool       `yaml:"monitor"`
}

type RateLimit struct {
	MaxRequests int   `yaml:"max_requests"`
	WindowMS    int64 `yaml:"window_ms"`
}

type Auth struct {
	Required     bool     `yaml:"required"`
	Permissions  []string `yaml:"permissions"`
	Roles        []string `yaml:"roles"`
	MinRoleLevel int      `yaml:"min_role_level"`
}

type Cache struct {
	TTLMS int64  `yaml:"ttl_ms"`
	Key   string `yaml:"key"`
}

type Breaker struct {
	ErrorPct       float64 `yaml:"error_pct"`
	WindowMS       int64   `yaml:"window_ms"`
	OpenForMS      int64   `yaml:"open_for_ms"`
	HalfOpenProbes int     `yaml:"half_open_probes"`
	MinRequests    int     `yaml:"min_requests"`
}

type CORS struct {
	AllowOrigins     []string `yaml:"allow_origins"`
	AllowMethods     []string `yaml:"allow_methods"`
	AllowHeaders     []string `yaml:"allow_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// Load parses a manifest file.
func Load(path string) (*Manifest, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(buf)
}

// Parse decodes manifest YAML.
func Parse(buf []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Apply seeds the registry and engine. Catalog order within the manifest
// does not matter: permissions land before roles, roles before users.
func (m *Manifest) Apply(reg *routes.Registry, eng *rbac.Engine) error {
	for _, p := range m.Permissions {
		if err := eng.AddPermission(domain.Permission{
			ID:          p.ID,
			Name:        p.Name,
			Resource:    p.Resource,
			Action:      p.Action,
			Description: p.Description,
		}); err != nil {
			return fmt.Errorf("permission %s: %w", p.ID, err)
		}
	}
	for _, r := range m.Roles {
		if err := eng.CreateRole(domain.Role{
			ID:            r.ID,
			Name:          r.Name,
			Description:   r.Description,
			PermissionIDs: r.Permissions,
			Level:         r.Level,
			IsSystem:      r.System,
		}); err != nil {
			return fmt.Errorf("role %s: %w", r.ID, err)
		}
	}
	for _, u := range m.Users {
		if _, err := eng.CreateUser(domain.User{
			ID:       u.ID,
			Username: u.Username,
			Email:    u.Email,
			RoleIDs:  u.Roles,
			Status:   domain.UserStatus(u.Status),
		}); err != nil {
			return fmt.Errorf("user %s: %w", u.Username, err)
		}
	}
	for _, r := range m.Routes {
		route, err := r.toDomain()
		if err != nil {
			return err
		}
		if err := reg.Add(route); err != nil {
			return fmt.Errorf("route %s %s: %w", r.Method, r.Path, err)
		}
	}
	return nil
}

func (r Route) toDomain() (*domain.Route, error) {
	if r.Method == "" || r.Path == "" {
		return nil, fmt.Errorf("route %q: method and path are required", r.ID)
	}
	route := &domain.Route{
		ID:      r.ID,
		Method:  r.Method,
		Path:    r.Path,
		Target:  r.Target,
		Enabled: !r.Disabled,
	}
	if r.RateLimit != nil {
		route.RateLimit = &domain.RateLimitPolicy{
			MaxRequests: r.RateLimit.MaxRequests,
			Window:      time.Duration(r.RateLimit.WindowMS) * time.Millisecond,
		}
	}
	if r.Auth != nil {
		route.Auth = &domain.AuthPolicy{
			Required:     r.Auth.Required,
			Permissions:  r.Auth.Permissions,
			Roles:        r.Auth.Roles,
			MinRoleLevel: r.Auth.MinRoleLevel,
		}
	}
	if r.Cache != nil {
		route.Cache = &domain.CachePolicy{
			Enabled: true,
			TTL:     time.Duration(r.Cache.TTLMS) * time.Millisecond,
			Key:     r.Cache.Key,
		}
	}
	if r.CORS != nil {
		route.CORS = &domain.CORSPolicy{
			AllowOrigins:     r.CORS.AllowOrigins,
			AllowMethods:     r.CORS.AllowMethods,
			AllowHeaders:     r.CORS.AllowHeaders,
			AllowCredentials: r.CORS.AllowCredentials,
			MaxAge:           r.CORS.MaxAge,
		}
	}
	if r.Breaker != nil {
		route.Breaker = &domain.BreakerPolicy{
			ErrorPct:       r.Breaker.ErrorPct,
			Window:         time.Duration(r.Breaker.WindowMS) * time.Millisecond,
			OpenFor:        time.Duration(r.Breaker.OpenForMS) * time.Millisecond,
			HalfOpenProbes: r.Breaker.HalfOpenProbes,
			MinRequests:    r.Breaker.MinRequests,
		}
	}
	if r.Monitor {
		route.Monitor = &domain.MonitorPolicy{Enabled: true}
	}
	return route, nil
}
