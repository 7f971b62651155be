package domain

import (
	"strings"
	"time"
)

// WildcardSuffix marks a route path whose final segment matches any suffix
// of the request path (e.g. "/files/*").
const WildcardSuffix = "/*"

// Transformer mutates a request or response payload on its way through the
// pipeline. A nil Transformer on a route is the identity transform.
type Transformer interface {
	Transform(payload []byte) ([]byte, error)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(payload []byte) ([]byte, error)

// Transform implements Transformer.
func (f TransformerFunc) Transform(payload []byte) ([]byte, error) { return f(payload) }

// Route maps a method+path pattern to a forward target with its attached
// policies. Routes are registered at startup or through the administrative
// surface and are treated as immutable snapshots while a request is in
// flight: updates replace the route, they never mutate it in place.
type Route struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Path    string `json:"path"`   // exact path or single trailing wildcard ("/files/*")
	Target  string `json:"target"` // forward target address, opaque to the pipeline
	Enabled bool   `json:"enabled"`

	RateLimit *RateLimitPolicy `json:"rate_limit,omitempty"`
	Auth      *AuthPolicy      `json:"auth,omitempty"`
	Cache     *CachePolicy     `json:"cache,omitempty"`
	CORS      *CORSPolicy      `json:"cors,omitempty"`
	Monitor   *MonitorPolicy   `json:"monitor,omitempty"`
	Breaker   *BreakerPolicy   `json:"breaker,omitempty"`

	// Transform hooks are wired programmatically; they never round-trip
	// through the store or the manifest.
	RequestTransform  Transformer `json:"-"`
	ResponseTransform Transformer `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Wildcard reports whether the route path ends in the wildcard suffix.
func (r *Route) Wildcard() bool {
	return strings.HasSuffix(r.Path, WildcardSuffix)
}

// Prefix returns the path prefix a wildcard route matches against,
// including the trailing slash ("/files/*" -> "/files/").
func (r *Route) Prefix() string {
	return strings.TrimSuffix(r.Path, "*")
}

// Clone returns a shallow copy with deep-copied policy structs so callers
// can modify the copy without touching the registered route.
func (r *Route) Clone() *Route {
	cp := *r
	if r.RateLimit != nil {
		rl := *r.RateLimit
		cp.RateLimit = &rl
	}
	if r.Auth != nil {
		a := *r.Auth
		a.Permissions = append([]string(nil), r.Auth.Permissions...)
		a.Roles = append([]string(nil), r.Auth.Roles...)
		cp.Auth = &a
	}
	if r.Cache != nil {
		c := *r.Cache
		cp.Cache = &c
	}
	if r.CORS != nil {
		co := *r.CORS
		co.AllowOrigins = append([]string(nil), r.CORS.AllowOrigins...)
		co.AllowMethods = append([]string(nil), r.CORS.AllowMethods...)
		co.AllowHeaders = append([]string(nil), r.CORS.AllowHeaders...)
		cp.CORS = &co
	}
	if r.Monitor != nil {
		m := *r.Monitor
		m.Metrics = append([]string(nil), r.Monitor.Metrics...)
		cp.Monitor = &m
	}
	if r.Breaker != nil {
		b := *r.Breaker
		cp.Breaker = &b
	}
	return &cp
}

// RateLimitPolicy configures the fixed-window limiter for a route.
type RateLimitPolicy struct {
	MaxRequests int           `json:"max_requests"`
	Window      time.Duration `json:"window"`

	// KeyFunc overrides the default clientIP:routePath window key.
	KeyFunc func(clientIP, routePath string) string `json:"-"`
}

// AuthPolicy configures the authorization requirements for a route.
type AuthPolicy struct {
	Required     bool     `json:"required"`
	Permissions  []string `json:"permissions,omitempty"` // permission IDs, all required
	Roles        []string `json:"roles,omitempty"`       // role IDs, all required
	MinRoleLevel int      `json:"min_role_level,omitempty"`
}

// CachePolicy configures response caching for a route. Only GET responses
// are cached; the cache is consulted after rate limiting and authorization.
type CachePolicy struct {
	Enabled bool          `json:"enabled"`
	TTL     time.Duration `json:"ttl"`

	// Key is an optional template overriding the default cache key.
	// Supported placeholders: {method}, {path}, {body}.
	Key string `json:"key,omitempty"`
}

// CORSPolicy defines cross-origin settings honored by the HTTP front.
type CORSPolicy struct {
	AllowOrigins     []string `json:"allow_origins"`
	AllowMethods     []string `json:"allow_methods,omitempty"`
	AllowHeaders     []string `json:"allow_headers,omitempty"`
	AllowCredentials bool     `json:"allow_credentials,omitempty"`
	MaxAge           int      `json:"max_age,omitempty"` // preflight cache, seconds
}

// BreakerPolicy configures the circuit breaker guarding a route's
// upstream. Zero thresholds leave the breaker off.
type BreakerPolicy struct {
	ErrorPct       float64       `json:"error_pct"` // trip threshold, 0-100
	Window         time.Duration `json:"window"`
	OpenFor        time.Duration `json:"open_for"`
	HalfOpenProbes int           `json:"half_open_probes,omitempty"`
	MinRequests    int           `json:"min_requests,omitempty"` // samples required before the rate can trip
}

// MonitorPolicy enables metric collection for a route.
type MonitorPolicy struct {
	Enabled bool     `json:"enabled"`
	Metrics []string `json:"metrics,omitempty"` // metric names to capture
}
