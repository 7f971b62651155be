package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/axisgate/axis/internal/cache"
	"github.com/axisgate/axis/internal/domain"
	"github.com/axisgate/axis/internal/metrics"
	"github.com/axisgate/axis/internal/ratelimit"
	"github.com/axisgate/axis/internal/rbac"
	"github.com/axisgate/axis/internal/routes"
)

type testEnv struct {
	reg      *routes.Registry
	eng      *rbac.Engine
	col      *metrics.Collector
	gw       *Gateway
	forwards *atomic.Int64
}

// newEnv builds a gateway over in-memory collaborators with a stub
// upstream that echoes "upstream:" + the forwarded body.
func newEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		reg:      routes.NewRegistry(),
		eng:      rbac.New(0),
		col:      metrics.NewCollector(time.Hour),
		forwards: &atomic.Int64{},
	}
	t.Cleanup(func() {
		env.eng.Close()
		env.col.Close()
	})

	limiter := ratelimit.NewLocalBackend(time.Minute)
	t.Cleanup(func() { limiter.Close() })

	env.gw = New(Config{
		Routes:    env.reg,
		Limiter:   limiter,
		Cache:     cache.NewInMemoryCache(time.Minute),
		Authz:     env.eng,
		Collector: env.col,
		Forwarder: ForwarderFunc(func(ctx context.Context, target string, req *Request) (*Response, error) {
			env.forwards.Add(1)
			return &Response{
				StatusCode: http.StatusOK,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       append([]byte("upstream:"), req.Body...),
			}, nil
		}),
	})
	return env
}

func (env *testEnv) addRoute(t *testing.T, route *domain.Route) *domain.Route {
	t.Helper()
	route.Enabled = true
	if err := env.reg.Add(route); err != nil {
		t.Fatalf("Add route: %v", err)
	}
	return route
}

// seedSession creates a user holding the given permissions through a
// single role and returns its session ID.
func (env *testEnv) seedSession(t *testing.T, level int, permIDs ...string) string {
	t.Helper()
	for _, id := range permIDs {
		_ = env.eng.AddPermission(domain.Permission{ID: id, Name: id})
	}
	role := domain.Role{ID: "role-" + permIDs[0], Name: "test role", PermissionIDs: permIDs, Level: level}
	if err := env.eng.CreateRole(role); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	u, err := env.eng.CreateUser(domain.User{Username: "u-" + permIDs[0], RoleIDs: []string{role.ID}})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	sess, err := env.eng.CreateSession(u.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess.ID
}

func get(path string) *Request {
	return &Request{Method: http.MethodGet, Path: path, ClientIP: "10.0.0.1"}
}

func TestUnknownRouteReturns404(t *testing.T) {
	env := newEnv(t)
	resp := env.gw.HandleRequest(context.Background(), get("/nowhere"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if !bytes.Contains(resp.Body, []byte("route_not_found")) {
		t.Errorf("body = %s, want route_not_found error", resp.Body)
	}
	if env.forwards.Load() != 0 {
		t.Error("unmatched request reached the forwarder")
	}
}

func TestForwardAppliesTransforms(t *testing.T) {
	env := newEnv(t)
	env.addRoute(t, &domain.Route{
		Method: http.MethodPost,
		Path:   "/orders",
		Target: "http://upstream",
		RequestTransform: domain.TransformerFunc(func(p []byte) ([]byte, error) {
			return append([]byte("req:"), p...), nil
		}),
		ResponseTransform: domain.TransformerFunc(func(p []byte) ([]byte, error) {
			return append(p, []byte(":resp")...), nil
		}),
	})

	resp := env.gw.HandleRequest(context.Background(), &Request{
		Method: http.MethodPost, Path: "/orders", Body: []byte("x"), ClientIP: "10.0.0.1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got, want := string(resp.Body), "upstream:req:x:resp"; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestRateLimitWindowContract(t *testing.T) {
	env := newEnv(t)
	env.addRoute(t, &domain.Route{
		Method:    http.MethodGet,
		Path:      "/limited",
		Target:    "http://upstream",
		RateLimit: &domain.RateLimitPolicy{MaxRequests: 3, Window: time.Minute},
	})

	for i := 0; i < 3; i++ {
		if resp := env.gw.HandleRequest(context.Background(), get("/limited")); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, resp.StatusCode)
		}
	}
	resp := env.gw.HandleRequest(context.Background(), get("/limited"))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("4th request: status = %d, want 429", resp.StatusCode)
	}
	if resp.Headers["X-RateLimit-Limit"] != "3" {
		t.Errorf("X-RateLimit-Limit = %q, want 3", resp.Headers["X-RateLimit-Limit"])
	}
	if resp.Headers["X-RateLimit-Remaining"] != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", resp.Headers["X-RateLimit-Remaining"])
	}
	reset, err := time.Parse(time.RFC3339, resp.Headers["X-RateLimit-Reset"])
	if err != nil {
		t.Fatalf("X-RateLimit-Reset not RFC3339: %v", err)
	}
	if !reset.After(time.Now()) {
		t.Errorf("X-RateLimit-Reset %v not in the future", reset)
	}
	if resp.Headers["Retry-After"] == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRateLimitKeyedPerClient(t *testing.T) {
	env := newEnv(t)
	env.addRoute(t, &domain.Route{
		Method:    http.MethodGet,
		Path:      "/limited",
		Target:    "http://upstream",
		RateLimit: &domain.RateLimitPolicy{MaxRequests: 1, Window: time.Minute},
	})

	a := &Request{Method: http.MethodGet, Path: "/limited", ClientIP: "10.0.0.1"}
	b := &Request{Method: http.MethodGet, Path: "/limited", ClientIP: "10.0.0.2"}

	if resp := env.gw.HandleRequest(context.Background(), a); resp.StatusCode != http.StatusOK {
		t.Fatalf("client a: status = %d, want 200", resp.StatusCode)
	}
	if resp := env.gw.HandleRequest(context.Background(), b); resp.StatusCode != http.StatusOK {
		t.Fatalf("client b: status = %d, want 200", resp.StatusCode)
	}
	if resp := env.gw.HandleRequest(context.Background(), a); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("client a second request: status = %d, want 429", resp.StatusCode)
	}
}

func TestRateLimitChargedBeforeAuth(t *testing.T) {
	env := newEnv(t)
	env.addRoute(t, &domain.Route{
		Method:    http.MethodGet,
		Path:      "/secure",
		Target:    "http://upstream",
		RateLimit: &domain.RateLimitPolicy{MaxRequests: 2, Window: time.Minute},
		Auth:      &domain.AuthPolicy{Required: true},
	})

	// Unauthenticated requests still consume quota.
	for i := 0; i < 2; i++ {
		if resp := env.gw.HandleRequest(context.Background(), get("/secure")); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("request %d: status = %d, want 401", i+1, resp.StatusCode)
		}
	}
	if resp := env.gw.HandleRequest(context.Background(), get("/secure")); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("3rd request: status = %d, want 429 before auth", resp.StatusCode)
	}
}

func TestAuthRequiredWithoutSession(t *testing.T) {
	env := newEnv(t)
	env.addRoute(t, &domain.Route{
		Method: http.MethodGet,
		Path:   "/secure",
		Target: "http://upstream",
		Auth:   &domain.AuthPolicy{Required: true},
	})

	for _, sessionID := range []string{"", "no-such-session"} {
		req := get("/secure")
		req.SessionID = sessionID
		resp := env.gw.HandleRequest(context.Background(), req)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("session %q: status = %d, want 401", sessionID, resp.StatusCode)
		}
	}
	if env.forwards.Load() != 0 {
		t.Error("unauthenticated request reached the forwarder")
	}
}

func TestAuthPermissionEnforcement(t *testing.T) {
	env := newEnv(t)
	env.addRoute(t, &domain.Route{
		Method: http.MethodGet,
		Path:   "/secure",
		Target: "http://upstream",
		Auth:   &domain.AuthPolicy{Required: true, Permissions: []string{"orders.read"}},
	})

	granted := env.seedSession(t, 1, "orders.read")
	denied := env.seedSession(t, 1, "other.read")

	req := get("/secure")
	req.SessionID = granted
	if resp := env.gw.HandleRequest(context.Background(), req); resp.StatusCode != http.StatusOK {
		t.Fatalf("granted session: status = %d, want 200", resp.StatusCode)
	}

	req = get("/secure")
	req.SessionID = denied
	resp := env.gw.HandleRequest(context.Background(), req)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("denied session: status = %d, want 403", resp.StatusCode)
	}
	if !bytes.Contains(resp.Body, []byte("forbidden")) {
		t.Errorf("body = %s, want forbidden error", resp.Body)
	}
}

func TestAuthMinRoleLevel(t *testing.T) {
	env := newEnv(t)
	env.addRoute(t, &domain.Route{
		Method: http.MethodGet,
		Path:   "/admin",
		Target: "http://upstream",
		Auth:   &domain.AuthPolicy{Required: true, MinRoleLevel: 50},
	})

	low := env.seedSession(t, 10, "low.perm")
	high := env.seedSession(t, 50, "high.perm")

	req := get("/admin")
	req.SessionID = low
	if resp := env.gw.HandleRequest(context.Background(), req); resp.StatusCode != http.StatusForbidden {
		t.Errorf("level 10: status = %d, want 403", resp.StatusCode)
	}
	req = get("/admin")
	req.SessionID = high
	if resp := env.gw.HandleRequest(context.Background(), req); resp.StatusCode != http.StatusOK {
		t.Errorf("level 50: status = %d, want 200", resp.StatusCode)
	}
}

func TestCacheHitSkipsForward(t *testing.T) {
	env := newEnv(t)
	env.addRoute(t, &domain.Route{
		Method: http.MethodGet,
		Path:   "/cached",
		Target: "http://upstream",
		Cache:  &domain.CachePolicy{Enabled: true, TTL: time.Minute},
	})

	first := env.gw.HandleRequest(context.Background(), get("/cached"))
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", first.StatusCode)
	}
	if first.Headers["X-Cache"] != "MISS" {
		t.Errorf("first request X-Cache = %q, want MISS", first.Headers["X-Cache"])
	}

	second := env.gw.HandleRequest(context.Background(), get("/cached"))
	if second.StatusCode != http.StatusOK {
		t.Fatalf("second request: status = %d, want 200", second.StatusCode)
	}
	if second.Headers["X-Cache"] != "HIT" {
		t.Errorf("second request X-Cache = %q, want HIT", second.Headers["X-Cache"])
	}
	if !bytes.Equal(first.Body, second.Body) {
		t.Errorf("cached body %q differs from original %q", second.Body, first.Body)
	}
	if n := env.forwards.Load(); n != 1 {
		t.Errorf("forwarder called %d times, want 1", n)
	}
}

func TestCacheMissMarkedOnUncacheableStatus(t *testing.T) {
	env := newEnv(t)
	env.gw.forwarder = ForwarderFunc(func(ctx context.Context, target string, req *Request) (*Response, error) {
		env.forwards.Add(1)
		return &Response{StatusCode: http.StatusNotFound, Headers: map[string]string{}}, nil
	})
	env.addRoute(t, &domain.Route{
		Method: http.MethodGet,
		Path:   "/cached",
		Target: "http://upstream",
		Cache:  &domain.CachePolicy{Enabled: true, TTL: time.Minute},
	})

	resp := env.gw.HandleRequest(context.Background(), get("/cached"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if resp.Headers["X-Cache"] != "MISS" {
		t.Errorf("X-Cache = %q, want MISS on a consulted-but-unstored lookup", resp.Headers["X-Cache"])
	}

	// The 404 must not have been stored.
	env.gw.HandleRequest(context.Background(), get("/cached"))
	if n := env.forwards.Load(); n != 2 {
		t.Errorf("forwarder called %d times, want 2 (non-2xx must not be cached)", n)
	}
}

func TestCacheSkipsNonGET(t *testing.T) {
	env := newEnv(t)
	env.addRoute(t, &domain.Route{
		Method: http.MethodPost,
		Path:   "/cached",
		Target: "http://upstream",
		Cache:  &domain.CachePolicy{Enabled: true, TTL: time.Minute},
	})

	req := &Request{Method: http.MethodPost, Path: "/cached", ClientIP: "10.0.0.1"}
	env.gw.HandleRequest(context.Background(), req)
	env.gw.HandleRequest(context.Background(), req)
	if n := env.forwards.Load(); n != 2 {
		t.Errorf("forwarder called %d times, want 2 (POST must not be cached)", n)
	}
}

func TestCacheKeyTemplate(t *testing.T) {
	route := &domain.Route{
		ID:    "r1",
		Cache: &domain.CachePolicy{Key: "v1:{method}:{path}:{body}"},
	}
	req := &Request{Method: http.MethodGet, Path: "/a", Body: []byte("b")}
	if got, want := buildCacheKey(route, req), "v1:GET:/a:b"; got != want {
		t.Errorf("buildCacheKey = %q, want %q", got, want)
	}

	route.Cache.Key = ""
	if got, want := buildCacheKey(route, req), "r1:/a:b"; got != want {
		t.Errorf("default key = %q, want %q", got, want)
	}
}

func TestUpstreamErrorReturns500(t *testing.T) {
	env := newEnv(t)
	env.gw.forwarder = ForwarderFunc(func(ctx context.Context, target string, req *Request) (*Response, error) {
		return nil, context.DeadlineExceeded
	})
	env.addRoute(t, &domain.Route{Method: http.MethodGet, Path: "/up", Target: "http://upstream"})

	resp := env.gw.HandleRequest(context.Background(), get("/up"))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if !bytes.Contains(resp.Body, []byte("upstream_failed")) {
		t.Errorf("body = %s, want upstream_failed error", resp.Body)
	}
}

func TestPipelinePanicReturns500(t *testing.T) {
	env := newEnv(t)
	env.gw.forwarder = ForwarderFunc(func(ctx context.Context, target string, req *Request) (*Response, error) {
		panic("upstream exploded")
	})
	env.addRoute(t, &domain.Route{Method: http.MethodGet, Path: "/boom", Target: "http://upstream"})

	resp := env.gw.HandleRequest(context.Background(), get("/boom"))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if !bytes.Contains(resp.Body, []byte("internal_error")) {
		t.Errorf("body = %s, want internal_error", resp.Body)
	}
}

func TestMonitoredRouteRecordsMetrics(t *testing.T) {
	env := newEnv(t)
	route := env.addRoute(t, &domain.Route{
		Method:  http.MethodGet,
		Path:    "/watched",
		Target:  "http://upstream",
		Cache:   &domain.CachePolicy{Enabled: true, TTL: time.Minute},
		Monitor: &domain.MonitorPolicy{Enabled: true},
	})

	env.gw.HandleRequest(context.Background(), get("/watched"))
	env.gw.HandleRequest(context.Background(), get("/watched")) // cache hit

	recs := env.col.Query(route.ID)
	if len(recs) != 2 {
		t.Fatalf("recorded %d metrics, want 2", len(recs))
	}
	if recs[0].CacheHit {
		t.Error("first record marked as cache hit")
	}
	if !recs[1].CacheHit {
		t.Error("second record not marked as cache hit")
	}
}

func TestRejectionsNotCollected(t *testing.T) {
	env := newEnv(t)
	route := env.addRoute(t, &domain.Route{
		Method:    http.MethodGet,
		Path:      "/watched",
		Target:    "http://upstream",
		RateLimit: &domain.RateLimitPolicy{MaxRequests: 1, Window: time.Minute},
		Monitor:   &domain.MonitorPolicy{Enabled: true},
	})

	env.gw.HandleRequest(context.Background(), get("/watched"))
	env.gw.HandleRequest(context.Background(), get("/watched")) // 429
	env.gw.HandleRequest(context.Background(), get("/missing")) // 404

	recs := env.col.Query(route.ID)
	if len(recs) != 1 {
		t.Fatalf("recorded %d metrics, want 1 (rejections excluded)", len(recs))
	}
	if recs[0].StatusCode != http.StatusOK {
		t.Errorf("recorded status = %d, want 200", recs[0].StatusCode)
	}
}

func TestCustomRateLimitKeyFunc(t *testing.T) {
	env := newEnv(t)
	env.addRoute(t, &domain.Route{
		Method: http.MethodGet,
		Path:   "/shared",
		Target: "http://upstream",
		RateLimit: &domain.RateLimitPolicy{
			MaxRequests: 1,
			Window:      time.Minute,
			KeyFunc: func(clientIP, routePath string) string {
				return "global:" + routePath // one window for all callers
			},
		},
	})

	a := &Request{Method: http.MethodGet, Path: "/shared", ClientIP: "10.0.0.1"}
	b := &Request{Method: http.MethodGet, Path: "/shared", ClientIP: "10.0.0.2"}
	if resp := env.gw.HandleRequest(context.Background(), a); resp.StatusCode != http.StatusOK {
		t.Fatalf("first caller: status = %d, want 200", resp.StatusCode)
	}
	if resp := env.gw.HandleRequest(context.Background(), b); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second caller: status = %d, want 429 under shared key", resp.StatusCode)
	}
}

func TestWildcardRouteForwardsFullPath(t *testing.T) {
	env := newEnv(t)
	var seenPath string
	env.gw.forwarder = ForwarderFunc(func(ctx context.Context, target string, req *Request) (*Response, error) {
		seenPath = req.Path
		return &Response{StatusCode: http.StatusOK, Headers: map[string]string{}}, nil
	})
	env.addRoute(t, &domain.Route{Method: http.MethodGet, Path: "/files/*", Target: "http://upstream"})

	resp := env.gw.HandleRequest(context.Background(), get("/files/a/b.txt"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if seenPath != "/files/a/b.txt" {
		t.Errorf("forwarded path = %q, want original request path", seenPath)
	}
}

func TestBreakerOpensAfterUpstreamFailures(t *testing.T) {
	env := newEnv(t)
	failing := true
	env.gw.forwarder = ForwarderFunc(func(ctx context.Context, target string, req *Request) (*Response, error) {
		env.forwards.Add(1)
		if failing {
			return nil, context.DeadlineExceeded
		}
		return &Response{StatusCode: http.StatusOK, Headers: map[string]string{}}, nil
	})
	env.addRoute(t, &domain.Route{
		Method: http.MethodGet,
		Path:   "/fragile",
		Target: "http://upstream",
		Breaker: &domain.BreakerPolicy{
			ErrorPct: 50,
			Window:   time.Minute,
			OpenFor:  20 * time.Millisecond,
		},
	})

	for i := 0; i < 2; i++ {
		if resp := env.gw.HandleRequest(context.Background(), get("/fragile")); resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("request %d: status = %d, want 500", i+1, resp.StatusCode)
		}
	}

	// Breaker now open; requests are shed without touching the upstream.
	before := env.forwards.Load()
	resp := env.gw.HandleRequest(context.Background(), get("/fragile"))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 while open", resp.StatusCode)
	}
	if env.forwards.Load() != before {
		t.Error("open breaker still forwarded the request")
	}

	// After the open period a probe is admitted; a success closes it.
	failing = false
	time.Sleep(30 * time.Millisecond)
	if resp := env.gw.HandleRequest(context.Background(), get("/fragile")); resp.StatusCode != http.StatusOK {
		t.Fatalf("probe status = %d, want 200", resp.StatusCode)
	}
	if resp := env.gw.HandleRequest(context.Background(), get("/fragile")); resp.StatusCode != http.StatusOK {
		t.Fatalf("post-recovery status = %d, want 200", resp.StatusCode)
	}
}

func TestHTTPForwarder(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders" {
			t.Errorf("upstream path = %q, want /v1/orders", r.URL.Path)
		}
		if got := r.Header.Get("X-Forwarded-For"); got != "10.0.0.1" {
			t.Errorf("X-Forwarded-For = %q, want 10.0.0.1", got)
		}
		if got := r.Header.Get("X-Request-ID"); got != "req-1" {
			t.Errorf("X-Request-ID = %q, want req-1", got)
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		w.Write(append([]byte("ok:"), body...))
	}))
	defer upstream.Close()

	f := NewHTTPForwarder(5 * time.Second)
	resp, err := f.Forward(context.Background(), upstream.URL+"/", &Request{
		Method:    http.MethodPost,
		Path:      "/v1/orders",
		Body:      []byte("payload"),
		ClientIP:  "10.0.0.1",
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	if got := string(resp.Body); got != "ok:payload" {
		t.Errorf("body = %q, want ok:payload", got)
	}
	if resp.Headers["Content-Type"] != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", resp.Headers["Content-Type"])
	}
}
