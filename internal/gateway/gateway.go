// Package gateway runs the request pipeline: route matching, rate
// limiting, authorization, response caching, payload transformation,
// upstream forwarding and metric capture, in that order.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/axisgate/axis/internal/cache"
	"github.com/axisgate/axis/internal/circuitbreaker"
	"github.com/axisgate/axis/internal/domain"
	"github.com/axisgate/axis/internal/logging"
	"github.com/axisgate/axis/internal/metrics"
	"github.com/axisgate/axis/internal/ratelimit"
	"github.com/axisgate/axis/internal/rbac"
	"github.com/axisgate/axis/internal/routes"
)

// Config wires the gateway's collaborators. Routes and Forwarder are
// required; everything else degrades to a no-op when nil.
type Config struct {
	Routes    *routes.Registry
	Limiter   ratelimit.Backend
	Cache     cache.Cache
	Authz     *rbac.Engine
	Collector *metrics.Collector
	Exporter  *metrics.Exporter
	Forwarder Forwarder

	// ForwardTimeout bounds each upstream call (default 30s).
	ForwardTimeout time.Duration
}

// Gateway executes the pipeline. It holds no per-request state and is
// safe for concurrent use.
type Gateway struct {
	routes         *routes.Registry
	limiter        ratelimit.Backend
	cache          cache.Cache
	authz          *rbac.Engine
	collector      *metrics.Collector
	exporter       *metrics.Exporter
	forwarder      Forwarder
	forwardTimeout time.Duration
	breakers       *circuitbreaker.Registry
	tracer         trace.Tracer
}

// New builds a Gateway from cfg.
func New(cfg Config) *Gateway {
	timeout := cfg.ForwardTimeout
	if timeout <= 0 {
		timeout = DefaultForwardTimeout
	}
	return &Gateway{
		routes:         cfg.Routes,
		limiter:        cfg.Limiter,
		cache:          cfg.Cache,
		authz:          cfg.Authz,
		collector:      cfg.Collector,
		exporter:       cfg.Exporter,
		forwarder:      cfg.Forwarder,
		forwardTimeout: timeout,
		breakers:       circuitbreaker.NewRegistry(),
		tracer:         otel.Tracer("axis/gateway"),
	}
}

// HandleRequest runs one request through the full pipeline and always
// returns a response; pipeline panics surface as 500s, never as crashes.
func (g *Gateway) HandleRequest(ctx context.Context, req *Request) (resp *Response) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "gateway.request", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.target", req.Path),
	))
	defer span.End()

	var (
		route    *domain.Route
		userID   string
		admitted bool
		cacheHit bool
	)
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("request pipeline panic",
				"panic", r, "method", req.Method, "path", req.Path, "request_id", req.RequestID)
			resp = errorResponse(http.StatusInternalServerError, "internal_error", "internal server error")
		}
		g.finish(span, req, route, resp, userID, start, admitted, cacheHit)
	}()

	// 1. Route matching.
	route = g.routes.Find(req.Method, req.Path)
	if route == nil {
		return errorResponse(http.StatusNotFound, "route_not_found",
			"no route for "+req.Method+" "+req.Path)
	}
	span.SetAttributes(attribute.String("axis.route_id", route.ID))

	// 2. Rate limiting. Runs before authorization so that unauthenticated
	// callers still burn quota instead of probing auth for free.
	if rl := route.RateLimit; rl != nil && g.limiter != nil {
		key := ratelimit.Key(req.ClientIP, route.Path)
		if rl.KeyFunc != nil {
			key = rl.KeyFunc(req.ClientIP, route.Path)
		}
		res, err := g.limiter.Check(ctx, key, rl.MaxRequests, rl.Window)
		switch {
		case err != nil:
			// The fallback backend already absorbs Redis outages, so an
			// error here is unexpected. Admit rather than refuse traffic.
			logging.Op().Warn("rate limit check failed, admitting request",
				"key", key, "error", err)
		case !res.Allowed:
			if g.exporter != nil {
				g.exporter.ObserveRateLimited(route.ID)
			}
			return rateLimited(res)
		}
	}

	// 3-4. Authorization.
	if ap := route.Auth; ap != nil && ap.Required {
		sess := g.session(req.SessionID)
		if sess == nil {
			if g.exporter != nil {
				g.exporter.ObserveAuthFailure(route.ID, "unauthenticated")
			}
			return errorResponse(http.StatusUnauthorized, "unauthorized", "valid session required")
		}
		userID = sess.User.ID
		if reason, ok := g.authorize(req.SessionID, ap); !ok {
			if g.exporter != nil {
				g.exporter.ObserveAuthFailure(route.ID, "forbidden")
			}
			return errorResponse(http.StatusForbidden, "forbidden", reason)
		}
	}
	admitted = true

	// 5. Response cache, GET only.
	var cacheKey string
	if cp := route.Cache; cp != nil && cp.Enabled && g.cache != nil && req.Method == http.MethodGet {
		cacheKey = buildCacheKey(route, req)
		if buf, err := g.cache.Get(ctx, cacheKey); err == nil {
			if cached, derr := decodeCached(buf); derr == nil {
				cacheHit = true
				cached.Headers["X-Cache"] = "HIT"
				if g.exporter != nil {
					g.exporter.ObserveCache(true)
				}
				return cached
			}
		}
		if g.exporter != nil {
			g.exporter.ObserveCache(false)
		}
	}

	// 6. Request transform.
	body := req.Body
	if route.RequestTransform != nil {
		b, err := route.RequestTransform.Transform(body)
		if err != nil {
			logging.Op().Error("request transform failed", "route", route.ID, "error", err)
			return errorResponse(http.StatusInternalServerError, "transform_failed", "request transform failed")
		}
		body = b
	}

	// 7. Forward. No gateway locks are held across the upstream call.
	var breaker *circuitbreaker.Breaker
	if bp := route.Breaker; bp != nil {
		breaker = g.breakers.Get(route.ID, circuitbreaker.Config{
			ErrorPct:       bp.ErrorPct,
			WindowDuration: bp.Window,
			OpenDuration:   bp.OpenFor,
			HalfOpenProbes: bp.HalfOpenProbes,
			MinRequests:    bp.MinRequests,
		})
	}
	if breaker != nil && !breaker.Allow() {
		return errorResponse(http.StatusServiceUnavailable, "upstream_unavailable", "circuit breaker open")
	}
	fwd := *req
	fwd.Body = body
	fctx, cancel := context.WithTimeout(ctx, g.forwardTimeout)
	defer cancel()
	out, err := g.forwarder.Forward(fctx, route.Target, &fwd)
	if breaker != nil {
		if err != nil || out.StatusCode >= 500 {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}
	if err != nil {
		logging.Op().Error("forward failed", "route", route.ID, "target", route.Target, "error", err)
		return errorResponse(http.StatusInternalServerError, "upstream_failed", "upstream request failed")
	}
	if out.Headers == nil {
		out.Headers = make(map[string]string)
	}

	// 8. Response transform.
	if route.ResponseTransform != nil {
		b, terr := route.ResponseTransform.Transform(out.Body)
		if terr != nil {
			logging.Op().Error("response transform failed", "route", route.ID, "error", terr)
			return errorResponse(http.StatusInternalServerError, "transform_failed", "response transform failed")
		}
		out.Body = b
	}

	// 9. Cache successful GET responses. The MISS marker covers every
	// consulted-and-missed lookup, stored or not.
	if cacheKey != "" {
		if out.StatusCode >= 200 && out.StatusCode < 300 {
			if buf, eerr := encodeCached(out); eerr == nil {
				if serr := g.cache.Set(ctx, cacheKey, buf, route.Cache.TTL); serr != nil {
					logging.Op().Warn("cache write failed", "key", cacheKey, "error", serr)
				}
			}
		}
		out.Headers["X-Cache"] = "MISS"
	}

	return out
}

// session resolves a live session, treating expired and unknown IDs alike.
func (g *Gateway) session(id string) *domain.Session {
	if g.authz == nil || id == "" {
		return nil
	}
	return g.authz.Session(id)
}

// authorize checks every requirement of the policy against the session.
// All listed permissions and roles must hold.
func (g *Gateway) authorize(sessionID string, ap *domain.AuthPolicy) (string, bool) {
	for _, perm := range ap.Permissions {
		if !g.authz.HasPermission(sessionID, perm) {
			return "missing permission " + perm, false
		}
	}
	for _, role := range ap.Roles {
		if !g.authz.HasRole(sessionID, role) {
			return "missing role " + role, false
		}
	}
	if ap.MinRoleLevel > 0 && !g.authz.HasRoleLevel(sessionID, ap.MinRoleLevel) {
		return "insufficient role level", false
	}
	return "", true
}

// rateLimited builds the 429 with the standard limit headers.
func rateLimited(res ratelimit.Result) *Response {
	resp := errorResponse(http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests")
	resp.Headers["X-RateLimit-Limit"] = strconv.Itoa(res.Limit)
	resp.Headers["X-RateLimit-Remaining"] = strconv.Itoa(res.Remaining)
	resp.Headers["X-RateLimit-Reset"] = res.ResetAt.UTC().Format(time.RFC3339)
	retry := time.Until(res.ResetAt)
	secs := int(retry / time.Second)
	if retry%time.Second > 0 {
		secs++
	}
	if secs < 0 {
		secs = 0
	}
	resp.Headers["Retry-After"] = strconv.Itoa(secs)
	return resp
}

// buildCacheKey renders the route's key template, or the default
// routeID:path:body key when no template is set.
func buildCacheKey(route *domain.Route, req *Request) string {
	tpl := route.Cache.Key
	if tpl == "" {
		return route.ID + ":" + req.Path + ":" + string(req.Body)
	}
	return strings.NewReplacer(
		"{method}", req.Method,
		"{path}", req.Path,
		"{body}", string(req.Body),
	).Replace(tpl)
}

// finish records the request's outcome: span status, Prometheus series,
// the per-route metric record and the access log line.
func (g *Gateway) finish(span trace.Span, req *Request, route *domain.Route, resp *Response, userID string, start time.Time, admitted, cacheHit bool) {
	if resp == nil {
		return
	}
	dur := time.Since(start)

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	label := "unmatched"
	routeID := ""
	if route != nil {
		label = route.ID
		routeID = route.ID
	}
	if g.exporter != nil {
		g.exporter.ObserveRequest(label, req.Method, resp.StatusCode, dur)
	}

	// Collected records cover requests that made it past admission;
	// rejections live only in the Prometheus counters.
	if g.collector != nil && admitted && route != nil && route.Monitor != nil && route.Monitor.Enabled {
		g.collector.Record(domain.MetricRecord{
			RouteID:      routeID,
			Timestamp:    start,
			Method:       req.Method,
			Path:         req.Path,
			StatusCode:   resp.StatusCode,
			Duration:     dur,
			RequestSize:  len(req.Body),
			ResponseSize: len(resp.Body),
			UserAgent:    req.UserAgent,
			ClientIP:     req.ClientIP,
			UserID:       userID,
			CacheHit:     cacheHit,
		})
	}

	logging.Access().Log(&logging.AccessEntry{
		Timestamp:  start,
		RequestID:  req.RequestID,
		RouteID:    routeID,
		Method:     req.Method,
		Path:       req.Path,
		Status:     resp.StatusCode,
		DurationMs: dur.Milliseconds(),
		ClientIP:   req.ClientIP,
		UserAgent:  req.UserAgent,
		UserID:     userID,
		CacheHit:   cacheHit,
	})
}
