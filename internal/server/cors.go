package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/axisgate/axis/internal/domain"
)

// handlePreflight answers OPTIONS requests for any route registered on
// the path, regardless of method.
func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	matches := s.registry.FindPath(r.URL.Path)
	if len(matches) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var cors *domain.CORSPolicy
	allowed := make([]string, 0, len(matches))
	for _, route := range matches {
		allowed = append(allowed, route.Method)
		if cors == nil && route.CORS != nil {
			cors = route.CORS
		}
	}
	if cors == nil {
		// No CORS policy on the path; answer a bare preflight.
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" || !originAllowed(cors.AllowOrigins, origin) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", origin)
	methods := cors.AllowMethods
	if len(methods) == 0 {
		methods = allowed
	}
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	if len(cors.AllowHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(cors.AllowHeaders, ", "))
	} else if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
	}
	if cors.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	if cors.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cors.MaxAge))
	}
	w.WriteHeader(http.StatusNoContent)
}

// setCORSHeaders sets CORS response headers for non-preflight requests.
func setCORSHeaders(w http.ResponseWriter, r *http.Request, cors *domain.CORSPolicy) {
	origin := r.Header.Get("Origin")
	if origin == "" || !originAllowed(cors.AllowOrigins, origin) {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	if cors.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}

// originAllowed checks if the request origin is in the allowed list.
func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
