package domain

import "time"

// MetricRecord is a single per-request outcome entry. Records are append
// only: they are never mutated after creation and are discarded by the
// collector's retention sweep.
type MetricRecord struct {
	RouteID      string        `json:"route_id"`
	Timestamp    time.Time     `json:"timestamp"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	Duration     time.Duration `json:"duration"`
	RequestSize  int           `json:"request_size"`
	ResponseSize int           `json:"response_size"`
	UserAgent    string        `json:"user_agent,omitempty"`
	ClientIP     string        `json:"client_ip,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	CacheHit     bool          `json:"cache_hit,omitempty"`
}
