// Package metrics collects per-request outcome records and derives
// aggregate statistics from them. The Collector is the gateway's own
// queryable log; the Prometheus exporter in this package is the external
// observability surface.
package metrics

import (
	"sync"
	"time"

	"github.com/axisgate/axis/internal/domain"
)

// DefaultRetention is how long records are kept before the sweep discards
// them.
const DefaultRetention = 24 * time.Hour

// Stats are the aggregates derived from a route's records.
type Stats struct {
	TotalRequests     int           `json:"total_requests"`
	AvgResponseTime   time.Duration `json:"avg_response_time"`
	ErrorRate         float64       `json:"error_rate"` // share of records with status >= 400
	RequestsPerMinute int           `json:"requests_per_minute"`
}

// Collector is an append-only log of MetricRecords with an age-based
// retention sweep. Records are never mutated after Record returns.
type Collector struct {
	mu        sync.RWMutex
	records   []domain.MetricRecord
	retention time.Duration
	closed    bool
	done      chan struct{}
}

// NewCollector creates a collector sweeping records older than retention
// (default: 24h) once a minute.
func NewCollector(retention time.Duration) *Collector {
	if retention <= 0 {
		retention = DefaultRetention
	}
	c := &Collector{
		retention: retention,
		done:      make(chan struct{}),
	}
	go c.sweepLoop(time.Minute)
	return c
}

// Record appends a record, stamping the timestamp if unset.
func (c *Collector) Record(rec domain.MetricRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.records = append(c.records, rec)
}

// Query returns copies of all records for the route, oldest first.
// An empty routeID returns everything.
func (c *Collector) Query(routeID string) []domain.MetricRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.MetricRecord, 0, len(c.records))
	for _, rec := range c.records {
		if routeID == "" || rec.RouteID == routeID {
			out = append(out, rec)
		}
	}
	return out
}

// Stats aggregates the route's records. The per-minute figure counts only
// records from the last 60 seconds.
func (c *Collector) Stats(routeID string) Stats {
	now := time.Now()
	minuteAgo := now.Add(-time.Minute)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var s Stats
	var totalDur time.Duration
	var errors int
	for _, rec := range c.records {
		if rec.RouteID != routeID {
			continue
		}
		s.TotalRequests++
		totalDur += rec.Duration
		if rec.StatusCode >= 400 {
			errors++
		}
		if rec.Timestamp.After(minuteAgo) {
			s.RequestsPerMinute++
		}
	}
	if s.TotalRequests > 0 {
		s.AvgResponseTime = totalDur / time.Duration(s.TotalRequests)
		s.ErrorRate = float64(errors) / float64(s.TotalRequests)
	}
	return s
}

// Close stops the sweep loop.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *Collector) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

// sweep drops records older than the retention window. Records are
// appended in time order, so the survivors are a single suffix.
func (c *Collector) sweep(now time.Time) {
	cutoff := now.Add(-c.retention)

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := 0
	for ; idx < len(c.records); idx++ {
		if c.records[idx].Timestamp.After(cutoff) {
			break
		}
	}
	if idx > 0 {
		c.records = append([]domain.MetricRecord(nil), c.records[idx:]...)
	}
}
