package metrics

import (
	"testing"
	"time"

	"github.com/axisgate/axis/internal/domain"
)

func rec(routeID string, status int, dur time.Duration, ts time.Time) domain.MetricRecord {
	return domain.MetricRecord{
		RouteID:    routeID,
		Timestamp:  ts,
		Method:     "GET",
		Path:       "/orders",
		StatusCode: status,
		Duration:   dur,
	}
}

func TestStatsAggregation(t *testing.T) {
	c := NewCollector(time.Hour)
	defer c.Close()

	now := time.Now()
	c.Record(rec("r1", 200, 10*time.Millisecond, now))
	c.Record(rec("r1", 200, 30*time.Millisecond, now))
	c.Record(rec("r1", 500, 20*time.Millisecond, now))
	c.Record(rec("r2", 200, 100*time.Millisecond, now))

	s := c.Stats("r1")
	if s.TotalRequests != 3 {
		t.Fatalf("TotalRequests = %d, want 3", s.TotalRequests)
	}
	if s.AvgResponseTime != 20*time.Millisecond {
		t.Errorf("AvgResponseTime = %v, want 20ms", s.AvgResponseTime)
	}
	if want := 1.0 / 3.0; s.ErrorRate != want {
		t.Errorf("ErrorRate = %v, want %v", s.ErrorRate, want)
	}
	if s.RequestsPerMinute != 3 {
		t.Errorf("RequestsPerMinute = %d, want 3", s.RequestsPerMinute)
	}
}

func TestStatsRequestsPerMinuteWindow(t *testing.T) {
	c := NewCollector(time.Hour)
	defer c.Close()

	now := time.Now()
	c.Record(rec("r1", 200, time.Millisecond, now.Add(-5*time.Minute)))
	c.Record(rec("r1", 200, time.Millisecond, now.Add(-90*time.Second)))
	c.Record(rec("r1", 200, time.Millisecond, now.Add(-10*time.Second)))

	s := c.Stats("r1")
	if s.TotalRequests != 3 {
		t.Fatalf("TotalRequests = %d, want 3", s.TotalRequests)
	}
	if s.RequestsPerMinute != 1 {
		t.Errorf("RequestsPerMinute = %d, want 1", s.RequestsPerMinute)
	}
}

func TestStatsUnknownRoute(t *testing.T) {
	c := NewCollector(time.Hour)
	defer c.Close()

	s := c.Stats("missing")
	if s.TotalRequests != 0 || s.AvgResponseTime != 0 || s.ErrorRate != 0 || s.RequestsPerMinute != 0 {
		t.Fatalf("stats for unknown route not zero: %+v", s)
	}
}

func TestQueryFiltersByRoute(t *testing.T) {
	c := NewCollector(time.Hour)
	defer c.Close()

	now := time.Now()
	c.Record(rec("r1", 200, time.Millisecond, now))
	c.Record(rec("r2", 200, time.Millisecond, now))
	c.Record(rec("r1", 404, time.Millisecond, now))

	if got := c.Query("r1"); len(got) != 2 {
		t.Errorf("Query(r1) returned %d records, want 2", len(got))
	}
	if got := c.Query(""); len(got) != 3 {
		t.Errorf("Query(\"\") returned %d records, want 3", len(got))
	}
}

func TestSweepDropsExpiredRecords(t *testing.T) {
	c := NewCollector(time.Hour)
	defer c.Close()

	now := time.Now()
	c.Record(rec("r1", 200, time.Millisecond, now.Add(-2*time.Hour)))
	c.Record(rec("r1", 200, time.Millisecond, now.Add(-90*time.Minute)))
	c.Record(rec("r1", 200, time.Millisecond, now))

	c.sweep(now)

	if got := c.Query("r1"); len(got) != 1 {
		t.Fatalf("after sweep %d records remain, want 1", len(got))
	}
}

func TestRecordAfterCloseDropped(t *testing.T) {
	c := NewCollector(time.Hour)
	c.Close()

	c.Record(rec("r1", 200, time.Millisecond, time.Now()))
	if got := c.Query("r1"); len(got) != 0 {
		t.Fatalf("record accepted after Close: %d records", len(got))
	}
}
