package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// AccessEntry is a single request outcome written to the access log.
type AccessEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	RouteID    string    `json:"route_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	ClientIP   string    `json:"client_ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	CacheHit   bool      `json:"cache_hit,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// AccessLogger writes per-request entries to the console and, optionally,
// to a JSON lines file. It is separate from the operational slog logger.
type AccessLogger struct {
	mu      sync.Mutex
	enabled bool
	console bool
	file    *os.File
}

var defaultAccess = &AccessLogger{enabled: true, console: true}

// Access returns the default access logger.
func Access() *AccessLogger {
	return defaultAccess
}

// SetOutput directs JSON entries to the given file path.
func (l *AccessLogger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables or disables the human-readable console output.
func (l *AccessLogger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// SetEnabled toggles the logger as a whole.
func (l *AccessLogger) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Log writes an access entry. A zero timestamp is stamped with the
// current time; callers that stamp the request start keep their value.
func (l *AccessLogger) Log(entry *AccessEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if l.console {
		cached := ""
		if entry.CacheHit {
			cached = " [cached]"
		}
		fmt.Printf("[access] %d %s %s %s %dms%s\n",
			entry.Status, entry.Method, entry.Path, entry.RequestID, entry.DurationMs, cached)
		if entry.Error != "" {
			fmt.Printf("[access]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file, if any.
func (l *AccessLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
