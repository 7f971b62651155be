package gateway

import (
	"encoding/json"
	"net/http"
)

// Request is the transport-neutral form of an incoming request. The HTTP
// front builds one per request; tests build them directly.
type Request struct {
	Method    string
	Path      string
	Headers   map[string]string
	Body      []byte
	SessionID string
	ClientIP  string
	UserAgent string
	RequestID string
}

// Header returns the named header or "".
func (r *Request) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers[http.CanonicalHeaderKey(name)]
}

// Response is what the pipeline hands back to the transport layer.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// errorResponse builds a JSON error body in the gateway's uniform shape.
func errorResponse(status int, code, message string) *Response {
	body, _ := json.Marshal(map[string]string{
		"error":   code,
		"message": message,
	})
	return &Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

// cachedResponse is the stored form of a cache entry.
type cachedResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body"`
}

func encodeCached(resp *Response) ([]byte, error) {
	return json.Marshal(cachedResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
	})
}

func decodeCached(buf []byte) (*Response, error) {
	var c cachedResponse
	if err := json.Unmarshal(buf, &c); err != nil {
		return nil, err
	}
	resp := &Response{
		StatusCode: c.StatusCode,
		Headers:    c.Headers,
		Body:       c.Body,
	}
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	return resp, nil
}
