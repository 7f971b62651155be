package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/axisgate/axis/internal/observability"
)

// DefaultForwardTimeout bounds a single upstream call when the route does
// not say otherwise.
const DefaultForwardTimeout = 30 * time.Second

// maxResponseBody caps how much of an upstream response is buffered.
const maxResponseBody = 10 << 20

// Forwarder delivers an admitted request to its route target and returns
// the upstream response.
type Forwarder interface {
	Forward(ctx context.Context, target string, req *Request) (*Response, error)
}

// ForwarderFunc adapts a function to the Forwarder interface.
type ForwarderFunc func(ctx context.Context, target string, req *Request) (*Response, error)

// Forward implements Forwarder.
func (f ForwarderFunc) Forward(ctx context.Context, target string, req *Request) (*Response, error) {
	return f(ctx, target, req)
}

// HTTPForwarder forwards requests over HTTP. The route target is the
// upstream base URL; the request path is appended to it.
type HTTPForwarder struct {
	client *http.Client
}

// NewHTTPForwarder builds a forwarder with its own client. Per-request
// deadlines come from the caller's context; timeout here is the hard
// transport-level cap.
func NewHTTPForwarder(timeout time.Duration) *HTTPForwarder {
	if timeout <= 0 {
		timeout = DefaultForwardTimeout
	}
	return &HTTPForwarder{
		client: &http.Client{Timeout: timeout},
	}
}

// Forward implements Forwarder.
func (f *HTTPForwarder) Forward(ctx context.Context, target string, req *Request) (*Response, error) {
	url := strings.TrimRight(target, "/") + req.Path

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.ClientIP != "" {
		httpReq.Header.Set("X-Forwarded-For", req.ClientIP)
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}
	observability.InjectHTTP(ctx, httpReq.Header)

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", target, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k, vs := range httpResp.Header {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       respBody,
	}, nil
}
