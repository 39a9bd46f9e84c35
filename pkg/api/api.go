// Package api is the thin call/response collaborator the communication core
// uses to reach REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	maxBodyBytes          = 4 << 20
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Caller performs one request. A nil error with Success=false means the
// server understood the request and refused it.
type Caller interface {
	Call(ctx context.Context, method, url string, body any) (Response, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, method, url string, body any) (Response, error)

func (f CallerFunc) Call(ctx context.Context, method, url string, body any) (Response, error) {
	return f(ctx, method, url, body)
}

// NewHTTPClient returns a client with connect and overall timeouts set.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout, Transport: newTransport()}
}

// NewStreamingClient has no overall timeout, for long-lived responses
// such as event streams. Connecting and waiting for headers stay bounded.
func NewStreamingClient() *http.Client {
	t := newTransport()
	t.ResponseHeaderTimeout = DefaultTimeout
	return &http.Client{Transport: t}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// HTTPCaller sends JSON requests. Relative URLs are resolved against BaseURL.
type HTTPCaller struct {
	BaseURL string
	Client  *http.Client
	Header  http.Header
	logger  *slog.Logger
}

func NewHTTPCaller(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPCaller {
	return &HTTPCaller{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  NewHTTPClient(timeout),
		logger:  logging.NewComponentLogger(logger, "api_caller"),
	}
}

func (c *HTTPCaller) resolve(url string) string {
	if c.BaseURL == "" || strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return c.BaseURL + "/" + strings.TrimLeft(url, "/")
}

func (c *HTTPCaller) Call(ctx context.Context, method, url string, body any) (Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Response{}, errorsx.Errorf(errorsx.ReasonProtocol, "encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(url), reader)
	if err != nil {
		return Response{}, errorsx.Errorf(errorsx.ReasonConfig, "build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := c.Client
	if client == nil {
		client = NewHTTPClient(0)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, errorsx.Wrap(ctx.Err(), errorsx.ReasonCanceled)
		}
		return Response{}, errorsx.Errorf(errorsx.ReasonTransport, "%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, errorsx.Errorf(errorsx.ReasonTransport, "read response: %w", err)
	}
	var out Response
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.Success = false
		if out.Message == "" {
			out.Message = http.StatusText(resp.StatusCode)
		}
		reason := errorsx.ReasonProtocol
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			reason = errorsx.ReasonTransport
		}
		c.logger.Warn("api_call_rejected",
			slog.String("method", method),
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode))
		return out, errorsx.Errorf(reason, "%s %s: status %d: %s", method, req.URL.Path, resp.StatusCode, out.Message)
	}
	if decodeErr != nil {
		return Response{}, errorsx.Errorf(errorsx.ReasonProtocol, "decode response: %w", decodeErr)
	}
	return out, nil
}

// DecodeData unmarshals the Data field into v.
func (r Response) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	return json.Unmarshal(r.Data, v)
}
