package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/config"
)

// ErrServiceStatus is returned when the content service answers with a
// non-2xx status.
var ErrServiceStatus = errors.New("content service error")

// StatusError carries the status code and body of a failed call.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Path, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrServiceStatus
}

// Temporary reports whether the call may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.Status == fasthttp.StatusTooManyRequests || e.Status >= 500
}

// Content service endpoints.
const (
	pathProcessDocument = "/api/v1/documents/process"
	pathSummarize       = "/api/v1/summaries"
	pathMaterials       = "/api/v1/materials/"
)

// HTTPClient talks to the content service over HTTP. Transient failures
// (transport errors, 429 and 5xx) are retried with exponential backoff.
type HTTPClient struct {
	client     *fasthttp.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries uint64
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithFastHTTPClient replaces the underlying fasthttp client.
func WithFastHTTPClient(c *fasthttp.Client) ClientOption {
	return func(h *HTTPClient) {
		h.client = c
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(h *HTTPClient) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithBackOff replaces the retry schedule.
func WithBackOff(fn func() backoff.BackOff) ClientOption {
	return func(h *HTTPClient) {
		h.newBackOff = fn
	}
}

// NewHTTPClient creates a client for the service described by cfg.
func NewHTTPClient(cfg config.ContentServiceConfig, opts ...ClientOption) *HTTPClient {
	h := &HTTPClient{
		client: &fasthttp.Client{
			MaxConnsPerHost:     64,
			MaxIdleConnDuration: 90 * time.Second,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		maxRetries: uint64(max(cfg.MaxRetries, 0)),
		logger:     zap.NewNop(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ProcessDocument implements ContentService.
func (h *HTTPClient) ProcessDocument(ctx context.Context, req DocumentRequest) (DocumentResult, error) {
	var out DocumentResult
	err := h.call(ctx, pathProcessDocument, req, &out)
	return out, err
}

// Summarize implements ContentService.
func (h *HTTPClient) Summarize(ctx context.Context, req SummaryRequest) (SummaryResult, error) {
	var out SummaryResult
	err := h.call(ctx, pathSummarize, req, &out)
	return out, err
}

// GenerateMaterial implements ContentService.
func (h *HTTPClient) GenerateMaterial(ctx context.Context, req MaterialRequest) (MaterialResult, error) {
	var out MaterialResult
	err := h.call(ctx, pathMaterials+req.Kind, req, &out)
	return out, err
}

func (h *HTTPClient) call(ctx context.Context, path string, in, out any) error {
	body, err := sonic.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := h.do(ctx, path, body, out)
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		h.logger.Warn("content service call failed",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}

	b := backoff.WithMaxRetries(h.newBackOff(), h.maxRetries)
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (h *HTTPClient) do(ctx context.Context, path string, body []byte, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(h.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	req.SetBodyRaw(body)

	deadline := time.Now().Add(h.timeout)
	if h.timeout <= 0 {
		deadline = time.Now().Add(5 * time.Minute)
	}
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := h.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return &StatusError{Path: path, Status: status, Body: string(resp.Body())}
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
