package tasks

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/vladislavfirsov/content-pipeline/config"
)

// serve starts handler on an in-memory listener and returns a client bound to it.
func serve(t *testing.T, handler fasthttp.RequestHandler, retries int) *HTTPClient {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	fc := &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}
	return NewHTTPClient(config.ContentServiceConfig{
		BaseURL:    "http://content.test/",
		APIKey:     "secret",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
	},
		WithFastHTTPClient(fc),
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
	)
}

func TestHTTPClient_Summarize(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq SummaryRequest
	client := serve(t, func(ctx *fasthttp.RequestCtx) {
		gotPath = string(ctx.Path())
		gotAuth = string(ctx.Request.Header.Peek("Authorization"))
		_ = sonic.Unmarshal(ctx.PostBody(), &gotReq)
		body, _ := sonic.Marshal(SummaryResult{BookTitle: "Dune", KeyThemes: []string{"spice"}})
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	}, 0)

	res, err := client.Summarize(context.Background(), SummaryRequest{Markdown: "# Dune", BookTitle: "Dune"})
	require.NoError(t, err)

	assert.Equal(t, pathSummarize, gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "# Dune", gotReq.Markdown)
	assert.Equal(t, "Dune", res.BookTitle)
	assert.Equal(t, []string{"spice"}, res.KeyThemes)
}

func TestHTTPClient_MaterialPath(t *testing.T) {
	var gotPath string
	client := serve(t, func(ctx *fasthttp.RequestCtx) {
		gotPath = string(ctx.Path())
		ctx.SetBodyString(`{"kind":"quiz","items":[{"q":"?"}]}`)
	}, 0)

	res, err := client.GenerateMaterial(context.Background(), MaterialRequest{Kind: MaterialQuiz})
	require.NoError(t, err)
	assert.Equal(t, pathMaterials+MaterialQuiz, gotPath)
	assert.Len(t, res.Items, 1)
}

func TestHTTPClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := serve(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetBodyString(`{"enhanced_markdown":"# ok","figures":[]}`)
	}, 3)

	res, err := client.ProcessDocument(context.Background(), DocumentRequest{PDF: "a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "# ok", res.EnhancedMarkdown)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	client := serve(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	}, 2)

	_, err := client.Summarize(context.Background(), SummaryRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceStatus)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	client := serve(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString("bad markdown")
	}, 5)

	_, err := client.Summarize(context.Background(), SummaryRequest{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, fasthttp.StatusBadRequest, se.Status)
	assert.Equal(t, "bad markdown", se.Body)
	assert.False(t, se.Temporary())
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_StopsOnCancelledContext(t *testing.T) {
	client := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Summarize(ctx, SummaryRequest{})
	require.Error(t, err)
}
