package tools

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clientFor はどのホスト名でもテストサーバーに接続するクライアントを返す
func clientFor(srv *httptest.Server) *http.Client {
	addr := srv.Listener.Addr().String()
	return &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}}
}

func TestFetchTool_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><head><title>t</title><script>var x;</script></head><body><p>Hello</p> <b>q=%s</b></body></html>", r.URL.Query().Get("q"))
	}))
	defer srv.Close()

	tool := NewFetchTool(0, 0, WithFetchClient(clientFor(srv)))

	res := tool.Call(context.Background(), map[string]any{
		"url":    "http://example.test/page",
		"params": map[string]any{"q": "go"},
	})
	require.Equal(t, http.StatusOK, res.Code, res.Detail)
	assert.Equal(t, "http://example.test/page", res.Fields["url"])
	assert.Equal(t, 200, res.Fields["status_code"])
	assert.Equal(t, "text/html; charset=utf-8", res.Fields["content_type"])
	assert.Contains(t, res.Fields["content"], "<p>Hello</p>")

	res = tool.Call(context.Background(), map[string]any{
		"url":    "http://example.test/page",
		"params": map[string]any{"q": "go"},
		"text":   true,
	})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Hello q=go", res.Fields["content"])
}

func TestFetchTool_Truncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("あ", 50)))
	}))
	defer srv.Close()

	tool := NewFetchTool(0, 10, WithFetchClient(clientFor(srv)))
	res := tool.Call(context.Background(), map[string]any{"url": "http://example.test/"})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, strings.Repeat("あ", 10), res.Fields["content"])
}

func TestFetchTool_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	tool := NewFetchTool(0, 0, WithFetchClient(clientFor(srv)))
	res := tool.Call(context.Background(), map[string]any{"url": "http://example.test/missing"})
	assert.Equal(t, http.StatusBadGateway, res.Code)
	assert.Equal(t, "External request error: HTTP 404", res.Detail)
}

func TestFetchTool_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tool := NewFetchTool(0, 0, WithFetchClient(clientFor(srv)))
	start := time.Now()
	res := tool.Call(context.Background(), map[string]any{"url": "http://example.test/slow", "timeout": 0.1})
	assert.Equal(t, http.StatusRequestTimeout, res.Code)
	assert.Equal(t, "External fetch request timed out.", res.Detail)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchTool_Forbidden(t *testing.T) {
	tool := NewFetchTool(0, 0)
	for _, u := range []string{
		"http://localhost:8000/",
		"http://127.0.0.1/",
		"http://LOCALHOST/",
		"http://10.0.0.5/admin",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]:8080/",
	} {
		res := tool.Call(context.Background(), map[string]any{"url": u})
		assert.Equal(t, http.StatusForbidden, res.Code, u)
		assert.Equal(t, "Access to local network resources is forbidden.", res.Detail)
	}
}

func TestFetchTool_BadInput(t *testing.T) {
	tool := NewFetchTool(0, 0)
	assert.Equal(t, http.StatusBadRequest, tool.Call(context.Background(), map[string]any{}).Code)
	assert.Equal(t, http.StatusBadRequest, tool.Call(context.Background(), map[string]any{"url": "ftp://example.com/x"}).Code)
	assert.Equal(t, http.StatusBadRequest, tool.Call(context.Background(), map[string]any{"url": "not a url"}).Code)
}

func TestCheckDialAddress(t *testing.T) {
	assert.ErrorIs(t, checkDialAddress("127.0.0.1:80"), errForbiddenAddress)
	assert.ErrorIs(t, checkDialAddress("[::1]:443"), errForbiddenAddress)
	assert.ErrorIs(t, checkDialAddress("172.16.0.1:80"), errForbiddenAddress)
	assert.ErrorIs(t, checkDialAddress("0.0.0.0:80"), errForbiddenAddress)
	assert.NoError(t, checkDialAddress("93.184.216.34:443"))
}

func TestHTMLToText(t *testing.T) {
	got := htmlToText("<style>p{}</style><h1>Title</h1>\n<p>one\ttwo</p><noscript>x</noscript>")
	assert.Equal(t, "Title one two", got)
}
