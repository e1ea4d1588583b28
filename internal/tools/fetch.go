package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/html"

	"github.com/brbranch/parmira/internal/model"
)

// fetchの既定値
const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultFetchMaxChars = 2000
	fetchMaxBodyBytes    = 4 << 20
)

var errForbiddenAddress = errors.New("access to local network resources is forbidden")

const forbiddenMessage = "Access to local network resources is forbidden."

// FetchTool は外部URLをGETする（fetch_url）
// ループバック・プライベート・リンクローカルのアドレスには接続しない
type FetchTool struct {
	client   *http.Client
	timeout  time.Duration
	maxChars int
}

// FetchOption はFetchToolのオプション
type FetchOption func(*FetchTool)

// WithFetchClient はHTTPクライアントを差し替える（接続先アドレスの検査は行われなくなる）
func WithFetchClient(client *http.Client) FetchOption {
	return func(t *FetchTool) {
		t.client = client
	}
}

// NewFetchTool はFetchToolを作成する
func NewFetchTool(timeout time.Duration, maxChars int, opts ...FetchOption) *FetchTool {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxChars <= 0 {
		maxChars = DefaultFetchMaxChars
	}
	t := &FetchTool{timeout: timeout, maxChars: maxChars}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = guardedClient()
	}
	return t
}

// guardedClient は接続時に宛先IPを検査するクライアントを作る
// リダイレクトやDNSの再解決でも同じ検査を通る
func guardedClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			return checkDialAddress(address)
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil
	return &http.Client{Transport: transport}
}

func checkDialAddress(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	ip := net.ParseIP(host)
	if ip == nil || isLocalIP(ip) {
		return fmt.Errorf("%w: %s", errForbiddenAddress, address)
	}
	return nil
}

func isLocalIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast()
}

func (t *FetchTool) Name() string { return "fetch_url" }

func (t *FetchTool) Description() string {
	return "Fetch a public http(s) URL with GET and return the first characters of the body."
}

func (t *FetchTool) Schema() model.JSONSchema {
	return objectSchema(map[string]model.JSONSchema{
		"url":     prop("string", "Absolute http or https URL."),
		"params":  prop("object", "Query parameters."),
		"timeout": prop("number", "Timeout in seconds (default 30)."),
		"text":    prop("boolean", "Strip HTML tags and return visible text."),
	}, "url")
}

// Call はURLを取得する
func (t *FetchTool) Call(ctx context.Context, args map[string]any) *Result {
	rawURL, _ := stringArg(args, "url")
	if strings.TrimSpace(rawURL) == "" {
		return Failure(http.StatusBadRequest, "url is required")
	}
	lowered := strings.ToLower(rawURL)
	if strings.Contains(lowered, "localhost") || strings.Contains(lowered, "127.0.0.1") {
		return Failure(http.StatusForbidden, forbiddenMessage)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Failure(http.StatusBadRequest, "Invalid URL: %s", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Failure(http.StatusBadRequest, "Only http and https URLs are supported.")
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && isLocalIP(ip) {
		return Failure(http.StatusForbidden, forbiddenMessage)
	}

	if params := stringMapArg(args, "params"); len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	timeout := t.timeout
	if d, ok := secondsArg(args, "timeout"); ok {
		timeout = d
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Failure(http.StatusBadRequest, "Invalid URL: %v", err)
	}
	req.Header.Set("User-Agent", "parmira-fetch/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return fetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failure(http.StatusBadGateway, "External request error: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodyBytes))
	if err != nil {
		return fetchError(err)
	}

	content := string(body)
	if boolArg(args, "text") {
		content = htmlToText(content)
	}

	return Success(map[string]any{
		"url":          rawURL,
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"content":      truncateRunes(content, t.maxChars),
	})
}

func fetchError(err error) *Result {
	var netErr net.Error
	switch {
	case errors.Is(err, errForbiddenAddress):
		return Failure(http.StatusForbidden, forbiddenMessage)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return Failure(http.StatusRequestTimeout, "External fetch request timed out.")
	default:
		return Failure(http.StatusBadGateway, "External request error: %v", err)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// skippedElements の中身は本文として扱わない
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true, "template": true,
}

// htmlToText はHTMLから表示テキストを取り出す
func htmlToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			if skippedElements[string(name)] {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skippedElements[string(name)] && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}
