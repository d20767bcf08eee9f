package intercept

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/vidgrab/vidgrab-shell/internal/server"
)

// Fetcher 执行真实的网络请求。返回 error 仅表示没有拿到响应（传输失败），
// HTTP 错误状态码通过 Response.Status 体现。
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// FetcherFunc 适配普通函数，测试中常用。
type FetcherFunc func(ctx context.Context, req Request) (*Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPFetcher 通过共享 http.Client 回源。
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 构造网络回源器，client 为空时使用 http.DefaultClient。
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Fetch 转发请求，剔除 hop-by-hop 头；最终 URL 跨源（重定向）或请求本就跨源时
// 响应不算 basic。
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.URL == nil {
		return nil, errors.New("request url required")
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		server.CopyHeaders(upstreamReq.Header, req.Header)
	}
	upstreamReq.Header.Del("Host")
	upstreamReq.Header.Del("Accept-Encoding")
	upstreamReq.Host = req.URL.Host

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	out := NewResponse(resp.StatusCode, header, resp.Body)
	out.Basic = req.SameOrigin && resp.Request != nil && resp.Request.URL.Host == req.URL.Host
	return out, nil
}
