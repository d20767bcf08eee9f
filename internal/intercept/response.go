package intercept

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/vidgrab/vidgrab-shell/internal/cache"
)

// ErrBodyConsumed 表示正文已被读取，无法再复制或再次读取。
var ErrBodyConsumed = errors.New("response body already consumed")

// Outcome 记录响应的来源，用于响应头与日志。
type Outcome string

const (
	OutcomeHit      Outcome = "hit"
	OutcomeMiss     Outcome = "miss"
	OutcomeBypass   Outcome = "bypass"
	OutcomeNetwork  Outcome = "network"
	OutcomeFallback Outcome = "fallback"
	// OutcomeOffline 是回源失败后第二次查缓存命中的结果。
	OutcomeOffline Outcome = "offline"
)

// Response 的正文只能被消费一次；需要同时返回与存储时必须先 Clone。
type Response struct {
	Status  int
	Header  http.Header
	Outcome Outcome
	// Basic 表示同源、非 opaque 的响应，只有 basic 响应允许写缓存。
	Basic bool

	mu       sync.Mutex
	body     io.ReadCloser
	consumed bool
}

// NewResponse 包装状态、头部与正文；body 为 nil 时视为空正文。
func NewResponse(status int, header http.Header, body io.ReadCloser) *Response {
	if header == nil {
		header = http.Header{}
	}
	if body == nil {
		body = http.NoBody
	}
	return &Response{Status: status, Header: header, body: body}
}

// FromSnapshot 把缓存快照还原成响应。
func FromSnapshot(snap cache.Snapshot) *Response {
	resp := NewResponse(snap.Status, snap.Header.Clone(), io.NopCloser(bytes.NewReader(snap.Body)))
	resp.Outcome = OutcomeHit
	resp.Basic = true
	return resp
}

// ServiceUnavailable 合成后端不可达时的 503 响应。
func ServiceUnavailable() *Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	resp := NewResponse(http.StatusServiceUnavailable, header, io.NopCloser(strings.NewReader("Network error")))
	resp.Outcome = OutcomeFallback
	return resp
}

// Body 交出正文的所有权，第二次调用返回 ErrBodyConsumed。
func (r *Response) Body() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed {
		return nil, ErrBodyConsumed
	}
	r.consumed = true
	return r.body, nil
}

// ReadAll 读取并关闭正文。
func (r *Response) ReadAll() ([]byte, error) {
	body, err := r.Body()
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Clone 在正文被读取之前把它一分为二：原响应与副本都可以独立消费。
func (r *Response) Clone() (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed {
		return nil, ErrBodyConsumed
	}

	data, err := io.ReadAll(r.body)
	closeErr := r.body.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		// 原正文已经读坏，不能再假装它可用。
		r.consumed = true
		return nil, fmt.Errorf("buffer response body: %w", err)
	}
	r.body = io.NopCloser(bytes.NewReader(data))

	clone := NewResponse(r.Status, r.Header.Clone(), io.NopCloser(bytes.NewReader(data)))
	clone.Outcome = r.Outcome
	clone.Basic = r.Basic
	return clone, nil
}

// Close 丢弃未读取的正文。
func (r *Response) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed {
		return nil
	}
	r.consumed = true
	return r.body.Close()
}

// Snapshot 消费正文并生成可存储的快照。
func (r *Response) Snapshot() (cache.Snapshot, error) {
	data, err := r.ReadAll()
	if err != nil {
		return cache.Snapshot{}, err
	}
	return cache.Snapshot{Status: r.Status, Header: r.Header.Clone(), Body: data}, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}
