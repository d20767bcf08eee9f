package intercept

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Class 是请求的目的地分类。
type Class string

const (
	ClassStaticAsset    Class = "static-asset"
	ClassCrossOriginAPI Class = "cross-origin-api"
	ClassOther          Class = "other"
)

// Request 是单次拦截的描述，策略决出后即丢弃。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
	Class  Class
	// SameOrigin 表示目标与应用同源或被显式允许缓存，只有这类响应才算 basic。
	SameOrigin bool
}

// String 便于日志输出。
func (r Request) String() string {
	if r.URL == nil {
		return r.Method
	}
	return r.Method + " " + r.URL.String()
}

var staticExtensions = map[string]struct{}{
	".js": {}, ".mjs": {}, ".css": {}, ".html": {}, ".json": {}, ".webmanifest": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {}, ".webp": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".txt": {}, ".map": {},
}

// Classifier 记录应用源站、后端源站以及显式允许缓存的其他源，
// 并据此把 Host 映射到真实上游、给请求打分类标签。
type Classifier struct {
	origin  *url.URL
	backend *url.URL
	allowed map[string]*url.URL
}

// NewClassifier 解析源站配置；origin 与 backend 必须是绝对 URL。
func NewClassifier(origin, backend string, allowed []string) (*Classifier, error) {
	originURL, err := parseOrigin(origin)
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	backendURL, err := parseOrigin(backend)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	if hostKey(originURL.Host) == hostKey(backendURL.Host) {
		return nil, errors.New("origin and backend must be different hosts")
	}

	c := &Classifier{
		origin:  originURL,
		backend: backendURL,
		allowed: make(map[string]*url.URL, len(allowed)),
	}
	for _, raw := range allowed {
		u, err := parseOrigin(raw)
		if err != nil {
			return nil, fmt.Errorf("allowed origin %q: %w", raw, err)
		}
		c.allowed[hostKey(u.Host)] = u
	}
	return c, nil
}

// Origin 返回应用源站。
func (c *Classifier) Origin() *url.URL {
	return c.origin
}

// Backend 返回后端源站。
func (c *Classifier) Backend() *url.URL {
	return c.backend
}

// Target 把进入代理的 Host + RequestURI 映射成上游绝对 URL：后端 Host 指向后端，
// 显式允许的源指向自身，其余一律视为应用源站。
func (c *Classifier) Target(host, requestURI string) (*url.URL, error) {
	base := c.origin
	switch key := hostKey(host); {
	case key == hostKey(c.backend.Host):
		base = c.backend
	case c.allowed[key] != nil:
		base = c.allowed[key]
	}

	ref, err := url.ParseRequestURI(requestURI)
	if err != nil {
		return nil, fmt.Errorf("parse request uri: %w", err)
	}
	target := *base
	target.Path = ref.Path
	target.RawPath = ref.RawPath
	target.RawQuery = ref.RawQuery
	if target.Path == "" {
		target.Path = "/"
	}
	return &target, nil
}

// Classify 构造 Request 并打上分类标签。
func (c *Classifier) Classify(method string, target *url.URL, header http.Header) Request {
	req := Request{
		Method: strings.ToUpper(strings.TrimSpace(method)),
		URL:    target,
		Header: header,
		Class:  ClassOther,
	}
	if target == nil {
		return req
	}

	key := hostKey(target.Host)
	switch {
	case key == hostKey(c.backend.Host):
		req.Class = ClassCrossOriginAPI
	case key == hostKey(c.origin.Host) || c.allowed[key] != nil:
		req.SameOrigin = true
		if isStaticAsset(target.Path) {
			req.Class = ClassStaticAsset
		}
	}
	return req
}

func isStaticAsset(p string) bool {
	if p == "" || p == "/" {
		return true
	}
	_, ok := staticExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("仅支持 http/https")
	}
	if u.Host == "" {
		return nil, errors.New("缺少 Host")
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// hostKey 统一 Host 形式：去掉默认端口、末尾的点并转小写。
func hostKey(raw string) string {
	host, port := normalizeHost(raw)
	if host == "" {
		return ""
	}
	if port == 0 || port == 80 || port == 443 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
