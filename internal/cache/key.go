package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Key 是规范化后的请求身份："GET <url>"。
type Key string

// NormalizeKey 只接受 GET，去掉 fragment，scheme/host 统一小写，空路径补成 "/"。
func NormalizeKey(method, rawURL string) (Key, error) {
	if !strings.EqualFold(strings.TrimSpace(method), http.MethodGet) {
		return "", fmt.Errorf("%w: method %s", ErrNotCacheable, method)
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("request url %q must be absolute", rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path == "" {
		u.Path = "/"
	}
	return Key(http.MethodGet + " " + u.String()), nil
}
