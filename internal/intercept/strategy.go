package intercept

import (
	"net/http"
	"strings"
)

// Strategy 是单个请求的处理策略。
type Strategy string

const (
	// Bypass 直接走网络，不读也不写缓存。
	Bypass Strategy = "bypass"
	// CacheFirst 先查当前分区，未命中再回源并按条件写入。
	CacheFirst Strategy = "cache-first"
	// NetworkOnlyWithFallback 只走网络，传输失败时合成 503。
	NetworkOnlyWithFallback Strategy = "network-only-with-fallback"
)

// Decide 按顺序应用规则，首个命中即返回：
// 非 GET → Bypass；后端源站 → NetworkOnlyWithFallback；其余 → CacheFirst。
func Decide(req Request) Strategy {
	if !strings.EqualFold(req.Method, http.MethodGet) {
		return Bypass
	}
	if req.Class == ClassCrossOriginAPI {
		return NetworkOnlyWithFallback
	}
	return CacheFirst
}
