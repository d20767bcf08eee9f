package proxy

import (
	"context"

	"github.com/vidgrab/vidgrab-shell/internal/intercept"
	"github.com/vidgrab/vidgrab-shell/internal/lifecycle"
)

// Passthrough 不经过任何实例与缓存，直接把请求交给网络。
type Passthrough struct {
	fetcher intercept.Fetcher
}

// NewPassthrough 创建透传拦截器。
func NewPassthrough(fetcher intercept.Fetcher) *Passthrough {
	return &Passthrough{fetcher: fetcher}
}

// Intercept 实现 Interceptor。
func (p *Passthrough) Intercept(ctx context.Context, req intercept.Request) (*intercept.Response, *lifecycle.Instance, error) {
	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	resp.Outcome = intercept.OutcomeBypass
	return resp, nil, nil
}
