package intercept

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vidgrab/vidgrab-shell/internal/cache"
)

// EngineOptions 描述 Engine 的依赖。Partition 是本实例写入的分区，
// Cache 负责读取“当前”分区。
type EngineOptions struct {
	Cache     *cache.Manager
	Partition *cache.Partition
	Fetcher   Fetcher
	Logger    *logrus.Logger
}

// Engine 执行 Decide 选出的策略。
type Engine struct {
	cache     *cache.Manager
	partition *cache.Partition
	fetcher   Fetcher
	logger    *logrus.Logger
}

// NewEngine 校验依赖并构造 Engine。
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Cache == nil {
		return nil, errors.New("cache manager is required")
	}
	if opts.Partition == nil {
		return nil, errors.New("cache partition is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		cache:     opts.Cache,
		partition: opts.Partition,
		fetcher:   opts.Fetcher,
		logger:    logger,
	}, nil
}

// Resolve 为请求选出策略并执行。决策阶段的 panic 会降级为直接透传。
func (e *Engine) Resolve(ctx context.Context, req Request) (*Response, error) {
	strategy := e.decide(req)
	switch strategy {
	case NetworkOnlyWithFallback:
		return e.networkWithFallback(ctx, req), nil
	case CacheFirst:
		return e.cacheFirst(ctx, req)
	default:
		return e.passthrough(ctx, req)
	}
}

// Strategy 返回请求将采用的策略（不执行）。
func (e *Engine) Strategy(req Request) Strategy {
	return e.decide(req)
}

func (e *Engine) decide(req Request) (strategy Strategy) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"action": "intercept_decide",
				"url":    req.String(),
			}).Error(fmt.Sprintf("decision panic, falling back to bypass: %v", r))
			strategy = Bypass
		}
	}()
	return Decide(req)
}

func (e *Engine) passthrough(ctx context.Context, req Request) (*Response, error) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Outcome = OutcomeBypass
	return resp, nil
}

// networkWithFallback 从不读写缓存：后端响应是动态的。
func (e *Engine) networkWithFallback(ctx context.Context, req Request) *Response {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"action": "intercept_backend",
			"url":    req.String(),
		}).Warn("backend_unreachable")
		return ServiceUnavailable()
	}
	resp.Outcome = OutcomeNetwork
	return resp
}

func (e *Engine) cacheFirst(ctx context.Context, req Request) (*Response, error) {
	if resp := e.lookup(ctx, req); resp != nil {
		return resp, nil
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		if cached := e.lookup(ctx, req); cached != nil {
			cached.Outcome = OutcomeOffline
			return cached, nil
		}
		return nil, err
	}
	resp.Outcome = OutcomeMiss

	if isSuccess(resp.Status) && resp.Basic {
		clone, cloneErr := resp.Clone()
		if cloneErr != nil {
			return nil, cloneErr
		}
		e.store(ctx, req, clone)
	}
	return resp, nil
}

func (e *Engine) lookup(ctx context.Context, req Request) *Response {
	snap, ok, err := e.cache.Match(ctx, http.MethodGet, req.URL.String())
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "cache_match",
			"url":        req.String(),
			"generation": e.cache.Current(),
		}).Warn("cache_match_failed")
		return nil
	}
	if !ok {
		return nil
	}
	return FromSnapshot(snap)
}

// store 写入失败只丢失缓存副作用；页面放弃请求后仍会完成写入。
func (e *Engine) store(ctx context.Context, req Request, clone *Response) {
	ctx = context.WithoutCancel(ctx)
	snap, err := clone.Snapshot()
	if err == nil {
		snap.StoredAt = time.Now().UTC()
		err = e.partition.Put(ctx, req.Method, req.URL.String(), snap)
	}
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "cache_put",
			"url":        req.String(),
			"generation": e.partition.Generation(),
		}).Warn("cache_put_failed")
	}
}
