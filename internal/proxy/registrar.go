package proxy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vidgrab/vidgrab-shell/internal/cache"
	"github.com/vidgrab/vidgrab-shell/internal/lifecycle"
)

// Registrar 维护期望的缓存代，并在后台把它注册到控制器。
// 首次安装失败后，下一次页面加载会通过 Ensure 重新尝试。
type Registrar struct {
	controller *lifecycle.Controller
	logger     *logrus.Logger
	timeout    time.Duration

	mu         sync.Mutex
	generation cache.Generation
	running    atomic.Bool
	wg         sync.WaitGroup
}

// NewRegistrar 创建注册器；timeout 限制单次安装耗时，0 表示不限制。
func NewRegistrar(controller *lifecycle.Controller, gen cache.Generation, timeout time.Duration, logger *logrus.Logger) *Registrar {
	return &Registrar{controller: controller, generation: gen, timeout: timeout, logger: logger}
}

// Generation 返回当前期望的缓存代。
func (r *Registrar) Generation() cache.Generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Register 同步注册 gen 并记为期望的缓存代。
func (r *Registrar) Register(ctx context.Context, gen cache.Generation) (*lifecycle.Instance, error) {
	r.mu.Lock()
	r.generation = gen
	r.mu.Unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	inst, err := r.controller.Register(ctx, gen)
	if err != nil {
		r.logger.WithFields(logrus.Fields{"action": "register", "generation": gen}).
			WithError(err).Warn("register_failed")
	}
	return inst, err
}

// Ensure 在没有 Active 实例时于后台补装期望的缓存代；同一时刻至多一个补装。
func (r *Registrar) Ensure() {
	if r.controller.Active() != nil {
		return
	}
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	gen := r.Generation()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		_, _ = r.Register(context.Background(), gen)
	}()
}

// Wait 等待后台补装结束。
func (r *Registrar) Wait() {
	r.wg.Wait()
}
