package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vidgrab/vidgrab-shell/internal/cache"
	"github.com/vidgrab/vidgrab-shell/internal/intercept"
)

// MessageSkipWaiting 是页面发出的“立即更新”消息类型。
const MessageSkipWaiting = "SKIP_WAITING"

// Message 是来自页面的外部信号。
type Message struct {
	Type string `json:"type"`
}

// Options 描述 Controller 的依赖与行为。
type Options struct {
	Cache      *cache.Manager
	Fetcher    intercept.Fetcher
	Classifier *intercept.Classifier
	Logger     *logrus.Logger
	// ShellAssets 是安装时预填充的同源路径（或绝对 URL）。
	ShellAssets []string
	// InstallConcurrency 限制预填充时的并发回源数。
	InstallConcurrency int
	// AutoActivate 为 true 时安装完成立即激活，等价于安装阶段调用 skipWaiting。
	AutoActivate bool
}

// Snapshot 描述当前注册状态。
type Snapshot struct {
	Current cache.Generation `json:"current_generation"`
	Claimed bool             `json:"claimed"`
	Active  *InstanceInfo    `json:"active,omitempty"`
	Waiting *InstanceInfo    `json:"waiting,omitempty"`
}

// Controller 持有至多一个 Active 与一个 Waiting 实例，所有请求只经由 Active 实例拦截。
type Controller struct {
	opts   Options
	logger *logrus.Logger
	now    func() time.Time

	installMu sync.Mutex

	mu      sync.RWMutex
	active  *Instance
	waiting *Instance
	claimed bool
}

// NewController 校验依赖并创建控制器。
func NewController(opts Options) (*Controller, error) {
	if opts.Cache == nil {
		return nil, errors.New("cache manager is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if opts.InstallConcurrency <= 0 {
		opts.InstallConcurrency = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{opts: opts, logger: logger, now: time.Now}, nil
}

// Register 确保 gen 已安装：已是 Active 或 Waiting 的同一分区时直接返回，
// 否则执行一次 Install。
func (c *Controller) Register(ctx context.Context, gen cache.Generation) (*Instance, error) {
	c.mu.RLock()
	active, waiting := c.active, c.waiting
	c.mu.RUnlock()
	if active != nil && active.Generation() == gen {
		return active, nil
	}
	if waiting != nil && waiting.Generation() == gen {
		return waiting, nil
	}
	return c.Install(ctx, gen)
}

// Install 打开分区并预填充外壳资源。单个资源失败只记录日志；分区无法打开或
// ctx 被取消时整体失败，实例被丢弃。成功后实例进入 Waiting，
// 若当前没有 Active 实例（或开启了 AutoActivate）则立即激活。
func (c *Controller) Install(ctx context.Context, gen cache.Generation) (*Instance, error) {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	inst := &Instance{id: uuid.NewString(), generation: gen, state: StateInstalling}
	fields := logrus.Fields{"action": "install", "instance": inst.id, "generation": gen}
	c.logger.WithFields(fields).Info("instance_installing")

	partition, err := c.opts.Cache.Open(ctx, gen)
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Error("install_failed")
		return nil, fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	cached, err := c.populate(ctx, partition)
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Error("install_failed")
		return nil, fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	engine, err := intercept.NewEngine(intercept.EngineOptions{
		Cache:     c.opts.Cache,
		Partition: partition,
		Fetcher:   c.opts.Fetcher,
		Logger:    c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	inst.engine = engine

	c.mu.Lock()
	replaced := c.waiting
	if replaced != nil {
		replaced.setState(StateRedundant, c.now())
	}
	inst.setState(StateWaiting, c.now())
	c.waiting = inst
	// 首次安装或 AutoActivate 时在同一临界区内接管，外部 SKIP_WAITING 无法插入其间。
	var superseded *Instance
	promoted := false
	if c.active == nil || c.opts.AutoActivate {
		superseded, err = c.promoteLocked()
		promoted = err == nil
	}
	c.mu.Unlock()

	if replaced != nil {
		c.logger.WithFields(logrus.Fields{"action": "install", "instance": replaced.id, "generation": replaced.generation}).
			Info("waiting_instance_replaced")
	}
	fields["shell_assets_cached"] = cached
	fields["shell_assets_total"] = len(c.opts.ShellAssets)
	c.logger.WithFields(fields).Info("instance_waiting")

	if err != nil {
		return inst, err
	}
	if promoted {
		c.finishActivation(ctx, inst, superseded)
	}
	return inst, nil
}

// Activate 把 Waiting 实例提升为 Active：旧 Active 变为 Redundant，切换当前分区，
// 清扫其余分区，并立即接管所有页面连接。
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	next := c.waiting
	prev, err := c.promoteLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.finishActivation(ctx, next, prev)
	return nil
}

// promoteLocked 在持有 c.mu 时完成状态切换，返回被取代的 Active 实例。
func (c *Controller) promoteLocked() (*Instance, error) {
	next := c.waiting
	if next == nil {
		return nil, ErrNoWaiting
	}
	if err := c.opts.Cache.SetCurrent(next.generation); err != nil {
		return nil, err
	}
	prev := c.active
	now := c.now()
	if prev != nil {
		prev.setState(StateRedundant, now)
	}
	next.setState(StateActive, now)
	c.active = next
	c.waiting = nil
	c.claimed = true
	return prev, nil
}

// finishActivation 清扫陈旧分区并记录接管结果，不持有 c.mu。
func (c *Controller) finishActivation(ctx context.Context, next, prev *Instance) {
	fields := logrus.Fields{"action": "activate", "instance": next.id, "generation": next.generation}
	if prev != nil {
		fields["superseded"] = prev.id
		fields["superseded_generation"] = prev.generation
	}

	deleted, err := c.opts.Cache.Sweep(context.WithoutCancel(ctx), next.generation)
	for _, gen := range deleted {
		c.logger.WithFields(logrus.Fields{"action": "activate", "generation": gen}).Info("generation_deleted")
	}
	if err != nil {
		// 陈旧分区不会再被读取，清扫失败不影响激活。
		c.logger.WithFields(fields).WithError(err).Warn("generation_sweep_failed")
	}

	c.logger.WithFields(fields).Info("instance_active")
}

// SkipWaiting 是外部强制激活：Waiting 实例跳过等待立即接管。
func (c *Controller) SkipWaiting(ctx context.Context) error {
	c.logger.WithFields(logrus.Fields{"action": "skip_waiting"}).Info("forced_activation_requested")
	return c.Activate(ctx)
}

// HandleMessage 处理页面消息，目前只支持 SKIP_WAITING。
func (c *Controller) HandleMessage(ctx context.Context, msg Message) error {
	if strings.EqualFold(strings.TrimSpace(msg.Type), MessageSkipWaiting) {
		return c.SkipWaiting(ctx)
	}
	return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
}

// Intercept 把请求交给当前 Active 实例。尚无 Active 实例时直接透传到网络，
// 返回的 Instance 为 nil。
func (c *Controller) Intercept(ctx context.Context, req intercept.Request) (*intercept.Response, *Instance, error) {
	for attempt := 0; attempt < 2; attempt++ {
		c.mu.RLock()
		active := c.active
		c.mu.RUnlock()
		if active == nil {
			break
		}
		resp, err := active.Intercept(ctx, req)
		if errors.Is(err, ErrNotActive) {
			// 取当前 Active 与调用之间恰好发生了接管，重新取一次。
			continue
		}
		return resp, active, err
	}

	resp, err := c.opts.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	resp.Outcome = intercept.OutcomeBypass
	return resp, nil, nil
}

// Active 返回当前 Active 实例，可能为 nil。
func (c *Controller) Active() *Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Waiting 返回等待中的实例，可能为 nil。
func (c *Controller) Waiting() *Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.waiting
}

// Snapshot 输出当前注册状态。
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Current: c.opts.Cache.Current(), Claimed: c.claimed}
	if c.active != nil {
		info := c.active.Info()
		snap.Active = &info
	}
	if c.waiting != nil {
		info := c.waiting.Info()
		snap.Waiting = &info
	}
	return snap
}

// shellURL 把外壳资源配置解析为绝对 URL，相对路径基于应用源站。
func (c *Controller) shellURL(asset string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(asset))
	if err != nil {
		return nil, err
	}
	return c.opts.Classifier.Origin().ResolveReference(ref), nil
}

func (c *Controller) newShellRequest(target *url.URL) intercept.Request {
	return c.opts.Classifier.Classify(http.MethodGet, target, http.Header{})
}
