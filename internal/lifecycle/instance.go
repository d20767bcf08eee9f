package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vidgrab/vidgrab-shell/internal/cache"
	"github.com/vidgrab/vidgrab-shell/internal/intercept"
)

// State 是实例的生命周期状态。
type State string

const (
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

var (
	// ErrNotActive 表示实例尚未激活或已被取代，不能再拦截请求。
	ErrNotActive = errors.New("instance is not active")
	// ErrNoWaiting 表示没有等待中的实例可供激活。
	ErrNoWaiting = errors.New("no waiting instance")
	// ErrInstallFailed 表示整体安装步骤失败，实例被丢弃。
	ErrInstallFailed = errors.New("install failed")
	// ErrUnknownMessage 表示收到无法识别的外部消息。
	ErrUnknownMessage = errors.New("unknown lifecycle message")
)

// Instance 是一个已安装的拦截层版本，绑定到一个缓存分区。
type Instance struct {
	id         string
	generation cache.Generation
	engine     *intercept.Engine

	mu          sync.RWMutex
	state       State
	installedAt time.Time
	activatedAt time.Time

	intercepted atomic.Int64
}

// InstanceInfo 是实例的只读描述，供诊断接口输出。
type InstanceInfo struct {
	ID          string           `json:"id"`
	Generation  cache.Generation `json:"generation"`
	State       State            `json:"state"`
	Intercepted int64            `json:"intercepted"`
	InstalledAt time.Time        `json:"installed_at"`
	ActivatedAt *time.Time       `json:"activated_at,omitempty"`
}

func (i *Instance) ID() string                   { return i.id }
func (i *Instance) Generation() cache.Generation { return i.generation }
func (i *Instance) Intercepted() int64           { return i.intercepted.Load() }

// State 返回当前状态。
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Info 生成快照。
func (i *Instance) Info() InstanceInfo {
	i.mu.RLock()
	defer i.mu.RUnlock()
	info := InstanceInfo{
		ID:          i.id,
		Generation:  i.generation,
		State:       i.state,
		Intercepted: i.intercepted.Load(),
		InstalledAt: i.installedAt,
	}
	if !i.activatedAt.IsZero() {
		activated := i.activatedAt
		info.ActivatedAt = &activated
	}
	return info
}

// Intercept 只有 Active 实例才会处理请求；Redundant 实例一律拒绝。
func (i *Instance) Intercept(ctx context.Context, req intercept.Request) (*intercept.Response, error) {
	if i.State() != StateActive {
		return nil, ErrNotActive
	}
	i.intercepted.Add(1)
	return i.engine.Resolve(ctx, req)
}

func (i *Instance) setState(state State, now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = state
	switch state {
	case StateWaiting:
		i.installedAt = now
	case StateActive:
		i.activatedAt = now
	}
}
