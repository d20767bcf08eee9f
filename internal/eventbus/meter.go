package eventbus

import (
	"sync"
	"time"
)

const (
	// StartBaseline 是 start 信号后的初始进度。
	StartBaseline = 10
	// DefaultSettleDelay 是 end 之后保持 100% 的时长，随后归零隐藏。
	DefaultSettleDelay = 300 * time.Millisecond
)

// MeterState 是进度条的可渲染状态。
type MeterState struct {
	Visible bool `json:"visible"`
	Value   int  `json:"value"`
}

type timer interface {
	Stop() bool
}

// Meter 订阅 Bus 并维护进度条状态：start → 10，progress → 指定值，
// end → 100，经过 settle 延迟后归零并隐藏。
type Meter struct {
	settle    time.Duration
	afterFunc func(time.Duration, func()) timer

	mu      sync.Mutex
	state   MeterState
	pending timer
	epoch   uint64
}

// NewMeter 创建未挂载的进度条，settle <= 0 时使用 DefaultSettleDelay。
func NewMeter(settle time.Duration) *Meter {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Meter{
		settle: settle,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
}

// Attach 把进度条挂到 bus 上，返回退订函数。
func (m *Meter) Attach(bus *Bus) func() {
	return bus.Subscribe(m.Handle)
}

// Handle 处理单个信号，可直接作为 Handler 使用。
func (m *Meter) Handle(signal Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch signal.Kind {
	case KindStart:
		m.cancelPending()
		m.state = MeterState{Visible: true, Value: StartBaseline}
	case KindProgress:
		m.state.Value = clamp(signal.Value)
	case KindEnd:
		m.cancelPending()
		m.state.Value = 100
		epoch := m.epoch
		m.pending = m.afterFunc(m.settle, func() { m.reset(epoch) })
	}
}

// State 返回当前状态的副本。
func (m *Meter) State() MeterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Meter) reset(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	m.pending = nil
	m.state = MeterState{}
}

// cancelPending 需在持锁时调用；epoch 自增使已触发但未拿到锁的 reset 失效。
func (m *Meter) cancelPending() {
	m.epoch++
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}
