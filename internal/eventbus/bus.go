package eventbus

import "sync"

// DefaultChannel 与页面端约定的频道名。
const DefaultChannel = "vidgrab"

// Handler 接收一次信号；在 Publish 的调用栈内同步执行。
type Handler func(Signal)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus 是单一共享频道的同步扇出器，不保存任何历史信号。
type Bus struct {
	channel string

	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// New 创建一个频道；name 为空时使用 DefaultChannel。
func New(name string) *Bus {
	if name == "" {
		name = DefaultChannel
	}
	return &Bus{channel: name}
}

// Channel 返回频道名。
func (b *Bus) Channel() string {
	return b.channel
}

// Subscribe 追加订阅者并返回幂等的退订函数。
func (b *Bus) Subscribe(handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Publish 按订阅顺序把信号交给当前所有订阅者。订阅者列表在发布时取快照，
// 因此处理函数内部的订阅/退订只影响之后的信号。
func (b *Bus) Publish(signal Signal) {
	b.mu.RLock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		sub.handler(signal)
	}
}

// Subscribers 返回当前订阅者数量，供诊断接口使用。
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}
