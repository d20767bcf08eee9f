package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Manager 独占所有缓存条目以及“当前分区”指针，其他组件只能通过它读写。
type Manager struct {
	backend Backend
	now     func() time.Time

	mu      sync.RWMutex
	current Generation
}

// NewManager 基于 backend 构建管理器，初始没有当前分区。
func NewManager(backend Backend) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("cache backend required")
	}
	return &Manager{backend: backend, now: time.Now}, nil
}

// Open 幂等地返回分区，不存在时创建。
func (m *Manager) Open(ctx context.Context, gen Generation) (*Partition, error) {
	if !gen.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGeneration, gen)
	}
	if err := m.backend.CreatePartition(ctx, gen); err != nil {
		return nil, fmt.Errorf("open partition %s: %w", gen, err)
	}
	return &Partition{gen: gen, manager: m}, nil
}

// Current 返回当前分区标签，尚未激活任何分区时为空。
func (m *Manager) Current() Generation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SetCurrent 切换当前分区指针。
func (m *Manager) SetCurrent(gen Generation) error {
	if !gen.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidGeneration, gen)
	}
	m.mu.Lock()
	m.current = gen
	m.mu.Unlock()
	return nil
}

// Match 只在当前分区查找；未命中返回 ok=false 而不是错误。
func (m *Manager) Match(ctx context.Context, method, rawURL string) (Snapshot, bool, error) {
	current := m.Current()
	if current == "" {
		return Snapshot{}, false, nil
	}
	return m.match(ctx, current, method, rawURL)
}

// ListGenerations 返回全部分区标签（已排序）。
func (m *Manager) ListGenerations(ctx context.Context) ([]Generation, error) {
	gens, err := m.backend.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// GenerationInfo 描述一个分区，供诊断接口输出。
type GenerationInfo struct {
	Name    Generation `json:"name"`
	Current bool       `json:"current"`
	Entries int        `json:"entries"`
}

// Describe 列出全部分区及其条目数。
func (m *Manager) Describe(ctx context.Context) ([]GenerationInfo, error) {
	gens, err := m.ListGenerations(ctx)
	if err != nil {
		return nil, err
	}
	current := m.Current()
	infos := make([]GenerationInfo, 0, len(gens))
	for _, gen := range gens {
		keys, err := m.backend.Keys(ctx, gen)
		if err != nil {
			return nil, fmt.Errorf("list keys of %s: %w", gen, err)
		}
		infos = append(infos, GenerationInfo{Name: gen, Current: gen == current, Entries: len(keys)})
	}
	return infos, nil
}

// Delete 永久删除分区及其条目。
func (m *Manager) Delete(ctx context.Context, gen Generation) error {
	if !gen.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidGeneration, gen)
	}
	return m.backend.DropPartition(ctx, gen)
}

// Sweep 删除除 keep 之外的全部分区，返回被删除的标签。这是整分区替换而非 LRU：
// 任一时刻只保留一个存活分区。
func (m *Manager) Sweep(ctx context.Context, keep Generation) ([]Generation, error) {
	gens, err := m.ListGenerations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	var deleted []Generation
	for _, gen := range gens {
		if gen == keep {
			continue
		}
		if err := m.backend.DropPartition(ctx, gen); err != nil {
			return deleted, fmt.Errorf("delete generation %s: %w", gen, err)
		}
		deleted = append(deleted, gen)
	}
	return deleted, nil
}

// Close 关闭底层 backend。
func (m *Manager) Close() error {
	return m.backend.Close()
}

func (m *Manager) match(ctx context.Context, gen Generation, method, rawURL string) (Snapshot, bool, error) {
	key, err := NormalizeKey(method, rawURL)
	if err != nil {
		if errors.Is(err, ErrNotCacheable) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	snap, err := m.backend.Get(ctx, gen, key)
	switch {
	case err == nil:
		return snap, true, nil
	case errors.Is(err, ErrNotFound):
		return Snapshot{}, false, nil
	default:
		return Snapshot{}, false, err
	}
}

// Partition 是某个分区的句柄。
type Partition struct {
	gen     Generation
	manager *Manager
}

// Generation 返回分区标签。
func (p *Partition) Generation() Generation {
	return p.gen
}

// Put 以请求身份为 key 覆盖写入快照。非 GET 或非 2xx 返回 ErrNotCacheable。
func (p *Partition) Put(ctx context.Context, method, rawURL string, snap Snapshot) error {
	if snap.Status < 200 || snap.Status > 299 {
		return fmt.Errorf("%w: status %d", ErrNotCacheable, snap.Status)
	}
	key, err := NormalizeKey(method, rawURL)
	if err != nil {
		return err
	}
	stored := cloneSnapshot(snap)
	stored.Header = HeaderSubset(snap.Header)
	if stored.StoredAt.IsZero() {
		stored.StoredAt = p.manager.now().UTC()
	}
	return p.manager.backend.Put(ctx, p.gen, key, stored)
}

// Match 在本分区查找，供安装流程核对预填充结果。
func (p *Partition) Match(ctx context.Context, method, rawURL string) (Snapshot, bool, error) {
	return p.manager.match(ctx, p.gen, method, rawURL)
}

// Keys 列出本分区的全部 key（已排序）。
func (p *Partition) Keys(ctx context.Context) ([]Key, error) {
	keys, err := p.manager.backend.Keys(ctx, p.gen)
	if err != nil {
		return nil, err
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}
