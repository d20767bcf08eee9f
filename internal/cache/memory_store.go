package cache

import (
	"context"
	"fmt"
	"sync"
)

// NewMemoryBackend 返回进程内的分区存储，进程退出即丢失。
func NewMemoryBackend() Backend {
	return &memoryStore{partitions: make(map[Generation]map[Key]Snapshot)}
}

type memoryStore struct {
	mu         sync.RWMutex
	partitions map[Generation]map[Key]Snapshot
}

func (s *memoryStore) CreatePartition(_ context.Context, gen Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[gen]; !ok {
		s.partitions[gen] = make(map[Key]Snapshot)
	}
	return nil
}

func (s *memoryStore) ListPartitions(_ context.Context) ([]Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gens := make([]Generation, 0, len(s.partitions))
	for gen := range s.partitions {
		gens = append(gens, gen)
	}
	return gens, nil
}

func (s *memoryStore) DropPartition(_ context.Context, gen Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, gen)
	return nil
}

func (s *memoryStore) Get(_ context.Context, gen Generation, key Key) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.partitions[gen][key]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

func (s *memoryStore) Put(_ context.Context, gen Generation, key Key, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	partition, ok := s.partitions[gen]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPartitionMissing, gen)
	}
	partition[key] = cloneSnapshot(snap)
	return nil
}

func (s *memoryStore) Keys(_ context.Context, gen Generation) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partition := s.partitions[gen]
	keys := make([]Key, 0, len(partition))
	for key := range partition {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *memoryStore) Close() error {
	return nil
}
