package cache

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"
)

// Generation 是一个缓存分区的版本标签，例如 vidgrab-v1。
type Generation string

var generationPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Valid 判断标签能否作为分区名（同时会被用作目录名）。
func (g Generation) Valid() bool {
	return generationPattern.MatchString(string(g))
}

// Snapshot 是一份已存储的响应快照：状态码、头部子集、正文以及写入时间。
type Snapshot struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"stored_at"`
}

// Backend 负责分区的物理存储。实现需保证单 key 的 Put/Get 原子（不会读到半写入），
// 但不提供跨 key 事务。
type Backend interface {
	// CreatePartition 幂等地创建分区。
	CreatePartition(ctx context.Context, gen Generation) error
	// ListPartitions 返回全部已存在的分区。
	ListPartitions(ctx context.Context) ([]Generation, error)
	// DropPartition 删除分区及其全部条目；分区不存在时不报错。
	DropPartition(ctx context.Context, gen Generation) error
	// Get 读取条目，不存在时返回 ErrNotFound。
	Get(ctx context.Context, gen Generation, key Key) (Snapshot, error)
	// Put 覆盖写入条目；分区不存在时返回 ErrPartitionMissing。
	Put(ctx context.Context, gen Generation, key Key, snap Snapshot) error
	// Keys 列出分区内的全部 key。
	Keys(ctx context.Context, gen Generation) ([]Key, error)
	// Close 释放底层资源。
	Close() error
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidGeneration 表示分区标签格式非法。
	ErrInvalidGeneration = errors.New("invalid cache generation")
	// ErrPartitionMissing 表示写入的目标分区已被删除或从未打开。
	ErrPartitionMissing = errors.New("cache partition missing")
	// ErrNotCacheable 表示请求或响应不满足写入条件（非 GET 或非 2xx）。
	ErrNotCacheable = errors.New("response not cacheable")
)

// storedHeaders 是快照中保留的头部子集，hop-by-hop 字段永不落盘。
var storedHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Encoding",
	"Cache-Control",
	"Etag",
	"Last-Modified",
	"Vary",
}

// HeaderSubset 从完整响应头中挑出需要存储的字段。
func HeaderSubset(src http.Header) http.Header {
	dst := http.Header{}
	for _, key := range storedHeaders {
		if values := src.Values(key); len(values) > 0 {
			dst[key] = append([]string(nil), values...)
		}
	}
	return dst
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Header = s.Header.Clone()
	if s.Body != nil {
		out.Body = append([]byte(nil), s.Body...)
	}
	return out
}
