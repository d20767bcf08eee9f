package cache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const entrySuffix = ".entry"

// NewFileBackend 以 basePath 为根目录构建磁盘缓存，每个分区对应一个子目录。
func NewFileBackend(basePath string) (Backend, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 把每个条目写成一个文件：首行是 JSON 元数据，其后是正文。
// 单文件 + rename 保证同一 key 不会被读到半写入状态。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type entryMeta struct {
	Key Key `json:"key"`
	Snapshot
}

func (s *fileStore) CreatePartition(_ context.Context, gen Generation) error {
	dir, err := s.partitionDir(gen)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *fileStore) ListPartitions(ctx context.Context) ([]Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	var gens []Generation
	for _, entry := range entries {
		gen := Generation(entry.Name())
		if !entry.IsDir() || !gen.Valid() {
			continue
		}
		gens = append(gens, gen)
	}
	return gens, nil
}

func (s *fileStore) DropPartition(ctx context.Context, gen Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.partitionDir(gen)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *fileStore) Get(ctx context.Context, gen Generation, key Key) (Snapshot, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(gen, key)
	if err != nil {
		return Snapshot{}, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Snapshot{}, err
	}
	if info.IsDir() {
		return Snapshot{}, ErrNotFound
	}

	meta, body, err := decodeEntry(f)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode cache entry %s: %w", filePath, err)
	}
	if meta.Key != key {
		// sha1 冲突时不返回别人的条目。
		return Snapshot{}, ErrNotFound
	}
	snap := meta.Snapshot
	snap.Body = body
	return snap, nil
}

func (s *fileStore) Put(ctx context.Context, gen Generation, key Key, snap Snapshot) error {
	unlock := s.lockEntry(gen, key)
	defer unlock()

	filePath, err := s.entryPath(gen, key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrPartitionMissing, gen)
	}

	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	err = writeEntry(ctx, tempFile, entryMeta{Key: key, Snapshot: snap}, snap.Body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Keys(ctx context.Context, gen Generation) ([]Key, error) {
	dir, err := s.partitionDir(gen)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var keys []Key
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), entrySuffix) {
			continue
		}
		meta, err := readMeta(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, meta.Key)
	}
	return keys, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) lockEntry(gen Generation, key Key) func() {
	lockKey := string(gen) + "::" + string(key)
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) partitionDir(gen Generation) (string, error) {
	if !gen.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidGeneration, gen)
	}
	return filepath.Join(s.basePath, string(gen)), nil
}

func (s *fileStore) entryPath(gen Generation, key Key) (string, error) {
	dir, err := s.partitionDir(gen)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum([]byte(key))
	return filepath.Join(dir, hex.EncodeToString(sum[:])+entrySuffix), nil
}

func writeEntry(ctx context.Context, dst io.Writer, meta entryMeta, body []byte) error {
	header, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if _, err := dst.Write(append(header, '\n')); err != nil {
		return err
	}
	_, err = copyWithContext(ctx, dst, bytes.NewReader(body))
	return err
}

func decodeEntry(r io.Reader) (entryMeta, []byte, error) {
	reader := bufio.NewReader(r)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return entryMeta{}, nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(line, &meta); err != nil {
		return entryMeta{}, nil, err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return entryMeta{}, nil, err
	}
	return meta, body, nil
}

func readMeta(filePath string) (entryMeta, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return entryMeta{}, err
	}
	defer f.Close()
	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return entryMeta{}, err
	}
	var meta entryMeta
	err = json.Unmarshal(line, &meta)
	return meta, err
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
