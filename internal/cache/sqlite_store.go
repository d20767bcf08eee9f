package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS generations (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	generation TEXT NOT NULL,
	key        TEXT NOT NULL,
	status     INTEGER NOT NULL,
	header     TEXT NOT NULL,
	body       BLOB NOT NULL,
	stored_at  INTEGER NOT NULL,
	PRIMARY KEY (generation, key)
);`

// SQLiteFileName 是 sqlite 驱动在 StoragePath 下使用的数据库文件名。
const SQLiteFileName = "shell-cache.db"

// NewSQLiteBackend 打开（或创建）单文件 sqlite 缓存；path 为 ":memory:" 时使用内存库。
func NewSQLiteBackend(path string) (Backend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}

	dsn := path
	if path != ":memory:" {
		cleanPath := filepath.Clean(path)
		if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// 单连接：内存库每个连接都是独立数据库，文件库也避免写锁竞争。
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

type sqliteStore struct {
	db *sql.DB
}

func (s *sqliteStore) CreatePartition(ctx context.Context, gen Generation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		string(gen), time.Now().UTC().UnixMilli())
	return err
}

func (s *sqliteStore) ListPartitions(ctx context.Context) ([]Generation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM generations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gens []Generation
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		gens = append(gens, Generation(name))
	}
	return gens, rows.Err()
}

func (s *sqliteStore) DropPartition(ctx context.Context, gen Generation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE generation = ?`, string(gen)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE name = ?`, string(gen)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Get(ctx context.Context, gen Generation, key Key) (Snapshot, error) {
	var (
		snap     Snapshot
		header   string
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM entries WHERE generation = ? AND key = ?`,
		string(gen), string(key)).Scan(&snap.Status, &header, &snap.Body, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(header), &snap.Header); err != nil {
		return Snapshot{}, fmt.Errorf("decode cached header: %w", err)
	}
	snap.StoredAt = time.UnixMilli(storedAt).UTC()
	return snap, nil
}

func (s *sqliteStore) Put(ctx context.Context, gen Generation, key Key, snap Snapshot) error {
	header, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	body := snap.Body
	if body == nil {
		body = []byte{}
	}
	result, err := s.db.ExecContext(ctx, `
INSERT INTO entries (generation, key, status, header, body, stored_at)
SELECT ?, ?, ?, ?, ?, ?
WHERE EXISTS (SELECT 1 FROM generations WHERE name = ?)
ON CONFLICT(generation, key) DO UPDATE SET
	status = excluded.status,
	header = excluded.header,
	body = excluded.body,
	stored_at = excluded.stored_at`,
		string(gen), string(key), snap.Status, string(header), body, snap.StoredAt.UTC().UnixMilli(), string(gen))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrPartitionMissing, gen)
	}
	return nil
}

func (s *sqliteStore) Keys(ctx context.Context, gen Generation) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM entries WHERE generation = ?`, string(gen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, Key(key))
	}
	return keys, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
