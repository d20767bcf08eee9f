package cache

import (
	"fmt"
	"path/filepath"
	"strings"
)

// 支持的存储驱动。
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// OpenBackend 按驱动名构建 backend，storagePath 对 memory 驱动无意义。
func OpenBackend(driver, storagePath string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFS:
		return NewFileBackend(storagePath)
	case DriverSQLite:
		return NewSQLiteBackend(filepath.Join(storagePath, SQLiteFileName))
	case DriverMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
