package config

import (
	"os"
	"path/filepath"
	"testing"
)

// fixturePath 返回 testdata 下的配置样例，缺失时立即失败，避免误判为加载错误。
func fixturePath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("配置样例不存在: %v", err)
	}
	return path
}

// writeShellConfig 把配置写入临时目录下的 vidgrab-shell.toml，返回路径。
func writeShellConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vidgrab-shell.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// shellConfigTOML 生成只含必填项的外壳配置，gen 为缓存代名。
func shellConfigTOML(gen string) string {
	return `
StoragePath = "./data"
Generation = "` + gen + `"
Origin = "https://vidgrab.example"
Backend = "https://vidgrab-server.example"
`
}
