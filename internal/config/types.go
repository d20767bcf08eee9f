package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"300ms" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听、日志与存储。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// ShellConfig 描述离线外壳：缓存代号、源站、后端以及安装与进度行为。
type ShellConfig struct {
	Generation          string   `mapstructure:"Generation"`
	Origin              string   `mapstructure:"Origin"`
	Backend             string   `mapstructure:"Backend"`
	ShellAssets         []string `mapstructure:"ShellAssets"`
	AllowedOrigins      []string `mapstructure:"AllowedOrigins"`
	InstallConcurrency  int      `mapstructure:"InstallConcurrency"`
	AutoActivate        bool     `mapstructure:"AutoActivate"`
	ProgressChannel     string   `mapstructure:"ProgressChannel"`
	ProgressSettleDelay Duration `mapstructure:"ProgressSettleDelay"`
}

// Config 是 TOML 文件映射的整体结构，两组字段都位于顶层。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Shell  ShellConfig  `mapstructure:",squash"`
}

// Summary 输出便于启动日志记录的关键字段。
func (c *Config) Summary() map[string]interface{} {
	return map[string]interface{}{
		"generation":      c.Shell.Generation,
		"origin":          c.Shell.Origin,
		"backend":         c.Shell.Backend,
		"storage_driver":  c.Global.StorageDriver,
		"shell_assets":    len(c.Shell.ShellAssets),
		"allowed_origins": len(c.Shell.AllowedOrigins),
		"auto_activate":   c.Shell.AutoActivate,
	}
}
