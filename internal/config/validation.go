package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vidgrab/vidgrab-shell/internal/cache"
)

const supportedDriverList = "fs|sqlite|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("LogLevel", "无法识别的日志级别")
		}
	}
	if g.StoragePath == "" && g.StorageDriver != cache.DriverMemory {
		return newFieldError("StoragePath", "不能为空")
	}
	switch g.StorageDriver {
	case cache.DriverFS, cache.DriverSQLite, cache.DriverMemory:
	default:
		return newFieldError("StorageDriver", "仅支持 "+supportedDriverList)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}

	s := c.Shell
	if !cache.Generation(s.Generation).Valid() {
		return newFieldError("Generation", "只能包含字母、数字、点、下划线与连字符")
	}
	origin, err := validateUpstream(s.Origin)
	if err != nil {
		return fmt.Errorf("Origin: %w", err)
	}
	backend, err := validateUpstream(s.Backend)
	if err != nil {
		return fmt.Errorf("Backend: %w", err)
	}
	if strings.EqualFold(origin.Host, backend.Host) {
		return newFieldError("Backend", "不能与 Origin 指向同一主机")
	}
	for i, raw := range s.AllowedOrigins {
		if _, err := validateUpstream(raw); err != nil {
			return fmt.Errorf("%s: %w", listField("AllowedOrigins", i), err)
		}
	}
	for i, asset := range s.ShellAssets {
		if strings.TrimSpace(asset) == "" {
			return newFieldError(listField("ShellAssets", i), "不能为空")
		}
	}
	if s.InstallConcurrency <= 0 {
		return newFieldError("InstallConcurrency", "必须大于 0")
	}
	if s.ProgressSettleDelay.DurationValue() < 0 {
		return newFieldError("ProgressSettleDelay", "不能为负数")
	}

	return nil
}

func validateUpstream(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return parsed, nil
}
