package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求分类、策略、缓存代与命中状态字段，供拦截日志复用。
func RequestFields(method, url, class, strategy, generation string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"method":     method,
		"url":        url,
		"class":      class,
		"strategy":   strategy,
		"generation": generation,
		"cache_hit":  cacheHit,
	}
}

// ShellFields 描述外壳启动参数：缓存代、源站与后端。
func ShellFields(generation, origin, backend string) logrus.Fields {
	return logrus.Fields{
		"generation": generation,
		"origin":     origin,
		"backend":    backend,
	}
}
