package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/vidgrab/vidgrab-shell/internal/server"
)

// Forwarder 调用拦截处理器；处理器 panic 时丢弃已写入的响应，
// 改由 fallback 原样透传请求。
type Forwarder struct {
	primary  server.ProxyHandler
	fallback server.ProxyHandler
	logger   *logrus.Logger
}

// NewForwarder 创建 Forwarder，fallback 为 nil 时 panic 会被渲染为 500。
func NewForwarder(primary, fallback server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx) error {
	requestID := server.RequestID(c)
	if f.primary == nil {
		return f.respondMissingHandler(c, requestID)
	}
	return f.invokeHandler(c, requestID)
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, requestID string) error {
	f.logError(c, "interceptor_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "interceptor_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, r, requestID)
		}
	}()
	return f.primary.Handle(c)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, recovered interface{}, requestID string) error {
	f.logError(c, "interceptor_panic", fmt.Errorf("panic: %v", recovered), requestID)
	c.Response().Reset()
	setRequestIDHeader(c, requestID)
	if f.fallback != nil {
		return f.fallback.Handle(c)
	}
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "interceptor_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logError(c fiber.Ctx, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action": "proxy",
		"error":  code,
		"method": c.Method(),
		"path":   string(c.Request().URI().Path()),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("interceptor unavailable")
}
