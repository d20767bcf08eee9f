package proxy

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/vidgrab/vidgrab-shell/internal/intercept"
	"github.com/vidgrab/vidgrab-shell/internal/lifecycle"
	"github.com/vidgrab/vidgrab-shell/internal/logging"
	"github.com/vidgrab/vidgrab-shell/internal/server"
)

// 响应头：缓存结果与处理该请求的缓存代。
const (
	HeaderCache      = server.InternalHeaderPrefix + "Cache"
	HeaderGeneration = server.InternalHeaderPrefix + "Generation"
)

// Interceptor 是 Handler 所需的拦截能力，lifecycle.Controller 即实现。
type Interceptor interface {
	Intercept(ctx context.Context, req intercept.Request) (*intercept.Response, *lifecycle.Instance, error)
}

// Handler 把 Fiber 请求转换成 intercept.Request，交给当前 Active 实例处理，
// 再把结果原样写回页面。
type Handler struct {
	interceptor Interceptor
	classifier  *intercept.Classifier
	logger      *logrus.Logger
	registrar   *Registrar
}

// NewHandler constructs a proxy handler. registrar 可为 nil，此时不会在
// 无 Active 实例时补装。
func NewHandler(interceptor Interceptor, classifier *intercept.Classifier, logger *logrus.Logger, registrar *Registrar) *Handler {
	return &Handler{
		interceptor: interceptor,
		classifier:  classifier,
		logger:      logger,
		registrar:   registrar,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	target, err := h.classifier.Target(server.HostHeader(c), string(c.Request().RequestURI()))
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "proxy",
			"request_id": requestID,
		}).Warn("request_target_invalid")
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	req := h.classifier.Classify(c.Method(), target, fiberHeadersAsHTTP(c))
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp, inst, err := h.interceptor.Intercept(ctx, req)
	if inst == nil && h.registrar != nil && isNavigation(req) {
		h.registrar.Ensure()
	}
	if err != nil {
		h.logResult(req, "", nil, requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	return h.writeResponse(c, req, resp, inst, requestID, started)
}

func (h *Handler) writeResponse(
	c fiber.Ctx,
	req intercept.Request,
	resp *intercept.Response,
	inst *lifecycle.Instance,
	requestID string,
	started time.Time,
) error {
	body, err := resp.ReadAll()
	if err != nil {
		h.logResult(req, resp.Outcome, inst, requestID, resp.Status, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderCache, string(resp.Outcome))
	if inst != nil {
		c.Set(HeaderGeneration, string(inst.Generation()))
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)

	h.logResult(req, resp.Outcome, inst, requestID, resp.Status, started, nil)
	if req.Method == http.MethodHead {
		return nil
	}
	return c.Send(body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	req intercept.Request,
	outcome intercept.Outcome,
	inst *lifecycle.Instance,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	generation := ""
	if inst != nil {
		generation = string(inst.Generation())
	}
	fields := logging.RequestFields(
		req.Method,
		req.String(),
		string(req.Class),
		string(intercept.Decide(req)),
		generation,
		outcome == intercept.OutcomeHit || outcome == intercept.OutcomeOffline,
	)
	fields["action"] = "proxy"
	fields["outcome"] = string(outcome)
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// isNavigation 判断是否是一次页面加载：GET 且目标是应用源站的 HTML 入口。
func isNavigation(req intercept.Request) bool {
	if req.Method != http.MethodGet || !req.SameOrigin {
		return false
	}
	if req.URL != nil && req.URL.Path == "/" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
