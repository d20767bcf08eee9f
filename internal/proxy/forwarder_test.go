package proxy

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/vidgrab/vidgrab-shell/internal/server"
)

const requestIDKey = "_vidgrab_request_id"

func TestForwarderMissingHandler(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "missing-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, nil, logger)

	if err := forwarder.Handle(ctx); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for missing handler, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "interceptor_missing") {
		t.Fatalf("expected error body to mention interceptor_missing, got %s", body)
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "missing-req" {
		t.Fatalf("expected request id header missing-req, got %s", got)
	}
	if !strings.Contains(logBuf.String(), "missing-req") {
		t.Fatalf("expected log to include request id, got %s", logBuf.String())
	}
}

func TestForwarderPanicFallsBackToPassthrough(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "panic-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	primary := server.ProxyHandlerFunc(func(c fiber.Ctx) error {
		c.Set("X-Partial", "1")
		panic("boom")
	})
	fallbackCalls := 0
	fallback := server.ProxyHandlerFunc(func(c fiber.Ctx) error {
		fallbackCalls++
		return c.Status(fiber.StatusOK).SendString("passthrough")
	})

	forwarder := NewForwarder(primary, fallback, logger)
	if err := forwarder.Handle(ctx); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if fallbackCalls != 1 {
		t.Fatalf("expected fallback to run once, got %d", fallbackCalls)
	}
	if body := string(ctx.Response().Body()); body != "passthrough" {
		t.Fatalf("expected passthrough body, got %s", body)
	}
	if got := string(ctx.Response().Header.Peek("X-Partial")); got != "" {
		t.Fatalf("partial response headers should be discarded, got %s", got)
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "panic-req" {
		t.Fatalf("expected request id header panic-req, got %s", got)
	}
	if !strings.Contains(logBuf.String(), "interceptor_panic") {
		t.Fatalf("expected log to mention interceptor_panic, got %s", logBuf.String())
	}
}

func TestForwarderPanicWithoutFallback(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	forwarder := NewForwarder(server.ProxyHandlerFunc(func(fiber.Ctx) error {
		panic("boom")
	}), nil, logger)

	if err := forwarder.Handle(ctx); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for handler panic, got %d", status)
	}
}
