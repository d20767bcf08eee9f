package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/vidgrab/vidgrab-shell/internal/cache"
	"github.com/vidgrab/vidgrab-shell/internal/intercept"
	"github.com/vidgrab/vidgrab-shell/internal/lifecycle"
	"github.com/vidgrab/vidgrab-shell/internal/server"
)

type upstreamStub struct {
	*httptest.Server
	mu    sync.Mutex
	calls map[string]int
}

func newUpstreamStub(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{calls: map[string]int{}}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.calls[r.Method+" "+r.URL.Path]++
		stub.mu.Unlock()
		respond(w, r)
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (s *upstreamStub) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func shellOrigin(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>vidgrab</html>"))
	case "/manifest.json":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"VidGrab"}`))
	case "/app.js":
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte("console.log('vidgrab')"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// backendHost 是后端在测试中的主机名；app.Test 会丢掉 Host 中的端口，
// 所以后端必须用与源站不同的主机名区分，再由 Transport 拨号到桩服务。
const backendHost = "vidgrab-server.test"

// stubTransport 把 backendHost 的连接改拨到后端桩服务，其余地址照常拨号。
func stubTransport(backend *upstreamStub) *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if addr == backendHost+":80" {
				addr = backend.Listener.Addr().String()
			}
			return dialer.DialContext(ctx, network, addr)
		},
	}
}

type fixture struct {
	app        *fiber.App
	controller *lifecycle.Controller
	registrar  *Registrar
	origin     *upstreamStub
	backend    *upstreamStub
}

func newFixture(t *testing.T, backend func(w http.ResponseWriter, r *http.Request), register bool) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	origin := newUpstreamStub(t, shellOrigin)
	backendStub := newUpstreamStub(t, backend)

	manager, err := cache.NewManager(cache.NewMemoryBackend())
	if err != nil {
		t.Fatalf("cache manager: %v", err)
	}
	classifier, err := intercept.NewClassifier(origin.URL, "http://"+backendHost, nil)
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	transport := stubTransport(backendStub)
	t.Cleanup(transport.CloseIdleConnections)
	fetcher := intercept.NewHTTPFetcher(&http.Client{Transport: transport})
	controller, err := lifecycle.NewController(lifecycle.Options{
		Cache:       manager,
		Fetcher:     fetcher,
		Classifier:  classifier,
		Logger:      logger,
		ShellAssets: []string{"/", "/manifest.json"},
	})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}

	registrar := NewRegistrar(controller, "vidgrab-v1", 0, logger)
	if register {
		if _, err := registrar.Register(context.Background(), "vidgrab-v1"); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	handler := NewHandler(controller, classifier, logger, registrar)
	passthrough := NewHandler(NewPassthrough(fetcher), classifier, logger, nil)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      NewForwarder(handler, passthrough, logger),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}

	return &fixture{app: app, controller: controller, registrar: registrar, origin: origin, backend: backendStub}
}

func (f *fixture) get(t *testing.T, host, path string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://"+host+path, nil)
	req.Host = host
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHandlerServesShellFromCacheAfterInstall(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {}, true)
	if f.origin.count("GET /") != 1 {
		t.Fatalf("install should fetch the shell once, got %d", f.origin.count("GET /"))
	}

	resp, body := f.get(t, "shell.local", "/")
	if resp.StatusCode != http.StatusOK || body != "<html>vidgrab</html>" {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get(HeaderCache); got != string(intercept.OutcomeHit) {
		t.Fatalf("expected cache hit, got %s", got)
	}
	if got := resp.Header.Get(HeaderGeneration); got != "vidgrab-v1" {
		t.Fatalf("expected generation header vidgrab-v1, got %s", got)
	}
	if f.origin.count("GET /") != 1 {
		t.Fatalf("cache hit must not touch the network")
	}
}

func TestHandlerCachesOnMissAndServesOffline(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {}, true)

	resp, body := f.get(t, "shell.local", "/app.js")
	if resp.Header.Get(HeaderCache) != string(intercept.OutcomeMiss) {
		t.Fatalf("first request should miss, got %s", resp.Header.Get(HeaderCache))
	}
	if body != "console.log('vidgrab')" {
		t.Fatalf("unexpected body %s", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/javascript" {
		t.Fatalf("content type should be forwarded, got %s", ct)
	}

	f.origin.Close()

	resp, body = f.get(t, "shell.local", "/app.js")
	if resp.StatusCode != http.StatusOK || body != "console.log('vidgrab')" {
		t.Fatalf("offline request should be served from cache, got %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get(HeaderCache) != string(intercept.OutcomeHit) {
		t.Fatalf("offline request should hit, got %s", resp.Header.Get(HeaderCache))
	}
}

func TestHandlerDoesNotCacheNotFound(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {}, true)

	for i := 0; i < 2; i++ {
		resp, _ := f.get(t, "shell.local", "/missing.css")
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", resp.StatusCode)
		}
	}
	if f.origin.count("GET /missing.css") != 2 {
		t.Fatalf("404 must not be cached, got %d upstream calls", f.origin.count("GET /missing.css"))
	}
}

func TestHandlerBackendFallsBackTo503(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Sample"}`))
	}, true)

	resp, body := f.get(t, backendHost, "/info")
	if resp.StatusCode != http.StatusOK || resp.Header.Get(HeaderCache) != string(intercept.OutcomeNetwork) {
		t.Fatalf("backend should be reached over the network, got %d %s", resp.StatusCode, resp.Header.Get(HeaderCache))
	}
	if body != `{"title":"Sample"}` {
		t.Fatalf("unexpected backend body %s", body)
	}

	f.backend.Close()

	resp, body = f.get(t, backendHost, "/info")
	if resp.StatusCode != http.StatusServiceUnavailable || body != "Network error" {
		t.Fatalf("expected synthesized 503, got %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get(HeaderCache) != string(intercept.OutcomeFallback) {
		t.Fatalf("expected fallback outcome, got %s", resp.Header.Get(HeaderCache))
	}
}

func TestHandlerForwardsPostBody(t *testing.T) {
	var got string
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got = string(data)
		w.WriteHeader(http.StatusAccepted)
	}, true)

	req := httptest.NewRequest(http.MethodPost, "http://"+backendHost+"/info", strings.NewReader(`{"url":"x"}`))
	req.Host = backendHost
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if resp.Header.Get(HeaderCache) != string(intercept.OutcomeBypass) {
		t.Fatalf("POST should bypass, got %s", resp.Header.Get(HeaderCache))
	}
	if got != `{"url":"x"}` {
		t.Fatalf("request body should be forwarded, got %s", got)
	}
}

func TestHandlerInstallsOnNavigationWhenInactive(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {}, false)

	resp, body := f.get(t, "shell.local", "/")
	if resp.Header.Get(HeaderCache) != string(intercept.OutcomeBypass) {
		t.Fatalf("without an active instance requests pass through, got %s", resp.Header.Get(HeaderCache))
	}
	if body != "<html>vidgrab</html>" {
		t.Fatalf("unexpected body %s", body)
	}

	f.registrar.Wait()
	active := f.controller.Active()
	if active == nil || active.Generation() != "vidgrab-v1" {
		t.Fatalf("navigation should install the shell in the background")
	}

	resp, _ = f.get(t, "shell.local", "/manifest.json")
	if resp.Header.Get(HeaderCache) != string(intercept.OutcomeHit) {
		t.Fatalf("manifest should be served from the new partition, got %s", resp.Header.Get(HeaderCache))
	}
}

func TestHandlerRejectsUpstreamFailureWithoutCache(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {}, true)
	f.origin.Close()

	resp, body := f.get(t, "shell.local", "/never-seen.js")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "upstream_failed") {
		t.Fatalf("expected upstream_failed body, got %s", body)
	}
}

func TestHandlerKeepsMultiValuedHeaders(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		w.Header().Add("Link", "</app.js>; rel=preload")
		w.Header().Add("Link", "</app.css>; rel=preload")
		w.Header().Add("Vary", "Accept")
		w.Header().Add("Vary", "Origin")
		_, _ = w.Write([]byte("{}"))
	}, true)

	resp, _ := f.get(t, backendHost, "/info")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Values("Link"); len(got) != 2 {
		t.Fatalf("both Link values should pass through, got %v", got)
	}
	if got := resp.Header.Values("Vary"); len(got) != 2 {
		t.Fatalf("both Vary values should pass through, got %v", got)
	}
	if got := resp.Header.Values("Set-Cookie"); len(got) != 2 {
		t.Fatalf("both cookies should pass through, got %v", got)
	}
}
