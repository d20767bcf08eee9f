package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/vidgrab/vidgrab-shell/internal/backend"
	"github.com/vidgrab/vidgrab-shell/internal/cache"
	"github.com/vidgrab/vidgrab-shell/internal/config"
	"github.com/vidgrab/vidgrab-shell/internal/eventbus"
	"github.com/vidgrab/vidgrab-shell/internal/intercept"
	"github.com/vidgrab/vidgrab-shell/internal/lifecycle"
	"github.com/vidgrab/vidgrab-shell/internal/logging"
	"github.com/vidgrab/vidgrab-shell/internal/proxy"
	"github.com/vidgrab/vidgrab-shell/internal/server"
	"github.com/vidgrab/vidgrab-shell/internal/server/routes"
	"github.com/vidgrab/vidgrab-shell/internal/version"
)

// configEnv 是覆盖默认配置路径的环境变量。
const configEnv = "VIDGRAB_SHELL_CONFIG"

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		for k, v := range cfg.Summary() {
			fields[k] = v
		}
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	sh, err := buildShell(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化外壳失败: %v\n", err)
		return 1
	}
	defer sh.Close()

	// 首次安装失败不阻止启动：下一次页面加载会由 Registrar 重试。
	_, _ = sh.registrar.Register(context.Background(), cache.Generation(cfg.Shell.Generation))

	if err := config.Watch(opts.configPath, sh.onConfigChange); err != nil {
		logger.WithFields(logging.BaseFields("config_watch", opts.configPath)).
			WithError(err).Warn("config_watch_failed")
	}

	fields := logging.BaseFields("startup", opts.configPath)
	for k, v := range cfg.Summary() {
		fields[k] = v
	}
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := sh.listen(cfg.Global.ListenPort); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("vidgrab-shell", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnv)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// shell 持有一次运行所需的全部组件。
type shell struct {
	app        *fiber.App
	logger     *logrus.Logger
	manager    *cache.Manager
	controller *lifecycle.Controller
	registrar  *proxy.Registrar
	bus        *eventbus.Bus
	meter      *eventbus.Meter
}

// buildShell 按“缓存 → 上游客户端 → 控制器 → 事件总线 → Fiber”顺序装配组件，
// 所有请求共享同一个控制器与缓存管理器。
func buildShell(cfg *config.Config, logger *logrus.Logger) (*shell, error) {
	storage, err := cache.OpenBackend(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}
	manager, err := cache.NewManager(storage)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	httpClient := server.NewUpstreamClient(cfg)
	fetcher := intercept.NewHTTPFetcher(httpClient)
	classifier, err := intercept.NewClassifier(cfg.Shell.Origin, cfg.Shell.Backend, cfg.Shell.AllowedOrigins)
	if err != nil {
		_ = manager.Close()
		return nil, err
	}

	controller, err := lifecycle.NewController(lifecycle.Options{
		Cache:              manager,
		Fetcher:            fetcher,
		Classifier:         classifier,
		Logger:             logger,
		ShellAssets:        cfg.Shell.ShellAssets,
		InstallConcurrency: cfg.Shell.InstallConcurrency,
		AutoActivate:       cfg.Shell.AutoActivate,
	})
	if err != nil {
		_ = manager.Close()
		return nil, err
	}
	registrar := proxy.NewRegistrar(controller, cache.Generation(cfg.Shell.Generation),
		cfg.Global.UpstreamTimeout.DurationValue()*2, logger)

	bus := eventbus.New(cfg.Shell.ProgressChannel)
	meter := eventbus.NewMeter(cfg.Shell.ProgressSettleDelay.DurationValue())
	meter.Attach(bus)
	bus.Subscribe(func(signal eventbus.Signal) {
		logger.WithFields(logrus.Fields{
			"action":  "progress",
			"channel": bus.Channel(),
			"signal":  signal.String(),
		}).Debug("progress_signal")
	})

	backendClient, err := backend.NewHTTPClient(cfg.Shell.Backend, httpClient)
	if err != nil {
		_ = manager.Close()
		return nil, err
	}

	interceptor := proxy.NewHandler(controller, classifier, logger, registrar)
	passthrough := proxy.NewHandler(proxy.NewPassthrough(fetcher), classifier, logger, nil)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewForwarder(interceptor, passthrough, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = manager.Close()
		return nil, err
	}
	routes.RegisterLifecycleRoutes(app, controller)
	routes.RegisterCacheRoutes(app, manager)
	routes.RegisterProgressRoutes(app, bus, meter)
	routes.RegisterOperationRoutes(app, backend.NewTracked(backendClient, bus), logger)

	return &shell{
		app:        app,
		logger:     logger,
		manager:    manager,
		controller: controller,
		registrar:  registrar,
		bus:        bus,
		meter:      meter,
	}, nil
}

// onConfigChange 在配置中的 Generation 变化时安装新缓存代；新代进入 Waiting，
// 等待页面发出 SKIP_WAITING（或 AutoActivate）后接管。
func (s *shell) onConfigChange(next *config.Config, err error) {
	fields := logrus.Fields{"action": "config_reload"}
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("config_reload_failed")
		return
	}
	gen := cache.Generation(next.Shell.Generation)
	if gen == s.registrar.Generation() {
		return
	}
	fields["generation"] = gen
	s.logger.WithFields(fields).Info("generation_changed")
	_, _ = s.registrar.Register(context.Background(), gen)
}

func (s *shell) listen(port int) error {
	s.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")
	return s.app.Listen(fmt.Sprintf(":%d", port))
}

// Close 等待后台安装结束并释放缓存存储。
func (s *shell) Close() error {
	s.registrar.Wait()
	return s.manager.Close()
}
