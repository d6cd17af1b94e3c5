package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/build-hub/build-hub/internal/build"
	"github.com/build-hub/build-hub/internal/bundle"
	"github.com/build-hub/build-hub/internal/bundletype"
	"github.com/build-hub/build-hub/internal/cache"
	"github.com/build-hub/build-hub/internal/compiler"
	"github.com/build-hub/build-hub/internal/config"
	"github.com/build-hub/build-hub/internal/installation"
	"github.com/build-hub/build-hub/internal/installer"
	"github.com/build-hub/build-hub/internal/logging"
	"github.com/build-hub/build-hub/internal/metrics"
	"github.com/build-hub/build-hub/internal/registry"
	"github.com/build-hub/build-hub/internal/server"
	"github.com/build-hub/build-hub/internal/server/routes"
	"github.com/build-hub/build-hub/internal/sweeper"
	"github.com/build-hub/build-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

// cli 是 kong 解析的命令行结构。
type cli struct {
	Config      string `name:"config" short:"c" env:"BUILD_HUB_CONFIG" default:"config.toml" help:"配置文件路径（可被 BUILD_HUB_CONFIG 覆盖）"`
	CheckConfig bool   `name:"check-config" help:"仅校验配置后退出"`
	Version     bool   `name:"version" help:"显示版本信息"`
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 10 * time.Second

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
		fields["compilers"] = cfg.CompilerModes(bundletype.Keys())
		fields["github_auth"] = cfg.Global.AuthMode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["registry"] = cfg.Global.RegistryURL
	fields["github_auth"] = cfg.Global.AuthMode()
	fields["compilers"] = cfg.CompilerModes(bundletype.Keys())
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.serve(ctx, opts.configPath); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，配置路径优先级为 flag > BUILD_HUB_CONFIG > 默认值。
func parseCLIFlags(args []string) (cliOptions, error) {
	var parsed cli
	parser, err := kong.New(&parsed,
		kong.Name("build-hub"),
		kong.Description("按需安装并编译前端模块集合的 bundle 服务"),
		kong.Writers(io.Discard, io.Discard),
		kong.Exit(func(int) {}),
	)
	if err != nil {
		return cliOptions{}, fmt.Errorf("初始化参数解析失败: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	return cliOptions{
		configPath:  parsed.Config,
		checkOnly:   parsed.CheckConfig,
		showVersion: parsed.Version,
	}, nil
}

// service 持有进程内唯一的缓存与处理链。
type service struct {
	cfg       *config.Config
	logger    *logrus.Logger
	metrics   *metrics.Recorder
	registry  *registry.Client
	manager   *installation.Manager
	bundler   *bundle.Bundler
	handler   *build.Handler
	scheduler *sweeper.Sweeper
}

// newService 按“配置 → 注册表 → 安装缓存 → 编译器 → bundle 缓存 → 构建协议”顺序装配，
// 保证所有请求共享同一套缓存实例。
func newService(cfg *config.Config, logger *logrus.Logger) (*service, error) {
	g := cfg.Global
	recorder := metrics.NewRecorder(nil)

	registryClient := registry.NewClient(g.RegistryURL, server.NewUpstreamClient(cfg), g.RegistryCacheTTL.DurationValue())
	git := installer.NewGit(installer.GitOptions{
		Registry:  registryClient,
		GitHubURL: g.GitHubURL,
		Username:  g.GitHubUsername,
		Password:  g.GitHubPassword,
		Depth:     g.CloneDepth,
		Logger:    logger,
	})

	manager, err := installation.NewManager(installation.ManagerOptions{
		BaseDir:        g.InstallationPath(),
		Installer:      git,
		Policy:         cache.NewTTLPolicy(g.InstallationTTL.DurationValue(), g.InstallationTTLExact.DurationValue()),
		InstallTimeout: g.InstallTimeout.DurationValue(),
		Logger:         logger,
		Metrics:        recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化安装目录失败: %w", err)
	}

	comp, err := newCompiler(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(g.BundlePath())
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	bundler, err := bundle.NewBundler(bundle.Config{
		Installations:   manager,
		Compiler:        comp,
		Store:           store,
		Policy:          cache.NewTTLPolicy(g.BundleTTL.DurationValue(), g.BundleTTLExact.DurationValue()),
		CompileTimeout:  g.CompileTimeout.DurationValue(),
		EndpointVersion: "v2",
		Logger:          logger,
		Metrics:         recorder,
	})
	if err != nil {
		return nil, err
	}

	handler, err := build.NewHandler(build.Options{
		Bundles:          bundler,
		Logger:           logger,
		Metrics:          recorder,
		Timeout:          g.BuildTimeout.DurationValue(),
		MaxBuildDuration: g.MaxBuildDuration.DurationValue(),
		DefaultExport:    g.DefaultExport,
	})
	if err != nil {
		return nil, err
	}

	scheduler, err := sweeper.New(logger, g.EvictionInterval.DurationValue())
	if err != nil {
		return nil, err
	}
	if err := scheduler.ScheduleEviction(g.EvictionInterval.DurationValue(), manager, bundler); err != nil {
		return nil, err
	}
	if err := sweeper.ScheduleRefresh[registry.Package](scheduler, g.RegistryCacheTTL.DurationValue(), registryClient); err != nil {
		return nil, err
	}

	return &service{
		cfg:       cfg,
		logger:    logger,
		metrics:   recorder,
		registry:  registryClient,
		manager:   manager,
		bundler:   bundler,
		handler:   handler,
		scheduler: scheduler,
	}, nil
}

// newCompiler 为每个已注册的 bundle 类型选择编译后端：配置了命令的类型使用 Shell，其余使用 Concat。
func newCompiler(cfg *config.Config, logger *logrus.Logger) (*compiler.Router, error) {
	router := compiler.NewRouter(compiler.Concat{})
	for _, key := range bundletype.Keys() {
		rt := cfg.CompilerFor(key)
		if rt.Mode != config.CompilerShell {
			continue
		}
		shell, err := compiler.NewShell(rt.Command, logger)
		if err != nil {
			return nil, fmt.Errorf("编译命令无效 (%s): %w", key, err)
		}
		router.Handle(key, shell)
	}
	return router, nil
}

// serve 启动后台任务与 Fiber 服务，ctx 结束时优雅退出。
func (s *service) serve(ctx context.Context, configPath string) error {
	port := s.cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     s.logger,
		Bundles:    s.handler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterLegacyRoutes(app)
	routes.RegisterDiagnosticRoutes(app, routes.Diagnostics{
		Installations: s.manager,
		Bundles:       s.bundler,
		Registry:      s.registry,
		Metrics:       s.metrics.Handler(),
		Logger:        s.logger,
	})

	s.scheduler.Start()
	defer func() {
		if err := s.scheduler.Stop(); err != nil {
			s.logger.WithError(err).Warn("sweeper_stop_failed")
		}
	}()

	if watcher, err := config.NewWatcher(configPath, s.logger, s.applyReload); err != nil {
		s.logger.WithFields(logging.BaseFields("config_watch", configPath)).WithError(err).Warn("配置热加载不可用")
	} else {
		go watcher.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.WithField("action", "shutdown").Info("收到退出信号，正在关闭服务")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// applyReload 只热更新日志级别；其余配置需要重启生效。
func (s *service) applyReload(cfg *config.Config) {
	fields := logging.BaseFields("config_reload", "")
	if err := logging.ApplyLevel(s.logger, cfg.Global.LogLevel); err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("日志级别无效，保持原值")
		return
	}
	fields["log_level"] = cfg.Global.LogLevel
	s.logger.WithFields(fields).Info("日志级别已更新")
}
