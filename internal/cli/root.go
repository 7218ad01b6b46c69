// Package cli implements the stripekit command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"stripekit/client"
	"stripekit/config"
	"stripekit/internal/logging"
	"stripekit/internal/tracking"
)

var (
	Version   = "dev"     // Overridden by ldflags
	Commit    = "unknown" // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

// 标注在不要求配置文件存在的命令上
const annotationConfigOptional = "config_optional"

// app 命令之间共享的全局状态，在 PersistentPreRunE 中初始化
type app struct {
	configPath string
	envFile    string
	debug      bool
	apiBase    string
	apiKey     string

	// configLoaded 为 false 表示配置文件不存在，使用默认配置
	configLoaded bool
	cfg          *config.Config
	logger       *slog.Logger
	closeLog     func() error
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "stripekit",
		Short: "Stripe API client with retries, idempotency keys and request logging",
		Long: `stripekit sends Stripe API requests through a retrying executor.

Every call is classified (transport, api, invalid_encoding, deserialize,
invalid_strategy), retried according to the configured policy, and can be
recorded in a SQLite or MySQL request log for later inspection.`,
		Version:            Version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nCommit: %s\nBuild time: %s\nGo version: %s\nPlatform: %s/%s\n",
		Commit, BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH))

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "config.yaml", "config file")
	flags.StringVar(&a.envFile, "env-file", "", "load environment variables from this file (default .env when present)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.StringVar(&a.apiBase, "api-base", "", "override api.base_url, e.g. a local mock server")
	flags.StringVar(&a.apiKey, "api-key", "", "override api.secret_key (default $STRIPE_SECRET_KEY)")

	rootCmd.AddCommand(
		newRequestCommand(a),
		newRefundsCommand(a),
		newLogsCommand(a),
		newProbeCommand(a),
		newMockCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		stop()
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.LoadConfig(a.configPath)
	switch {
	case err == nil:
		a.configLoaded = true
	case errors.Is(err, fs.ErrNotExist) && (!cmd.Flags().Changed("config") || cmd.Annotations[annotationConfigOptional] == "true"):
		cfg = config.Default()
	default:
		return err
	}

	a.applyOverrides(cfg)
	a.cfg = cfg

	logger, closeLog, err := logging.Setup(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.logger = logger
	a.closeLog = closeLog

	logger.Debug("⚙️ 配置已加载",
		"config_file", a.configPath,
		"from_file", a.configLoaded,
		"base_url", cfg.API.BaseURL,
		"api_key", config.MaskKey(cfg.API.SecretKey))
	return nil
}

// applyOverrides 命令行参数和环境变量优先于配置文件，热重载后需要重新应用
func (a *app) applyOverrides(cfg *config.Config) {
	if a.apiBase != "" {
		cfg.API.BaseURL = a.apiBase
	}
	switch {
	case a.apiKey != "":
		cfg.API.SecretKey = a.apiKey
	case cfg.API.SecretKey == "":
		cfg.API.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.closeLog == nil {
		return nil
	}
	return a.closeLog()
}

// openTracker 打开请求日志，未启用时返回不落库的 tracker
func (a *app) openTracker() (*tracking.Tracker, error) {
	tracker, err := tracking.NewTracker(a.cfg.RequestLog, a.cfg.Timezone, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open request log: %w", err)
	}
	return tracker, nil
}

// newClient 创建带请求日志的客户端，调用方负责关闭返回的 tracker
func (a *app) newClient(observers ...client.Observer) (*client.Client, *tracking.Tracker, error) {
	tracker, err := a.openTracker()
	if err != nil {
		return nil, nil, err
	}
	c, err := client.NewFromConfig(a.cfg, a.logger, append([]client.Observer{tracker}, observers...)...)
	if err != nil {
		tracker.Close()
		return nil, nil, err
	}
	return c, tracker, nil
}

func (a *app) closeTracker(tracker *tracking.Tracker) {
	if err := tracker.Close(); err != nil {
		a.logger.Error(fmt.Sprintf("❌ 请求日志关闭失败: %v", err))
	}
}

// goVersion returns the Go version used to build the binary
func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}
