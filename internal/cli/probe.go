package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"stripekit/config"
	"stripekit/internal/events"
	"stripekit/internal/health"
	"stripekit/internal/metrics"
	"stripekit/internal/monitor"
	"stripekit/internal/utils"
	"stripekit/internal/web"
)

// 这些分区在运行中变更需要重启才能生效
var restartSections = []string{"transport", "logging", "request_log", "metrics", "timezone"}

type probeOptions struct {
	once           bool
	interval       time.Duration
	listen         string
	reportInterval time.Duration
}

func newProbeCommand(a *app) *cobra.Command {
	var opts probeOptions
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check API health periodically and serve status, metrics and live events",
		Long: `probe sends a GET to probe.path (default /v1/balance) every probe.interval.

When metrics.enabled is set, or --listen is given, it also serves:
  /health                   200 or 503 from the latest probe
  /metrics                  Prometheus metrics
  /api/v1/stats             in-process call statistics
  /api/v1/requests          the persistent request log
  /api/v1/requests/summary  aggregate counts
  /api/v1/stream            server-sent events for calls and health changes

The configuration file is watched; api, retry and probe changes apply without
a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.interval > 0 {
				a.cfg.Probe.Interval = opts.interval
			}
			if opts.once {
				return a.probeOnce(cmd)
			}
			return a.runProbe(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.once, "once", false, "probe once, print the result and exit non-zero when unhealthy")
	flags.DurationVar(&opts.interval, "interval", 0, "override probe.interval")
	flags.StringVar(&opts.listen, "listen", "", "serve the status API on this address (default metrics.listen when metrics.enabled)")
	flags.DurationVar(&opts.reportInterval, "report-interval", time.Minute, "how often to log call statistics, 0 disables")
	return cmd
}

func (a *app) probeOnce(cmd *cobra.Command) error {
	c, tracker, err := a.newClient()
	if err != nil {
		return err
	}
	defer a.closeTracker(tracker)

	s := health.NewChecker(c, a.cfg.Probe, a.logger, nil).Check(cmd.Context())
	out := cmd.OutOrStdout()
	if !s.Healthy {
		fmt.Fprintf(out, "❌ unhealthy %s status=%d time=%s\n", a.cfg.Probe.Path, s.HTTPStatus, utils.FormatResponseTime(s.ResponseTime))
		return fmt.Errorf("probe failed: %s", s.LastError)
	}
	fmt.Fprintf(out, "✅ healthy %s status=%d time=%s request_id=%s\n",
		a.cfg.Probe.Path, s.HTTPStatus, utils.FormatResponseTime(s.ResponseTime), s.RequestID)
	return nil
}

func (a *app) runProbe(ctx context.Context, opts probeOptions) error {
	logger := a.logger

	bus := events.NewBus(logger)
	bus.Start()
	defer bus.Stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	stats := monitor.NewMetrics()

	c, tracker, err := a.newClient(stats, metrics.NewCollector(registry), bus)
	if err != nil {
		return err
	}
	defer a.closeTracker(tracker)

	checker := health.NewChecker(c, a.cfg.Probe, logger, bus)

	if a.configLoaded {
		watcher, err := config.NewConfigWatcher(a.configPath, logger)
		if err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		defer watcher.Close()

		current := a.cfg
		watcher.AddReloadCallback(func(newCfg *config.Config) {
			a.applyOverrides(newCfg)
			if opts.interval > 0 {
				newCfg.Probe.Interval = opts.interval
			}
			changed := config.ChangedSections(current, newCfg)
			current = newCfg

			c.Apply(newCfg)
			checker.UpdateConfig(newCfg.Probe)

			var pending []string
			for _, section := range changed {
				if slices.Contains(restartSections, section) {
					pending = append(pending, section)
				}
			}
			if len(pending) > 0 {
				logger.Warn("⚠️ 部分配置变更需要重启生效", "sections", strings.Join(pending, ","))
			}
			bus.Publish(events.Event{
				Type:     events.EventConfigChanged,
				Source:   "config",
				Priority: events.PriorityHigh,
				Data:     map[string]any{"sections": changed, "restart_required": pending},
			})
			logger.Info("🔄 所有组件已更新为新配置")
		})
		logger.Info("🔄 配置文件自动重载已启用", "config_file", a.configPath)
	}

	listen := opts.listen
	if listen == "" && a.cfg.Metrics.Enabled {
		listen = a.cfg.Metrics.Listen
	}
	if listen != "" {
		server := web.NewWebServer(web.Options{
			Addr:        listen,
			MetricsPath: a.cfg.Metrics.Path,
			Version:     Version,
			Client:      c,
			Monitor:     stats,
			Tracker:     tracker,
			Checker:     checker,
			Bus:         bus,
			Gatherer:    registry,
			Logger:      logger,
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Stop(shutdownCtx)
		}()
	}

	logger.Info("🚀 健康探测启动",
		"version", Version,
		"base_url", c.BaseURL(),
		"path", a.cfg.Probe.Path,
		"interval", a.cfg.Probe.Interval,
		"policy", c.DefaultPolicy().String())

	checker.Start()
	defer checker.Stop()

	var report <-chan time.Time
	if opts.reportInterval > 0 {
		ticker := time.NewTicker(opts.reportInterval)
		defer ticker.Stop()
		report = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 收到退出信号，正在关闭...")
			logStats(a, stats.Snapshot(), checker.GetStatus())
			return nil
		case <-report:
			logStats(a, stats.Snapshot(), checker.GetStatus())
		}
	}
}

func logStats(a *app, s monitor.Snapshot, h health.Status) {
	a.logger.Info(fmt.Sprintf("📊 [调用统计] 总调用: %d, 成功率: %.1f%%, 平均响应: %s, P95: %s, 重试调用: %d",
		s.TotalCalls, s.SuccessRate,
		utils.FormatResponseTime(s.AvgResponseTime),
		utils.FormatResponseTime(s.P95ResponseTime),
		s.RetriedCalls),
		"transient_failures", s.TransientFailures,
		"terminal_failures", s.TerminalFailures,
		"healthy", h.Healthy,
		"consecutive_fails", h.ConsecutiveFails,
		"uptime", utils.FormatUptime(s.Uptime))
}
