package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/wikimannia/refreshstats/internal/httpserver"
	"github.com/wikimannia/refreshstats/internal/logger"
	"github.com/wikimannia/refreshstats/internal/metrics"
	"github.com/wikimannia/refreshstats/internal/schedule"
	"github.com/wikimannia/refreshstats/internal/socketrpc"
	"github.com/wikimannia/refreshstats/internal/store"
)

// shutdownGrace bounds how long a second signal is awaited before forcing exit.
const shutdownGrace = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, socket RPC and periodic refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath, cmd.Flags())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.Bool("api-enabled", true, "serve the HTTP API")
	f.String("api-addr", "", "HTTP API listen address (default "+defaultAPIAddr+")")
	f.String("api-token", "", "bearer token required by the refresh endpoints")
	f.String("socket-path", "", "Unix socket for local clients")
	f.Duration("refresh-interval", 0, "reconcile on this interval (0 disables)")
	f.Int("concurrency", 0, "metrics evaluated in parallel (1-4)")
	f.Duration("query-timeout", 0, "timeout for a single query")
	return cmd
}

// runServer serves the stats API until ctx is cancelled.
func runServer(ctx context.Context, cfg appConfig) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	// Registered first so it outlives every deferred Stop below.
	stopWatch := func() {}
	defer func() { stopWatch() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	a, err := openApp(cfg, log, m)
	if err != nil {
		return err
	}
	defer a.Close()

	// Start HTTP API server if enabled
	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, a.rec, httpserver.Options{
			Token:    cfg.APIToken,
			Pinger:   a.primary,
			Gatherer: reg,
			Logger:   log.With(logger.String("component", "http")),
		})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
		cfg.APIAddr = apiServer.Addr()
	}

	// Start socket RPC server for local CLI clients
	socketUp := false
	sockServer := socketrpc.NewServer(cfg.SocketPath, a.rec, log.With(logger.String("component", "socketrpc")))
	if err := sockServer.Start(); err != nil {
		log.Warn("socket server not started", logger.Error(err))
	} else {
		socketUp = true
		defer sockServer.Stop()
	}

	refresher := schedule.NewRefresher(a.rec, schedule.Config{
		Interval: cfg.RefreshInterval,
		Logger:   log.With(logger.String("component", "schedule")),
	})
	if refresher != nil {
		defer refresher.Stop()
	}

	printStartupBanner(cfg, socketUp)
	log.Info("serving",
		logger.String("driver", cfg.DBDriver),
		logger.Bool("api", cfg.APIEnabled),
		logger.Duration("refresh_interval", cfg.RefreshInterval))

	<-ctx.Done()

	fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
	stopWatch = forceExitOnSecondSignal(cfg.SocketPath)
	return nil
}

// forceExitOnSecondSignal exits the process if another signal arrives or
// shutdown takes longer than shutdownGrace. The returned func ends the watch.
func forceExitOnSecondSignal(socketPath string) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		deadline := time.NewTimer(shutdownGrace)
		defer deadline.Stop()

		select {
		case <-done:
			return
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		if socketPath != "" {
			os.Remove(socketPath)
		}
		os.Exit(exitError)
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func printStartupBanner(cfg appConfig, socketUp bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	title := cyan.Bold(true).Render("    refreshstats")
	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "", title, "    "+ver, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, bold.Render("    Gateway"), "")
	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
		if cfg.APIToken != "" {
			lines = append(lines, fmt.Sprintf("    %s  Refresh Auth   %s", check, dim.Render("bearer token")))
		} else {
			lines = append(lines, fmt.Sprintf("    %s  Refresh Auth   %s", dot, dim.Render("open")))
		}
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	if socketUp {
		lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", dot, dim.Render("unavailable")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Database"), "")
	lines = append(lines, fmt.Sprintf("    %s  Driver         %s", check, dim.Render(cfg.DBDriver)))
	if cfg.DBDriver == store.DriverDuckDB {
		lines = append(lines, fmt.Sprintf("    %s  Storage        %s", check, dim.Render(shortenPath(cfg.DSN()))))
	}
	if cfg.DBReplicaDSN != "" {
		lines = append(lines, fmt.Sprintf("    %s  Replica        %s", check, dim.Render("counts read from replica")))
	}
	if cfg.TablePrefix != "" {
		lines = append(lines, fmt.Sprintf("    %s  Table Prefix   %s", check, dim.Render(cfg.TablePrefix)))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Refresh"), "")
	if cfg.RefreshInterval > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Interval       %s", check, dim.Render(cfg.RefreshInterval.String())))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Interval       %s", dot, dim.Render("on demand")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Concurrency    %s", check, dim.Render(fmt.Sprint(cfg.Concurrency))))

	lines = append(lines, "", bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
