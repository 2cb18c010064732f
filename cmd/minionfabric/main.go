// Package main is the entry point for the minion fabric server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/nugget/minionfabric/internal/buildinfo"
	"github.com/nugget/minionfabric/internal/config"
	"github.com/nugget/minionfabric/internal/container"
	"github.com/nugget/minionfabric/internal/llmgen"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
			return
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
	}

	fmt.Println("minionfabric - multi-agent channel runtime")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the event bus, channel service, and websocket bridge")
	fmt.Println("  version  Print build information")
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting minionfabric", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	var cfg *config.Config
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	if cfg.Storage.Driver != "memory" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
			os.Exit(1)
		}
	}

	logger.Info("config loaded", "minions", len(cfg.Minions), "storage_driver", cfg.Storage.Driver, "listen_port", cfg.Listen.Port)

	// The response generator is pluggable per deployment; the fabric
	// ships a deterministic echo generator so `serve` runs end-to-end
	// without a configured LLM backend.
	generator := llmgen.Generator(llmgen.EchoGenerator{})

	c, err := container.New(cfg, logger, generator)
	if err != nil {
		logger.Error("failed to wire container", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		logger.Error("failed to start container", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port),
		Handler: c.Bridge,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
		if err := c.Stop(shutdownCtx); err != nil {
			logger.Error("error during container shutdown", "error", err)
		}
	}()

	logger.Info("websocket bridge listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("minionfabric stopped")
}
