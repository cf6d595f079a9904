// Command voxd is the voice dictation daemon. It listens to the microphone,
// segments speech, transcribes completed segments, and types the text into
// the focused window. A running daemon is controlled through voxctl over a
// Unix domain socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/voxdaemon/voxd/internal/app"
	"github.com/voxdaemon/voxd/internal/config"
	"github.com/voxdaemon/voxd/internal/ipc"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (default: the per-user config)")
	socketPath := flag.String("socket", "", "control socket path (default: $XDG_RUNTIME_DIR/voxd.sock)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("voxd " + version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfgFile := *configPath
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		cfgFile = config.DefaultPath()
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxd: config file %q not found — run without -config to use the defaults\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel.Slog())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxd starting",
		"version", version,
		"config", cfgFile,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	socket := *socketPath
	if socket == "" {
		socket = ipc.SocketPath()
	}
	printStartupSummary(cfg, socket)

	opts := []app.Option{
		app.WithSocketPath(*socketPath),
		app.WithVersion(version),
		app.WithLogLevel(level),
	}
	// Only watch a config file that actually exists; a defaults-only run has
	// nothing to poll.
	if _, statErr := os.Stat(cfgFile); statErr == nil {
		opts = append(opts, app.WithConfigFile(cfgFile))
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise daemon", "err", err)
		return 1
	}

	slog.Info("daemon ready — press Ctrl+C to shut down", "socket", application.SocketPath())

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, socket string) {
	mode := "batch"
	if cfg.Whisper.StreamingMode {
		mode = "streaming"
	}
	rateLimit := "(disabled)"
	if cfg.RateLimit.Enabled {
		rateLimit = fmt.Sprintf("%g/s burst %d", cfg.RateLimit.CommandsPerSecond, cfg.RateLimit.BurstCapacity)
	}
	history := "(disabled)"
	if cfg.History.Enabled {
		history = "enabled"
	}
	notifications := "(disabled)"
	if cfg.Notifications.Enabled {
		notifications = "enabled"
	}
	telemetry := "(disabled)"
	if cfg.Telemetry.Enabled {
		telemetry = cfg.Telemetry.ListenAddr
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxd — startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	summaryLine("Mode", mode)
	summaryLine("Model", path.Base(cfg.Whisper.ModelURL))
	summaryLine("Language", cfg.Whisper.Language)
	summaryLine("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	summaryLine("Rate limit", rateLimit)
	summaryLine("History", history)
	summaryLine("Notifications", notifications)
	summaryLine("Telemetry", telemetry)
	summaryLine("Socket", socket)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func summaryLine(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", label, value)
}
