// Package main implements camguardd, the capture supervisor daemon.
//
// camguardd is designed for 24/7 unattended operation, running one FFmpeg
// child per configured USB video source with automatic failure recovery,
// background re-encoding and a disk budget, all observed through an HTTP
// control surface.
//
// Usage:
//
//	camguardd [options]
//
// Options:
//
//	--config=PATH      Path to config file (default: /etc/camguard/config.yaml)
//	--log-level=LEVEL  Log level: debug, info, warn, error (default: info)
//	--log-format=FMT   Log format: text, json (default: text)
//	--help             Show this help message
//
// Example:
//
//	# Run with default config
//	camguardd
//
//	# Run with custom config
//	camguardd --config=/path/to/config.yaml
//
// The daemon automatically:
//   - Supervises one FFmpeg child per enabled source, restarting it with
//     exponential backoff on unexpected exit
//   - Prunes the recordings tree on an age and an emergency-usage basis
//   - Re-encodes settled segments in the background within a resource gate
//   - Handles SIGINT/SIGTERM for graceful shutdown
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/thejerf/suture/v4"

	"github.com/fernbank/camguard/internal/api"
	"github.com/fernbank/camguard/internal/config"
	"github.com/fernbank/camguard/internal/encoder"
	"github.com/fernbank/camguard/internal/fleet"
	"github.com/fernbank/camguard/internal/health"
	"github.com/fernbank/camguard/internal/lock"
	"github.com/fernbank/camguard/internal/logring"
	"github.com/fernbank/camguard/internal/probe"
	"github.com/fernbank/camguard/internal/storage"
	"github.com/fernbank/camguard/internal/transcode"
)

// Build information (set by ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	lockPath   = flag.String("lock-path", config.DefaultLockPath, "Path to the single-instance lock file")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log-format", "text", "Log format: text, json")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	ring := logring.New(logring.DefaultCapacity)
	logger := slog.New(logring.NewHandler(baseHandler(*logFormat, *logLevel), ring))
	logger.Info("camguardd starting", "version", Version, "commit", Commit, "built", BuildTime)

	snap, err := config.LoadSnapshot(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "err", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "path", *configPath, "sources", len(snap.Sources))

	instanceLock, err := lock.NewFileLock(*lockPath)
	if err != nil {
		logger.Error("failed to prepare instance lock", "path", *lockPath, "err", err)
		os.Exit(1)
	}
	if err := instanceLock.Acquire(0); err != nil {
		logger.Error("another camguardd instance holds the lock", "path", *lockPath, "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := instanceLock.Release(); err != nil {
			logger.Warn("failed to release instance lock", "path", *lockPath, "err", err)
		}
	}()

	ffmpegPath, err := findExecutable("ffmpeg")
	if err != nil {
		logger.Error("ffmpeg not found", "err", err)
		os.Exit(1)
	}
	ffprobePath, err := findExecutable("ffprobe")
	if err != nil {
		logger.Error("ffprobe not found", "err", err)
		os.Exit(1)
	}
	logger.Info("using media tools", "ffmpeg", ffmpegPath, "ffprobe", ffprobePath)

	toggles := config.NewToggles(snap.Transcoder.Enabled)
	adapter := encoder.New(ffmpegPath)
	prober := probe.New(ffprobePath)

	f := fleet.New(logger)
	for _, id := range snap.EnabledSources() {
		f.Register(id, snap.Sources[id], snap, adapter, toggles.ShuttingDown)
	}

	store := storage.New(snap)
	engine := transcode.New(snap, toggles, adapter, prober, logger)
	monitor := health.New(f, store, engine, snap, logger)
	apiServer := api.New(f, store, engine, toggles, snap, monitor, ring, logger)

	root := suture.NewSimple("camguard")
	root.Add(f)
	root.Add(engine)
	root.Add(monitor)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating shutdown", "signal", sig.String())
		toggles.BeginShutdown()
		cancel()
	}()

	httpAddr := fmt.Sprintf("%s:%d", snap.HTTP.Host, snap.HTTP.Port)
	httpStop := make(chan struct{})
	httpDone := make(chan error, 1)
	go func() {
		logger.Info("control surface listening", "addr", httpAddr)
		httpDone <- apiServer.ListenAndServe(httpAddr, httpStop)
	}()

	logger.Info("starting supervision tree", "sources", len(snap.Sources))
	treeErr := root.Serve(ctx)

	close(httpStop)
	if err := <-httpDone; err != nil {
		logger.Error("control surface stopped with error", "err", err)
	}

	if treeErr != nil && treeErr != context.Canceled {
		logger.Error("supervision tree stopped with error", "err", treeErr)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// baseHandler builds the underlying slog.Handler logring.Handler wraps,
// text or JSON per --log-format, at the requested level.
func baseHandler(format, level string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// findExecutable locates a media tool binary by name, checking common
// install locations before falling back to PATH.
func findExecutable(name string) (string, error) {
	paths := []string{
		filepath.Join("/usr/bin", name),
		filepath.Join("/usr/local/bin", name),
		filepath.Join("/opt/homebrew/bin", name),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s not found in common locations or PATH", name)
}

func printUsage() {
	fmt.Println("camguardd - USB video capture supervisor daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: camguardd [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("The daemon supervises one FFmpeg child per configured source,")
	fmt.Println("prunes the recordings tree, and re-encodes settled segments")
	fmt.Println("in the background, all observed over its HTTP control surface.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
}
