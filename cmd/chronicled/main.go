// Package main provides the chronicle indexing daemon entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chronicle/internal/config"
	"github.com/thebtf/chronicle/internal/db/sqlite"
	"github.com/thebtf/chronicle/internal/indexer"
	"github.com/thebtf/chronicle/internal/notify"
	"github.com/thebtf/chronicle/internal/scheduler"
	"github.com/thebtf/chronicle/internal/watcher"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", config.ConfigPath(), "Config file path")
	scanOnly := flag.Bool("scan", false, "Index all watched directories once and exit")
	reindex := flag.Bool("reindex", false, "Discard cursors and reindex from line 1")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if *debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("version", Version).
		Strs("watchDirs", cfg.WatchDirs).
		Str("dbPath", cfg.DBPath).
		Msg("chronicled starting")

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	if *reindex {
		if err := store.ResetCursors(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to reset cursors")
		}
		log.Info().Msg("cursors reset, full reindex will run")
	}

	processor := indexer.New(store, indexer.WithPageSize(cfg.PageSize))

	projectDirs, err := listProjectDirs(cfg.WatchDirs)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to enumerate project directories")
	}

	if *scanOnly {
		ctx, cancel := signalContext()
		defer cancel()
		for _, dir := range projectDirs {
			if _, err := processor.FullScan(ctx, dir); err != nil {
				log.Error().Err(err).Str("dir", dir).Msg("scan failed")
			}
		}
		log.Info().Msg("scan complete")
		return
	}

	broadcaster := notify.NewBroadcaster()
	defer broadcaster.Close()

	sched := scheduler.New(processor, broadcaster,
		scheduler.WithDebounce(cfg.DebounceInterval.Std()),
		scheduler.WithMaxWorkers(cfg.MaxWorkers),
	)

	w, err := watcher.New(cfg.WatchDirs)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create watcher")
	}
	if err := w.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start watcher")
	}
	go sched.Run(w.Events())

	// Catch up on anything written while the daemon was down.
	for _, dir := range projectDirs {
		if err := sched.Rescan(dir); err != nil {
			log.Error().Err(err).Str("dir", dir).Msg("initial rescan failed")
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	if err := w.Stop(); err != nil {
		log.Warn().Err(err).Msg("watcher stop failed")
	}
	if err := sched.Close(); err != nil {
		log.Warn().Err(err).Msg("scheduler close failed")
	}
	log.Info().Msg("chronicled stopped")
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// listProjectDirs expands each watch root into its project directories.
// A root with no subdirectories is scanned directly.
func listProjectDirs(roots []string) ([]string, error) {
	var dirs []string
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				log.Warn().Str("dir", root).Msg("watch directory does not exist yet")
				continue
			}
			return nil, err
		}
		found := false
		for _, entry := range entries {
			if entry.IsDir() {
				dirs = append(dirs, root+string(os.PathSeparator)+entry.Name())
				found = true
			}
		}
		if !found {
			dirs = append(dirs, root)
		}
	}
	return dirs, nil
}
