package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/schollz/progressbar/v3"

	"github.com/tuneverse/tuneverse/internal/app"
	"github.com/tuneverse/tuneverse/internal/artwork"
	"github.com/tuneverse/tuneverse/internal/auth"
	"github.com/tuneverse/tuneverse/internal/config"
	"github.com/tuneverse/tuneverse/internal/logging"
	"github.com/tuneverse/tuneverse/internal/metadata"
	"github.com/tuneverse/tuneverse/internal/player"
	"github.com/tuneverse/tuneverse/internal/queue"
	"github.com/tuneverse/tuneverse/internal/stores/cache"
	"github.com/tuneverse/tuneverse/internal/stores/hosted"
	"github.com/tuneverse/tuneverse/internal/upload"
)

var version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Tuneverse - a terminal music streaming client

Usage: tuneverse [options]

Options:
  -config string
        Path to config file (default: ~/.config/tuneverse/config.toml)
  -version
        Print version and exit

Diagnostics:
  -doctor
        Check configuration and dependencies

Bulk upload:
  -upload string
        Upload an audio file or directory without starting the TUI
  -email string
        Account email for -upload (password read from TUNEVERSE_PASSWORD)

Examples:
  tuneverse                                 # Start interactive TUI
  tuneverse -doctor                         # Check setup
  tuneverse -upload ~/Music -email me@x.io  # Upload a directory

`)
	}

	cfgPath := flag.String("config", "", "")
	doctor := flag.Bool("doctor", false, "")
	showVersion := flag.Bool("version", false, "")
	uploadPath := flag.String("upload", "", "")
	email := flag.String("email", "", "")
	flag.Parse()

	if *showVersion {
		fmt.Println("tuneverse", version)
		return
	}

	cfg, resolvedPath, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, logFile, err := logging.Setup()
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	defer logFile.Close()
	logger.Info("starting tuneverse", slog.String("config", resolvedPath))

	if *doctor {
		runDoctor(cfg)
		return
	}

	store, err := hosted.New(hosted.Config{
		BaseURL:    cfg.Backend.BaseURL,
		AnonKey:    cfg.Backend.AnonKey,
		AnonKeyEnv: cfg.Backend.AnonKeyEnv,
	})
	if err != nil {
		logger.Error("backend init", slog.Any("err", err))
		log.Fatalf("init backend: %v", err)
	}

	authMgr := auth.NewManager(auth.Options{Store: store, Logger: logger})

	extractor := metadata.New(metadata.Options{
		DefaultDurationSeconds: cfg.Upload.DefaultDurationSeconds,
		CoverSizePx:            cfg.Upload.CoverSizePx,
		Logger:                 logger,
	})
	pipeline := upload.NewPipeline(store, extractor, upload.Options{
		MaxNameLength: cfg.Upload.MaxNameLength,
		Logger:        logger,
	})

	if *uploadPath != "" {
		runBulkUpload(cfg, authMgr, pipeline, *uploadPath, *email)
		return
	}

	var catalog *cache.Catalog
	if !cfg.Cache.Disabled {
		catalog, err = cache.Open(cfg.Cache.Path)
		if err != nil {
			logger.Warn("catalog cache unavailable", slog.Any("err", err))
		} else {
			defer catalog.Close()
		}
	}

	ctrl := player.New(player.Options{
		MPVPath: cfg.Player.MPVPath,
		IPCPath: cfg.Player.IPC,
		Logger:  logger,
	})
	q := queue.New()

	queueStore, err := queue.NewPersistenceStore("")
	if err != nil {
		logger.Warn("queue persistence unavailable", slog.Any("err", err))
	} else {
		defer queueStore.Close()
		restoreQueue(queueStore, q, logger)
	}

	session := player.NewSession(player.SessionOptions{
		Sink:          ctrl,
		Queue:         q,
		Logger:        logger,
		InitialVolume: float64(cfg.Player.InitialVolume) / 100,
		LoadTimeout:   time.Duration(cfg.Player.LoadTimeoutMs) * time.Millisecond,
	})
	if err := session.Start(context.Background()); err != nil {
		logger.Error("start player", slog.Any("err", err))
		log.Fatalf("start player: %v", err)
	}
	defer session.Stop()

	var art *artwork.Cache
	if !cfg.Artwork.Disabled {
		art, err = artwork.NewCache("", cfg.Artwork.CacheDays)
		if err != nil {
			logger.Warn("artwork cache unavailable", slog.Any("err", err))
		}
	}

	model := app.New(cfg, store, authMgr, session, q, pipeline, catalog, art)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		logger.Error("run tui", slog.Any("err", err))
		log.Fatalf("tui: %v", err)
	}

	if queueStore != nil {
		saveQueue(queueStore, q, authMgr, logger)
	}
}

func restoreQueue(store *queue.PersistenceStore, q *queue.Queue, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	saved, err := store.Load(ctx)
	if err != nil {
		logger.Warn("restore queue", slog.Any("err", err))
		return
	}
	if len(saved.Songs) == 0 {
		return
	}
	q.Add(saved.Songs...)
	if saved.CurrentIndex >= 0 {
		_ = q.SetCurrent(saved.CurrentIndex)
	}
	if saved.Shuffled {
		q.ToggleShuffle()
	}
	logger.Info("queue restored", slog.Int("songs", len(saved.Songs)))
}

func saveQueue(store *queue.PersistenceStore, q *queue.Queue, authMgr *auth.Manager, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	userID := ""
	if s := authMgr.Current(); s != nil {
		userID = s.User.ID
	}
	if err := store.Save(ctx, q, userID); err != nil {
		logger.Warn("save queue", slog.Any("err", err))
	}
}

func runDoctor(cfg *config.Config) {
	fmt.Println("Tuneverse doctor")
	fmt.Println("Config file: OK")

	mpvPath, err := exec.LookPath(cfg.Player.MPVPath)
	if err != nil {
		fmt.Printf("mpv (%s): NOT FOUND\n", cfg.Player.MPVPath)
	} else {
		fmt.Printf("mpv: OK (%s)\n", mpvPath)
	}

	if cfg.Backend.BaseURL == "" {
		fmt.Println("Backend URL: NOT SET (backend.base_url)")
		return
	}
	fmt.Printf("Backend URL: %s\n", cfg.Backend.BaseURL)

	key := cfg.Backend.AnonKey
	if key == "" && cfg.Backend.AnonKeyEnv != "" {
		key = os.Getenv(cfg.Backend.AnonKeyEnv)
	}
	if key == "" {
		fmt.Println("API key: NOT SET (backend.anon_key or env)")
	} else {
		fmt.Println("API key: OK")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(cfg.Backend.BaseURL, "/") + "/rest/v1/")
	if err != nil {
		fmt.Printf("Backend: UNREACHABLE - %v\n", err)
		return
	}
	resp.Body.Close()
	fmt.Println("Backend: reachable")
}

func runBulkUpload(cfg *config.Config, authMgr *auth.Manager, pipeline *upload.Pipeline, path, email string) {
	password := os.Getenv("TUNEVERSE_PASSWORD")
	if email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "bulk upload needs -email and the TUNEVERSE_PASSWORD environment variable")
		os.Exit(1)
	}

	ctx, cancel := cfg.DeadlineContext()
	session, err := authMgr.SignIn(ctx, email, password)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign in: %v\n", err)
		os.Exit(1)
	}

	paths, err := collectAudioPaths(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan %s: %v\n", path, err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		fmt.Println("No audio files found")
		return
	}

	candidates := pipeline.Prepare(paths)
	bar := progressbar.NewOptions(len(candidates),
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	uploaded, skipped, failed := 0, 0, 0
	for _, c := range candidates {
		uploadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		err := pipeline.UploadOne(uploadCtx, session.User, c)
		cancel()
		switch {
		case err == nil && c.Status == upload.StatusSkipped:
			skipped++
		case err == nil:
			uploaded++
		default:
			failed++
			fmt.Fprintf(os.Stderr, "\n%s: %v\n", filepath.Base(c.Path), err)
		}
		_ = bar.Add(1)
	}
	fmt.Printf("%d uploaded, %d skipped (duplicates), %d failed\n", uploaded, skipped, failed)
}

func collectAudioPaths(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var out []string
	err = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".mp3", ".flac", ".m4a", ".ogg", ".wav", ".opus", ".aac":
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
