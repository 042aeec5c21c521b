package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds Tuneverse runtime configuration loaded from TOML.
type Config struct {
	ConfigVersion int           `toml:"config_version"`
	Backend       BackendConfig `toml:"backend"`
	UI            UIConfig      `toml:"ui"`
	Player        PlayerConfig  `toml:"player"`
	Upload        UploadConfig  `toml:"upload"`
	Cache         CacheConfig   `toml:"cache"`
	Artwork       ArtworkConfig `toml:"artwork"`
}

// BackendConfig points at the hosted auth/database/storage service.
type BackendConfig struct {
	BaseURL string `toml:"base_url"`
	// AnonKey is the public API key sent with every request. May be left empty
	// and supplied via the environment variable named in AnonKeyEnv.
	AnonKey    string `toml:"anon_key"`
	AnonKeyEnv string `toml:"anon_key_env"`
	// TimeoutMs bounds every backend call.
	TimeoutMs int `toml:"timeout_ms"`
}

type UIConfig struct {
	PageSize int    `toml:"page_size"`
	NoEmoji  bool   `toml:"no_emoji"`
	Theme    string `toml:"theme"`
}

type PlayerConfig struct {
	MPVPath string `toml:"mpv_path"`
	IPC     string `toml:"ipc"`
	// InitialVolume is a percentage, 0-100.
	InitialVolume int `toml:"initial_volume"`
	// LoadTimeoutMs bounds the Loading state; a stream that never becomes
	// playable within this window is reported as a playback error.
	LoadTimeoutMs int `toml:"load_timeout_ms"`
	VolumeStep    int `toml:"volume_step"`
}

type UploadConfig struct {
	// DefaultDurationSeconds is used when the audio file's duration cannot be
	// determined.
	DefaultDurationSeconds int `toml:"default_duration_seconds"`
	// MaxNameLength caps the sanitized file name (extension excluded).
	MaxNameLength int `toml:"max_name_length"`
	CoverSizePx   int `toml:"cover_size_px"`
}

// CacheConfig controls the local SQLite catalog cache.
type CacheConfig struct {
	Disabled bool   `toml:"disabled"`
	Path     string `toml:"path"`
}

// ArtworkConfig holds now-playing artwork display settings.
type ArtworkConfig struct {
	Disabled  bool `toml:"disabled"`
	Width     int  `toml:"width"`
	Height    int  `toml:"height"`
	CacheDays int  `toml:"cache_days"`
}

// Load reads configuration from disk. If path is empty, a default OS-specific
// location is used.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = defaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, err
	}

	return &cfg, cfgPath, nil
}

func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	name := "tuneverse"
	if runtime.GOOS == "windows" {
		name = "Tuneverse"
	}
	base := filepath.Join(dir, name)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(base, "config.toml"), nil
}

func applyDefaults(cfg *Config) {
	if cfg.Backend.AnonKey == "" && cfg.Backend.AnonKeyEnv != "" {
		cfg.Backend.AnonKey = os.Getenv(cfg.Backend.AnonKeyEnv)
	}
	if cfg.Backend.TimeoutMs == 0 {
		cfg.Backend.TimeoutMs = 8000
	}
	if cfg.UI.PageSize == 0 {
		cfg.UI.PageSize = 100
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = "aurora"
	}
	if cfg.Player.MPVPath == "" {
		cfg.Player.MPVPath = "mpv"
	}
	if cfg.Player.InitialVolume == 0 {
		cfg.Player.InitialVolume = 70
	}
	if cfg.Player.LoadTimeoutMs == 0 {
		cfg.Player.LoadTimeoutMs = 15000
	}
	if cfg.Player.VolumeStep == 0 {
		cfg.Player.VolumeStep = 5
	}
	if cfg.Upload.DefaultDurationSeconds == 0 {
		cfg.Upload.DefaultDurationSeconds = 180
	}
	if cfg.Upload.MaxNameLength == 0 {
		cfg.Upload.MaxNameLength = 64
	}
	if cfg.Upload.CoverSizePx == 0 {
		cfg.Upload.CoverSizePx = 300
	}
	if cfg.Artwork.Width == 0 {
		cfg.Artwork.Width = 20
	}
	if cfg.Artwork.Height == 0 {
		cfg.Artwork.Height = 10
	}
	if cfg.Artwork.CacheDays == 0 {
		cfg.Artwork.CacheDays = 30
	}
}

// Validate performs semantic validation of config.
func Validate(cfg Config) error {
	if cfg.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if cfg.Backend.AnonKey == "" {
		return errors.New("backend.anon_key (or anon_key_env) is required")
	}
	if cfg.Player.InitialVolume < 0 || cfg.Player.InitialVolume > 100 {
		return fmt.Errorf("player.initial_volume must be 0-100")
	}
	if cfg.Upload.DefaultDurationSeconds < 0 {
		return fmt.Errorf("upload.default_duration_seconds must be >= 0")
	}
	if _, err := os.Stat(cfg.Player.MPVPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, lookErr := execLookPath(cfg.Player.MPVPath); lookErr != nil {
				return fmt.Errorf("mpv not found (%s): %w", cfg.Player.MPVPath, lookErr)
			}
		}
	}
	return nil
}

// DeadlineContext returns a context bounded by the backend timeout.
func (c Config) DeadlineContext() (context.Context, context.CancelFunc) {
	d := time.Duration(c.Backend.TimeoutMs) * time.Millisecond
	if d == 0 {
		d = 8 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}

// execLookPath is a test seam.
var execLookPath = func(file string) (string, error) {
	return exec.LookPath(file)
}
