package metadata

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/tuneverse/tuneverse/internal/artwork"
)

const (
	UnknownArtist = "Unknown Artist"
	UnknownAlbum  = "Unknown Album"
)

// Info is the usable record produced for every input file, however broken its
// tags are.
type Info struct {
	Title           string
	Artist          string
	Album           string
	DurationSeconds int
	// Cover holds a displayable image blob, either extracted from the file or
	// synthesized. CoverMime is its content type.
	Cover     []byte
	CoverMime string
}

// Options configures the Extractor.
type Options struct {
	// DefaultDurationSeconds is used when the duration cannot be probed.
	DefaultDurationSeconds int
	// CoverSizePx is the edge length of synthesized cover art.
	CoverSizePx int
	Logger      *slog.Logger
}

// Extractor parses embedded tags out of local audio files.
type Extractor struct {
	opts Options
}

func New(opts Options) *Extractor {
	if opts.DefaultDurationSeconds <= 0 {
		opts.DefaultDurationSeconds = 180
	}
	if opts.CoverSizePx <= 0 {
		opts.CoverSizePx = 300
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Extractor{opts: opts}
}

// Extract reads a file's embedded metadata. Parse failures never propagate:
// the result degrades to a filename-derived title, placeholder artist/album,
// and synthesized cover art.
func (e *Extractor) Extract(path string) Info {
	info := Info{
		Title:  titleFromFilename(path),
		Artist: UnknownArtist,
		Album:  UnknownAlbum,
	}

	meta, err := parseTags(path)
	if err != nil {
		e.opts.Logger.Debug("tag parse failed, using fallbacks", slog.String("path", path), slog.Any("err", err))
	} else {
		if t := strings.TrimSpace(meta.Title()); t != "" {
			info.Title = t
		}
		if a := strings.TrimSpace(meta.Artist()); a != "" {
			info.Artist = a
		}
		if al := strings.TrimSpace(meta.Album()); al != "" {
			info.Album = al
		}
		if pic := meta.Picture(); pic != nil && len(pic.Data) > 0 {
			info.Cover = pic.Data
			info.CoverMime = pic.MIMEType
			if info.CoverMime == "" {
				info.CoverMime = "image/jpeg"
			}
		}
	}

	if secs, ok := probeDurationSeconds(path); ok {
		info.DurationSeconds = secs
	} else {
		info.DurationSeconds = e.opts.DefaultDurationSeconds
	}

	if info.Cover == nil {
		cover, genErr := artwork.Generate(info.Title, e.opts.CoverSizePx)
		if genErr != nil {
			e.opts.Logger.Warn("generate cover art", slog.String("title", info.Title), slog.Any("err", genErr))
		} else {
			info.Cover = cover
			info.CoverMime = "image/jpeg"
		}
	}

	return info
}

// parseTags isolates the tag library; malformed files must not take the
// pipeline down.
func parseTags(path string) (meta tag.Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tag parse panic: %v", r)
		}
	}()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tag.ReadFrom(f)
}

func titleFromFilename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// probeDurationSeconds uses ffprobe when available. The persistence layer
// stores whole seconds, so the probed value is rounded.
func probeDurationSeconds(path string) (int, bool) {
	cmd := exec.Command("ffprobe", "-v", "quiet", "-print_format", "json", "-show_format", path)
	out, err := cmd.Output()
	if err != nil {
		return 0, false
	}
	var result struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if json.Unmarshal(out, &result) != nil || result.Format.Duration == "" {
		return 0, false
	}
	var secs float64
	if _, err := fmt.Sscanf(result.Format.Duration, "%f", &secs); err != nil || secs < 0 {
		return 0, false
	}
	return int(math.Round(secs)), true
}
