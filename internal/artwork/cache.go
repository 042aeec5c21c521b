package artwork

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const entryExt = ".ansi"

// Cache keeps rendered ANSI previews on disk so a cover is only converted
// once per terminal width. Entries expire after a configurable number of
// days.
type Cache struct {
	dir string
	ttl time.Duration
}

func NewCache(baseDir string, cacheDays int) (*Cache, error) {
	if baseDir == "" {
		root, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		baseDir = filepath.Join(root, "tuneverse", "artwork")
	}
	if cacheDays <= 0 {
		cacheDays = 30
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		dir: baseDir,
		ttl: time.Duration(cacheDays) * 24 * time.Hour,
	}, nil
}

// entryPath derives the on-disk name for a cover reference. Width is part
// of the key so a resized pane never serves a stale render.
func (c *Cache) entryPath(ref string, width int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d", ref, width)
	return filepath.Join(c.dir, fmt.Sprintf("%016x%s", h.Sum64(), entryExt))
}

func (c *Cache) Get(ref string, width int) (string, bool) {
	path := c.entryPath(ref, width)
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if time.Since(info.ModTime()) > c.ttl {
		os.Remove(path)
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (c *Cache) Set(ref string, width int, ansi string) error {
	return os.WriteFile(c.entryPath(ref, width), []byte(ansi), 0o644)
}

// Clear deletes every cached preview. Foreign files in the directory are
// left alone.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), entryExt) {
			os.Remove(filepath.Join(c.dir, e.Name()))
		}
	}
	return nil
}

// Size reports the bytes held by cached previews.
func (c *Cache) Size() (int64, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), entryExt) {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	return total, nil
}
