package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tuneverse/tuneverse/internal/library"
	_ "modernc.org/sqlite"
)

// Catalog is a local SQLite mirror of the hosted song catalog. It lets
// the browse and search screens come up before the first network round
// trip completes. Refreshes are wholesale; rows are never merged.
type Catalog struct {
	db *sql.DB
}

// Open opens (or creates) the catalog cache at the given path. An empty
// path uses the default location under the user config dir.
func Open(dbPath string) (*Catalog, error) {
	if dbPath == "" {
		var err error
		dbPath, err = defaultCachePath()
		if err != nil {
			return nil, fmt.Errorf("resolve cache path: %w", err)
		}
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog cache: %w", err)
	}

	c := &Catalog{db: db}
	if err := c.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func defaultCachePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tuneverse", "state", "catalog.db"), nil
}

func (c *Catalog) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS songs (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			artist TEXT NOT NULL,
			album TEXT NOT NULL DEFAULT '',
			cover_art_url TEXT NOT NULL DEFAULT '',
			audio_url TEXT NOT NULL DEFAULT '',
			duration INTEGER NOT NULL DEFAULT 0,
			user_id TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_songs_title ON songs(title);`,
		`CREATE INDEX IF NOT EXISTS idx_songs_artist ON songs(artist);`,
	}
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate catalog schema: %w", err)
		}
	}
	return nil
}

// ReplaceAll swaps the cached catalog for a fresh snapshot, preserving
// the snapshot's ordering.
func (c *Catalog) ReplaceAll(ctx context.Context, songs []library.Song) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM songs`); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO songs
		(id, title, artist, album, cover_art_url, audio_url, duration, user_id, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, s := range songs {
		if _, err := stmt.ExecContext(ctx, s.ID, s.Title, s.Artist, s.Album,
			s.CoverArtURL, s.AudioURL, s.DurationSeconds, s.OwnerID, i); err != nil {
			return fmt.Errorf("insert song %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// List returns the cached catalog in snapshot order.
func (c *Catalog) List(ctx context.Context) ([]library.Song, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, title, artist, album,
		cover_art_url, audio_url, duration, user_id
		FROM songs ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	defer rows.Close()
	return scanSongs(rows)
}

// Search returns cached songs whose title or artist contains the query,
// case-insensitively.
func (c *Catalog) Search(ctx context.Context, query string) ([]library.Song, error) {
	pattern := "%" + query + "%"
	rows, err := c.db.QueryContext(ctx, `SELECT id, title, artist, album,
		cover_art_url, audio_url, duration, user_id
		FROM songs
		WHERE title LIKE ? COLLATE NOCASE OR artist LIKE ? COLLATE NOCASE
		ORDER BY position ASC`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	defer rows.Close()
	return scanSongs(rows)
}

func scanSongs(rows *sql.Rows) ([]library.Song, error) {
	var out []library.Song
	for rows.Next() {
		var s library.Song
		if err := rows.Scan(&s.ID, &s.Title, &s.Artist, &s.Album,
			&s.CoverArtURL, &s.AudioURL, &s.DurationSeconds, &s.OwnerID); err != nil {
			return nil, fmt.Errorf("scan song: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate songs: %w", err)
	}
	return out, nil
}

// Count returns the number of cached songs.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM songs`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count songs: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
