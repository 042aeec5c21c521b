package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tuneverse/tuneverse/internal/library"
	"github.com/tuneverse/tuneverse/internal/metadata"
)

// Status tracks a candidate through the upload pipeline.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
)

// Candidate is a file chosen for upload, before or during processing. It lives
// only in the pipeline's working set and never outlasts the batch.
type Candidate struct {
	ID              string
	Path            string
	Title           string
	Artist          string
	Album           string
	DurationSeconds int
	Cover           []byte
	CoverMime       string

	Status   Status
	Progress int
	Err      string
}

// Report aggregates the outcome of one batch.
type Report struct {
	Uploaded int
	Skipped  int
	Failed   int
}

func (r Report) String() string {
	return fmt.Sprintf("%d uploaded, %d skipped (duplicates), %d failed", r.Uploaded, r.Skipped, r.Failed)
}

// Clean reports whether the batch finished without errors; only then does the
// UI auto-navigate back to the library.
func (r Report) Clean() bool { return r.Failed == 0 }

// Options configures a Pipeline.
type Options struct {
	MaxNameLength int
	Logger        *slog.Logger
	// OnUploaded is invoked with each successfully created song, in batch
	// order. May be nil.
	OnUploaded func(library.Song)
	// Now is a test seam for object-key timestamps.
	Now func() time.Time
}

// Pipeline expands selected files into candidates and uploads them one at a
// time. Sequential processing is deliberate: it bounds load on the storage
// backend and keeps per-file progress deterministic.
type Pipeline struct {
	mu         sync.Mutex
	store      library.Store
	extractor  *metadata.Extractor
	opts       Options
	candidates []*Candidate
}

func NewPipeline(store library.Store, extractor *metadata.Extractor, opts Options) *Pipeline {
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{store: store, extractor: extractor, opts: opts}
}

// Prepare extracts metadata for each selected file, in order, and replaces the
// pipeline's working set.
func (p *Pipeline) Prepare(paths []string) []*Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.candidates = p.candidates[:0]
	for _, path := range paths {
		info := p.extractor.Extract(path)
		p.candidates = append(p.candidates, &Candidate{
			ID:              uuid.NewString(),
			Path:            path,
			Title:           info.Title,
			Artist:          info.Artist,
			Album:           info.Album,
			DurationSeconds: info.DurationSeconds,
			Cover:           info.Cover,
			CoverMime:       info.CoverMime,
			Status:          StatusPending,
		})
	}
	return p.snapshotLocked()
}

// Candidates returns a snapshot of the working set.
func (p *Pipeline) Candidates() []*Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pipeline) snapshotLocked() []*Candidate {
	out := make([]*Candidate, len(p.candidates))
	copy(out, p.candidates)
	return out
}

// Remove drops a pending candidate from the working set.
func (p *Pipeline) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.candidates {
		if c.ID == id && c.Status == StatusPending {
			p.candidates = append(p.candidates[:i], p.candidates[i+1:]...)
			return
		}
	}
}

// SetMetadata lets the user edit a candidate before upload.
func (p *Pipeline) SetMetadata(id, title, artist, album string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.candidates {
		if c.ID == id && (c.Status == StatusPending || c.Status == StatusError) {
			c.Title, c.Artist, c.Album = title, artist, album
			return
		}
	}
}

// Clear dismisses the working set.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = nil
}

// UploadAll uploads every pending or errored candidate sequentially, in array
// order, and reports aggregate counts. Success and skipped candidates are left
// untouched, so a batch may be re-run to retry failures.
func (p *Pipeline) UploadAll(ctx context.Context, owner library.User) (Report, error) {
	p.mu.Lock()
	batch := p.snapshotLocked()
	p.mu.Unlock()

	if len(batch) == 0 {
		return Report{}, fmt.Errorf("no files selected: %w", library.ErrValidation)
	}

	// The hosted backend used to create profile rows with a trigger; that is
	// now an explicit idempotent step before the first write.
	if err := p.store.EnsureProfile(ctx, owner); err != nil {
		return Report{}, fmt.Errorf("ensure profile: %w", err)
	}

	var report Report
	for _, c := range batch {
		if c.Status != StatusPending && c.Status != StatusError {
			continue
		}
		if err := p.uploadOne(ctx, owner, c); err != nil {
			p.opts.Logger.Warn("upload failed",
				slog.String("title", c.Title),
				slog.String("artist", c.Artist),
				slog.Any("err", err))
		}
	}

	p.mu.Lock()
	for _, c := range p.candidates {
		switch c.Status {
		case StatusSuccess:
			report.Uploaded++
		case StatusSkipped:
			report.Skipped++
		case StatusError:
			report.Failed++
		}
	}
	p.mu.Unlock()

	p.opts.Logger.Info("batch complete", slog.String("report", report.String()))
	return report, nil
}

// UploadOne runs the unified upload path for a single candidate: duplicate
// check, asset uploads, then metadata insert with compensating rollback. Both
// the single-file and bulk flows go through here.
func (p *Pipeline) UploadOne(ctx context.Context, owner library.User, c *Candidate) error {
	if err := p.store.EnsureProfile(ctx, owner); err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return p.uploadOne(ctx, owner, c)
}

func (p *Pipeline) uploadOne(ctx context.Context, owner library.User, c *Candidate) error {
	title := strings.TrimSpace(c.Title)
	artist := strings.TrimSpace(c.Artist)
	if title == "" || artist == "" {
		p.fail(c, "title and artist are required")
		return fmt.Errorf("title and artist are required: %w", library.ErrValidation)
	}

	p.transition(c, StatusProcessing, 10, "")

	exists, err := p.store.SongExists(ctx, title, artist, owner.ID)
	if err != nil {
		p.fail(c, err.Error())
		return fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		p.mu.Lock()
		c.Status = StatusSkipped
		c.Progress = 100
		c.Err = "Song already exists in your library"
		p.mu.Unlock()
		return nil
	}

	audio, err := os.ReadFile(c.Path)
	if err != nil {
		p.fail(c, err.Error())
		return fmt.Errorf("read audio file: %w", err)
	}

	now := p.opts.Now()
	audioKey := ObjectKey(owner.ID, filepath.Base(c.Path), p.opts.MaxNameLength, now)
	audioURL, err := p.store.UploadAudio(ctx, library.Asset{
		Key:         audioKey,
		ContentType: "audio/mpeg",
		Data:        audio,
	})
	if err != nil {
		p.fail(c, err.Error())
		return fmt.Errorf("upload audio: %w", err)
	}
	p.transition(c, StatusProcessing, 50, "")

	coverKey := ObjectKey(owner.ID, "cover.jpg", p.opts.MaxNameLength, now)
	coverURL, err := p.store.UploadCover(ctx, library.Asset{
		Key:         coverKey,
		ContentType: c.CoverMime,
		Data:        c.Cover,
	})
	if err != nil {
		// The audio asset is already up; take it back down.
		p.rollback(ctx, audioKey, "")
		p.fail(c, err.Error())
		return fmt.Errorf("upload cover art: %w", err)
	}
	p.transition(c, StatusProcessing, 80, "")

	song, err := p.store.CreateSong(ctx, library.Song{
		Title:           title,
		Artist:          artist,
		Album:           strings.TrimSpace(c.Album),
		AudioURL:        audioURL,
		CoverArtURL:     coverURL,
		DurationSeconds: c.DurationSeconds,
		OwnerID:         owner.ID,
	})
	if err != nil {
		// Both assets are orphaned without their metadata row; remove them.
		p.rollback(ctx, audioKey, coverKey)
		p.fail(c, err.Error())
		return fmt.Errorf("save song metadata: %w", err)
	}

	p.transition(c, StatusSuccess, 100, "")
	if p.opts.OnUploaded != nil {
		p.opts.OnUploaded(song)
	}
	return nil
}

func (p *Pipeline) rollback(ctx context.Context, audioKey, coverKey string) {
	if audioKey != "" {
		if err := p.store.RemoveAudio(ctx, audioKey); err != nil {
			p.opts.Logger.Error("rollback audio asset", slog.String("key", audioKey), slog.Any("err", err))
		}
	}
	if coverKey != "" {
		if err := p.store.RemoveCover(ctx, coverKey); err != nil {
			p.opts.Logger.Error("rollback cover asset", slog.String("key", coverKey), slog.Any("err", err))
		}
	}
}

func (p *Pipeline) transition(c *Candidate, s Status, progress int, errMsg string) {
	p.mu.Lock()
	c.Status = s
	c.Progress = progress
	c.Err = errMsg
	p.mu.Unlock()
}

func (p *Pipeline) fail(c *Candidate, msg string) {
	p.mu.Lock()
	c.Status = StatusError
	c.Err = msg
	p.mu.Unlock()
}
