package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneverse/tuneverse/internal/library"
	"github.com/tuneverse/tuneverse/internal/metadata"
)

// fakeStore records uploads and removals and lets tests force failures.
type fakeStore struct {
	library.Store

	songs        []library.Song
	audioObjects map[string][]byte
	coverObjects map[string][]byte
	profiles     map[string]bool

	failCreateFor map[string]bool // by title
	nextID        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		audioObjects:  map[string][]byte{},
		coverObjects:  map[string][]byte{},
		profiles:      map[string]bool{},
		failCreateFor: map[string]bool{},
	}
}

func (s *fakeStore) EnsureProfile(ctx context.Context, user library.User) error {
	s.profiles[user.ID] = true
	return nil
}

func (s *fakeStore) SongExists(ctx context.Context, title, artist, ownerID string) (bool, error) {
	for _, song := range s.songs {
		if song.Title == title && song.Artist == artist && song.OwnerID == ownerID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) UploadAudio(ctx context.Context, asset library.Asset) (string, error) {
	s.audioObjects[asset.Key] = asset.Data
	return "https://cdn.example.com/songs/" + asset.Key, nil
}

func (s *fakeStore) UploadCover(ctx context.Context, asset library.Asset) (string, error) {
	s.coverObjects[asset.Key] = asset.Data
	return "https://cdn.example.com/covers/" + asset.Key, nil
}

func (s *fakeStore) RemoveAudio(ctx context.Context, key string) error {
	delete(s.audioObjects, key)
	return nil
}

func (s *fakeStore) RemoveCover(ctx context.Context, key string) error {
	delete(s.coverObjects, key)
	return nil
}

func (s *fakeStore) CreateSong(ctx context.Context, song library.Song) (library.Song, error) {
	if s.failCreateFor[song.Title] {
		return library.Song{}, fmt.Errorf("insert rejected: %w", library.ErrRemote)
	}
	s.nextID++
	song.ID = fmt.Sprintf("song-%d", s.nextID)
	s.songs = append(s.songs, song)
	return song, nil
}

func writeAudioFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, name := range names {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("not really audio"), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func newTestPipeline(store library.Store) *Pipeline {
	extractor := metadata.New(metadata.Options{DefaultDurationSeconds: 180, CoverSizePx: 32})
	var tick int64
	return NewPipeline(store, extractor, Options{
		MaxNameLength: 64,
		Now: func() time.Time {
			tick++
			return time.UnixMilli(1700000000000 + tick)
		},
	})
}

var owner = library.User{ID: "owner-1", Name: "Owner", Email: "owner@example.com"}

func TestUploadAllSuccess(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store)

	paths := writeAudioFiles(t, "First Song.mp3", "Second Song.mp3")
	p.Prepare(paths)

	report, err := p.UploadAll(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, Report{Uploaded: 2}, report)
	assert.True(t, report.Clean())
	assert.Len(t, store.songs, 2)
	assert.True(t, store.profiles[owner.ID], "profile must be ensured before the first write")

	for _, c := range p.Candidates() {
		assert.Equal(t, StatusSuccess, c.Status)
		assert.Equal(t, 100, c.Progress)
	}
	// Every song references an audio and a cover object that still exist.
	assert.Len(t, store.audioObjects, 2)
	assert.Len(t, store.coverObjects, 2)
}

func TestUploadAllSkipsDuplicateWithinBatch(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store)

	// Identical (title, artist) pairs: extraction falls back to the filename,
	// so two copies of the same name collide.
	dirA := t.TempDir()
	dirB := t.TempDir()
	pathA := filepath.Join(dirA, "Same Song.mp3")
	pathB := filepath.Join(dirB, "Same Song.mp3")
	require.NoError(t, os.WriteFile(pathA, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(pathB, []byte("b"), 0o644))

	p.Prepare([]string{pathA, pathB})
	report, err := p.UploadAll(context.Background(), owner)
	require.NoError(t, err)

	assert.Equal(t, Report{Uploaded: 1, Skipped: 1}, report)
	candidates := p.Candidates()
	assert.Equal(t, StatusSuccess, candidates[0].Status)
	assert.Equal(t, StatusSkipped, candidates[1].Status)
	assert.Equal(t, 100, candidates[1].Progress)
	// The duplicate never reached storage.
	assert.Len(t, store.audioObjects, 1)
	assert.Len(t, store.coverObjects, 1)
}

func TestUploadRollbackOnMetadataFailure(t *testing.T) {
	store := newFakeStore()
	store.failCreateFor["Doomed Song"] = true
	p := newTestPipeline(store)

	paths := writeAudioFiles(t, "Doomed Song.mp3")
	p.Prepare(paths)

	report, err := p.UploadAll(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, Report{Failed: 1}, report)
	assert.False(t, report.Clean())

	c := p.Candidates()[0]
	assert.Equal(t, StatusError, c.Status)
	assert.NotEmpty(t, c.Err)
	// No orphaned blobs after the compensating deletes.
	assert.Empty(t, store.audioObjects)
	assert.Empty(t, store.coverObjects)
}

func TestUploadBatchMixedOutcome(t *testing.T) {
	store := newFakeStore()
	// File #2 duplicates an existing library entry.
	store.songs = append(store.songs, library.Song{
		ID: "existing", Title: "Dup Song", Artist: metadata.UnknownArtist, OwnerID: owner.ID,
	})
	// File #3's metadata insert is forced to fail.
	store.failCreateFor["Broken Song"] = true

	p := newTestPipeline(store)
	paths := writeAudioFiles(t, "Fresh Song.mp3", "Dup Song.mp3", "Broken Song.mp3")
	p.Prepare(paths)

	report, err := p.UploadAll(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, Report{Uploaded: 1, Skipped: 1, Failed: 1}, report)
	assert.Equal(t, "1 uploaded, 1 skipped (duplicates), 1 failed", report.String())

	candidates := p.Candidates()
	assert.Equal(t, StatusSuccess, candidates[0].Status)
	assert.Equal(t, StatusSkipped, candidates[1].Status)
	assert.Equal(t, StatusError, candidates[2].Status)

	// Only the successful upload's assets remain; the failed one was rolled
	// back.
	assert.Len(t, store.audioObjects, 1)
	assert.Len(t, store.coverObjects, 1)
	for key := range store.audioObjects {
		assert.True(t, strings.HasPrefix(key, owner.ID+"/"))
	}
}

func TestUploadRetrySkipsTerminalCandidates(t *testing.T) {
	store := newFakeStore()
	store.failCreateFor["Flaky Song"] = true
	p := newTestPipeline(store)

	paths := writeAudioFiles(t, "Good Song.mp3", "Flaky Song.mp3")
	p.Prepare(paths)

	report, err := p.UploadAll(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, Report{Uploaded: 1, Failed: 1}, report)

	// The backend recovers; only the errored candidate is retried.
	store.failCreateFor = map[string]bool{}
	songsBefore := len(store.songs)

	report, err = p.UploadAll(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, Report{Uploaded: 2}, report)
	assert.Equal(t, songsBefore+1, len(store.songs), "successful candidate must not be re-uploaded")
}

func TestUploadValidation(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store)

	paths := writeAudioFiles(t, "Some Song.mp3")
	candidates := p.Prepare(paths)
	p.SetMetadata(candidates[0].ID, "", "", "")

	err := p.UploadOne(context.Background(), owner, candidates[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, library.ErrValidation)
	assert.Empty(t, store.audioObjects, "validation failures must not contact storage")
}

func TestUploadAllEmptyBatch(t *testing.T) {
	p := newTestPipeline(newFakeStore())
	_, err := p.UploadAll(context.Background(), owner)
	assert.ErrorIs(t, err, library.ErrValidation)
}

func TestRemoveAndClear(t *testing.T) {
	p := newTestPipeline(newFakeStore())
	paths := writeAudioFiles(t, "One.mp3", "Two.mp3")
	candidates := p.Prepare(paths)

	p.Remove(candidates[0].ID)
	assert.Len(t, p.Candidates(), 1)

	p.Clear()
	assert.Empty(t, p.Candidates())
}
