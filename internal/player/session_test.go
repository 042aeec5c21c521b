package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuneverse/tuneverse/internal/library"
	"github.com/tuneverse/tuneverse/internal/queue"
)

type fakeSink struct {
	mu      sync.Mutex
	events  chan Event
	loads   []string
	pauses  []bool
	seeks   []float64
	volumes []float64
}

func newFakeSink() *fakeSink {
	return &fakeSink{events: make(chan Event, 32)}
}

func (f *fakeSink) Start(ctx context.Context) error { return nil }

func (f *fakeSink) Load(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
	return nil
}

func (f *fakeSink) SetPaused(paused bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses = append(f.pauses, paused)
	return nil
}

func (f *fakeSink) SeekTo(seconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, seconds)
	return nil
}

func (f *fakeSink) SetVolume(percent float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, percent)
	return nil
}

func (f *fakeSink) Events() <-chan Event { return f.events }
func (f *fakeSink) Stop() error          { return nil }

func (f *fakeSink) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakeSink) lastLoad() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.loads) == 0 {
		return ""
	}
	return f.loads[len(f.loads)-1]
}

func (f *fakeSink) lastSeek() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seeks) == 0 {
		return -1
	}
	return f.seeks[len(f.seeks)-1]
}

func (f *fakeSink) lastVolume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.volumes) == 0 {
		return -1
	}
	return f.volumes[len(f.volumes)-1]
}

func (f *fakeSink) emitPosition(pos, dur float64) {
	f.events <- Event{TimePos: &pos, Duration: &dur}
}

func newTestSession(t *testing.T, sink *fakeSink, q *queue.Queue) *Session {
	t.Helper()
	if q == nil {
		q = queue.New()
	}
	s := NewSession(SessionOptions{
		Sink:          sink,
		Queue:         q,
		InitialVolume: 0.5,
		LoadTimeout:   2 * time.Second,
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func song(id string) library.Song {
	return library.Song{ID: id, Title: "Song " + id, AudioURL: "https://cdn.example/" + id + ".mp3", DurationSeconds: 200}
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Snapshot().State == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for state %s", want)
}

func TestSessionPlayTransitionsToPlaying(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(t, sink, nil)

	require.NoError(t, s.Play(song("a")))
	assert.Equal(t, StateLoading, s.Snapshot().State)

	sink.emitPosition(1, 200)
	waitForState(t, s, StatePlaying)

	snap := s.Snapshot()
	assert.Equal(t, "a", snap.Song.ID)
	assert.InDelta(t, 0.5, snap.ProgressPercent, 0.001)
}

func TestSessionPlaySameSongWhilePlayingIsNoop(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(t, sink, nil)

	require.NoError(t, s.Play(song("a")))
	sink.emitPosition(1, 200)
	waitForState(t, s, StatePlaying)

	require.NoError(t, s.Play(song("a")))
	assert.Equal(t, 1, sink.loadCount())
	assert.Equal(t, StatePlaying, s.Snapshot().State)
}

func TestSessionPlaySameSongWhilePausedResumes(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(t, sink, nil)

	require.NoError(t, s.Play(song("a")))
	sink.emitPosition(5, 200)
	waitForState(t, s, StatePlaying)

	require.NoError(t, s.Pause())
	assert.Equal(t, StatePaused, s.Snapshot().State)

	require.NoError(t, s.Play(song("a")))
	assert.Equal(t, StatePlaying, s.Snapshot().State)
	assert.Equal(t, 1, sink.loadCount(), "resume must not reload the stream")
}

func TestSessionPauseResumeStateMachine(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(t, sink, nil)

	// Pause in idle is a no-op.
	require.NoError(t, s.Pause())
	assert.Equal(t, StateIdle, s.Snapshot().State)

	require.NoError(t, s.Play(song("a")))
	sink.emitPosition(1, 200)
	waitForState(t, s, StatePlaying)

	require.NoError(t, s.Pause())
	assert.Equal(t, StatePaused, s.Snapshot().State)

	// Double pause stays paused.
	require.NoError(t, s.Pause())
	assert.Equal(t, StatePaused, s.Snapshot().State)

	require.NoError(t, s.Resume())
	assert.Equal(t, StatePlaying, s.Snapshot().State)
}

func TestSessionSeekClamps(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(t, sink, nil)

	require.NoError(t, s.Play(song("a")))
	sink.emitPosition(0, 200)
	waitForState(t, s, StatePlaying)

	require.NoError(t, s.Seek(50))
	assert.InDelta(t, 100, sink.lastSeek(), 0.001)

	require.NoError(t, s.Seek(150))
	assert.InDelta(t, 200, sink.lastSeek(), 0.001)

	require.NoError(t, s.Seek(-10))
	assert.InDelta(t, 0, sink.lastSeek(), 0.001)
}

func TestSessionSeekIdleIsNoop(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(t, sink, nil)

	require.NoError(t, s.Seek(50))
	assert.Equal(t, float64(-1), sink.lastSeek())
}

func TestSessionVolumeClamps(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(t, sink, nil)

	require.NoError(t, s.SetVolume(1.5))
	assert.Equal(t, 1.0, s.Volume())
	assert.InDelta(t, 100, sink.lastVolume(), 0.001)

	require.NoError(t, s.SetVolume(-0.2))
	assert.Equal(t, 0.0, s.Volume())
	assert.InDelta(t, 0, sink.lastVolume(), 0.001)

	require.NoError(t, s.SetVolume(0.3))
	assert.InDelta(t, 30, sink.lastVolume(), 0.001)
}

func TestSessionNextPreviousWraparound(t *testing.T) {
	sink := newFakeSink()
	q := queue.New()
	q.Add(song("a"), song("b"), song("c"))
	s := newTestSession(t, sink, q)

	// Previous from the first song wraps to the last.
	require.NoError(t, s.Previous())
	assert.Equal(t, "c", s.Snapshot().Song.ID)

	// Next from the last wraps back to the first.
	require.NoError(t, s.Next())
	assert.Equal(t, "a", s.Snapshot().Song.ID)

	require.NoError(t, s.Next())
	assert.Equal(t, "b", s.Snapshot().Song.ID)
}

func TestSessionEmptyQueueNavigationIsNoop(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(t, sink, nil)

	require.NoError(t, s.Next())
	require.NoError(t, s.Previous())
	assert.Equal(t, StateIdle, s.Snapshot().State)
	assert.Equal(t, 0, sink.loadCount())
}

func TestSessionLoadTimeout(t *testing.T) {
	sink := newFakeSink()
	q := queue.New()
	s := NewSession(SessionOptions{
		Sink:        sink,
		Queue:       q,
		LoadTimeout: 30 * time.Millisecond,
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	require.NoError(t, s.Play(song("a")))
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.State == StateIdle && snap.Err != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionAutoAdvanceOnEnd(t *testing.T) {
	sink := newFakeSink()
	q := queue.New()
	q.Add(song("a"), song("b"))
	s := newTestSession(t, sink, q)

	cur, err := q.Current()
	require.NoError(t, err)
	require.NoError(t, s.Play(cur))
	sink.emitPosition(1, 200)
	waitForState(t, s, StatePlaying)

	sink.events <- Event{Ended: true, EndReason: "eof"}
	require.Eventually(t, func() bool {
		return sink.lastLoad() == "https://cdn.example/b.mp3"
	}, 2*time.Second, 5*time.Millisecond)
}

// End-of-file advancement runs on the session goroutine while the UI
// refreshes the catalog; meaningful under -race.
func TestSessionEndOfFileDuringQueueReplace(t *testing.T) {
	sink := newFakeSink()
	q := queue.New()
	q.Add(song("a"), song("b"), song("c"))
	s := newTestSession(t, sink, q)

	cur, err := q.Current()
	require.NoError(t, err)
	require.NoError(t, s.Play(cur))
	sink.emitPosition(1, 200)
	waitForState(t, s, StatePlaying)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			q.Replace([]library.Song{song("a"), song("b"), song("c"), song("d")})
		}
	}()
	for i := 0; i < 20; i++ {
		sink.events <- Event{Ended: true, EndReason: "eof"}
	}
	<-done

	idx := q.CurrentIndex()
	assert.GreaterOrEqual(t, idx, 0)
	assert.Less(t, idx, q.Len())

	sink.emitPosition(1, 200)
	waitForState(t, s, StatePlaying)
}
